// Package broker owns the registry of live sessions and mediates
// response-forwarding: one outbound respond call per session at a time,
// each raw record unwrapped, normalized, accumulated for billing, and
// published to subscribers in upstream arrival order.
package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	agentapi "github.com/arcfield/agentbridge/internal/api/agent"
	"github.com/arcfield/agentbridge/internal/domain"
	"github.com/arcfield/agentbridge/internal/normalizer"
	"github.com/arcfield/agentbridge/internal/tokens"
)

// DefaultInactivityThreshold is how long a session may sit idle before the
// sweep removes it.
const DefaultInactivityThreshold = 30 * time.Minute

// EventHook observes every canonical event a session publishes. Used to
// drive workflow tracking without coupling the broker to the tracker.
type EventHook func(sessionID string, ev domain.CanonicalEvent)

// TerminalHook fires once per session when its accumulator reaches a
// terminal state, carrying the session for billing classification.
type TerminalHook func(s *Session)

// Option configures the broker.
type Option func(*Broker)

// WithLogger sets the broker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

// WithInactivityThreshold overrides the sweep threshold.
func WithInactivityThreshold(d time.Duration) Option {
	return func(b *Broker) { b.inactivity = d }
}

// WithEventHook registers the per-event observer.
func WithEventHook(hook EventHook) Option {
	return func(b *Broker) { b.onEvent = hook }
}

// WithTerminalHook registers the terminal-session observer.
func WithTerminalHook(hook TerminalHook) Option {
	return func(b *Broker) { b.onTerminal = hook }
}

// WithTokenEstimator records an estimated token count for streamed content
// in the billing accumulator.
func WithTokenEstimator(est *tokens.Estimator) Option {
	return func(b *Broker) { b.estimator = est }
}

// Broker is the session registry. Construct one per process and inject it;
// there is deliberately no package-level instance.
type Broker struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	client     *agentapi.Client
	logger     *slog.Logger
	inactivity time.Duration
	onEvent    EventHook
	onTerminal TerminalHook
	estimator  *tokens.Estimator
}

// New creates a broker that forwards through the given agent client.
func New(client *agentapi.Client, opts ...Option) *Broker {
	b := &Broker{
		sessions:   make(map[string]*Session),
		client:     client,
		logger:     slog.Default(),
		inactivity: DefaultInactivityThreshold,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register is an idempotent get-or-create. Re-registering an existing id
// returns the same session and only refreshes its last-activity; it never
// resets subscribers or the billing accumulator.
func (b *Broker) Register(sessionID, agentURL string) *Session {
	b.mu.Lock()
	if s, ok := b.sessions[sessionID]; ok {
		b.mu.Unlock()
		s.Touch()
		return s
	}

	s := newSession(sessionID, agentURL, time.Now(), b.subscriberDropped)
	b.sessions[sessionID] = s
	b.mu.Unlock()

	b.logger.Info("session registered",
		slog.String("session_id", sessionID),
		slog.String("agent_url", agentURL))
	return s
}

// Get looks up a session, refreshing its last-activity on hit.
func (b *Broker) Get(sessionID string) (*Session, bool) {
	b.mu.RLock()
	s, ok := b.sessions[sessionID]
	b.mu.RUnlock()
	if ok {
		s.Touch()
	}
	return s, ok
}

// Subscribe attaches a listener to the session's channel and returns the
// unsubscribe function. Subscribing to an unknown session is a logged
// no-op; it never fails.
func (b *Broker) Subscribe(sessionID string, handler Subscriber) func() {
	s, ok := b.Get(sessionID)
	if !ok {
		b.logger.Warn("subscribe to unknown session", slog.String("session_id", sessionID))
		return func() {}
	}
	return s.subscribe(handler)
}

// Deactivate marks a session inactive without removing it. Inactive
// sessions are excluded from ActiveCount but still receive events.
func (b *Broker) Deactivate(sessionID string) {
	if s, ok := b.Get(sessionID); ok {
		s.deactivate()
	}
}

// ActiveCount reports the number of active sessions.
func (b *Broker) ActiveCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.sessions {
		if s.Active() {
			n++
		}
	}
	return n
}

// Sessions returns a snapshot of all registered sessions.
func (b *Broker) Sessions() []*Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s)
	}
	return out
}

// Forward sends the user payload to the session's agent and pumps the
// response stream through the normalizer onto the session channel. Events
// are published strictly in upstream arrival order. The call returns after
// the stream terminates; cancelling ctx aborts the stream.
//
// Unlike the other lookups, forwarding an unknown session fails loudly:
// dropping it silently would lose user input.
func (b *Broker) Forward(ctx context.Context, sessionID string, payload any) error {
	s, ok := b.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound(sessionID)
	}

	corr := normalizer.Correlation{SessionID: s.ID, AgentURL: s.AgentURL}

	results, err := b.client.Respond(ctx, s.AgentURL, payload)
	if err != nil {
		// Mirror the failure onto the stream so live observers learn of it
		// without inspecting this call's error, then terminate the round.
		s.publish(domain.CanonicalEvent{
			Type: domain.EventError, SessionID: s.ID, AgentURL: s.AgentURL,
			Error: err.Error(),
		})
		s.publish(domain.CanonicalEvent{
			Type: domain.EventDone, SessionID: s.ID, AgentURL: s.AgentURL,
			State: "failed",
		})
		s.Billing.ObserveFailure()
		b.fireTerminal(s)
		return err
	}

	var streamErr error
	for res := range results {
		if res.Err != nil {
			streamErr = res.Err
			s.publish(domain.CanonicalEvent{
				Type: domain.EventError, SessionID: s.ID, AgentURL: s.AgentURL,
				Error: res.Err.Error(),
			})
			continue
		}

		var raw map[string]any
		if err := json.Unmarshal(res.Data, &raw); err != nil {
			b.logger.Warn("dropping malformed agent record",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()))
			continue
		}

		ev := normalizer.Normalize(unwrap(raw), corr)

		if ev.Type == domain.EventContent && b.estimator != nil {
			s.Billing.AddContentTokens(b.estimator.Count(ev.Content))
		}
		s.Billing.Observe(ev)
		s.publish(ev)
		if b.onEvent != nil {
			b.onEvent(s.ID, ev)
		}
	}

	// Terminal done fires whether the sentinel arrived or the upstream
	// simply closed the connection; renderers key off any terminal signal.
	state := "completed"
	if streamErr != nil {
		state = "failed"
		s.Billing.ObserveFailure()
	}
	s.publish(domain.CanonicalEvent{
		Type: domain.EventDone, SessionID: s.ID, AgentURL: s.AgentURL,
		State: state,
	})

	b.fireTerminal(s)
	return streamErr
}

func (b *Broker) fireTerminal(s *Session) {
	if b.onTerminal == nil {
		return
	}
	if !s.Billing.Terminal() {
		return
	}
	if !s.markBilled() {
		return
	}
	b.onTerminal(s)
}

// Sweep removes every session idle past the inactivity threshold,
// releasing its subscribers first. Returns the number removed. Exposed so
// tests can run it deterministically.
func (b *Broker) Sweep() int {
	cutoff := time.Now().Add(-b.inactivity)

	b.mu.Lock()
	var stale []*Session
	for id, s := range b.sessions {
		if s.LastActivity().Before(cutoff) {
			stale = append(stale, s)
			delete(b.sessions, id)
		}
	}
	b.mu.Unlock()

	for _, s := range stale {
		s.release()
		b.logger.Info("session swept",
			slog.String("session_id", s.ID),
			slog.Time("last_activity", s.LastActivity()))
	}
	return len(stale)
}

// StartSweeper runs Sweep on the given interval until ctx is cancelled.
func (b *Broker) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.Sweep()
			}
		}
	}()
}

func (b *Broker) subscriberDropped(sessionID string) {
	b.logger.Warn("slow subscriber, event dropped", slog.String("session_id", sessionID))
}
