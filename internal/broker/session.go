package broker

import (
	"sync"
	"time"

	"github.com/arcfield/agentbridge/internal/billing"
	"github.com/arcfield/agentbridge/internal/domain"
)

// subscriberBuffer is the per-listener event buffer. A listener that falls
// further behind than this starts losing events instead of stalling the
// session's read loop.
const subscriberBuffer = 64

// Subscriber receives canonical events published on a session channel.
type Subscriber func(domain.CanonicalEvent)

// Session is an isolated channel bound to one upstream agent endpoint.
// The broker owns the registry; the session owns its subscribers and its
// billing accumulator.
type Session struct {
	ID        string    `json:"sessionId"`
	AgentURL  string    `json:"agentUrl"`
	CreatedAt time.Time `json:"createdAt"`

	Billing *billing.Accumulator `json:"-"`

	mu           sync.Mutex
	lastActivity time.Time
	active       bool
	billed       bool
	nextSubID    int
	subs         map[int]*subscriber
	dropped      func(sessionID string)
}

type subscriber struct {
	ch   chan domain.CanonicalEvent
	done chan struct{}
}

func newSession(id, agentURL string, now time.Time, dropped func(string)) *Session {
	return &Session{
		ID:           id,
		AgentURL:     agentURL,
		CreatedAt:    now,
		Billing:      billing.NewAccumulator(id),
		lastActivity: now,
		active:       true,
		subs:         make(map[int]*subscriber),
		dropped:      dropped,
	}
}

// Touch refreshes the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent traversal.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Active reports whether the session counts toward active-session metrics.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) deactivate() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// markBilled records that terminal classification ran for this session.
// Returns false when it already had.
func (s *Session) markBilled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.billed {
		return false
	}
	s.billed = true
	return true
}

// subscribe attaches a listener and returns its unsubscribe function.
// Each listener drains its own buffered channel on a dedicated goroutine,
// so publish never blocks on a slow handler; events for one listener are
// still delivered in publish order.
func (s *Session) subscribe(handler Subscriber) func() {
	sub := &subscriber{
		ch:   make(chan domain.CanonicalEvent, subscriberBuffer),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = sub
	s.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-sub.ch:
				if !ok {
					return
				}
				handler(ev)
			case <-sub.done:
				return
			}
		}
	}()

	return func() {
		s.mu.Lock()
		cur, ok := s.subs[id]
		if ok {
			delete(s.subs, id)
		}
		s.mu.Unlock()
		if ok {
			close(cur.done)
		}
	}
}

// publish delivers an event to every subscriber, fire-and-forget: a full
// buffer means the event is dropped for that listener only.
func (s *Session) publish(ev domain.CanonicalEvent) {
	s.mu.Lock()
	s.lastActivity = time.Now()
	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	dropped := s.dropped
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			if dropped != nil {
				dropped(s.ID)
			}
		}
	}
}

// release closes every subscriber. Called by the sweep before removal.
func (s *Session) release() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[int]*subscriber)
	s.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
}

// SubscriberCount reports the number of attached listeners.
func (s *Session) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
