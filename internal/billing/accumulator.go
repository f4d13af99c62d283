// Package billing derives billing claims from the canonical event stream a
// session accumulates. The accumulator grows during the session's life; the
// classifier reads it once, at terminal time, and never mutates it.
package billing

import (
	"sync"

	"github.com/arcfield/agentbridge/internal/domain"
)

// Accumulator is the per-session bag of billing-relevant facts observed on
// the event stream. It is owned by one session pipeline; the mutex only
// guards against concurrent reads from the control plane.
type Accumulator struct {
	mu        sync.Mutex
	sessionID string

	files     []domain.FileOutput
	posts     []domain.ScheduledPost
	monitors  []domain.MonitorEvent
	sdkEvents []domain.SDKBillingEvent

	contentTokens int
	completed     bool
	failed        bool
}

// NewAccumulator creates an empty accumulator for the session.
func NewAccumulator(sessionID string) *Accumulator {
	return &Accumulator{sessionID: sessionID}
}

// Observe records whatever billing-relevant facts the event carries.
// Events outside the billing vocabulary are ignored.
func (a *Accumulator) Observe(ev domain.CanonicalEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.Type {
	case domain.EventFileCreated:
		a.files = append(a.files, domain.FileOutput{
			Type:   extraString(ev.Extra, "fileType", "file_type"),
			Name:   ev.Name,
			Size:   ev.Size,
			Format: ev.Format,
		})

	case domain.EventContent:
		// A terminal assistant message means the round completed even when
		// no explicit done record follows.
		a.completed = true

	case domain.EventDone:
		if ev.State == "failed" {
			a.failed = true
		} else {
			a.completed = true
		}

	case domain.EventError:
		a.failed = true

	// SDK-declared and platform events arrive as passthrough tags.
	case "billing_event":
		a.sdkEvents = append(a.sdkEvents, domain.SDKBillingEvent{
			DeclaredType: extraString(ev.Extra, "featureType", "feature_type", "billingType", "billing_type"),
			Action:       extraString(ev.Extra, "action"),
			Metadata:     extraMap(ev.Extra, "metadata"),
		})

	case "post_scheduled", "schedule_post":
		a.posts = append(a.posts, domain.ScheduledPost{
			Platform:    extraString(ev.Extra, "platform"),
			PostID:      extraString(ev.Extra, "postId", "post_id"),
			ScheduleID:  extraString(ev.Extra, "scheduleId", "schedule_id"),
			ScheduledAt: extraString(ev.Extra, "scheduledAt", "scheduled_at"),
		})

	case "monitor_created":
		a.monitors = append(a.monitors, domain.MonitorEvent{
			Action:    "created",
			MonitorID: extraString(ev.Extra, "monitorId", "monitor_id"),
			Name:      extraString(ev.Extra, "name"),
		})

	case "monitor_deleted":
		a.monitors = append(a.monitors, domain.MonitorEvent{
			Action:    "deleted",
			MonitorID: extraString(ev.Extra, "monitorId", "monitor_id"),
			Name:      extraString(ev.Extra, "name"),
		})
	}
}

// ObserveFailure marks the session failed without a corresponding stream
// event, for transport-level failures.
func (a *Accumulator) ObserveFailure() {
	a.mu.Lock()
	a.failed = true
	a.mu.Unlock()
}

// AddContentTokens adds to the running content token estimate kept for
// audit metadata.
func (a *Accumulator) AddContentTokens(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	a.contentTokens += n
	a.mu.Unlock()
}

// Terminal reports whether the session has reached a completed or failed
// state.
func (a *Accumulator) Terminal() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completed || a.failed
}

// Snapshot is a point-in-time copy of the accumulated facts, the unit the
// classifier operates on.
type Snapshot struct {
	SessionID     string                   `json:"sessionId"`
	Files         []domain.FileOutput      `json:"files,omitempty"`
	Posts         []domain.ScheduledPost   `json:"posts,omitempty"`
	Monitors      []domain.MonitorEvent    `json:"monitors,omitempty"`
	SDKEvents     []domain.SDKBillingEvent `json:"sdkEvents,omitempty"`
	ContentTokens int                      `json:"contentTokens,omitempty"`
	Completed     bool                     `json:"completed"`
	Failed        bool                     `json:"failed"`
}

// Snapshot returns a copy of the current state.
func (a *Accumulator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		SessionID:     a.sessionID,
		Files:         append([]domain.FileOutput(nil), a.files...),
		Posts:         append([]domain.ScheduledPost(nil), a.posts...),
		Monitors:      append([]domain.MonitorEvent(nil), a.monitors...),
		SDKEvents:     append([]domain.SDKBillingEvent(nil), a.sdkEvents...),
		ContentTokens: a.contentTokens,
		Completed:     a.completed,
		Failed:        a.failed,
	}
}

func extraString(extra map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := extra[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func extraMap(extra map[string]any, key string) map[string]any {
	m, _ := extra[key].(map[string]any)
	return m
}
