package domain

import "time"

// ClaimSource identifies which signal produced a billing claim.
type ClaimSource string

const (
	ClaimSourceSDK           ClaimSource = "sdk"
	ClaimSourceFileOutput    ClaimSource = "file_output"
	ClaimSourceScheduledPost ClaimSource = "scheduled_post"
	ClaimSourceMonitorEvent  ClaimSource = "monitor_event"
	ClaimSourceDetected      ClaimSource = "detected"
)

// Billed feature types.
const (
	FeatureResearch    = "research"
	FeatureIdeation    = "ideation"
	FeatureAutoPosting = "auto_posting"
	FeatureMonitors    = "monitors"
)

// BillingClaim is a derived assertion that a session performed one billable
// action. Claims are a view over the accumulated stream; persistence and
// quota deduction belong to the ledger collaborator.
type BillingClaim struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionId"`
	Type       string         `json:"type"`
	Source     ClaimSource    `json:"source"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// FileOutput records one file the agent produced during a session.
type FileOutput struct {
	Type   string `json:"type,omitempty"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Format string `json:"format"`
}

// ScheduledPost records one post the agent scheduled on an external
// platform.
type ScheduledPost struct {
	Platform    string `json:"platform"`
	PostID      string `json:"postId,omitempty"`
	ScheduleID  string `json:"scheduleId,omitempty"`
	ScheduledAt string `json:"scheduledAt,omitempty"`
}

// MonitorEvent records a monitor being created or deleted.
type MonitorEvent struct {
	Action    string `json:"action"` // created or deleted
	MonitorID string `json:"monitorId,omitempty"`
	Name      string `json:"name,omitempty"`
}

// SDKBillingEvent is a billing declaration emitted by the agent SDK itself.
// When present and complete, it is authoritative over every heuristic.
type SDKBillingEvent struct {
	DeclaredType string         `json:"declaredType"`
	Action       string         `json:"action"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}
