package journal

import "time"

// Delivery statuses.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
	StatusDryRun = "dry-run"
)

// Run is one dispatch of a campaign.
type Run struct {
	ID         string
	Campaign   string
	Provider   string
	DryRun     bool
	Groups     int
	Sent       int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Finished reports whether FinishRun was recorded for the run.
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// Recipient is one address a delivery was sent to.
type Recipient struct {
	Address string
	Role    string
}

// Delivery is the outcome of sending one merge group.
type Delivery struct {
	ID          int64
	RunID       string
	Fingerprint string
	MessageID   string
	Status      string
	Error       string
	Recipients  []Recipient
	CreatedAt   time.Time
}
