package model

import "time"

// Event is a normalized repository event accepted at the webhook boundary.
// ChangedPaths preserves first-seen order from the source payload; an empty
// list is meaningful and distinct from an unresolved one.
type Event struct {
	RepoFullName string
	HeadSHA      string
	BaseSHA      string
	ChangedPaths []string
	DeliveryID   string
	PRNumber     int // 0 when the event did not originate from a pull request.
	ReceivedAt   time.Time
}

// Key returns the run registry key this event maps to.
func (e Event) Key() RunKey {
	return RunKey{RepoFullName: e.RepoFullName, HeadSHA: e.HeadSHA}
}
