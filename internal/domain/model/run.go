package model

import "time"

// RunKey identifies the single logical check run slot for a commit.
type RunKey struct {
	RepoFullName string
	HeadSHA      string
}

func (k RunKey) String() string {
	return k.RepoFullName + "@" + k.HeadSHA
}

// CheckRun is the engine's record of one validation run for a commit.
// Outcomes are ordered by package root ascending. ExternalID is the
// provider-assigned check run ID, 0 until the reporter's create succeeds.
type CheckRun struct {
	RepoFullName string
	HeadSHA      string
	Status       RunStatus
	Conclusion   Conclusion
	Outcomes     []PackageOutcome
	ExternalID   int64
	PRNumber     int
	CreatedAt    time.Time
	CompletedAt  time.Time
}

// Key returns the registry key for this run.
func (r CheckRun) Key() RunKey {
	return RunKey{RepoFullName: r.RepoFullName, HeadSHA: r.HeadSHA}
}
