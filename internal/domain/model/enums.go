package model

// RunStatus represents the lifecycle state of a check run.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
)

// Conclusion represents the final verdict of a completed check run.
type Conclusion string

const (
	ConclusionSuccess Conclusion = "success"
	ConclusionFailure Conclusion = "failure"
	ConclusionNeutral Conclusion = "neutral" // Run interrupted before every package reported.
)

// OutcomeKind classifies a single package validation result.
type OutcomeKind string

const (
	OutcomePass  OutcomeKind = "pass"
	OutcomeFail  OutcomeKind = "fail"  // Oracle ran and rejected the package.
	OutcomeError OutcomeKind = "error" // Oracle could not be run to completion.
)

// Severity grades a diagnostic emitted by the validation oracle. The values
// match the annotation levels the hosting provider accepts.
type Severity string

const (
	SeverityNotice  Severity = "notice"
	SeverityWarning Severity = "warning"
	SeverityFailure Severity = "failure"
)
