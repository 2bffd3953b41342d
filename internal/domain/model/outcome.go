package model

// Diagnostic is a single oracle finding located in a package file.
type Diagnostic struct {
	Path     string
	Line     int
	Message  string
	Severity Severity
}

// ValidationOutcome is the oracle's verdict on one package. Diagnostics are
// populated only for Fail outcomes and keep the oracle's emission order.
// ErrReason is populated only for Error outcomes; a deadline overrun is
// reported as exactly "timeout".
type ValidationOutcome struct {
	Kind        OutcomeKind
	Diagnostics []Diagnostic
	ErrReason   string
}

// Failed reports whether the outcome counts against the run's conclusion.
func (o ValidationOutcome) Failed() bool {
	return o.Kind != OutcomePass
}

// PackageOutcome pairs a validated package with its outcome.
type PackageOutcome struct {
	Root         string
	ManifestPath string
	Outcome      ValidationOutcome
}
