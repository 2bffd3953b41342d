package model

// Annotation is a line-anchored finding attached to a check report.
type Annotation struct {
	Path      string
	StartLine int
	EndLine   int
	Level     Severity
	Message   string
}

// CheckReport is the rendered output published with a check run state
// transition: a short title, a markdown summary, and line annotations.
type CheckReport struct {
	Title       string
	Summary     string
	Annotations []Annotation
}
