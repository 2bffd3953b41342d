package application

import (
	"fmt"
	"strings"

	"github.com/nickel-lang/nickel-customs/internal/domain/model"
)

// maxAnnotations is the provider's per-request annotation limit. Overflow is
// noted in the summary text instead of being silently cut.
const maxAnnotations = 50

// BuildReport renders the check output for a run. Outcomes must already be in
// their reported order; identical runs render byte-identical reports.
func BuildReport(run model.CheckRun, ignored []string) model.CheckReport {
	annotations, total := buildAnnotations(run.Outcomes)

	summary := summaryBody(run.Outcomes, ignored)
	if summary == "" {
		summary = "No Nickel packages were affected by this event.\n"
	}
	if total > maxAnnotations {
		summary += fmt.Sprintf("\n_%d annotations reduced to the provider limit of %d._\n", total, maxAnnotations)
	}

	return model.CheckReport{
		Title:       reportTitle(run.Outcomes),
		Summary:     summary,
		Annotations: annotations,
	}
}

// BuildProgressReport renders interim check output while packages are still
// being validated. Finished outcomes are listed; pending ones only counted.
func BuildProgressReport(run model.CheckRun, done, total int) model.CheckReport {
	summary := summaryBody(run.Outcomes, nil)
	if summary == "" {
		summary = "Validation in progress.\n"
	}

	return model.CheckReport{
		Title:   fmt.Sprintf("Checked %d of %d packages", done, total),
		Summary: summary,
	}
}

// BuildComment renders the pull request comment body for a completed run. It
// mirrors the check summary under a short header naming the commit.
func BuildComment(run model.CheckRun, ignored []string) string {
	report := BuildReport(run, ignored)

	var b strings.Builder
	fmt.Fprintf(&b, "### Package sanity check for `%s`\n\n", run.HeadSHA)
	fmt.Fprintf(&b, "**%s**\n\n", report.Title)
	b.WriteString(report.Summary)
	return b.String()
}

func reportTitle(outcomes []model.PackageOutcome) string {
	if len(outcomes) == 0 {
		return "No packages affected"
	}

	failing := 0
	for _, po := range outcomes {
		if po.Outcome.Failed() {
			failing++
		}
	}
	if failing == 0 {
		return plural(len(outcomes), "package") + " passing"
	}
	return fmt.Sprintf("%d of %s failing", failing, plural(len(outcomes), "package"))
}

func summaryBody(outcomes []model.PackageOutcome, ignored []string) string {
	var b strings.Builder
	for _, po := range outcomes {
		switch po.Outcome.Kind {
		case model.OutcomePass:
			fmt.Fprintf(&b, "✅ `%s`: ok\n", po.Root)
		case model.OutcomeFail:
			fmt.Fprintf(&b, "❌ `%s`: %s\n", po.Root, plural(len(po.Outcome.Diagnostics), "problem"))
			for _, d := range po.Outcome.Diagnostics {
				fmt.Fprintf(&b, "  - `%s:%d` [%s] %s\n", d.Path, d.Line, d.Severity, d.Message)
			}
		case model.OutcomeError:
			fmt.Fprintf(&b, "❌ `%s`: oracle error: %s\n", po.Root, po.Outcome.ErrReason)
		}
	}

	if len(ignored) > 0 {
		fmt.Fprintf(&b, "\n_%s outside any package ignored._\n", plural(len(ignored), "changed path"))
	}

	return b.String()
}

func buildAnnotations(outcomes []model.PackageOutcome) ([]model.Annotation, int) {
	var annotations []model.Annotation
	total := 0
	for _, po := range outcomes {
		for _, d := range po.Outcome.Diagnostics {
			total++
			if len(annotations) >= maxAnnotations {
				continue
			}
			line := d.Line
			if line < 1 {
				line = 1
			}
			annotations = append(annotations, model.Annotation{
				Path:      d.Path,
				StartLine: line,
				EndLine:   line,
				Level:     d.Severity,
				Message:   d.Message,
			})
		}
	}
	return annotations, total
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
