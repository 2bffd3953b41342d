// Package nickel invokes the external nickel binary as the package
// validation oracle.
package nickel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nickel-lang/nickel-customs/internal/domain/model"
	"github.com/nickel-lang/nickel-customs/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PackageValidator = (*Oracle)(nil)

// maxRawOutput bounds how much unparseable oracle output is carried into a
// diagnostic message.
const maxRawOutput = 4096

// Oracle runs the nickel CLI against a materialized copy of a package. Every
// failure mode is converted into a ValidationOutcome; the orchestrator never
// sees an error from here, which keeps one package's breakage away from its
// siblings.
type Oracle struct {
	reader  driven.RepoReader
	bin     string
	args    []string
	timeout time.Duration
}

// NewOracle creates an Oracle invoking bin with args followed by
// "--manifest-path <materialized manifest>". timeout bounds one invocation,
// including the blob fetches that materialize the package.
func NewOracle(reader driven.RepoReader, bin string, args []string, timeout time.Duration) *Oracle {
	return &Oracle{
		reader:  reader,
		bin:     bin,
		args:    args,
		timeout: timeout,
	}
}

// Validate materializes the package into a temporary directory and runs the
// oracle command on its manifest. Exit 0 is a pass; a nonzero exit is a fail
// with whatever diagnostics can be parsed from the output; anything that
// prevents the oracle from producing a verdict is an error outcome, with a
// deadline overrun reported as exactly "timeout".
func (o *Oracle) Validate(ctx context.Context, repoFullName, headSHA string, pkg model.Package) model.ValidationOutcome {
	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	dir, err := os.MkdirTemp("", "nickel-customs-*")
	if err != nil {
		return errorOutcome(fmt.Sprintf("creating work dir: %v", err))
	}
	defer os.RemoveAll(dir)

	if err := o.materialize(runCtx, dir, repoFullName, pkg); err != nil {
		if reason, ok := deadlineReason(runCtx, ctx); ok {
			return errorOutcome(reason)
		}
		return errorOutcome(err.Error())
	}

	manifest := filepath.Join(dir, filepath.FromSlash(relativeToRoot(pkg.Root, pkg.ManifestPath)))

	args := append(append([]string{}, o.args...), "--manifest-path", manifest)
	cmd := exec.CommandContext(runCtx, o.bin, args...)
	cmd.Dir = dir
	// Children that inherit the output pipes must not stall Wait past the
	// deadline.
	cmd.WaitDelay = time.Second

	out, err := cmd.CombinedOutput()

	if reason, ok := deadlineReason(runCtx, ctx); ok {
		return errorOutcome(reason)
	}

	if err == nil {
		return model.ValidationOutcome{Kind: model.OutcomePass}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		diags := parseDiagnostics(string(out), pkg.Root, dir)
		if len(diags) == 0 {
			diags = []model.Diagnostic{{
				Path:     pkg.ManifestPath,
				Line:     1,
				Message:  truncateOutput(string(out)),
				Severity: model.SeverityFailure,
			}}
		}
		return model.ValidationOutcome{Kind: model.OutcomeFail, Diagnostics: diags}
	}

	return errorOutcome(fmt.Sprintf("running %s: %v", o.bin, err))
}

// materialize writes every package file under dir, preserving the layout
// relative to the package root.
func (o *Oracle) materialize(ctx context.Context, dir, repoFullName string, pkg model.Package) error {
	for _, f := range pkg.Files {
		content, err := o.reader.FetchBlob(ctx, repoFullName, f.BlobSHA)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", f.Path, err)
		}

		dest := filepath.Join(dir, filepath.FromSlash(relativeToRoot(pkg.Root, f.Path)))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("creating dir for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(dest, content, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", f.Path, err)
		}
	}
	return nil
}

// deadlineReason distinguishes the oracle timeout from an external shutdown.
// The timeout boundary reports the literal reason "timeout"; a cancellation
// inherited from the parent context is not the oracle's fault and is labeled
// separately.
func deadlineReason(runCtx, parent context.Context) (string, bool) {
	if parent.Err() != nil {
		return "canceled", true
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return "timeout", true
	}
	return "", false
}

func errorOutcome(reason string) model.ValidationOutcome {
	return model.ValidationOutcome{Kind: model.OutcomeError, ErrReason: reason}
}

// diagLine matches "path:line[:col]: [severity] message" oracle output. The
// severity tag is optional and defaults to failure.
var diagLine = regexp.MustCompile(`^(\S+?):(\d+)(?::\d+)?:\s*(?:\[(notice|warning|failure)\]\s*)?(.+)$`)

// parseDiagnostics extracts structured findings from oracle output. Paths are
// emitted by the oracle relative to the materialized package (or absolute
// within it) and are translated back to repository paths.
func parseDiagnostics(output, root, dir string) []model.Diagnostic {
	var diags []model.Diagnostic
	for _, line := range strings.Split(output, "\n") {
		m := diagLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}

		lineNo, err := strconv.Atoi(m[2])
		if err != nil || lineNo < 1 {
			continue
		}

		severity := model.Severity(m[3])
		if m[3] == "" {
			severity = model.SeverityFailure
		}

		diags = append(diags, model.Diagnostic{
			Path:     repoPath(m[1], root, dir),
			Line:     lineNo,
			Message:  m[4],
			Severity: severity,
		})
	}
	return diags
}

// repoPath maps an oracle-reported file path back to its repository path.
func repoPath(p, root, dir string) string {
	p = filepath.ToSlash(p)
	if rel := strings.TrimPrefix(p, filepath.ToSlash(dir)+"/"); rel != p {
		p = rel
	}
	return path.Join(root, p)
}

func relativeToRoot(root, p string) string {
	if root == "." {
		return p
	}
	return strings.TrimPrefix(p, root+"/")
}

func truncateOutput(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "oracle produced no output"
	}
	if len(s) <= maxRawOutput {
		return s
	}
	// Never cut inside a multi-byte rune.
	cut := maxRawOutput
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + " […]"
}
