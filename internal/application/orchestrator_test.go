package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickel-lang/nickel-customs/internal/application"
	"github.com/nickel-lang/nickel-customs/internal/domain/model"
)

type orchestratorFixture struct {
	orch      *application.Orchestrator
	reader    *mockRepoReader
	validator *mockValidator
	checks    *mockCheckReporter
	store     *mockRunStore
	poster    *mockCommentPoster
}

func newOrchestratorFixture(tree []model.TreeEntry, commentSummary bool) *orchestratorFixture {
	f := &orchestratorFixture{
		reader: &mockRepoReader{
			listTreeFn: func(_, _ string) ([]model.TreeEntry, error) { return tree, nil },
		},
		validator: &mockValidator{},
		checks:    newMockCheckReporter(),
		store:     &mockRunStore{},
		poster:    &mockCommentPoster{},
	}
	f.orch = application.NewOrchestrator(
		application.NewDiscovery(f.reader),
		f.validator,
		application.NewReporter(f.checks, 1, time.Millisecond),
		f.store,
		f.poster,
		"nickel-customs / package sanity",
		commentSummary,
		time.Minute,
	)
	return f
}

func twoPackageTree() []model.TreeEntry {
	return []model.TreeEntry{
		entry("pkg/a/Nickel-pkg.ncl"),
		entry("pkg/a/main.ncl"),
		entry("pkg/b/Nickel-pkg.ncl"),
		entry("pkg/b/main.ncl"),
	}
}

func event(deliveryID string, paths ...string) model.Event {
	return model.Event{
		RepoFullName: "nickel-lang/pkgs",
		HeadSHA:      "abc123",
		ChangedPaths: paths,
		DeliveryID:   deliveryID,
		ReceivedAt:   time.Now().UTC(),
	}
}

func waitComplete(t *testing.T, checks *mockCheckReporter) completeCall {
	t.Helper()
	select {
	case call := <-checks.completed:
		return call
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run completion")
		return completeCall{}
	}
}

func drain(t *testing.T, orch *application.Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, orch.Drain(ctx))
}

func TestOrchestrator_SinglePackagePass(t *testing.T) {
	f := newOrchestratorFixture(twoPackageTree(), false)

	f.orch.Submit(context.Background(), event("d1", "pkg/a/main.ncl"))

	call := waitComplete(t, f.checks)
	drain(t, f.orch)

	assert.Equal(t, model.ConclusionSuccess, call.conclusion)
	assert.Equal(t, "1 package passing", call.report.Title)
	assert.Equal(t, "nickel-lang/pkgs", call.repo)
	assert.Equal(t, 1, f.checks.createCount())
	assert.Equal(t, 0, f.checks.progressCount())

	records := f.store.recorded()
	require.Len(t, records, 1)
	assert.Equal(t, model.RunStatusCompleted, records[0].Status)
	assert.Equal(t, int64(101), records[0].ExternalID)
	require.Len(t, records[0].Outcomes, 1)
	assert.Equal(t, "pkg/a", records[0].Outcomes[0].Root)
	assert.Equal(t, model.OutcomePass, records[0].Outcomes[0].Outcome.Kind)
}

func TestOrchestrator_EmptyChangedSetCompletesSuccess(t *testing.T) {
	f := newOrchestratorFixture(twoPackageTree(), false)

	f.orch.Submit(context.Background(), event("d1"))

	call := waitComplete(t, f.checks)
	drain(t, f.orch)

	assert.Equal(t, model.ConclusionSuccess, call.conclusion)
	assert.Equal(t, "No packages affected", call.report.Title)
	assert.Equal(t, 1, f.checks.createCount())
	assert.Equal(t, 0, f.reader.treeCallCount())

	records := f.store.recorded()
	require.Len(t, records, 1)
	assert.Empty(t, records[0].Outcomes)
}

func TestOrchestrator_FailureIsolation(t *testing.T) {
	f := newOrchestratorFixture(twoPackageTree(), false)
	f.validator.fn = func(pkg model.Package) model.ValidationOutcome {
		if pkg.Root == "pkg/b" {
			return model.ValidationOutcome{
				Kind: model.OutcomeFail,
				Diagnostics: []model.Diagnostic{
					{Path: "pkg/b/main.ncl", Line: 2, Message: "unbound identifier", Severity: model.SeverityFailure},
				},
			}
		}
		return model.ValidationOutcome{Kind: model.OutcomePass}
	}

	f.orch.Submit(context.Background(), event("d1", "pkg/a/main.ncl", "pkg/b/main.ncl"))

	call := waitComplete(t, f.checks)
	drain(t, f.orch)

	assert.Equal(t, model.ConclusionFailure, call.conclusion)
	assert.Equal(t, 1, f.checks.progressCount())

	records := f.store.recorded()
	require.Len(t, records, 1)
	require.Len(t, records[0].Outcomes, 2)
	assert.Equal(t, "pkg/a", records[0].Outcomes[0].Root)
	assert.Equal(t, model.OutcomePass, records[0].Outcomes[0].Outcome.Kind)
	assert.Equal(t, "pkg/b", records[0].Outcomes[1].Root)
	assert.Equal(t, model.OutcomeFail, records[0].Outcomes[1].Outcome.Kind)
}

func TestOrchestrator_OracleErrorFailsRun(t *testing.T) {
	f := newOrchestratorFixture(twoPackageTree(), false)
	f.validator.fn = func(pkg model.Package) model.ValidationOutcome {
		if pkg.Root == "pkg/b" {
			return model.ValidationOutcome{Kind: model.OutcomeError, ErrReason: "timeout"}
		}
		return model.ValidationOutcome{Kind: model.OutcomePass}
	}

	f.orch.Submit(context.Background(), event("d1", "pkg/a/main.ncl", "pkg/b/main.ncl"))

	call := waitComplete(t, f.checks)
	drain(t, f.orch)

	assert.Equal(t, model.ConclusionFailure, call.conclusion)
	assert.Contains(t, call.report.Summary, "❌ `pkg/b`: oracle error: timeout")
	assert.Contains(t, call.report.Summary, "✅ `pkg/a`: ok")
}

func TestOrchestrator_CoalescingIssuesSingleCreate(t *testing.T) {
	f := newOrchestratorFixture(twoPackageTree(), false)
	gate := make(chan struct{})
	f.validator.gate = gate

	f.orch.Submit(context.Background(), event("d1", "pkg/a/main.ncl"))
	assert.Eventually(t, func() bool { return f.checks.createCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	f.orch.Submit(context.Background(), event("d2", "pkg/b/main.ncl"))
	assert.Eventually(t, func() bool { return f.validator.callCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	close(gate)
	call := waitComplete(t, f.checks)
	drain(t, f.orch)

	assert.Equal(t, 1, f.checks.createCount())
	assert.Equal(t, model.ConclusionSuccess, call.conclusion)

	records := f.store.recorded()
	require.Len(t, records, 1)
	require.Len(t, records[0].Outcomes, 2)
	assert.Equal(t, "pkg/a", records[0].Outcomes[0].Root)
	assert.Equal(t, "pkg/b", records[0].Outcomes[1].Root)
}

func TestOrchestrator_CompletedKeyStartsFreshRun(t *testing.T) {
	f := newOrchestratorFixture(twoPackageTree(), false)

	f.orch.Submit(context.Background(), event("d1", "pkg/a/main.ncl"))
	first := waitComplete(t, f.checks)
	drain(t, f.orch)

	f.orch.Submit(context.Background(), event("d2", "pkg/a/main.ncl"))
	second := waitComplete(t, f.checks)
	drain(t, f.orch)

	assert.Equal(t, 2, f.checks.createCount())
	assert.NotEqual(t, first.runID, second.runID)
	assert.Len(t, f.store.recorded(), 2)
}

func TestOrchestrator_OutcomesOrderedByRoot(t *testing.T) {
	tree := []model.TreeEntry{
		entry("zeta/Nickel-pkg.ncl"),
		entry("zeta/z.ncl"),
		entry("alpha/Nickel-pkg.ncl"),
		entry("alpha/a.ncl"),
		entry("mid/Nickel-pkg.ncl"),
		entry("mid/m.ncl"),
	}
	f := newOrchestratorFixture(tree, false)
	// Finish in reverse root order to prove reported order is not arrival
	// order.
	f.validator.fn = func(pkg model.Package) model.ValidationOutcome {
		switch pkg.Root {
		case "alpha":
			time.Sleep(60 * time.Millisecond)
		case "mid":
			time.Sleep(30 * time.Millisecond)
		}
		return model.ValidationOutcome{Kind: model.OutcomePass}
	}

	f.orch.Submit(context.Background(), event("d1", "zeta/z.ncl", "alpha/a.ncl", "mid/m.ncl"))

	waitComplete(t, f.checks)
	drain(t, f.orch)

	records := f.store.recorded()
	require.Len(t, records, 1)
	require.Len(t, records[0].Outcomes, 3)
	assert.Equal(t, "alpha", records[0].Outcomes[0].Root)
	assert.Equal(t, "mid", records[0].Outcomes[1].Root)
	assert.Equal(t, "zeta", records[0].Outcomes[2].Root)
}

func TestOrchestrator_CommentPostedForPullRequest(t *testing.T) {
	f := newOrchestratorFixture(twoPackageTree(), true)

	evt := event("d1", "pkg/a/main.ncl")
	evt.PRNumber = 7
	f.orch.Submit(context.Background(), evt)

	waitComplete(t, f.checks)
	drain(t, f.orch)

	posts := f.poster.posted()
	require.Len(t, posts, 1)
	assert.Equal(t, 7, posts[0].prNumber)
	assert.Contains(t, posts[0].body, "### Package sanity check for `abc123`")
}

func TestOrchestrator_NoCommentWhenDisabled(t *testing.T) {
	f := newOrchestratorFixture(twoPackageTree(), false)

	evt := event("d1", "pkg/a/main.ncl")
	evt.PRNumber = 7
	f.orch.Submit(context.Background(), evt)

	waitComplete(t, f.checks)
	drain(t, f.orch)

	assert.Empty(t, f.poster.posted())
}

func TestOrchestrator_LookupActiveThenRetained(t *testing.T) {
	f := newOrchestratorFixture(twoPackageTree(), false)
	gate := make(chan struct{})
	f.validator.gate = gate

	f.orch.Submit(context.Background(), event("d1", "pkg/a/main.ncl"))

	key := model.RunKey{RepoFullName: "nickel-lang/pkgs", HeadSHA: "abc123"}
	assert.Eventually(t, func() bool {
		cr, ok := f.orch.Lookup(key)
		return ok && cr.ExternalID != 0
	}, 2*time.Second, 5*time.Millisecond)

	active, ok := f.orch.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, model.RunStatusInProgress, active.Status)
	assert.Equal(t, int64(101), active.ExternalID)

	close(gate)
	waitComplete(t, f.checks)
	drain(t, f.orch)

	retained, ok := f.orch.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, model.RunStatusCompleted, retained.Status)
	assert.Equal(t, model.ConclusionSuccess, retained.Conclusion)
	assert.Empty(t, f.orch.ActiveRuns())
}

func TestOrchestrator_InProgressBeforeFirstOutcome(t *testing.T) {
	f := newOrchestratorFixture(twoPackageTree(), false)
	gate := make(chan struct{})
	f.validator.gate = gate

	f.orch.Submit(context.Background(), event("d1", "pkg/a/main.ncl"))

	key := model.RunKey{RepoFullName: "nickel-lang/pkgs", HeadSHA: "abc123"}
	assert.Eventually(t, func() bool {
		cr, ok := f.orch.Lookup(key)
		return ok && cr.Status == model.RunStatusInProgress
	}, 2*time.Second, 5*time.Millisecond)

	// Validators are still gated, so no outcome has been collected yet.
	active, ok := f.orch.Lookup(key)
	require.True(t, ok)
	assert.Empty(t, active.Outcomes)

	close(gate)
	waitComplete(t, f.checks)
	drain(t, f.orch)
}

func TestOrchestrator_ActiveRunsSnapshot(t *testing.T) {
	f := newOrchestratorFixture(twoPackageTree(), false)
	gate := make(chan struct{})
	f.validator.gate = gate

	f.orch.Submit(context.Background(), event("d1", "pkg/a/main.ncl"))
	other := event("d2", "pkg/b/main.ncl")
	other.HeadSHA = "def456"
	f.orch.Submit(context.Background(), other)

	assert.Eventually(t, func() bool { return len(f.orch.ActiveRuns()) == 2 }, 2*time.Second, 5*time.Millisecond)

	runs := f.orch.ActiveRuns()
	require.Len(t, runs, 2)
	assert.Equal(t, "abc123", runs[0].HeadSHA)
	assert.Equal(t, "def456", runs[1].HeadSHA)

	close(gate)
	waitComplete(t, f.checks)
	waitComplete(t, f.checks)
	drain(t, f.orch)
}

func TestOrchestrator_DiscoveryFailureAbandonsRun(t *testing.T) {
	f := newOrchestratorFixture(nil, false)
	f.reader.listTreeFn = func(_, _ string) ([]model.TreeEntry, error) {
		return nil, errors.New("boom")
	}

	f.orch.Submit(context.Background(), event("d1", "pkg/a/main.ncl"))
	drain(t, f.orch)

	assert.Equal(t, 0, f.checks.createCount())
	assert.Empty(t, f.store.recorded())

	_, ok := f.orch.Lookup(model.RunKey{RepoFullName: "nickel-lang/pkgs", HeadSHA: "abc123"})
	assert.False(t, ok)
}

func TestOrchestrator_CreateFailureKeepsLocalState(t *testing.T) {
	f := newOrchestratorFixture(twoPackageTree(), false)
	f.checks.createErrs = []error{errors.New("bad gateway")}

	f.orch.Submit(context.Background(), event("d1", "pkg/a/main.ncl"))
	drain(t, f.orch)

	assert.Equal(t, 1, f.checks.createCount())
	assert.Equal(t, 0, f.checks.progressCount())
	assert.Empty(t, f.checks.completes)

	records := f.store.recorded()
	require.Len(t, records, 1)
	assert.Equal(t, int64(0), records[0].ExternalID)
	assert.Equal(t, model.ConclusionSuccess, records[0].Conclusion)
}

func TestOrchestrator_InterruptedRunConcludesNeutral(t *testing.T) {
	f := newOrchestratorFixture(twoPackageTree(), false)
	gate := make(chan struct{})
	f.validator.gate = gate
	f.validator.fn = func(_ model.Package) model.ValidationOutcome {
		// Give the collector time to observe the cancellation first.
		time.Sleep(50 * time.Millisecond)
		return model.ValidationOutcome{Kind: model.OutcomePass}
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.orch.Submit(ctx, event("d1", "pkg/a/main.ncl"))
	assert.Eventually(t, func() bool { return f.checks.createCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()

	call := waitComplete(t, f.checks)
	drain(t, f.orch)

	assert.Equal(t, model.ConclusionNeutral, call.conclusion)

	records := f.store.recorded()
	require.Len(t, records, 1)
	assert.Equal(t, model.ConclusionNeutral, records[0].Conclusion)
}
