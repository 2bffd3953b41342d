package application_test

import (
	"context"
	"sync"

	"github.com/nickel-lang/nickel-customs/internal/domain/model"
)

// --- Mock implementations shared across the application tests ---

type mockRepoReader struct {
	mu sync.Mutex

	listTreeFn    func(repo, sha string) ([]model.TreeEntry, error)
	fetchBlobFn   func(repo, blobSHA string) ([]byte, error)
	listPRFilesFn func(repo string, prNumber int) ([]string, error)
	compareFn     func(repo, base, head string) ([]string, error)

	treeCalls int
}

func (m *mockRepoReader) ListTree(_ context.Context, repo, sha string) ([]model.TreeEntry, error) {
	m.mu.Lock()
	m.treeCalls++
	fn := m.listTreeFn
	m.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(repo, sha)
}

func (m *mockRepoReader) FetchBlob(_ context.Context, repo, blobSHA string) ([]byte, error) {
	if m.fetchBlobFn == nil {
		return nil, nil
	}
	return m.fetchBlobFn(repo, blobSHA)
}

func (m *mockRepoReader) ListPullRequestFiles(_ context.Context, repo string, prNumber int) ([]string, error) {
	if m.listPRFilesFn == nil {
		return nil, nil
	}
	return m.listPRFilesFn(repo, prNumber)
}

func (m *mockRepoReader) CompareCommits(_ context.Context, repo, base, head string) ([]string, error) {
	if m.compareFn == nil {
		return nil, nil
	}
	return m.compareFn(repo, base, head)
}

func (m *mockRepoReader) treeCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.treeCalls
}

type mockValidator struct {
	mu    sync.Mutex
	fn    func(pkg model.Package) model.ValidationOutcome
	gate  chan struct{} // when non-nil, Validate blocks until closed
	calls []string
}

func (m *mockValidator) Validate(ctx context.Context, _, _ string, pkg model.Package) model.ValidationOutcome {
	m.mu.Lock()
	m.calls = append(m.calls, pkg.Root)
	gate := m.gate
	fn := m.fn
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	if fn == nil {
		return model.ValidationOutcome{Kind: model.OutcomePass}
	}
	return fn(pkg)
}

func (m *mockValidator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type createCall struct {
	repo    string
	headSHA string
	name    string
}

type progressCall struct {
	repo   string
	runID  int64
	report model.CheckReport
}

type completeCall struct {
	repo       string
	runID      int64
	conclusion model.Conclusion
	report     model.CheckReport
}

type mockCheckReporter struct {
	mu sync.Mutex

	// Error scripts, consumed one entry per call. A nil entry succeeds.
	createErrs   []error
	progressErrs []error
	completeErrs []error

	creates    []createCall
	progresses []progressCall
	completes  []completeCall

	completed chan completeCall
}

func newMockCheckReporter() *mockCheckReporter {
	return &mockCheckReporter{completed: make(chan completeCall, 16)}
}

func (m *mockCheckReporter) CreateRun(_ context.Context, repo, headSHA, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates = append(m.creates, createCall{repo: repo, headSHA: headSHA, name: name})
	if err := popErr(&m.createErrs); err != nil {
		return 0, err
	}
	return int64(100 + len(m.creates)), nil
}

func (m *mockCheckReporter) UpdateProgress(_ context.Context, repo string, runID int64, report model.CheckReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progresses = append(m.progresses, progressCall{repo: repo, runID: runID, report: report})
	return popErr(&m.progressErrs)
}

func (m *mockCheckReporter) CompleteRun(_ context.Context, repo string, runID int64, conclusion model.Conclusion, report model.CheckReport) error {
	m.mu.Lock()
	call := completeCall{repo: repo, runID: runID, conclusion: conclusion, report: report}
	m.completes = append(m.completes, call)
	err := popErr(&m.completeErrs)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.completed <- call
	return nil
}

func (m *mockCheckReporter) createCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.creates)
}

func (m *mockCheckReporter) progressCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.progresses)
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

type mockRunStore struct {
	mu      sync.Mutex
	records []model.CheckRun
}

func (m *mockRunStore) Record(_ context.Context, run model.CheckRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, run)
	return nil
}

func (m *mockRunStore) GetBySHA(_ context.Context, repoFullName, headSHA string) (*model.CheckRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].RepoFullName == repoFullName && m.records[i].HeadSHA == headSHA {
			run := m.records[i]
			return &run, nil
		}
	}
	return nil, nil
}

func (m *mockRunStore) ListRecent(_ context.Context, limit int) ([]model.CheckRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CheckRun
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *mockRunStore) recorded() []model.CheckRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.CheckRun, len(m.records))
	copy(out, m.records)
	return out
}

type commentPost struct {
	repo     string
	prNumber int
	body     string
}

type mockCommentPoster struct {
	mu    sync.Mutex
	posts []commentPost
}

func (m *mockCommentPoster) PostComment(_ context.Context, repo string, prNumber int, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts = append(m.posts, commentPost{repo: repo, prNumber: prNumber, body: body})
	return nil
}

func (m *mockCommentPoster) posted() []commentPost {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]commentPost, len(m.posts))
	copy(out, m.posts)
	return out
}

type mockSubmitter struct {
	mu     sync.Mutex
	events []model.Event
}

func (m *mockSubmitter) Submit(_ context.Context, evt model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockSubmitter) submitted() []model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Event, len(m.events))
	copy(out, m.events)
	return out
}
