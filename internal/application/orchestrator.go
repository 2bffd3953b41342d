package application

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nickel-lang/nickel-customs/internal/domain/model"
	"github.com/nickel-lang/nickel-customs/internal/domain/port/driven"
)

// retainedRuns bounds the completed-run retention cache.
const retainedRuns = 512

// finishGrace bounds the final report and history write when the run was
// interrupted by shutdown and the request context is already gone.
const finishGrace = 10 * time.Second

// packageResult carries one package's outcome back to its run's collector.
type packageResult struct {
	root         string
	manifestPath string
	outcome      model.ValidationOutcome
}

// run is the state of one active check run. The collector goroutine is the
// single owner of the run's progress; other goroutines touch only the
// channels and the snapshot.
type run struct {
	key      model.RunKey
	coalesce chan model.Event
	results  chan packageResult
	done     chan struct{}

	mu       sync.Mutex
	snapshot model.CheckRun
}

func newRun(key model.RunKey, prNumber int, now time.Time) *run {
	r := &run{
		key:      key,
		coalesce: make(chan model.Event),
		results:  make(chan packageResult),
		done:     make(chan struct{}),
	}
	r.snapshot = model.CheckRun{
		RepoFullName: key.RepoFullName,
		HeadSHA:      key.HeadSHA,
		Status:       model.RunStatusQueued,
		PRNumber:     prNumber,
		CreatedAt:    now,
	}
	return r
}

// publish replaces the externally visible snapshot. The Outcomes slice must
// not be mutated afterwards; the collector builds a fresh one per update.
func (r *run) publish(cr model.CheckRun) {
	r.mu.Lock()
	r.snapshot = cr
	r.mu.Unlock()
}

// Snapshot returns the current externally visible state of the run.
func (r *run) Snapshot() model.CheckRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}

// Orchestrator owns the run registry: at most one active run per (repo, head
// SHA) key. Each run is driven by a collector goroutine that schedules
// package validations, coalesces follow-up events for the same key, and
// walks the run through queued, in_progress, completed.
type Orchestrator struct {
	discovery *Discovery
	validator driven.PackageValidator
	reporter  *Reporter
	store     driven.RunStore
	poster    driven.CommentPoster

	checkName      string
	commentSummary bool

	mu     sync.Mutex
	active map[model.RunKey]*run

	recent *expirable.LRU[model.RunKey, model.CheckRun]

	wg sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator. retention bounds how long a
// completed run stays visible to Lookup after leaving the active registry.
func NewOrchestrator(
	discovery *Discovery,
	validator driven.PackageValidator,
	reporter *Reporter,
	store driven.RunStore,
	poster driven.CommentPoster,
	checkName string,
	commentSummary bool,
	retention time.Duration,
) *Orchestrator {
	return &Orchestrator{
		discovery:      discovery,
		validator:      validator,
		reporter:       reporter,
		store:          store,
		poster:         poster,
		checkName:      checkName,
		commentSummary: commentSummary,
		active:         make(map[model.RunKey]*run),
		recent:         expirable.NewLRU[model.RunKey, model.CheckRun](retainedRuns, nil, retention),
	}
}

// Submit routes an event to its run: it starts a fresh run for an unclaimed
// key and coalesces into the active run otherwise. An event that arrives
// while its run is completing retries against a fresh registry slot, so a
// distinct delivery for an already-completed commit always starts a new run
// with a new external ID.
func (o *Orchestrator) Submit(ctx context.Context, evt model.Event) {
	key := evt.Key()
	for {
		o.mu.Lock()
		r, ok := o.active[key]
		if !ok {
			r = newRun(key, evt.PRNumber, time.Now().UTC())
			o.active[key] = r
			o.wg.Add(1)
			go o.collect(ctx, r, evt)
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()

		select {
		case r.coalesce <- evt:
			return
		case <-r.done:
			// Completed between lookup and send; loop for a fresh slot.
		case <-ctx.Done():
			return
		}
	}
}

// Lookup returns the freshest in-memory view of a run: the active run if one
// exists, otherwise a completed run still inside the retention window.
func (o *Orchestrator) Lookup(key model.RunKey) (model.CheckRun, bool) {
	o.mu.Lock()
	r, ok := o.active[key]
	o.mu.Unlock()
	if ok {
		return r.Snapshot(), true
	}

	if cr, ok := o.recent.Get(key); ok {
		return cr, true
	}
	return model.CheckRun{}, false
}

// ActiveRuns returns a snapshot of every run currently in the registry,
// ordered by repository then head SHA.
func (o *Orchestrator) ActiveRuns() []model.CheckRun {
	o.mu.Lock()
	runs := make([]*run, 0, len(o.active))
	for _, r := range o.active {
		runs = append(runs, r)
	}
	o.mu.Unlock()

	out := make([]model.CheckRun, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RepoFullName != out[j].RepoFullName {
			return out[i].RepoFullName < out[j].RepoFullName
		}
		return out[i].HeadSHA < out[j].HeadSHA
	})
	return out
}

// Drain blocks until every active collector finishes or ctx expires.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// collect is the collector goroutine for one run. It is the only writer of
// the run's progress: package results and coalesced events are serialized
// through its loop, which keeps reporter calls ordered behind the create.
func (o *Orchestrator) collect(ctx context.Context, r *run, first model.Event) {
	defer o.wg.Done()

	log := slog.With("repo", r.key.RepoFullName, "head_sha", r.key.HeadSHA)

	pkgs, ignored, err := o.discovery.Discover(ctx, first)
	if err != nil {
		log.Error("package discovery failed, abandoning run", "delivery_id", first.DeliveryID, "error", err)
		o.remove(r)
		return
	}

	cr := r.Snapshot()

	externalID, err := o.reporter.Create(ctx, r.key.RepoFullName, r.key.HeadSHA, o.checkName)
	if err != nil {
		// The run proceeds without a provider-side check: local state stays
		// authoritative and later reporter calls are skipped.
		log.Error("check run create failed", "error", err)
	}
	cr.ExternalID = externalID
	// The run is in progress once validation is scheduled.
	cr.Status = model.RunStatusInProgress
	r.publish(cr)

	outcomes := make(map[string]model.PackageOutcome)
	scheduled := make(map[string]bool)
	ignoredSeen := make(map[string]bool)
	var ignoredPaths []string
	pending := 0

	schedule := func(pkg model.Package) {
		go func() {
			outcome := o.validator.Validate(ctx, r.key.RepoFullName, r.key.HeadSHA, pkg)
			r.results <- packageResult{root: pkg.Root, manifestPath: pkg.ManifestPath, outcome: outcome}
		}()
	}
	addPackages := func(pkgs []model.Package) {
		for _, pkg := range pkgs {
			if scheduled[pkg.Root] {
				continue
			}
			scheduled[pkg.Root] = true
			pending++
			schedule(pkg)
		}
	}
	addIgnored := func(paths []string) {
		for _, p := range paths {
			if ignoredSeen[p] {
				continue
			}
			ignoredSeen[p] = true
			ignoredPaths = append(ignoredPaths, p)
		}
	}

	addPackages(pkgs)
	addIgnored(ignored)

	log.Info("run started",
		"delivery_id", first.DeliveryID,
		"packages", pending,
		"ignored_paths", len(ignoredPaths),
	)

	interrupted := false
	for pending > 0 {
		select {
		case res := <-r.results:
			pending--
			outcomes[res.root] = model.PackageOutcome{
				Root:         res.root,
				ManifestPath: res.manifestPath,
				Outcome:      res.outcome,
			}

			cr.Outcomes = sortedOutcomes(outcomes)
			r.publish(cr)

			if cr.ExternalID != 0 && pending > 0 {
				report := BuildProgressReport(cr, len(outcomes), len(scheduled))
				if err := o.reporter.Progress(ctx, r.key.RepoFullName, cr.ExternalID, report); err != nil {
					log.Warn("progress report dropped", "error", err)
				}
			}

		case evt := <-r.coalesce:
			morePkgs, moreIgnored, err := o.discovery.Discover(ctx, evt)
			if err != nil {
				log.Error("discovery for coalesced event failed, keeping current set",
					"delivery_id", evt.DeliveryID, "error", err)
				continue
			}
			if cr.PRNumber == 0 && evt.PRNumber != 0 {
				cr.PRNumber = evt.PRNumber
				r.publish(cr)
			}
			addPackages(morePkgs)
			addIgnored(moreIgnored)
			log.Info("event coalesced into active run",
				"delivery_id", evt.DeliveryID, "packages", len(scheduled))

		case <-ctx.Done():
			// Shutdown. The validators see the same cancellation and return
			// promptly, so drain what is in flight and conclude neutral.
			interrupted = true
			for pending > 0 {
				res := <-r.results
				pending--
				outcomes[res.root] = model.PackageOutcome{
					Root:         res.root,
					ManifestPath: res.manifestPath,
					Outcome:      res.outcome,
				}
			}
		}
	}

	o.finish(ctx, r, cr, sortedOutcomes(outcomes), ignoredPaths, interrupted, log)
}

// finish completes a run: it publishes the final state, reports the
// conclusion, records history, retains the run for Lookup, and releases the
// registry slot.
func (o *Orchestrator) finish(
	ctx context.Context,
	r *run,
	cr model.CheckRun,
	outcomes []model.PackageOutcome,
	ignored []string,
	interrupted bool,
	log *slog.Logger,
) {
	cr.Status = model.RunStatusCompleted
	cr.Outcomes = outcomes
	cr.CompletedAt = time.Now().UTC()
	if interrupted {
		cr.Conclusion = model.ConclusionNeutral
	} else {
		cr.Conclusion = concludeRun(outcomes)
	}
	r.publish(cr)

	fctx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(context.Background(), finishGrace)
		defer cancel()
	}

	if cr.ExternalID != 0 {
		report := BuildReport(cr, ignored)
		if err := o.reporter.Complete(fctx, r.key.RepoFullName, cr.ExternalID, cr.Conclusion, report); err != nil {
			log.Error("final report dropped", "error", err)
		}
	}

	if err := o.store.Record(fctx, cr); err != nil {
		log.Error("run history record failed", "error", err)
	}

	if o.commentSummary && cr.PRNumber != 0 && o.poster != nil {
		if err := o.poster.PostComment(fctx, cr.RepoFullName, cr.PRNumber, BuildComment(cr, ignored)); err != nil {
			log.Warn("summary comment failed", "pr_number", cr.PRNumber, "error", err)
		}
	}

	o.recent.Add(r.key, cr)
	o.remove(r)

	log.Info("run completed",
		"conclusion", cr.Conclusion,
		"packages", len(cr.Outcomes),
		"duration", cr.CompletedAt.Sub(cr.CreatedAt).Round(time.Millisecond),
	)
}

// remove releases the registry slot and wakes any submitter blocked on r.
// The slot is released strictly before done closes so a retrying Submit
// always finds it free.
func (o *Orchestrator) remove(r *run) {
	o.mu.Lock()
	if cur := o.active[r.key]; cur == r {
		delete(o.active, r.key)
	} else {
		// The slot no longer holds this run, which breaks the one-owner
		// guarantee for the key. Log it loudly and leave the foreign entry
		// alone; only this run is affected.
		slog.Error("run registry slot owner changed under active run",
			"repo", r.key.RepoFullName, "head_sha", r.key.HeadSHA)
	}
	o.mu.Unlock()
	close(r.done)
}

// concludeRun derives the final verdict: failure if any package failed or
// errored, success otherwise. An empty outcome list is a success.
func concludeRun(outcomes []model.PackageOutcome) model.Conclusion {
	for _, po := range outcomes {
		if po.Outcome.Failed() {
			return model.ConclusionFailure
		}
	}
	return model.ConclusionSuccess
}

func sortedOutcomes(byRoot map[string]model.PackageOutcome) []model.PackageOutcome {
	out := make([]model.PackageOutcome, 0, len(byRoot))
	for _, po := range byRoot {
		out = append(out, po)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Root < out[j].Root })
	return out
}
