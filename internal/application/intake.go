package application

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nickel-lang/nickel-customs/internal/domain/model"
	"github.com/nickel-lang/nickel-customs/internal/domain/port/driven"
)

// deduplicationWindow is how long delivery IDs are remembered for replay
// protection. The provider retries failed deliveries within minutes; an hour
// is conservative.
const deduplicationWindow = 1 * time.Hour

// dedupeCapacity bounds the delivery-ID cache.
const dedupeCapacity = 4096

// ErrDuplicateDelivery reports a delivery ID that was already accepted inside
// the deduplication window.
var ErrDuplicateDelivery = errors.New("duplicate delivery")

// MalformedEventError reports a delivery that cannot be normalized into an
// event. The webhook boundary turns it into a 400 with no side effects.
type MalformedEventError struct {
	Reason string
}

func (e *MalformedEventError) Error() string {
	return "malformed event: " + e.Reason
}

// TriggerKind says which provider event shape produced a Trigger.
type TriggerKind string

const (
	TriggerPush        TriggerKind = "push"
	TriggerPullRequest TriggerKind = "pull_request"
	TriggerRerequest   TriggerKind = "rerequest"
)

// Trigger is a provider-shaped event as the webhook adapter hands it over,
// before normalization. ChangedPaths is populated for pushes only; the other
// kinds resolve their paths through the reader.
type Trigger struct {
	Kind         TriggerKind
	RepoFullName string
	HeadSHA      string
	BaseSHA      string
	ChangedPaths []string
	PRNumber     int
	DeliveryID   string
}

// RunSubmitter accepts normalized events for orchestration.
type RunSubmitter interface {
	Submit(ctx context.Context, evt model.Event)
}

// Intake normalizes triggers into events: it validates required fields,
// drops duplicate deliveries, resolves changed paths for trigger kinds that
// do not carry them, and hands the event to the orchestrator.
type Intake struct {
	reader    driven.RepoReader
	submitter RunSubmitter
	seen      *expirable.LRU[string, time.Time]
}

// NewIntake creates an Intake submitting to the given orchestrator.
func NewIntake(reader driven.RepoReader, submitter RunSubmitter) *Intake {
	return &Intake{
		reader:    reader,
		submitter: submitter,
		seen:      expirable.NewLRU[string, time.Time](dedupeCapacity, nil, deduplicationWindow),
	}
}

// Accept validates and normalizes a trigger, then submits the resulting
// event. It returns the submitted event, ErrDuplicateDelivery for a replayed
// delivery ID, or a MalformedEventError when required fields are missing.
// Only a delivery that reached the submitter counts as processed: a trigger
// whose path resolution fails keeps its ID eligible for redelivery.
func (i *Intake) Accept(ctx context.Context, trigger Trigger) (model.Event, error) {
	if err := validateTrigger(trigger); err != nil {
		return model.Event{}, err
	}

	// Deliveries are marked seen before path resolution so a concurrent
	// replay of the same ID cannot race past the check.
	if _, dup := i.seen.Get(trigger.DeliveryID); dup {
		return model.Event{}, fmt.Errorf("%w: %s", ErrDuplicateDelivery, trigger.DeliveryID)
	}
	i.seen.Add(trigger.DeliveryID, time.Now().UTC())

	paths, err := i.resolvePaths(ctx, trigger)
	if err != nil {
		// The delivery went unprocessed; forget the ID so the provider's
		// redelivery of it is not rejected as a duplicate.
		i.seen.Remove(trigger.DeliveryID)
		return model.Event{}, err
	}

	evt := model.Event{
		RepoFullName: trigger.RepoFullName,
		HeadSHA:      trigger.HeadSHA,
		BaseSHA:      trigger.BaseSHA,
		ChangedPaths: paths,
		DeliveryID:   trigger.DeliveryID,
		PRNumber:     trigger.PRNumber,
		ReceivedAt:   time.Now().UTC(),
	}
	i.submitter.Submit(ctx, evt)
	return evt, nil
}

func validateTrigger(t Trigger) error {
	switch {
	case t.DeliveryID == "":
		return &MalformedEventError{Reason: "missing delivery id"}
	case t.RepoFullName == "":
		return &MalformedEventError{Reason: "missing repository"}
	case !strings.Contains(t.RepoFullName, "/"):
		return &MalformedEventError{Reason: fmt.Sprintf("repository %q is not owner/repo", t.RepoFullName)}
	case t.HeadSHA == "":
		return &MalformedEventError{Reason: "missing head SHA"}
	case t.Kind == TriggerPullRequest && t.PRNumber <= 0:
		return &MalformedEventError{Reason: "missing pull request number"}
	}
	return nil
}

func (i *Intake) resolvePaths(ctx context.Context, t Trigger) ([]string, error) {
	switch t.Kind {
	case TriggerPush:
		return dedupePaths(t.ChangedPaths), nil

	case TriggerPullRequest:
		paths, err := i.reader.ListPullRequestFiles(ctx, t.RepoFullName, t.PRNumber)
		if err != nil {
			return nil, fmt.Errorf("listing files for %s#%d: %w", t.RepoFullName, t.PRNumber, err)
		}
		return dedupePaths(paths), nil

	case TriggerRerequest:
		if t.BaseSHA != "" {
			paths, err := i.reader.CompareCommits(ctx, t.RepoFullName, t.BaseSHA, t.HeadSHA)
			if err != nil {
				return nil, fmt.Errorf("comparing %s %s...%s: %w", t.RepoFullName, t.BaseSHA, t.HeadSHA, err)
			}
			return dedupePaths(paths), nil
		}
		// No base to diff against: mark every manifest changed so the whole
		// package set is revalidated.
		tree, err := i.reader.ListTree(ctx, t.RepoFullName, t.HeadSHA)
		if err != nil {
			return nil, fmt.Errorf("listing tree for %s@%s: %w", t.RepoFullName, t.HeadSHA, err)
		}
		var manifests []string
		for _, entry := range tree {
			if path.Base(entry.Path) == ManifestName {
				manifests = append(manifests, entry.Path)
			}
		}
		return manifests, nil

	default:
		return nil, &MalformedEventError{Reason: fmt.Sprintf("unsupported trigger kind %q", t.Kind)}
	}
}

// dedupePaths removes duplicates while preserving first-seen order.
func dedupePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
