// Package webhook is the driving adapter that turns GitHub webhook
// deliveries into orchestration triggers. Deliveries arrive over the gosmee
// relay, which forwards GitHub's original payloads, headers, and signatures
// unchanged.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	gh "github.com/google/go-github/v82/github"

	"github.com/nickel-lang/nickel-customs/internal/application"
	"github.com/nickel-lang/nickel-customs/internal/domain/model"
)

// maxBodySize caps webhook payload reads. GitHub documents 25 MB as the
// payload ceiling.
const maxBodySize = 25 * 1024 * 1024

// zeroSHA is the head SHA GitHub sends for branch deletion pushes.
const zeroSHA = "0000000000000000000000000000000000000000"

// TriggerAcceptor accepts provider triggers for normalization and
// orchestration.
type TriggerAcceptor interface {
	Accept(ctx context.Context, trigger application.Trigger) (model.Event, error)
}

// Handler verifies, parses, and maps webhook deliveries, then hands the
// resulting trigger to the intake. Everything outside the bot's trigger
// scope is acknowledged with 200 so the sender does not redeliver.
type Handler struct {
	base   context.Context
	secret []byte
	intake TriggerAcceptor
	logger *slog.Logger
}

// NewHandler creates a webhook Handler. Accepted triggers start validation
// runs that outlive the delivery response, so they are bound to base (the
// application lifecycle context) rather than the request context. An empty
// secret disables signature verification, which is logged loudly because it
// should only happen in local development.
func NewHandler(base context.Context, secret []byte, intake TriggerAcceptor, logger *slog.Logger) *Handler {
	if len(secret) == 0 {
		logger.Warn("webhook secret not configured, accepting unsigned deliveries")
	}
	return &Handler{base: base, secret: secret, intake: intake, logger: logger}
}

// ServeHTTP handles a single webhook delivery.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	payload, err := gh.ValidatePayload(r, h.secret)
	if err != nil {
		if len(h.secret) > 0 {
			h.logger.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr, "error", err)
			writeStatus(w, http.StatusUnauthorized, "signature verification failed")
			return
		}
		writeStatus(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	eventType := gh.WebHookType(r)
	deliveryID := gh.DeliveryID(r)

	switch eventType {
	case "push", "pull_request", "check_run", "check_suite":
	default:
		// Ping, and any event type the bot has not opted into.
		h.logger.Debug("webhook event type ignored", "event_type", eventType, "delivery_id", deliveryID)
		writeStatus(w, http.StatusOK, "ignored")
		return
	}

	event, err := gh.ParseWebHook(eventType, payload)
	if err != nil {
		h.logger.Warn("webhook payload not parseable",
			"event_type", eventType, "delivery_id", deliveryID, "error", err)
		writeStatus(w, http.StatusBadRequest, "malformed payload")
		return
	}

	trigger, ok := mapTrigger(event, deliveryID)
	if !ok {
		h.logger.Debug("webhook action ignored", "event_type", eventType, "delivery_id", deliveryID)
		writeStatus(w, http.StatusOK, "ignored")
		return
	}

	evt, err := h.intake.Accept(h.base, trigger)

	var malformed *application.MalformedEventError
	switch {
	case errors.Is(err, application.ErrDuplicateDelivery):
		h.logger.Debug("duplicate delivery dropped", "delivery_id", deliveryID)
		writeStatus(w, http.StatusOK, "duplicate")
		return

	case errors.As(err, &malformed):
		h.logger.Warn("malformed event rejected",
			"event_type", eventType, "delivery_id", deliveryID, "reason", malformed.Reason)
		writeStatus(w, http.StatusBadRequest, malformed.Reason)
		return

	case err != nil:
		h.logger.Error("event intake failed",
			"event_type", eventType, "delivery_id", deliveryID, "error", err)
		writeStatus(w, http.StatusInternalServerError, "intake failed")
		return
	}

	h.logger.Info("event accepted",
		"event_type", eventType,
		"delivery_id", deliveryID,
		"repo", evt.RepoFullName,
		"head_sha", evt.HeadSHA,
		"changed_paths", len(evt.ChangedPaths),
	)
	writeStatus(w, http.StatusAccepted, "accepted")
}

// mapTrigger translates a parsed provider event into a trigger. The second
// return value is false for event types and actions the bot does not act on.
func mapTrigger(event any, deliveryID string) (application.Trigger, bool) {
	switch e := event.(type) {
	case *gh.PushEvent:
		// Branch deletions have nothing to validate.
		if e.GetDeleted() || e.GetAfter() == "" || e.GetAfter() == zeroSHA {
			return application.Trigger{}, false
		}
		return application.Trigger{
			Kind:         application.TriggerPush,
			RepoFullName: e.GetRepo().GetFullName(),
			HeadSHA:      e.GetAfter(),
			BaseSHA:      e.GetBefore(),
			ChangedPaths: pushChangedPaths(e),
			DeliveryID:   deliveryID,
		}, true

	case *gh.PullRequestEvent:
		switch e.GetAction() {
		case "opened", "synchronize", "reopened", "ready_for_review":
		default:
			return application.Trigger{}, false
		}
		pr := e.GetPullRequest()
		return application.Trigger{
			Kind:         application.TriggerPullRequest,
			RepoFullName: e.GetRepo().GetFullName(),
			HeadSHA:      pr.GetHead().GetSHA(),
			BaseSHA:      pr.GetBase().GetSHA(),
			PRNumber:     pr.GetNumber(),
			DeliveryID:   deliveryID,
		}, true

	case *gh.CheckRunEvent:
		if e.GetAction() != "rerequested" {
			return application.Trigger{}, false
		}
		return application.Trigger{
			Kind:         application.TriggerRerequest,
			RepoFullName: e.GetRepo().GetFullName(),
			HeadSHA:      e.GetCheckRun().GetHeadSHA(),
			DeliveryID:   deliveryID,
		}, true

	case *gh.CheckSuiteEvent:
		if e.GetAction() != "rerequested" {
			return application.Trigger{}, false
		}
		suite := e.GetCheckSuite()
		return application.Trigger{
			Kind:         application.TriggerRerequest,
			RepoFullName: e.GetRepo().GetFullName(),
			HeadSHA:      suite.GetHeadSHA(),
			BaseSHA:      suite.GetBeforeSHA(),
			DeliveryID:   deliveryID,
		}, true

	default:
		return application.Trigger{}, false
	}
}

// pushChangedPaths flattens the added, modified, and removed paths of every
// commit in delivery order. Deduplication happens at intake.
func pushChangedPaths(e *gh.PushEvent) []string {
	var paths []string
	for _, commit := range e.Commits {
		paths = append(paths, commit.Added...)
		paths = append(paths, commit.Modified...)
		paths = append(paths, commit.Removed...)
	}
	return paths
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
