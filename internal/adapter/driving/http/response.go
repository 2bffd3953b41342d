package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nickel-lang/nickel-customs/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// RunResponse is the JSON representation of a check run.
type RunResponse struct {
	Repository  string            `json:"repository"`
	HeadSHA     string            `json:"head_sha"`
	Status      string            `json:"status"`
	Conclusion  string            `json:"conclusion,omitempty"`
	ExternalID  int64             `json:"external_id,omitempty"`
	PRNumber    int               `json:"pr_number,omitempty"`
	Outcomes    []OutcomeResponse `json:"outcomes"`
	CreatedAt   string            `json:"created_at"`
	CompletedAt string            `json:"completed_at,omitempty"`
}

// OutcomeResponse is the JSON representation of one package verdict.
type OutcomeResponse struct {
	Root         string               `json:"root"`
	ManifestPath string               `json:"manifest_path"`
	Kind         string               `json:"kind"`
	ErrReason    string               `json:"error_reason,omitempty"`
	Diagnostics  []DiagnosticResponse `json:"diagnostics,omitempty"`
}

// DiagnosticResponse is the JSON representation of a single oracle finding.
type DiagnosticResponse struct {
	Path     string `json:"path"`
	Line     int    `json:"line"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// toRunResponse converts a domain CheckRun to its JSON representation.
// Outcome lists are omitted on list endpoints.
func toRunResponse(run model.CheckRun, includeOutcomes bool) RunResponse {
	resp := RunResponse{
		Repository: run.RepoFullName,
		HeadSHA:    run.HeadSHA,
		Status:     string(run.Status),
		Conclusion: string(run.Conclusion),
		ExternalID: run.ExternalID,
		PRNumber:   run.PRNumber,
		Outcomes:   []OutcomeResponse{},
		CreatedAt:  run.CreatedAt.UTC().Format(time.RFC3339),
	}

	if !run.CompletedAt.IsZero() {
		resp.CompletedAt = run.CompletedAt.UTC().Format(time.RFC3339)
	}

	if includeOutcomes {
		for _, po := range run.Outcomes {
			resp.Outcomes = append(resp.Outcomes, toOutcomeResponse(po))
		}
	}

	return resp
}

// toOutcomeResponse converts a domain PackageOutcome to its JSON representation.
func toOutcomeResponse(po model.PackageOutcome) OutcomeResponse {
	resp := OutcomeResponse{
		Root:         po.Root,
		ManifestPath: po.ManifestPath,
		Kind:         string(po.Outcome.Kind),
		ErrReason:    po.Outcome.ErrReason,
	}

	for _, d := range po.Outcome.Diagnostics {
		resp.Diagnostics = append(resp.Diagnostics, DiagnosticResponse{
			Path:     d.Path,
			Line:     d.Line,
			Severity: string(d.Severity),
			Message:  d.Message,
		})
	}

	return resp
}
