package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ledgerlens/internal/core"
	"ledgerlens/internal/log"
	"ledgerlens/internal/middleware/trace"
)

type insightResponse struct {
	ID          string    `json:"id"`
	Kind        core.Kind `json:"kind"`
	Severity    string    `json:"severity"`
	Category    string    `json:"category,omitempty"`
	DedupKey    string    `json:"dedup_key"`
	GeneratedAt time.Time `json:"generated_at"`
	Payload     any       `json:"payload"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func toInsightResponse(in core.Insight) insightResponse {
	return insightResponse{
		ID:          in.ID,
		Kind:        in.Kind,
		Severity:    in.Severity.String(),
		Category:    in.Category,
		DedupKey:    in.DedupKey,
		GeneratedAt: in.GeneratedAt,
		Payload:     in.Payload,
	}
}

func toInsightResponses(list []core.Insight) []insightResponse {
	out := make([]insightResponse, 0, len(list))
	for _, in := range list {
		out = append(out, toInsightResponse(in))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidUserID),
		errors.Is(err, core.ErrInvalidPeriod),
		errors.Is(err, core.ErrInvalidDate):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrOutOfOrderData):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError hides internal error text from the client; it is logged instead.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.FromContext(r.Context()).LogError(r.Context(), "Request failed", err, log.ErrorTypeInternal,
			log.FieldPath, r.URL.Path)
		msg = http.StatusText(status)
	}
	writeErrorMessage(w, r, status, msg)
}

func writeErrorMessage(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: w.Header().Get(trace.Header)})
}

func rateLimited(w http.ResponseWriter, r *http.Request) {
	writeErrorMessage(w, r, http.StatusTooManyRequests, "rate limit exceeded, retry later")
}
