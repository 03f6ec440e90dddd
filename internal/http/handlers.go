package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"ledgerlens/internal/core"
	"ledgerlens/internal/log"
)

const (
	defaultInsightLimit = 50
	maxInsightLimit     = 500
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready.Ping(r.Context()); err != nil {
			log.FromContext(r.Context()).LogError(r.Context(), "Readiness check failed", err, log.ErrorTypeDatabase)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type passResponse struct {
	UserID     string            `json:"user_id"`
	Applied    int               `json:"applied"`
	Skipped    int               `json:"skipped"`
	Rejected   int               `json:"rejected"`
	Archived   int               `json:"archived"`
	Candidates int               `json:"candidates"`
	Insights   []insightResponse `json:"insights"`
}

func (s *Server) handleRunPass(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}
	res, err := s.engine.RunPass(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, passResponse{
		UserID:     res.UserID,
		Applied:    res.Applied,
		Skipped:    res.Skipped,
		Rejected:   res.Rejected,
		Archived:   res.Archived,
		Candidates: res.Candidates,
		Insights:   toInsightResponses(res.Insights),
	})
}

// handleSummary catches the user's pipeline up with the ledger, then reports
// the period containing ?period=YYYY-MM-DD, or the last closed period.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}
	kind := s.engine.Config().Period
	period := core.PeriodFor(kind, s.now().UTC()).Prev()
	if raw := strings.TrimSpace(r.URL.Query().Get("period")); raw != "" {
		day, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeErrorMessage(w, r, http.StatusBadRequest, "period must be a date in YYYY-MM-DD format")
			return
		}
		period = core.PeriodFor(kind, day)
	}

	if _, err := s.engine.RunPass(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	ins, err := s.engine.Summary(r.Context(), userID, period)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInsightResponse(ins))
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}
	limit := defaultInsightLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxInsightLimit {
			writeErrorMessage(w, r, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	list, err := s.insights.ListInsights(r.Context(), userID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"insights": toInsightResponses(list),
	})
}

func pathUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.PathValue("id"))
	if userID == "" {
		writeErrorMessage(w, r, http.StatusBadRequest, "user id is required")
		return "", false
	}
	return userID, true
}
