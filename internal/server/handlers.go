package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/eeSquared/musicleague-bot/internal/league"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.league.Status(r.Context(), chi.URLParam(r, "guildID"))
	if err != nil {
		s.writeLeagueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		limit = value
	}
	players, err := s.league.Leaderboard(r.Context(), chi.URLParam(r, "guildID"), limit)
	if err != nil {
		s.writeLeagueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": players})
}

func (s *Server) handleRounds(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	rounds, err := s.league.Rounds(r.Context(), guildID)
	if err != nil {
		s.writeLeagueError(w, err)
		return
	}
	page, perPage := parsePagination(r, 20, 100)
	window, pagination := paginate(rounds, page, perPage)

	body := map[string]any{"rounds": window, "pagination": pagination}
	if theme, ok, err := s.league.SuggestedTheme(r.Context(), guildID); err == nil && ok {
		body["suggested_theme"] = theme
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "roundID"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}
	results, err := s.league.Results(r.Context(), uint(id))
	if err != nil {
		s.writeLeagueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type sweepResponse struct {
	Guilds      int    `json:"guilds"`
	ThemeCycles int    `json:"theme_cycles"`
	Failures    int    `json:"failures"`
	Error       string `json:"error,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	report := s.opts.Sweeper.Sweep(r.Context())
	resp := sweepResponse{
		Guilds:      report.Guilds,
		ThemeCycles: report.ThemeCycles,
		Failures:    report.Failures,
		DurationMS:  time.Since(started).Milliseconds(),
	}
	status := http.StatusOK
	if report.ListingError != nil {
		resp.Error = report.ListingError.Error()
		status = http.StatusBadGateway
	}
	s.logger.Info("manual sweep", "guilds", report.Guilds, "theme_cycles", report.ThemeCycles, "failures", report.Failures)
	writeJSON(w, status, resp)
}

// writeLeagueError maps engine errors onto HTTP statuses. Rejections carry
// their reason and next action through to the client.
func (s *Server) writeLeagueError(w http.ResponseWriter, err error) {
	if rejection, ok := league.AsRejection(err); ok {
		status := http.StatusBadRequest
		if errors.Is(err, league.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, errorBody{Error: rejection.Reason, Next: rejection.Next})
		return
	}
	switch {
	case errors.Is(err, league.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, league.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("league query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
