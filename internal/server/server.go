// Package server exposes the operational HTTP surface: health, Prometheus
// metrics and a read-only view of league state.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/eeSquared/musicleague-bot/internal/league"
	"github.com/eeSquared/musicleague-bot/internal/scheduler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// League is the read side of league.Engine.
type League interface {
	Status(ctx context.Context, guildID string) (league.Status, error)
	Leaderboard(ctx context.Context, guildID string, limit int) ([]league.Participant, error)
	Rounds(ctx context.Context, guildID string) ([]league.Round, error)
	Results(ctx context.Context, roundID uint) ([]league.Ranked[league.Entry], error)
	SuggestedTheme(ctx context.Context, guildID string) (string, bool, error)
}

// Sweeper runs one scheduler pass on demand.
type Sweeper interface {
	Sweep(ctx context.Context) scheduler.Report
}

type Options struct {
	// Metrics serves /metrics; nil leaves the route out.
	Metrics http.Handler
	// Ready reports whether dependencies such as the database are reachable.
	Ready   func(ctx context.Context) error
	Sweeper Sweeper
	// Token guards the admin routes. Empty disables them.
	Token  string
	Logger *slog.Logger
}

type Server struct {
	league League
	opts   Options
	logger *slog.Logger
}

func New(l League, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{league: l, opts: opts, logger: opts.Logger}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Route("/guilds/{guildID}", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/leaderboard", s.handleLeaderboard)
			r.Get("/rounds", s.handleRounds)
		})
		r.Get("/rounds/{roundID}/results", s.handleResults)

		if s.opts.Token != "" && s.opts.Sweeper != nil {
			r.Group(func(r chi.Router) {
				r.Use(requireToken(s.opts.Token))
				r.Post("/admin/sweep", s.handleSweep)
			})
		}
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(started),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
