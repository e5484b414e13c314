// Package scheduler drives time-based round transitions with a fixed-interval
// sweep over every guild.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/eeSquared/musicleague-bot/internal/league"
)

// Advancer is the part of league.Engine the scheduler drives.
type Advancer interface {
	AdvanceGuild(ctx context.Context, guildID string) error
	AdvanceThemeCycle(ctx context.Context, roundID uint) error
}

// Source lists the tenants and open theme cycles to evaluate.
type Source interface {
	Guilds(ctx context.Context) ([]league.Guild, error)
	OpenThemeCycles(ctx context.Context) ([]league.Round, error)
}

type Observer interface {
	SweepDuration(d time.Duration)
	SweepFailure(stage string)
}

type nopObserver struct{}

func (nopObserver) SweepDuration(time.Duration) {}
func (nopObserver) SweepFailure(string)         {}

type Options struct {
	Interval time.Duration
	Logger   *slog.Logger
	Observer Observer
}

type Scheduler struct {
	advancer Advancer
	source   Source
	interval time.Duration
	logger   *slog.Logger
	observer Observer
}

func New(advancer Advancer, source Source, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Scheduler{
		advancer: advancer,
		source:   source,
		interval: opts.Interval,
		logger:   opts.Logger.With("component", "scheduler"),
		observer: opts.Observer,
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Report summarises one sweep.
type Report struct {
	Guilds       int
	ThemeCycles  int
	Failures     int
	ListingError error
}

// Sweep evaluates every guild, then every open theme cycle. A failure or
// panic while evaluating one of them is logged and does not stop the rest.
func (s *Scheduler) Sweep(ctx context.Context) Report {
	started := time.Now()
	defer func() { s.observer.SweepDuration(time.Since(started)) }()

	var report Report
	guilds, err := s.source.Guilds(ctx)
	if err != nil {
		s.logger.Error("list guilds failed", "error", err)
		s.observer.SweepFailure("list_guilds")
		report.ListingError = err
		return report
	}
	for _, g := range guilds {
		if ctx.Err() != nil {
			return report
		}
		report.Guilds++
		if err := s.safely(func() error { return s.advancer.AdvanceGuild(ctx, g.ID) }); err != nil {
			report.Failures++
			s.observer.SweepFailure("guild")
			s.logger.Error("advance guild failed", "guild_id", g.ID, "error", err)
		}
	}

	cycles, err := s.source.OpenThemeCycles(ctx)
	if err != nil {
		s.logger.Error("list theme cycles failed", "error", err)
		s.observer.SweepFailure("list_theme_cycles")
		report.ListingError = err
		return report
	}
	for _, r := range cycles {
		if ctx.Err() != nil {
			return report
		}
		report.ThemeCycles++
		if err := s.safely(func() error { return s.advancer.AdvanceThemeCycle(ctx, r.ID) }); err != nil {
			report.Failures++
			s.observer.SweepFailure("theme_cycle")
			s.logger.Error("advance theme cycle failed", "guild_id", r.GuildID, "round_id", r.ID, "error", err)
		}
	}
	if report.Failures > 0 {
		s.logger.Warn("sweep finished with failures", "guilds", report.Guilds, "theme_cycles", report.ThemeCycles, "failures", report.Failures)
	} else {
		s.logger.Debug("sweep finished", "guilds", report.Guilds, "theme_cycles", report.ThemeCycles)
	}
	return report
}

func (s *Scheduler) safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}
