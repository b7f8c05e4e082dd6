package core

import (
	"context"
	"log/slog"
	"portrait-backend/internal/database"
	"portrait-backend/internal/metrics"
	"time"

	"github.com/go-co-op/gocron"
	"gorm.io/gorm"
)

const DefaultReapInterval = time.Minute

// Reaper fails sessions and generations that have been processing for longer
// than any training could take, e.g. because the worker polling them died and
// nothing requeued them.
type Reaper struct {
	db        *gorm.DB
	maxAge    time.Duration
	interval  time.Duration
	scheduler *gocron.Scheduler
}

func NewReaper(db *gorm.DB, maxAge, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}

	return &Reaper{
		db:        db,
		maxAge:    maxAge,
		interval:  interval,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

func (r *Reaper) Start() error {
	if _, err := r.scheduler.Every(r.interval).SingletonMode().Do(r.sweep); err != nil {
		return err
	}
	r.scheduler.StartAsync()

	slog.Info("started stale session reaper", "max_age", r.maxAge, "interval", r.interval)
	return nil
}

func (r *Reaper) Stop() {
	r.scheduler.Stop()
}

func (r *Reaper) sweep() {
	if _, err := r.Sweep(context.Background()); err != nil {
		slog.Error("error reaping stale sessions", "error", err)
	}
}

// Sweep fails every session and generation still processing after maxAge and
// returns how many records it changed.
func (r *Reaper) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-r.maxAge)

	sessions, err := database.FailStaleSessions(ctx, r.db, cutoff)
	if err != nil {
		return 0, err
	}
	if sessions > 0 {
		metrics.SessionsReaped.Add(float64(sessions))
		slog.Warn("failed stale training sessions", "count", sessions, "max_age", r.maxAge)
	}

	generations, err := database.FailStaleGenerations(ctx, r.db, cutoff)
	if err != nil {
		return sessions, err
	}
	if generations > 0 {
		metrics.GenerationsFinished.WithLabelValues(database.StatusFailed).Add(float64(generations))
		slog.Warn("failed stale generations", "count", generations, "max_age", r.maxAge)
	}

	return sessions + generations, nil
}
