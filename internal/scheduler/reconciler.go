package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// FeedReconciler refetches live notification feeds and forgets idle ones.
type FeedReconciler interface {
	ReconcileAll(ctx context.Context) (int, error)
	PruneIdle(idle time.Duration) int
}

// ReferralPruner forgets referral input streams nobody has touched recently.
type ReferralPruner interface {
	Prune(idle time.Duration) int
}

// Config configures the periodic maintenance job.
type Config struct {
	Spec      string
	Idle      time.Duration
	Timeout   time.Duration
	Feeds     FeedReconciler
	Referrals ReferralPruner
	Logger    zerolog.Logger
}

// Reconciler runs feed reconciliation and session pruning on a cron schedule.
type Reconciler struct {
	cron      *cron.Cron
	feeds     FeedReconciler
	referrals ReferralPruner
	idle      time.Duration
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewReconciler validates the schedule and registers the job. Nothing runs until Start.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.Feeds == nil {
		return nil, fmt.Errorf("feed reconciler is required")
	}
	if cfg.Spec == "" {
		cfg.Spec = "@every 1m"
	}
	if cfg.Idle <= 0 {
		cfg.Idle = 30 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := cfg.Logger.With().Str("component", "reconciler").Logger()
	adapter := cronLogger{logger: logger}

	r := &Reconciler{
		cron:      cron.New(cron.WithLogger(adapter), cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter))),
		feeds:     cfg.Feeds,
		referrals: cfg.Referrals,
		idle:      cfg.Idle,
		timeout:   cfg.Timeout,
		logger:    logger,
	}

	if _, err := r.cron.AddFunc(cfg.Spec, r.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", cfg.Spec, err)
	}
	return r, nil
}

// Start begins the schedule in the background.
func (r *Reconciler) Start() {
	r.cron.Start()
	r.logger.Info().Msg("reconciler started")
}

// Stop halts the schedule and waits for a running job, bounded by ctx.
func (r *Reconciler) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single maintenance pass.
func (r *Reconciler) RunOnce() {
	started := time.Now()

	pruned := r.feeds.PruneIdle(r.idle)
	referrals := 0
	if r.referrals != nil {
		referrals = r.referrals.Prune(r.idle)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	reconciled, err := r.feeds.ReconcileAll(ctx)
	event := r.logger.Debug()
	if err != nil {
		event = r.logger.Warn().Err(err)
	}
	event.
		Int("feeds_reconciled", reconciled).
		Int("feeds_pruned", pruned).
		Int("referrals_pruned", referrals).
		Dur("duration", time.Since(started)).
		Msg("reconcile pass finished")
}

type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
