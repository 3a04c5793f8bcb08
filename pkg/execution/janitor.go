package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/sequor/pkg/persistence"
	"github.com/robfig/cron/v3"
)

// JanitorConfig controls the stale-execution sweep.
type JanitorConfig struct {
	// Schedule is a cron expression; empty defaults to every five minutes.
	Schedule string

	// MaxAge is how long an execution's newest event may stay PENDING before
	// the execution is considered abandoned.
	MaxAge time.Duration

	// Compensate runs the saga rollback on each execution the sweep fails.
	Compensate bool
}

const defaultJanitorSchedule = "*/5 * * * *"

// Janitor periodically fails executions whose newest event has been stuck in
// PENDING past MaxAge. Failing is itself just an append: the sweep never
// deletes or rewrites anything, and an execution that turns out to be alive
// after all keeps its full history.
type Janitor struct {
	service *Service
	events  persistence.EventRepository
	config  JanitorConfig
	logger  *slog.Logger
	cron    *cron.Cron
}

// NewJanitor creates a janitor. Start must be called to begin sweeping.
func NewJanitor(service *Service, events persistence.EventRepository, config JanitorConfig, logger *slog.Logger) *Janitor {
	if config.Schedule == "" {
		config.Schedule = defaultJanitorSchedule
	}

	if config.MaxAge <= 0 {
		config.MaxAge = time.Hour
	}

	return &Janitor{
		service: service,
		events:  events,
		config:  config,
		logger:  logger,
		cron:    cron.New(),
	}
}

// Start schedules the sweep and runs it in the background.
func (j *Janitor) Start(ctx context.Context) error {
	_, err := j.cron.AddFunc(j.config.Schedule, func() {
		j.Sweep(ctx)
	})
	if err != nil {
		return err
	}

	j.cron.Start()
	j.logger.InfoContext(ctx, "stale execution janitor started",
		"schedule", j.config.Schedule, "max_age", j.config.MaxAge)

	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	stopCtx := j.cron.Stop()
	<-stopCtx.Done()
}

// Sweep fails every execution stuck past MaxAge. It returns the number of
// executions failed; errors on individual executions are logged and do not
// stop the sweep.
func (j *Janitor) Sweep(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-j.config.MaxAge)

	stale, err := j.events.StaleExecutions(ctx, cutoff)
	if err != nil {
		j.logger.ErrorContext(ctx, "failed to list stale executions", "error", err)

		return 0
	}

	failed := 0

	for _, executionID := range stale {
		_, err := j.service.Fail(ctx, executionID, "", "execution abandoned: no progress past deadline", j.config.Compensate)
		if err != nil {
			j.logger.ErrorContext(ctx, "failed to fail stale execution",
				"execution_id", executionID, "error", err)

			continue
		}

		j.logger.WarnContext(ctx, "stale execution failed by janitor", "execution_id", executionID)

		failed++
	}

	return failed
}
