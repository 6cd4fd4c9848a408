package cron

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/bher20/erateestimator/internal/alerting"
	"github.com/bher20/erateestimator/internal/metrics"
	"github.com/bher20/erateestimator/internal/ratesource"
	"github.com/bher20/erateestimator/internal/storage"
)

const (
	// JobName identifies the reload job in metrics and scheduled_jobs.
	JobName = "reload_rates"
	// SettingRefreshInterval overrides the configured schedule at runtime.
	SettingRefreshInterval = "refresh_interval_seconds"

	defaultInterval = time.Hour
)

// Config wires a Worker.
type Config struct {
	Loader  *ratesource.Loader
	Store   storage.Storage
	Alerter *alerting.Alerter
	// Interval is integer seconds or a standard cron expression. A stored
	// refresh_interval_seconds setting takes precedence.
	Interval string
	// RunImmediately runs the job on start instead of waiting one interval.
	RunImmediately bool
	// Tick is the control loop period; 10s when zero.
	Tick time.Duration
}

// Worker periodically reloads the rate registry.
type Worker struct {
	cfg Config
	log zerolog.Logger
}

func NewWorker(cfg Config, log zerolog.Logger) *Worker {
	if cfg.Tick <= 0 {
		cfg.Tick = 10 * time.Second
	}
	if cfg.Interval == "" {
		cfg.Interval = strconv.Itoa(int(defaultInterval / time.Second))
	}
	return &Worker{cfg: cfg, log: log.With().Str("component", "cron").Logger()}
}

// ValidateSchedule reports whether setting is usable as an interval.
func ValidateSchedule(setting string) error {
	setting = strings.TrimSpace(setting)
	if v, err := strconv.Atoi(setting); err == nil {
		if v <= 0 {
			return fmt.Errorf("interval seconds must be positive, got %d", v)
		}
		return nil
	}
	if _, err := cron.ParseStandard(setting); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", setting, err)
	}
	return nil
}

// NextRun returns the next run time after last for an interval setting of
// integer seconds or a cron expression. Unusable settings fall back to one
// hour.
func NextRun(setting string, last time.Time) time.Time {
	setting = strings.TrimSpace(setting)
	if v, err := strconv.Atoi(setting); err == nil && v > 0 {
		return last.Add(time.Duration(v) * time.Second)
	}
	if sched, err := cron.ParseStandard(setting); err == nil {
		return sched.Next(last)
	}
	return last.Add(defaultInterval)
}

// currentSetting returns the stored override or the configured interval.
func (w *Worker) currentSetting(ctx context.Context) string {
	if w.cfg.Store != nil {
		val, err := w.cfg.Store.GetSetting(ctx, SettingRefreshInterval)
		if err != nil {
			w.log.Warn().Err(err).Msg("read refresh interval setting")
		} else if val != "" {
			if err := ValidateSchedule(val); err != nil {
				w.log.Warn().Err(err).Msg("ignoring stored refresh interval")
			} else {
				return val
			}
		}
	}
	return w.cfg.Interval
}

// Run drives the job until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	setting := w.currentSetting(ctx)
	nextRun := time.Now()
	if !w.cfg.RunImmediately {
		nextRun = NextRun(setting, nextRun)
	}

	ticker := time.NewTicker(w.cfg.Tick)
	defer ticker.Stop()

	w.log.Info().Str("interval", setting).Time("next_run", nextRun).Msg("cron worker starting")

	for {
		if !time.Now().Before(nextRun) {
			if err := w.RunOnce(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			nextRun = NextRun(setting, time.Now())
			w.log.Debug().Time("next_run", nextRun).Msg("scheduled")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if pr, ok := w.cfg.Store.(storage.PoolReporter); ok {
			pr.ReportPoolStats()
		}
		if val := w.currentSetting(ctx); val != setting {
			w.log.Info().Str("from", setting).Str("to", val).Msg("interval updated")
			setting = val
			nextRun = NextRun(setting, time.Now())
		}
	}
}

// RunOnce reloads this process's registry. Every replica reloads on its own
// schedule; the source serializes the shared snapshot write.
func (w *Worker) RunOnce(ctx context.Context) error {
	started := time.Now()

	reg, runErr := w.cfg.Loader.Reload(ctx)
	dur := time.Since(started)
	versions := 0
	if reg != nil {
		versions = reg.Len()
	}

	metrics.UpdateJobMetrics(JobName, started, runErr)
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if w.cfg.Store != nil {
		if err := w.cfg.Store.UpdateScheduledJob(ctx, JobName, started, dur, runErr == nil, errMsg); err != nil {
			w.log.Warn().Err(err).Msg("update scheduled_jobs failed")
		}
	}
	if w.cfg.Alerter != nil {
		source := w.cfg.Loader.Status().Source
		if err := w.cfg.Alerter.ObserveReload(ctx, JobName, source, versions, dur, runErr); err != nil {
			w.log.Warn().Err(err).Msg("send alert failed")
		}
	}

	if runErr != nil {
		w.log.Error().Err(runErr).Dur("duration", dur).Msg("job completed with error")
		return runErr
	}
	w.log.Info().Int("versions", versions).Dur("duration", dur).Msg("job completed")
	return nil
}
