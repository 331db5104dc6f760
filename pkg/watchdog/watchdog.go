// Copyright 2025 Nodeward Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package watchdog detects a stalled scheduler loop. A cycle that blocks
// for a pipeline run or a quiet period is part of normal operation, so the
// stall allowance is derived from the monitor's current activity instead of
// a single fixed threshold.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nodeward/nodeward/pkg/config"
	"github.com/nodeward/nodeward/pkg/constants"
	"github.com/nodeward/nodeward/pkg/logger"
	"github.com/nodeward/nodeward/pkg/metrics"
	"github.com/nodeward/nodeward/pkg/monitor"
	"github.com/nodeward/nodeward/pkg/sentry"
)

// ActivityFunc reports what the monitor is currently doing. It must be safe
// to call from the watchdog goroutine.
type ActivityFunc func() string

// Watchdog watches the scheduler loop from a background goroutine. Progress
// is either an explicit Mark from the loop or an observed activity change;
// when neither happens within the allowance for the current activity, the
// stall is logged, reported and counted.
type Watchdog struct {
	id     string
	logger *zap.SugaredLogger

	activity ActivityFunc

	pollInterval  time.Duration
	quietPeriod   time.Duration
	checkInterval time.Duration
	stallMargin   time.Duration

	ctx    context.Context //nolint:containedctx // background service lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.RWMutex
	lastProgress time.Time
	lastActivity string
	marks        uint64
}

// Option is a function that modifies a Watchdog.
type Option func(*Watchdog)

// WithCheckInterval overrides the ticker cadence. Used in tests.
func WithCheckInterval(interval time.Duration) Option {
	return func(w *Watchdog) {
		w.checkInterval = interval
	}
}

// WithStallMargin overrides the slack added to every allowance. Used in tests.
func WithStallMargin(margin time.Duration) Option {
	return func(w *Watchdog) {
		w.stallMargin = margin
	}
}

// New creates a watchdog and starts its background goroutine. Callers must
// Stop it on shutdown.
func New(cfg config.Config, activity ActivityFunc, opts ...Option) *Watchdog {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watchdog{
		id:            uuid.NewString(),
		logger:        logger.For(logger.ComponentWatchdog),
		activity:      activity,
		pollInterval:  cfg.Node.PollInterval,
		quietPeriod:   cfg.Timing.QuietPeriod,
		checkInterval: constants.WatchdogCheckInterval,
		stallMargin:   constants.WatchdogStallMargin,
		ctx:           ctx,
		cancel:        cancel,
		lastProgress:  time.Now(),
		lastActivity:  monitor.ActivityPolling,
	}

	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.watch()

	w.logger.Infof("Watchdog %s created (poll allowance %s, quiet allowance %s)",
		w.id, w.allowanceFor(monitor.ActivityPolling), w.allowanceFor(monitor.ActivityQuietPeriod))

	return w
}

// Mark records scheduler loop progress. Called once per completed cycle.
func (w *Watchdog) Mark() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastProgress = time.Now()
	w.marks++
}

// Marks returns how many cycles have been marked since start.
func (w *Watchdog) Marks() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.marks
}

// LastProgress returns the time of the most recent observed progress.
func (w *Watchdog) LastProgress() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.lastProgress
}

// Stalled reports whether the loop has exceeded the allowance for its
// current activity. An unbounded activity never counts as stalled.
func (w *Watchdog) Stalled() bool {
	stalled, _, _ := w.measure(w.activity())
	return stalled
}

// Healthy reports whether the loop has completed at least one cycle and is
// not currently stalled. The readiness probe keys off this.
func (w *Watchdog) Healthy() bool {
	return w.Marks() > 0 && !w.Stalled()
}

// Stop terminates the background goroutine and waits for it to exit.
func (w *Watchdog) Stop() {
	w.logger.Info("Stopping watchdog")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("Watchdog stopped")
}

// watch runs the periodic stall check until Stop is called.
func (w *Watchdog) watch() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			activity := w.activity()
			w.observeActivity(activity)

			stalled, stall, allowance := w.measure(activity)
			if !stalled {
				continue
			}

			metrics.AddStallTime(stall.Seconds())
			sentry.ReportIssuef(sentry.IssueTypeWarning, w.logger,
				"Scheduler loop stalled for %.2f seconds (activity %s, allowance %s)",
				stall.Seconds(), activity, allowance)
		}
	}
}

// observeActivity treats an activity change as progress. A cycle that runs
// a pipeline and then settles never returns to Mark in between, yet each
// transition proves the loop is alive.
func (w *Watchdog) observeActivity(activity string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if activity != w.lastActivity {
		w.logger.Debugf("Activity changed from %s to %s", w.lastActivity, activity)
		w.lastActivity = activity
		w.lastProgress = time.Now()
	}
}

// measure computes the stall duration against the allowance for activity.
func (w *Watchdog) measure(activity string) (stalled bool, stall time.Duration, allowance time.Duration) {
	allowance, bounded := w.boundedAllowance(activity)
	if !bounded {
		return false, 0, 0
	}

	w.mu.RLock()
	stall = time.Since(w.lastProgress)
	w.mu.RUnlock()

	return stall > allowance, stall, allowance
}

// boundedAllowance returns the stall allowance for an activity. A pipeline
// run has no upper bound, so checking is suspended while one is in flight.
func (w *Watchdog) boundedAllowance(activity string) (time.Duration, bool) {
	if activity == monitor.ActivityPipelineRunning {
		return 0, false
	}
	return w.allowanceFor(activity), true
}

func (w *Watchdog) allowanceFor(activity string) time.Duration {
	if activity == monitor.ActivityQuietPeriod {
		return w.quietPeriod + w.stallMargin
	}
	return time.Duration(constants.WatchdogPollFactor)*w.pollInterval + w.stallMargin
}
