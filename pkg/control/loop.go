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

// Package control runs the scheduler loop that drives the monitor.
//
// The loop is single-threaded and delay-driven: each cycle tells the loop
// how long to sleep before the next one, so a healthy chain is polled
// slowly and an unreachable one is retried quickly. A panicking cycle is
// converted into an error and retried; the only way the loop ends is
// context cancellation.
package control

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/nodeward/nodeward/pkg/config"
	"github.com/nodeward/nodeward/pkg/ctxutil"
	"github.com/nodeward/nodeward/pkg/logger"
	"github.com/nodeward/nodeward/pkg/metrics"
	"github.com/nodeward/nodeward/pkg/sentry"
)

// Reconciler runs one decision cycle and names the delay until the next.
type Reconciler interface {
	// Reconcile executes a single cycle. The returned duration is the sleep
	// before the next cycle; a non-nil error means the cycle could not
	// complete and the loop applies its retry delay instead.
	Reconcile(ctx context.Context) (time.Duration, error)
}

// HealthMarker receives a progress mark after every completed cycle.
type HealthMarker interface {
	Mark()
}

// ControlLoop drives the monitor until its context is cancelled.
type ControlLoop struct {
	reconciler Reconciler
	health     HealthMarker
	logger     *zap.SugaredLogger
	retryDelay time.Duration
}

// NewControlLoop creates a control loop around the given reconciler. The
// health marker may be nil when no watchdog is attached.
func NewControlLoop(reconciler Reconciler, health HealthMarker, cfg config.Config) *ControlLoop {
	log := logger.For(logger.ComponentControlLoop)
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	metrics.InitErrorCounter(metrics.ComponentControlLoop)

	return &ControlLoop{
		reconciler: reconciler,
		health:     health,
		logger:     log,
		retryDelay: cfg.Timing.CycleRetryDelay,
	}
}

// Execute runs cycles until ctx is cancelled. Cancellation is a clean
// shutdown and returns nil; there is no error that stops the loop, because
// an unreachable node or a failing pipeline is a condition to ride out, not
// a reason to exit.
func (c *ControlLoop) Execute(ctx context.Context) error {
	c.logger.Infof("Scheduler loop started (cycle retry delay %s)", c.retryDelay)

	for {
		if ctx.Err() != nil {
			c.logger.Infof("Scheduler loop cancelled")
			return nil
		}

		start := time.Now()
		delay, err := c.runCycle(ctx)
		metrics.ObserveCycleTime(time.Since(start))

		if c.health != nil {
			c.health.Mark()
		}

		if err != nil {
			if errors.Is(err, context.Canceled) {
				c.logger.Infof("Scheduler loop cancelled during cycle")
				return nil
			}

			metrics.IncErrorCountAndLog(metrics.ComponentControlLoop, err, c.logger)
			sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "Cycle failed: %v", err)
			delay = c.retryDelay
		}

		if err := ctxutil.SleepContext(ctx, delay); err != nil {
			c.logger.Infof("Scheduler loop cancelled during sleep")
			return nil
		}
	}
}

// runCycle executes one reconcile with panic containment. A panic inside a
// cycle must not take the process down; it becomes an ordinary cycle error.
func (c *ControlLoop) runCycle(ctx context.Context) (delay time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
			c.logger.Errorf("Cycle panicked: %v\n%s", r, string(debug.Stack()))
		}
	}()

	return c.reconciler.Reconcile(ctx)
}
