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

// Package monitor holds the decision core of the watcher: one Reconcile
// call per cycle reads the chain node, decides whether the planned upgrade
// height has been reached, and drives the upgrade pipeline when it has.
package monitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	looplabfsm "github.com/looplab/fsm"
	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"

	"github.com/nodeward/nodeward/internal/fsm"
	"github.com/nodeward/nodeward/pkg/config"
	"github.com/nodeward/nodeward/pkg/ctxutil"
	"github.com/nodeward/nodeward/pkg/logger"
	"github.com/nodeward/nodeward/pkg/metrics"
	"github.com/nodeward/nodeward/pkg/sentry"
	"github.com/nodeward/nodeward/pkg/service/chain"
	"github.com/nodeward/nodeward/pkg/service/pipeline"
)

// WaitFunc performs an interruptible wait. The default is
// ctxutil.SleepContext; tests inject their own.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Monitor owns the watch state: the cached node identity, the cached
// upgrade plan and the phase machine. Cycles run strictly sequentially;
// the mutex only shields the snapshot fields against Status() readers on
// other goroutines.
type Monitor struct {
	cfg    config.Config
	logger *zap.SugaredLogger

	machine *fsm.Machine

	chainService    chain.IChainService
	pipelineService pipeline.IPipelineService

	waitFunc WaitFunc

	// mu guards the snapshot fields below. The cycle writes, Status reads.
	mu          sync.RWMutex
	identity    *chain.ChainIdentity
	plan        *chain.UpgradePlan
	lastHeight  int64
	activity    string
	cycles      uint64
	lastCycleAt time.Time
	lastRun     *RunSummary

	// watcherID is assigned once at construction.
	watcherID string
}

// MonitorOption is a function that modifies a Monitor.
type MonitorOption func(*Monitor)

// WithWaitFunc replaces the quiet-period wait. Used in tests.
func WithWaitFunc(waitFunc WaitFunc) MonitorOption {
	return func(m *Monitor) {
		m.waitFunc = waitFunc
	}
}

// New creates a Monitor in the starting phase.
func New(cfg config.Config, chainService chain.IChainService, pipelineService pipeline.IPipelineService, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		cfg:             cfg,
		logger:          logger.For(logger.ComponentMonitor),
		chainService:    chainService,
		pipelineService: pipelineService,
		waitFunc:        ctxutil.SleepContext,
		activity:        ActivityPolling,
		watcherID:       uuid.NewString(),
	}

	m.machine = fsm.NewPhaseMachine(m.logger)
	m.registerPhaseCallbacks()

	for _, opt := range opts {
		opt(m)
	}

	metrics.SetPhase(m.machine.Current())
	m.logger.Infof("Monitor %s created, watching %s", m.watcherID, cfg.Node.APIURL)

	return m
}

// registerPhaseCallbacks wires transition-edge logging and the phase gauge.
func (m *Monitor) registerPhaseCallbacks() {
	m.machine.AddCallback("enter_"+fsm.PhaseWatching, func(ctx context.Context, e *looplabfsm.Event) {
		metrics.SetPhase(e.Dst)
		switch e.Event {
		case fsm.EventNodeRecovered:
			m.logger.Infof("Node is back online")
			m.logIdentity()
		case fsm.EventSettled:
			m.logger.Infof("Quiet period over, resuming watch")
		}
	})

	m.machine.AddCallback("enter_"+fsm.PhaseNodeDown, func(ctx context.Context, e *looplabfsm.Event) {
		metrics.SetPhase(e.Dst)
		m.logger.Warnf("Node stopped answering, switching to long-poll")
	})

	m.machine.AddCallback("enter_"+fsm.PhaseTriggering, func(ctx context.Context, e *looplabfsm.Event) {
		metrics.SetPhase(e.Dst)
		m.logger.Infof("Upgrade height reached, handing over to the pipeline")
	})

	m.machine.AddCallback("enter_"+fsm.PhaseSettling, func(ctx context.Context, e *looplabfsm.Event) {
		metrics.SetPhase(e.Dst)
		m.logger.Infof("Entering post-upgrade quiet period")
	})
}

// Reconcile executes exactly one decision cycle and returns the delay the
// caller should sleep before the next one. Gateway failures are consumed
// here (they mean "currently unknown") and surface as long-poll delays; the
// only errors Reconcile returns are cancellation and phase machine faults.
func (m *Monitor) Reconcile(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	defer m.finishCycle()

	// Step 1: resolve the node identity once.
	if m.currentIdentity() == nil {
		identity, err := m.chainService.Identity(ctx)
		if err != nil {
			metrics.IncErrorCount(metrics.ComponentMonitor)
			metrics.SetNodeUp(false)
			m.logger.Warnf("Node identity not resolvable: %v", err)
			return m.cfg.Timing.LongPollDelay, nil
		}

		m.setIdentity(identity)
		m.logIdentity()

		if m.machine.Is(fsm.PhaseStarting) {
			if err := m.machine.Event(ctx, fsm.EventIdentityResolved); err != nil {
				return 0, err
			}
		}
	}

	// Step 2: liveness check.
	height, err := m.chainService.Height(ctx)
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentMonitor)
		metrics.SetNodeUp(false)
		m.logger.Warnf("Liveness check failed: %v", err)

		if m.machine.Is(fsm.PhaseWatching) {
			if err := m.machine.Event(ctx, fsm.EventNodeLost); err != nil {
				return 0, err
			}
		}
		return m.cfg.Timing.LongPollDelay, nil
	}

	metrics.SetNodeUp(true)
	metrics.SetChainHeight(height)
	m.setLastHeight(height)

	if m.machine.Is(fsm.PhaseNodeDown) {
		if err := m.machine.Event(ctx, fsm.EventNodeRecovered); err != nil {
			return 0, err
		}
	}

	// Step 3: upgrade plan detection, at most one fetch per distinct plan.
	plan := m.currentPlan()
	if plan == nil {
		fetched, err := m.chainService.CurrentPlan(ctx)
		if err != nil {
			// Degrades to "no plan this cycle"; the plan endpoint is not
			// part of the liveness contract.
			m.logger.Debugf("Upgrade plan not readable this cycle: %v", err)
		} else if fetched != nil {
			m.setPlan(fetched)
			metrics.SetUpgradePlanHeight(fetched.Height)
			m.logPlanDetected(fetched, height)
			plan = fetched
		}
	}

	// Step 4: nothing scheduled.
	if plan == nil {
		return m.cfg.Node.PollInterval, nil
	}

	// Step 5: scheduled but not due yet.
	if height < plan.Height {
		m.logger.Debugf("Upgrade %q due at height %d, current %d", plan.Name, plan.Height, height)
		return m.cfg.Node.PollInterval, nil
	}

	// Step 6: due. Hand over to the pipeline and settle afterwards.
	if err := m.machine.Event(ctx, fsm.EventUpgradeDue); err != nil {
		return 0, err
	}

	succeeded := m.runPipeline(ctx, plan)

	if succeeded {
		m.clearPlan()
		metrics.SetUpgradePlanHeight(0)
		m.logger.Infof("Upgrade pipeline for %q succeeded", plan.Name)
		if err := m.machine.Event(ctx, fsm.EventPipelineSucceeded); err != nil {
			return 0, err
		}
	} else {
		sentry.ReportCycleErrorf(m.logger, m.machine.Current(), "pipeline",
			"upgrade pipeline for %q did not succeed, re-attempting after the quiet period", plan.Name)
		if err := m.machine.Event(ctx, fsm.EventPipelineFailed); err != nil {
			return 0, err
		}
	}

	if err := m.quietWait(ctx); err != nil {
		return 0, err
	}

	if succeeded {
		m.refreshIdentity(ctx)
	}

	if err := m.machine.Event(ctx, fsm.EventSettled); err != nil {
		return 0, err
	}

	return m.cfg.Node.PollInterval, nil
}

// runPipeline performs the blocking trigger round trip and records its
// summary for the status surface.
func (m *Monitor) runPipeline(ctx context.Context, plan *chain.UpgradePlan) bool {
	m.setActivity(ActivityPipelineRunning)
	defer m.setActivity(ActivityPolling)

	summary := RunSummary{
		PlanName:    plan.Name,
		PlanHeight:  plan.Height,
		TriggeredAt: time.Now(),
	}
	m.setLastRun(summary)

	succeeded := m.pipelineService.TriggerAndWait(ctx)

	summary.FinishedAt = time.Now()
	summary.Succeeded = succeeded
	m.setLastRun(summary)

	return succeeded
}

// quietWait blocks for the post-upgrade quiet period. A cancelled wait
// returns the context error, which the scheduler loop treats as shutdown.
func (m *Monitor) quietWait(ctx context.Context) error {
	m.setActivity(ActivityQuietPeriod)
	defer m.setActivity(ActivityPolling)

	m.logger.Infof("Waiting %s before resuming watch", m.cfg.Timing.QuietPeriod)
	return m.waitFunc(ctx, m.cfg.Timing.QuietPeriod)
}

// refreshIdentity re-reads the identity after a completed upgrade. The
// result is stored as-is, nil included: a nil identity simply makes the
// next cycle resolve it again.
func (m *Monitor) refreshIdentity(ctx context.Context) {
	previous := m.currentIdentity()

	refreshed, err := m.chainService.Identity(ctx)
	if err != nil {
		m.logger.Warnf("Identity refresh after upgrade failed: %v", err)
	}
	m.setIdentity(refreshed)

	if previous != nil && refreshed != nil && previous.Version != "" && refreshed.Version != "" {
		m.logVersionChange(previous.Version, refreshed.Version)
	}
}

// logVersionChange compares node versions semver-aware where possible.
func (m *Monitor) logVersionChange(oldVersion, newVersion string) {
	oldSemver, errOld := semver.NewVersion(strings.TrimPrefix(oldVersion, "v"))
	newSemver, errNew := semver.NewVersion(strings.TrimPrefix(newVersion, "v"))
	if errOld != nil || errNew != nil {
		m.logger.Infof("Node version after upgrade: %s (was %s)", newVersion, oldVersion)
		return
	}

	switch {
	case newSemver.GreaterThan(oldSemver):
		m.logger.Infof("Node upgraded from %s to %s", oldVersion, newVersion)
	case newSemver.LessThan(oldSemver):
		m.logger.Warnf("Node reports an OLDER version after the upgrade: %s -> %s", oldVersion, newVersion)
	default:
		m.logger.Infof("Node version unchanged at %s after upgrade", newVersion)
	}
}

func (m *Monitor) logIdentity() {
	identity := m.currentIdentity()
	if identity == nil {
		return
	}
	m.logger.Infof("Watching node %q on network %q (id %s, version %s, rpc %s)",
		identity.Moniker, identity.Network, identity.NodeID, identity.Version, identity.RPCAddress)
}

func (m *Monitor) logPlanDetected(plan *chain.UpgradePlan, height int64) {
	network := ""
	if identity := m.currentIdentity(); identity != nil {
		network = identity.Network
	}
	m.logger.Infof("Upgrade plan %q detected on %q: target height %d, current height %d",
		plan.Name, network, plan.Height, height)
}

// Status returns a deep-copied snapshot for the HTTP surfaces.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	status := Status{
		WatcherID:   m.watcherID,
		Activity:    m.activity,
		Identity:    m.identity,
		Plan:        m.plan,
		LastHeight:  m.lastHeight,
		Cycles:      m.cycles,
		LastCycleAt: m.lastCycleAt,
		LastRun:     m.lastRun,
	}
	m.mu.RUnlock()

	status.Phase = m.machine.Current()

	var snapshot Status
	if err := deepcopy.Copy(&snapshot, &status); err != nil {
		m.logger.Errorf("Failed to deep copy status: %v", err)
		return status
	}
	return snapshot
}

// Reset clears all cached observations and re-arms the phase machine.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.identity = nil
	m.plan = nil
	m.lastHeight = 0
	m.lastRun = nil
	m.activity = ActivityPolling
	m.mu.Unlock()

	m.machine.SetState(fsm.PhaseStarting)
	metrics.SetPhase(fsm.PhaseStarting)
	metrics.SetUpgradePlanHeight(0)
	m.logger.Infof("Monitor state reset")
}

// Phase returns the current phase machine state.
func (m *Monitor) Phase() string {
	return m.machine.Current()
}

// Activity returns what the current cycle is doing. Cheap enough for the
// watchdog to poll every second.
func (m *Monitor) Activity() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activity
}

func (m *Monitor) currentIdentity() *chain.ChainIdentity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

func (m *Monitor) currentPlan() *chain.UpgradePlan {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.plan
}

func (m *Monitor) setIdentity(identity *chain.ChainIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = identity
}

func (m *Monitor) setPlan(plan *chain.UpgradePlan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plan = plan
}

func (m *Monitor) clearPlan() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plan = nil
}

func (m *Monitor) setLastHeight(height int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastHeight = height
}

func (m *Monitor) setActivity(activity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity = activity
}

func (m *Monitor) setLastRun(summary RunSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRun = &summary
}

func (m *Monitor) finishCycle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
	m.lastCycleAt = time.Now()
}
