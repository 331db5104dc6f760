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

package monitor_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nodeward/nodeward/internal/fsm"
	"github.com/nodeward/nodeward/pkg/config"
	"github.com/nodeward/nodeward/pkg/monitor"
	"github.com/nodeward/nodeward/pkg/service/chain"
	"github.com/nodeward/nodeward/pkg/service/pipeline"
)

var _ = Describe("Monitor", func() {
	var (
		ctx       context.Context
		cfg       config.Config
		chainMock *chain.MockChainService
		pipeMock  *pipeline.MockPipelineService
		waits     []time.Duration
		m         *monitor.Monitor
	)

	// newMonitor builds a monitor whose quiet period records its duration
	// instead of sleeping. Later options override earlier ones.
	newMonitor := func(opts ...monitor.MonitorOption) *monitor.Monitor {
		base := []monitor.MonitorOption{
			monitor.WithWaitFunc(func(ctx context.Context, d time.Duration) error {
				waits = append(waits, d)
				return nil
			}),
		}
		return monitor.New(cfg, chainMock, pipeMock, append(base, opts...)...)
	}

	reconcileOK := func() time.Duration {
		delay, err := m.Reconcile(ctx)
		Expect(err).ToNot(HaveOccurred())
		return delay
	}

	BeforeEach(func() {
		ctx = context.Background()
		cfg = config.DefaultConfig()
		cfg.Node.APIURL = "http://node.example.com:1317"
		chainMock = chain.NewMockChainService()
		pipeMock = pipeline.NewMockPipelineService()
		waits = nil
		m = newMonitor()
	})

	Describe("resolving the node identity", func() {
		It("resolves the identity on the first cycle and caches it", func() {
			for i := 0; i < 3; i++ {
				Expect(reconcileOK()).To(Equal(cfg.Node.PollInterval))
			}

			Expect(chainMock.IdentityCalled).To(Equal(1))
			Expect(m.Phase()).To(Equal(fsm.PhaseWatching))
			Expect(m.Status().Identity.Moniker).To(Equal("validator-1"))
		})

		It("long-polls while the identity is not resolvable", func() {
			chainMock.IdentityError = errors.New("connection refused")

			Expect(reconcileOK()).To(Equal(cfg.Timing.LongPollDelay))
			Expect(m.Phase()).To(Equal(fsm.PhaseStarting))
			Expect(chainMock.HeightCalled).To(BeZero())
		})

		It("retries the identity every cycle until it resolves", func() {
			chainMock.IdentityError = errors.New("connection refused")
			reconcileOK()
			reconcileOK()
			Expect(chainMock.IdentityCalled).To(Equal(2))

			chainMock.IdentityError = nil
			Expect(reconcileOK()).To(Equal(cfg.Node.PollInterval))
			Expect(chainMock.IdentityCalled).To(Equal(3))
			Expect(m.Phase()).To(Equal(fsm.PhaseWatching))
		})
	})

	Describe("liveness", func() {
		It("marks the node down when the height read fails", func() {
			reconcileOK()
			Expect(m.Phase()).To(Equal(fsm.PhaseWatching))

			chainMock.HeightError = errors.New("timeout")
			Expect(reconcileOK()).To(Equal(cfg.Timing.LongPollDelay))
			Expect(m.Phase()).To(Equal(fsm.PhaseNodeDown))
		})

		It("returns to watching when the node answers again", func() {
			reconcileOK()
			chainMock.HeightError = errors.New("timeout")
			reconcileOK()
			Expect(m.Phase()).To(Equal(fsm.PhaseNodeDown))

			chainMock.HeightError = nil
			Expect(reconcileOK()).To(Equal(cfg.Node.PollInterval))
			Expect(m.Phase()).To(Equal(fsm.PhaseWatching))
		})

		It("does not read the upgrade plan while the node is down", func() {
			reconcileOK()
			Expect(chainMock.CurrentPlanCalled).To(Equal(1))

			chainMock.HeightError = errors.New("timeout")
			reconcileOK()
			reconcileOK()
			Expect(chainMock.CurrentPlanCalled).To(Equal(1))
		})
	})

	Describe("upgrade plan detection", func() {
		It("fetches a pending plan once and caches it", func() {
			chainMock.CurrentPlanResult = &chain.UpgradePlan{Name: "v18", Height: 1000}

			for i := 0; i < 3; i++ {
				Expect(reconcileOK()).To(Equal(cfg.Node.PollInterval))
			}

			Expect(chainMock.CurrentPlanCalled).To(Equal(1))
			Expect(m.Status().Plan.Name).To(Equal("v18"))
			Expect(pipeMock.TriggerAndWaitCalled).To(BeZero())
		})

		It("treats a failing plan endpoint as no plan this cycle", func() {
			chainMock.CurrentPlanError = errors.New("500 internal server error")

			Expect(reconcileOK()).To(Equal(cfg.Node.PollInterval))
			Expect(m.Phase()).To(Equal(fsm.PhaseWatching))
			Expect(m.Status().Plan).To(BeNil())
		})

		It("stays in watching while the planned height is ahead", func() {
			chainMock.CurrentPlanResult = &chain.UpgradePlan{Name: "v18", Height: 101}
			chainMock.HeightResult = 100

			reconcileOK()
			Expect(m.Phase()).To(Equal(fsm.PhaseWatching))
			Expect(pipeMock.TriggerAndWaitCalled).To(BeZero())
		})
	})

	Describe("running the upgrade", func() {
		It("triggers the pipeline when the planned height is reached", func() {
			chainMock.SetupMockForUpgradeDue("v18", 500)

			Expect(reconcileOK()).To(Equal(cfg.Node.PollInterval))

			Expect(pipeMock.TriggerAndWaitCalled).To(Equal(1))
			Expect(m.Phase()).To(Equal(fsm.PhaseWatching))
			Expect(m.Status().Plan).To(BeNil(), "a successful run must clear the cached plan")
			Expect(waits).To(Equal([]time.Duration{cfg.Timing.QuietPeriod}))

			lastRun := m.Status().LastRun
			Expect(lastRun).ToNot(BeNil())
			Expect(lastRun.PlanName).To(Equal("v18"))
			Expect(lastRun.PlanHeight).To(Equal(int64(500)))
			Expect(lastRun.Succeeded).To(BeTrue())
			Expect(lastRun.FinishedAt.IsZero()).To(BeFalse())
		})

		It("does not re-trigger once the node clears the applied plan", func() {
			chainMock.SetupMockForUpgradeDue("v18", 500)
			reconcileOK()
			Expect(pipeMock.TriggerAndWaitCalled).To(Equal(1))

			chainMock.CurrentPlanResult = nil
			reconcileOK()
			Expect(pipeMock.TriggerAndWaitCalled).To(Equal(1))
		})

		It("refreshes the identity after a successful run", func() {
			chainMock.SetupMockForUpgradeDue("v18", 500)

			pipeMock.TriggerAndWaitFunc = func(ctx context.Context) bool {
				upgraded := chain.CreateDefaultIdentity()
				upgraded.Version = "0.39.0"
				chainMock.IdentityResult = upgraded
				return true
			}

			reconcileOK()

			Expect(chainMock.IdentityCalled).To(Equal(2))
			Expect(m.Status().Identity.Version).To(Equal("0.39.0"))
		})

		It("keeps the plan and retries when the run fails", func() {
			chainMock.SetupMockForUpgradeDue("v18", 500)
			pipeMock.SetupMockForFailedRun()

			reconcileOK()
			Expect(pipeMock.TriggerAndWaitCalled).To(Equal(1))
			Expect(m.Status().Plan).ToNot(BeNil(), "a failed run must keep the plan for a re-attempt")
			Expect(m.Phase()).To(Equal(fsm.PhaseWatching))
			Expect(waits).To(HaveLen(1), "the quiet period applies to failed runs too")
			Expect(m.Status().LastRun.Succeeded).To(BeFalse())

			reconcileOK()
			Expect(pipeMock.TriggerAndWaitCalled).To(Equal(2))
			Expect(chainMock.CurrentPlanCalled).To(Equal(1), "a cached plan must not be re-fetched")
		})

		It("stores a nil identity when the post-upgrade refresh fails", func() {
			chainMock.SetupMockForUpgradeDue("v18", 500)
			pipeMock.TriggerAndWaitFunc = func(ctx context.Context) bool {
				chainMock.IdentityError = errors.New("node restarting")
				return true
			}

			reconcileOK()
			Expect(m.Status().Identity).To(BeNil())

			chainMock.IdentityError = nil
			chainMock.CurrentPlanResult = nil
			reconcileOK()
			Expect(chainMock.IdentityCalled).To(Equal(3))
			Expect(m.Status().Identity).ToNot(BeNil())
			Expect(m.Phase()).To(Equal(fsm.PhaseWatching))
		})

		It("returns the context error when shutdown interrupts the quiet period", func() {
			chainMock.SetupMockForUpgradeDue("v18", 500)
			m = newMonitor(monitor.WithWaitFunc(func(ctx context.Context, d time.Duration) error {
				return context.Canceled
			}))

			delay, err := m.Reconcile(ctx)
			Expect(err).To(MatchError(context.Canceled))
			Expect(delay).To(BeZero())
		})
	})

	Describe("cancellation", func() {
		It("refuses to run a cycle on a cancelled context", func() {
			cancelled, cancel := context.WithCancel(context.Background())
			cancel()

			delay, err := m.Reconcile(cancelled)
			Expect(err).To(MatchError(context.Canceled))
			Expect(delay).To(BeZero())
			Expect(chainMock.IdentityCalled).To(BeZero())
		})
	})

	Describe("status snapshots", func() {
		It("returns copies that do not alias monitor state", func() {
			chainMock.CurrentPlanResult = &chain.UpgradePlan{Name: "v18", Height: 1000}
			reconcileOK()

			tampered := m.Status()
			tampered.Identity.Moniker = "tampered"
			tampered.Plan.Height = 1

			fresh := m.Status()
			Expect(fresh.Identity.Moniker).To(Equal("validator-1"))
			Expect(fresh.Plan.Height).To(Equal(int64(1000)))
		})

		It("reports cycle counters and the current activity", func() {
			reconcileOK()
			reconcileOK()

			status := m.Status()
			Expect(status.WatcherID).ToNot(BeEmpty())
			Expect(status.Phase).To(Equal(fsm.PhaseWatching))
			Expect(status.Activity).To(Equal(monitor.ActivityPolling))
			Expect(status.Cycles).To(Equal(uint64(2)))
			Expect(status.LastHeight).To(Equal(int64(100)))
			Expect(status.LastCycleAt.IsZero()).To(BeFalse())
		})

		It("reports the pipeline activity while a run is in flight", func() {
			chainMock.SetupMockForUpgradeDue("v18", 500)

			var observed string
			pipeMock.TriggerAndWaitFunc = func(ctx context.Context) bool {
				observed = m.Status().Activity
				return true
			}

			reconcileOK()
			Expect(observed).To(Equal(monitor.ActivityPipelineRunning))
			Expect(m.Status().Activity).To(Equal(monitor.ActivityPolling))
		})

		It("reports the quiet period activity while settling", func() {
			chainMock.SetupMockForUpgradeDue("v18", 500)

			var observed string
			m = newMonitor(monitor.WithWaitFunc(func(ctx context.Context, d time.Duration) error {
				observed = m.Status().Activity
				return nil
			}))

			delay, err := m.Reconcile(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(delay).To(Equal(cfg.Node.PollInterval))
			Expect(observed).To(Equal(monitor.ActivityQuietPeriod))
		})
	})

	Describe("Reset", func() {
		It("clears cached state and re-arms the starting phase", func() {
			chainMock.CurrentPlanResult = &chain.UpgradePlan{Name: "v18", Height: 1000}
			reconcileOK()
			Expect(m.Status().Plan).ToNot(BeNil())

			m.Reset()

			status := m.Status()
			Expect(status.Phase).To(Equal(fsm.PhaseStarting))
			Expect(status.Identity).To(BeNil())
			Expect(status.Plan).To(BeNil())
			Expect(status.LastHeight).To(BeZero())

			reconcileOK()
			Expect(chainMock.IdentityCalled).To(Equal(2))
			Expect(m.Phase()).To(Equal(fsm.PhaseWatching))
		})
	})
})
