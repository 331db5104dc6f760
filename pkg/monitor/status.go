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

package monitor

import (
	"time"

	"github.com/nodeward/nodeward/pkg/service/chain"
)

// Activity values name what the watch loop is currently occupied with. The
// watchdog derives its stall allowance from them.
const (
	// ActivityPolling covers ordinary cycles: a handful of HTTP reads.
	ActivityPolling = "polling"
	// ActivityPipelineRunning covers the TriggerAndWait round trip, which
	// legitimately blocks for the pipeline's real-world duration.
	ActivityPipelineRunning = "pipeline_running"
	// ActivityQuietPeriod covers the post-upgrade settle wait.
	ActivityQuietPeriod = "quiet_period"
)

// RunSummary recalls the most recent pipeline trigger round trip.
type RunSummary struct {
	// PlanName is the upgrade plan the run was triggered for
	PlanName string `json:"plan_name"`
	// PlanHeight is the upgrade height the run was triggered at
	PlanHeight int64 `json:"plan_height"`
	// TriggeredAt is when the trigger request was sent
	TriggeredAt time.Time `json:"triggered_at"`
	// FinishedAt is when the run reached a terminal status, zero while in flight
	FinishedAt time.Time `json:"finished_at"`
	// Succeeded is true when the terminal status was "success"
	Succeeded bool `json:"succeeded"`
}

// Status is a point-in-time snapshot of the monitor, safe to hand to HTTP
// handlers: Status() returns a deep copy that never aliases monitor-owned
// memory.
type Status struct {
	// WatcherID identifies this watcher process instance
	WatcherID string `json:"watcher_id"`
	// Phase is the current phase machine state
	Phase string `json:"phase"`
	// Activity is what the watch loop is currently occupied with
	Activity string `json:"activity"`
	// Identity is the cached node identity, nil while unresolved
	Identity *chain.ChainIdentity `json:"identity,omitempty"`
	// Plan is the cached upgrade plan, nil while none is scheduled
	Plan *chain.UpgradePlan `json:"plan,omitempty"`
	// LastHeight is the most recent block height a liveness check returned
	LastHeight int64 `json:"last_height"`
	// Cycles counts completed Reconcile calls
	Cycles uint64 `json:"cycles"`
	// LastCycleAt is when the most recent cycle finished
	LastCycleAt time.Time `json:"last_cycle_at"`
	// LastRun summarizes the most recent pipeline trigger, nil before the first
	LastRun *RunSummary `json:"last_run,omitempty"`
}
