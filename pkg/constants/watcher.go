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

package constants

import "time"

const (
	// DefaultPollInterval is the normal delay between monitoring cycles while
	// the node is healthy and no upgrade is due.
	// - Too small: hammers the node's REST API for data that changes every few seconds
	// - Too high: delayed reaction when the chain reaches the upgrade height
	DefaultPollInterval = 30 * time.Second

	// LongPollDelay is the delay requested when the node cannot be reached
	// (identity fetch or liveness check failed). Shorter than the normal poll
	// interval so recovery is noticed quickly, but long enough not to hammer
	// a node that is down or restarting.
	LongPollDelay = 10 * time.Second

	// CycleRetryDelay is applied by the control loop when a cycle escapes with
	// an unexpected error or panic. A single bad cycle must never take the
	// process down.
	CycleRetryDelay = 5 * time.Second

	// PostUpgradeQuietPeriod is the pause after a pipeline run finished,
	// regardless of outcome. It gives the network time to stabilize after an
	// upgrade and throttles re-trigger attempts after a failed one.
	PostUpgradeQuietPeriod = 600 * time.Second

	// PipelineStatusPollInterval is the fixed delay between status fetches
	// while a triggered pipeline run is still in flight.
	PipelineStatusPollInterval = 10 * time.Second

	// MaxPhaseTransitionTime is the time a phase transition including its
	// enter-state callbacks is allowed to take. Transitions are refused when
	// less than this remains before the context deadline, so a transition is
	// never interrupted halfway.
	MaxPhaseTransitionTime = 100 * time.Millisecond
)

const (
	// WatchdogCheckInterval is how often the loop watchdog compares the last
	// loop activity mark against the allowance for the current activity.
	WatchdogCheckInterval = time.Second

	// WatchdogStallMargin is added on top of an activity's expected duration
	// before the watchdog considers the loop stalled.
	WatchdogStallMargin = 30 * time.Second

	// WatchdogPollFactor scales the poll interval into a stall allowance for
	// ordinary polling activity.
	WatchdogPollFactor = 3
)
