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

package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/nodeward/nodeward/pkg/logger"
)

const (
	// Component Labels.
	ComponentControlLoop     = "control_loop"
	ComponentMonitor         = "monitor"
	ComponentChainService    = "chain_service"
	ComponentPipelineService = "pipeline_service"
	ComponentHealthCheck     = "healthcheck"
	ComponentWatchdog        = "watchdog"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "nodeward"
	subsystem = "watcher"

	// Error counters.
	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component"},
	)

	// Cycle timing.
	cycleTime = promauto.NewSummary(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cycle_duration_milliseconds",
			Help:      "Time taken for one monitoring cycle (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01, // 50th percentile with 1% error
				0.9:  0.01, // 90th percentile with 1% error
				0.95: 0.01, // 95th percentile with 1% error
				0.99: 0.01, // 99th percentile with 1% error
			},
		},
	)

	cyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cycles_total",
			Help:      "Total number of completed monitoring cycles",
		},
	)

	// Stall timer.
	stallSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "loop_stalled_total_seconds",
			Help:      "Total seconds the control loop was stalled beyond its allowance",
		},
	)

	// Chain observations.
	chainHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "chain_height",
			Help:      "Last block height observed on the watched node",
		},
	)

	upgradePlanHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "upgrade_plan_height",
			Help:      "Height of the cached upgrade plan (0 = no plan)",
		},
	)

	nodeUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "node_up",
			Help:      "Whether the last liveness check against the node succeeded (1 = up)",
		},
	)

	// Phase of the monitor state machine.
	watcherPhase = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "phase",
			Help:      "Current monitor phase (1=Starting, 2=Watching, 3=NodeDown, 4=Triggering, 5=Settling, -1=Unknown)",
		},
	)

	// Pipeline interactions.
	pipelineTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pipeline_triggers_total",
			Help:      "Total pipeline trigger round trips by outcome",
		},
		[]string{"outcome"},
	)

	pipelineStatusPolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pipeline_status_polls_total",
			Help:      "Total status fetches against in-flight pipeline runs",
		},
	)
)

// printDetailedStackTrace prints a detailed stack trace with more information.
func printDetailedStackTrace() {
	// Get stack trace for all goroutines with a large buffer
	buf := make([]byte, 1024*1024) // Allocate 1MB buffer
	n := runtime.Stack(buf, true)

	// Print the full stack trace
	logger.For("stacktrace").Debugf("=== DETAILED STACK TRACE ===\n%s", string(buf[:n]))
}

// IncErrorCountAndLog increments the error counter for a component and logs a debug message if a logger is provided.
func IncErrorCountAndLog(component string, err error, logger *zap.SugaredLogger) {
	IncErrorCount(component)

	if logger != nil {
		// Display detailed stacktrace
		printDetailedStackTrace()
		logger.Debugf("Component %s cycle failed: %v", component, err)
	}
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component string) {
	errorCounter.WithLabelValues(component).Inc()
}

// InitErrorCounter initializes the error counter for a component.
func InitErrorCounter(component string) {
	errorCounter.WithLabelValues(component).Add(0)
}

// ObserveCycleTime records the time taken for one monitoring cycle.
func ObserveCycleTime(duration time.Duration) {
	cycleTime.Observe(float64(duration.Milliseconds()))
	cyclesTotal.Inc()
}

// AddStallTime increases the stall counter by the specified seconds.
func AddStallTime(seconds float64) {
	stallSeconds.Add(seconds)
}

// SetChainHeight records the last observed block height.
func SetChainHeight(height int64) {
	chainHeight.Set(float64(height))
}

// SetUpgradePlanHeight records the cached plan height, 0 when no plan is cached.
func SetUpgradePlanHeight(height int64) {
	upgradePlanHeight.Set(float64(height))
}

// SetNodeUp records the outcome of the last liveness check.
func SetNodeUp(up bool) {
	if up {
		nodeUp.Set(1)
	} else {
		nodeUp.Set(0)
	}
}

// SetPhase updates the phase gauge from the monitor's phase string.
func SetPhase(phase string) {
	watcherPhase.Set(getPhaseValue(phase))
}

// getPhaseValue converts a phase string to a numeric value for the metric.
func getPhaseValue(phase string) float64 {
	switch phase {
	case "starting":
		return 1
	case "watching":
		return 2
	case "node_down":
		return 3
	case "triggering":
		return 4
	case "settling":
		return 5
	default:
		return -1 // Unknown phase
	}
}

// IncPipelineTrigger records one completed trigger round trip.
func IncPipelineTrigger(outcome string) {
	pipelineTriggers.WithLabelValues(outcome).Inc()
}

// IncPipelineStatusPoll records one status fetch against a running pipeline.
func IncPipelineStatusPoll() {
	pipelineStatusPolls.Inc()
}
