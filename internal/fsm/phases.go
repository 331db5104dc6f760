package fsm

import (
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

const (
	// EventIdentityResolved is triggered when the node identity is fetched for the first time
	EventIdentityResolved = "identity_resolved"
	// EventNodeLost is triggered when a known node stops answering
	EventNodeLost = "node_lost"
	// EventNodeRecovered is triggered when a lost node answers again
	EventNodeRecovered = "node_recovered"
	// EventUpgradeDue is triggered when the chain height reaches the planned upgrade height
	EventUpgradeDue = "upgrade_due"
	// EventPipelineSucceeded is triggered when the upgrade pipeline run ends in success
	EventPipelineSucceeded = "pipeline_succeeded"
	// EventPipelineFailed is triggered when the upgrade pipeline run ends in any other terminal status
	EventPipelineFailed = "pipeline_failed"
	// EventSettled is triggered when the post-upgrade quiet period has elapsed
	EventSettled = "settled"
)

// Phase constants represent the states of the watch loop
const (
	// PhaseStarting indicates the node identity has not been resolved yet
	PhaseStarting = "starting"
	// PhaseWatching indicates the node is answering and heights are compared against the plan
	PhaseWatching = "watching"
	// PhaseNodeDown indicates a previously seen node has stopped answering
	PhaseNodeDown = "node_down"
	// PhaseTriggering indicates an upgrade pipeline run is in flight
	PhaseTriggering = "triggering"
	// PhaseSettling indicates the post-upgrade quiet period is running
	PhaseSettling = "settling"
)

// IsPhase reports whether state names a known watcher phase.
func IsPhase(state string) bool {
	switch state {
	case PhaseStarting,
		PhaseWatching,
		PhaseNodeDown,
		PhaseTriggering,
		PhaseSettling:
		return true
	default:
		return false
	}
}

// PhaseTransitions is the transition table of the watch loop. Both pipeline
// outcomes settle; the outcome is carried by the event name, not the state.
func PhaseTransitions() []fsm.EventDesc {
	return []fsm.EventDesc{
		{Name: EventIdentityResolved, Src: []string{PhaseStarting}, Dst: PhaseWatching},
		{Name: EventNodeLost, Src: []string{PhaseWatching}, Dst: PhaseNodeDown},
		{Name: EventNodeRecovered, Src: []string{PhaseNodeDown}, Dst: PhaseWatching},
		{Name: EventUpgradeDue, Src: []string{PhaseWatching}, Dst: PhaseTriggering},
		{Name: EventPipelineSucceeded, Src: []string{PhaseTriggering}, Dst: PhaseSettling},
		{Name: EventPipelineFailed, Src: []string{PhaseTriggering}, Dst: PhaseSettling},
		{Name: EventSettled, Src: []string{PhaseSettling}, Dst: PhaseWatching},
	}
}

// NewPhaseMachine builds a Machine seeded with the watch loop transition
// table, starting in PhaseStarting.
func NewPhaseMachine(logger *zap.SugaredLogger) *Machine {
	return NewMachine(PhaseStarting, PhaseTransitions(), logger)
}
