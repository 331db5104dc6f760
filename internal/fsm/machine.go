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

// Package fsm wraps looplab/fsm into the small state machine that tracks
// the watcher phase.
package fsm

import (
	"context"
	"fmt"
	"sync"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/nodeward/nodeward/pkg/constants"
	"github.com/nodeward/nodeward/pkg/ctxutil"
)

// Machine is a finite state machine with per-state enter callbacks. All
// state changes go through Event (or SetState in tests), so every phase
// change runs its callbacks exactly once.
type Machine struct {
	// mu protects Current/Is/SetState against concurrent Status readers.
	mu sync.RWMutex

	fsm *fsm.FSM

	// Registered "enter_<state>" callbacks, for logging and metrics.
	// Callbacks run inside the transition; they must not call back into
	// the Machine.
	callbacks map[string]fsm.Callback

	logger *zap.SugaredLogger
}

// NewMachine builds a machine in the given initial state with the given
// transition table.
func NewMachine(initial string, transitions []fsm.EventDesc, logger *zap.SugaredLogger) *Machine {
	m := &Machine{
		callbacks: make(map[string]fsm.Callback),
		logger:    logger,
	}

	m.fsm = fsm.NewFSM(
		initial,
		fsm.Events(transitions),
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				if m.logger != nil {
					m.logger.Debugf("Phase transition %s: %s -> %s", e.Event, e.Src, e.Dst)
				}
				if cb, ok := m.callbacks["enter_"+e.Dst]; ok {
					cb(ctx, e)
				}
			},
		},
	)

	return m
}

// AddCallback registers a callback for an event name such as
// "enter_watching". Register callbacks before driving the machine;
// registration is not synchronized against Event.
func (m *Machine) AddCallback(eventName string, callback fsm.Callback) {
	m.callbacks[eventName] = callback
}

// Current returns the current state.
func (m *Machine) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// Is reports whether the machine is in the given state.
func (m *Machine) Is(state string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Is(state)
}

// SetState forces the machine into a state without firing callbacks.
// Only Reset paths and tests should use it; normal phase changes go
// through Event.
func (m *Machine) SetState(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fsm.SetState(state)
}

// Event fires a transition. An already cancelled context is rejected, as
// is a context with less than MaxPhaseTransitionTime remaining before its
// deadline: a transition interrupted halfway leaves looplab/fsm refusing
// every later event.
func (m *Machine) Event(ctx context.Context, event string, args ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, sufficient, err := ctxutil.HasSufficientTime(ctx, constants.MaxPhaseTransitionTime); err == nil && !sufficient {
		return fmt.Errorf("refusing transition %q: %w", event, ctxutil.ErrInsufficientTime)
	}

	return m.fsm.Event(ctx, event, args...)
}
