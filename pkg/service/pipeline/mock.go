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

package pipeline

import (
	"context"
)

// MockPipelineService is a mock implementation of the IPipelineService interface.
type MockPipelineService struct {

	// Return values for each method
	TriggerResult        *PipelineRun
	TriggerError         error
	PollStatusResult     string
	TriggerAndWaitResult bool

	// TriggerAndWaitFunc, when set, replaces the canned TriggerAndWaitResult.
	// Used by tests that need to observe or block on the context.
	TriggerAndWaitFunc func(ctx context.Context) bool

	// Tracks calls to methods
	TriggerCalled        int
	PollStatusCalled     int
	TriggerAndWaitCalled int

	// LastPolledRunID records the run ID of the most recent PollStatus call.
	LastPolledRunID int64
}

var _ IPipelineService = (*MockPipelineService)(nil)

// NewMockPipelineService creates a mock whose runs succeed immediately.
func NewMockPipelineService() *MockPipelineService {
	return &MockPipelineService{
		TriggerResult:        CreateDefaultRun(),
		PollStatusResult:     StatusSuccess,
		TriggerAndWaitResult: true,
	}
}

// CreateDefaultRun returns a plausible pipeline run receipt for testing.
func CreateDefaultRun() *PipelineRun {
	return &PipelineRun{
		ID:        4711,
		ProjectID: 42,
		Ref:       "main",
		Status:    StatusCreated,
		WebURL:    "https://ci.example.com/upgrades/-/pipelines/4711",
		User:      PipelineUser{ID: 7, Username: "upgrade-bot", Name: "Upgrade Bot"},
	}
}

// Trigger is a mock implementation of IPipelineService.Trigger.
func (m *MockPipelineService) Trigger(ctx context.Context) (*PipelineRun, error) {
	m.TriggerCalled++

	if m.TriggerError != nil {
		return nil, m.TriggerError
	}

	return m.TriggerResult, nil
}

// PollStatus is a mock implementation of IPipelineService.PollStatus.
func (m *MockPipelineService) PollStatus(ctx context.Context, runID int64) string {
	m.PollStatusCalled++
	m.LastPolledRunID = runID

	return m.PollStatusResult
}

// TriggerAndWait is a mock implementation of IPipelineService.TriggerAndWait.
func (m *MockPipelineService) TriggerAndWait(ctx context.Context) bool {
	m.TriggerAndWaitCalled++

	if m.TriggerAndWaitFunc != nil {
		return m.TriggerAndWaitFunc(ctx)
	}

	return m.TriggerAndWaitResult
}

// SetupMockForFailedRun configures the mock so runs end in a terminal
// failure.
func (m *MockPipelineService) SetupMockForFailedRun() {
	m.PollStatusResult = StatusFailed
	m.TriggerAndWaitResult = false
}
