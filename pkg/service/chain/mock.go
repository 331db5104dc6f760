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

package chain

import (
	"context"
)

// MockChainService is a mock implementation of the IChainService interface.
type MockChainService struct {

	// Return values for each method
	IdentityResult    *ChainIdentity
	IdentityError     error
	HeightResult      int64
	HeightError       error
	CurrentPlanResult *UpgradePlan
	CurrentPlanError  error

	// HeightResults, when non-empty, is consumed one element per Height
	// call before falling back to HeightResult.
	HeightResults []int64

	// Tracks calls to methods
	IdentityCalled    int
	HeightCalled      int
	CurrentPlanCalled int
}

var _ IChainService = (*MockChainService)(nil)

// NewMockChainService creates a mock reporting a healthy testnet node.
func NewMockChainService() *MockChainService {
	return &MockChainService{
		IdentityResult: CreateDefaultIdentity(),
		HeightResult:   100,
	}
}

// CreateDefaultIdentity returns a plausible node identity for testing.
func CreateDefaultIdentity() *ChainIdentity {
	return &ChainIdentity{
		NodeID:     "0f1e2d3c4b5a69788796a5b4c3d2e1f00f1e2d3c",
		ListenAddr: "tcp://0.0.0.0:26656",
		Network:    "testchain-1",
		Version:    "0.38.0",
		Moniker:    "validator-1",
		RPCAddress: "tcp://0.0.0.0:26657",
	}
}

// Identity is a mock implementation of IChainService.Identity.
func (m *MockChainService) Identity(ctx context.Context) (*ChainIdentity, error) {
	m.IdentityCalled++

	if m.IdentityError != nil {
		return nil, m.IdentityError
	}

	return m.IdentityResult, nil
}

// Height is a mock implementation of IChainService.Height.
func (m *MockChainService) Height(ctx context.Context) (int64, error) {
	m.HeightCalled++

	if m.HeightError != nil {
		return 0, m.HeightError
	}

	if len(m.HeightResults) > 0 {
		height := m.HeightResults[0]
		m.HeightResults = m.HeightResults[1:]
		return height, nil
	}

	return m.HeightResult, nil
}

// CurrentPlan is a mock implementation of IChainService.CurrentPlan.
func (m *MockChainService) CurrentPlan(ctx context.Context) (*UpgradePlan, error) {
	m.CurrentPlanCalled++

	if m.CurrentPlanError != nil {
		return nil, m.CurrentPlanError
	}

	return m.CurrentPlanResult, nil
}

// SetupMockForUpgradeDue configures the mock so the planned height is
// already reached.
func (m *MockChainService) SetupMockForUpgradeDue(planName string, height int64) {
	m.CurrentPlanResult = &UpgradePlan{Name: planName, Height: height}
	m.HeightResult = height
	m.HeightResults = nil
}

// SetupMockForNodeDown configures the mock so every read fails.
func (m *MockChainService) SetupMockForNodeDown(err error) {
	m.IdentityError = err
	m.HeightError = err
	m.CurrentPlanError = err
}
