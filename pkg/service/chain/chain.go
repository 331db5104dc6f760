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

// Package chain reads the observable state of a Cosmos-SDK chain node
// through its LCD REST API.
package chain

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nodeward/nodeward/pkg/constants"
	"github.com/nodeward/nodeward/pkg/logger"
	"github.com/nodeward/nodeward/pkg/safejson"
	"github.com/nodeward/nodeward/pkg/service/httpclient"
)

const (
	nodeInfoPath    = "/cosmos/base/tendermint/v1beta1/node_info"
	latestBlockPath = "/cosmos/base/tendermint/v1beta1/blocks/latest"
	currentPlanPath = "/cosmos/upgrade/v1beta1/current_plan"
)

// ChainIdentity describes the node under watch, as reported by the node
// itself.
type ChainIdentity struct {
	// NodeID is the node's p2p identity
	NodeID string `json:"node_id"`
	// ListenAddr is the node's p2p listen address
	ListenAddr string `json:"listen_addr"`
	// Network is the chain ID the node follows, e.g. "cosmoshub-4"
	Network string `json:"network"`
	// Version is the consensus engine version
	Version string `json:"version"`
	// Moniker is the operator-chosen node name
	Moniker string `json:"moniker"`
	// RPCAddress is the node's RPC listen address
	RPCAddress string `json:"rpc_address"`
}

// UpgradePlan is a scheduled on-chain upgrade.
type UpgradePlan struct {
	// Name identifies the upgrade, e.g. "v18"
	Name string `json:"name"`
	// Height is the block height the chain halts at for the upgrade
	Height int64 `json:"height"`
}

// IChainService reads the chain node. The three reads are independent;
// callers treat every error as "currently unknown" rather than fatal.
type IChainService interface {
	// Identity fetches the node's self-reported identity.
	Identity(ctx context.Context) (*ChainIdentity, error)
	// Height fetches the latest committed block height.
	Height(ctx context.Context) (int64, error)
	// CurrentPlan fetches the scheduled upgrade plan. It returns (nil, nil)
	// when no upgrade is scheduled.
	CurrentPlan(ctx context.Context) (*UpgradePlan, error)
}

// ChainService is the default implementation of IChainService.
type ChainService struct {
	logger     *zap.SugaredLogger
	httpClient httpclient.HTTPClient
	baseURL    string
}

// ChainServiceOption is a function that modifies a ChainService.
type ChainServiceOption func(*ChainService)

// WithHTTPClient sets a custom HTTP client for the ChainService.
func WithHTTPClient(client httpclient.HTTPClient) ChainServiceOption {
	return func(s *ChainService) {
		s.httpClient = client
	}
}

// NewChainService creates a ChainService for the LCD API at baseURL.
func NewChainService(baseURL string, opts ...ChainServiceOption) *ChainService {
	service := &ChainService{
		logger:     logger.For(logger.ComponentChainService),
		httpClient: httpclient.NewDefaultHTTPClient(),
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// nodeInfoResponse mirrors the LCD node_info document. Only the nested
// default_node_info object is of interest.
type nodeInfoResponse struct {
	DefaultNodeInfo struct {
		DefaultNodeInfoID string `json:"default_node_info_id"`
		ListenAddr        string `json:"listen_addr"`
		Network           string `json:"network"`
		Version           string `json:"version"`
		Moniker           string `json:"moniker"`
		Other             struct {
			RPCAddress string `json:"rpc_address"`
		} `json:"other"`
	} `json:"default_node_info"`
}

// latestBlockResponse mirrors the LCD blocks/latest document. The height is
// string-encoded on the wire.
type latestBlockResponse struct {
	Block struct {
		Header struct {
			Height string `json:"height"`
		} `json:"header"`
	} `json:"block"`
}

// currentPlanResponse mirrors the LCD current_plan document. The plan is
// null when no upgrade is scheduled.
type currentPlanResponse struct {
	Plan *struct {
		Name   string `json:"name"`
		Height string `json:"height"`
	} `json:"plan"`
}

// Identity fetches the node identity and requires moniker and network to be
// present; everything else may be empty.
func (s *ChainService) Identity(ctx context.Context) (*ChainIdentity, error) {
	var response nodeInfoResponse
	if err := s.getJSON(ctx, nodeInfoPath, &response); err != nil {
		return nil, err
	}

	info := response.DefaultNodeInfo
	if info.Moniker == "" || info.Network == "" {
		return nil, fmt.Errorf("node identity incomplete: moniker=%q network=%q", info.Moniker, info.Network)
	}

	return &ChainIdentity{
		NodeID:     info.DefaultNodeInfoID,
		ListenAddr: info.ListenAddr,
		Network:    info.Network,
		Version:    info.Version,
		Moniker:    info.Moniker,
		RPCAddress: info.Other.RPCAddress,
	}, nil
}

// Height fetches the latest committed block height.
func (s *ChainService) Height(ctx context.Context) (int64, error) {
	var response latestBlockResponse
	if err := s.getJSON(ctx, latestBlockPath, &response); err != nil {
		return 0, err
	}

	raw := response.Block.Header.Height
	if raw == "" {
		return 0, fmt.Errorf("latest block response carries no height")
	}
	height, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("block height %q is not numeric: %w", raw, err)
	}

	return height, nil
}

// CurrentPlan fetches the scheduled upgrade plan. A null plan is the normal
// "no upgrade scheduled" answer and returns (nil, nil).
func (s *ChainService) CurrentPlan(ctx context.Context) (*UpgradePlan, error) {
	var response currentPlanResponse
	if err := s.getJSON(ctx, currentPlanPath, &response); err != nil {
		return nil, err
	}

	if response.Plan == nil {
		return nil, nil
	}

	height, err := strconv.ParseInt(response.Plan.Height, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("upgrade plan height %q is not numeric: %w", response.Plan.Height, err)
	}

	return &UpgradePlan{
		Name:   response.Plan.Name,
		Height: height,
	}, nil
}

// getJSON fetches baseURL+path and decodes the 200 response into out.
// Each request gets its own deadline; the surrounding cycle context may
// live much longer than any single fetch should.
func (s *ChainService) getJSON(ctx context.Context, path string, out interface{}) error {
	url := s.baseURL + path

	reqCtx, cancel := context.WithTimeout(ctx, constants.DefaultHTTPTimeout)
	defer cancel()

	resp, body, err := s.httpClient.GetWithBody(reqCtx, url)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, url, string(body))
	}

	if err := safejson.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}

	return nil
}
