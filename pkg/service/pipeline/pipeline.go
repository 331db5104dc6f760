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

// Package pipeline triggers the upgrade CI pipeline and follows a run to
// its terminal status.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nodeward/nodeward/pkg/config"
	"github.com/nodeward/nodeward/pkg/constants"
	"github.com/nodeward/nodeward/pkg/ctxutil"
	"github.com/nodeward/nodeward/pkg/logger"
	"github.com/nodeward/nodeward/pkg/metrics"
	"github.com/nodeward/nodeward/pkg/safejson"
	"github.com/nodeward/nodeward/pkg/sentry"
	"github.com/nodeward/nodeward/pkg/service/httpclient"
)

// Terminal pipeline run statuses.
const (
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
	StatusSkipped  = "skipped"
)

// Non-terminal pipeline run statuses. Anything else is treated as
// non-terminal too, so a new status on the CI side never fails a run early.
const (
	StatusCreated = "created"
	StatusPending = "pending"
	StatusRunning = "running"
	StatusManual  = "manual"
)

// PipelineRun is the receipt returned by a successful trigger.
type PipelineRun struct {
	// ID is the run ID, used for status polling
	ID int64 `json:"id"`
	// ProjectID is the CI project the run belongs to
	ProjectID int64 `json:"project_id"`
	// Ref is the branch or tag the run executes against
	Ref string `json:"ref"`
	// Status is the run status at trigger time, usually "created"
	Status string `json:"status"`
	// WebURL points a human at the run
	WebURL string `json:"web_url"`
	// User is the account the run is attributed to
	User PipelineUser `json:"user"`
}

// PipelineUser is the account a pipeline run is attributed to.
type PipelineUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// IPipelineService drives the upgrade pipeline.
type IPipelineService interface {
	// Trigger starts one pipeline run.
	Trigger(ctx context.Context) (*PipelineRun, error)
	// PollStatus follows a run until it reaches a terminal status and
	// returns that status. Transport failures and cancellation report
	// "failed".
	PollStatus(ctx context.Context, runID int64) string
	// TriggerAndWait runs the full round trip; true only when the run
	// ended in success.
	TriggerAndWait(ctx context.Context) bool
}

// PipelineService is the default implementation of IPipelineService.
type PipelineService struct {
	logger             *zap.SugaredLogger
	httpClient         httpclient.HTTPClient
	cfg                config.PipelineConfig
	baseURL            string
	statusPollInterval time.Duration
}

// PipelineServiceOption is a function that modifies a PipelineService.
type PipelineServiceOption func(*PipelineService)

// WithHTTPClient sets a custom HTTP client for the PipelineService.
func WithHTTPClient(client httpclient.HTTPClient) PipelineServiceOption {
	return func(s *PipelineService) {
		s.httpClient = client
	}
}

// WithStatusPollInterval overrides the fixed delay between status fetches.
func WithStatusPollInterval(interval time.Duration) PipelineServiceOption {
	return func(s *PipelineService) {
		s.statusPollInterval = interval
	}
}

// NewPipelineService creates a PipelineService for the CI server in cfg.
func NewPipelineService(cfg config.PipelineConfig, opts ...PipelineServiceOption) *PipelineService {
	service := &PipelineService{
		logger:             logger.For(logger.ComponentPipelineService),
		httpClient:         httpclient.NewDefaultHTTPClient(),
		cfg:                cfg,
		baseURL:            strings.TrimRight(cfg.APIURL, "/"),
		statusPollInterval: constants.PipelineStatusPollInterval,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// statusResponse is the slice of the run document status polling needs.
type statusResponse struct {
	Status string `json:"status"`
}

// Trigger POSTs the trigger endpoint with the configured token, ref and
// variables. Every variable name is wrapped in the variables[NAME] form
// field convention the CI server expects.
func (s *PipelineService) Trigger(ctx context.Context) (*PipelineRun, error) {
	form := url.Values{}
	form.Set("token", s.cfg.TriggerToken)
	form.Set("ref", s.cfg.Ref)
	for key, value := range s.cfg.Variables {
		form.Set(fmt.Sprintf("variables[%s]", key), value)
	}

	endpoint := fmt.Sprintf("%s/api/v4/projects/%s/trigger/pipeline", s.baseURL, url.PathEscape(s.cfg.ProjectID))

	reqCtx, cancel := context.WithTimeout(ctx, constants.DefaultHTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to trigger pipeline: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, s.logger, "failed to close trigger response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read trigger response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Errorf("Pipeline trigger rejected with status %d: %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("pipeline trigger returned status %d", resp.StatusCode)
	}

	var run PipelineRun
	if err := safejson.Unmarshal(body, &run); err != nil {
		return nil, fmt.Errorf("failed to decode trigger response: %w", err)
	}
	if run.ID == 0 {
		return nil, fmt.Errorf("trigger response carries no run ID")
	}

	s.logger.Infof("Triggered pipeline run %d on ref %s (status %s): %s", run.ID, run.Ref, run.Status, run.WebURL)

	return &run, nil
}

// PollStatus fetches the run status every statusPollInterval until a
// terminal status shows up. There is no attempt limit: a pipeline that
// legitimately runs for hours is followed for hours. Unknown statuses are
// logged and treated as non-terminal. Transport failures and cancellation
// end polling with "failed".
func (s *PipelineService) PollStatus(ctx context.Context, runID int64) string {
	endpoint := fmt.Sprintf("%s/api/v4/projects/%s/pipelines/%d", s.baseURL, url.PathEscape(s.cfg.ProjectID), runID)

	for {
		status, err := s.fetchStatus(ctx, endpoint)
		if err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, s.logger, "giving up on pipeline run %d: %v", runID, err)
			return StatusFailed
		}

		if isTerminalStatus(status) {
			s.logger.Infof("Pipeline run %d reached terminal status %q", runID, status)
			return status
		}

		if !isKnownStatus(status) {
			s.logger.Warnf("Pipeline run %d reports unknown status %q, treating it as still running", runID, status)
		} else {
			s.logger.Debugf("Pipeline run %d still %s", runID, status)
		}

		if err := ctxutil.SleepContext(ctx, s.statusPollInterval); err != nil {
			s.logger.Warnf("Cancelled while waiting on pipeline run %d: %v", runID, err)
			return StatusFailed
		}
	}
}

// TriggerAndWait triggers a run and follows it to its terminal status.
func (s *PipelineService) TriggerAndWait(ctx context.Context) bool {
	run, err := s.Trigger(ctx)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, s.logger, "failed to trigger upgrade pipeline: %v", err)
		metrics.IncPipelineTrigger("trigger_error")
		return false
	}

	status := s.PollStatus(ctx, run.ID)
	metrics.IncPipelineTrigger(status)

	return status == StatusSuccess
}

// fetchStatus performs one authenticated status fetch.
func (s *PipelineService) fetchStatus(ctx context.Context, endpoint string) (string, error) {
	metrics.IncPipelineStatusPoll()

	reqCtx, cancel := context.WithTimeout(ctx, constants.DefaultHTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", s.cfg.AccessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch pipeline status: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, s.logger, "failed to close status response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pipeline status returned status %d: %s", resp.StatusCode, string(body))
	}

	var response statusResponse
	if err := safejson.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to decode status response: %w", err)
	}

	return response.Status, nil
}

func isTerminalStatus(status string) bool {
	switch status {
	case StatusSuccess, StatusFailed, StatusCanceled, StatusSkipped:
		return true
	default:
		return false
	}
}

func isKnownStatus(status string) bool {
	switch status {
	case StatusSuccess, StatusFailed, StatusCanceled, StatusSkipped,
		StatusCreated, StatusPending, StatusRunning, StatusManual:
		return true
	default:
		return false
	}
}
