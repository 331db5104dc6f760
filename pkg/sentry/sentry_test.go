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

package sentry_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/nodeward/nodeward/pkg/constants"
	"github.com/nodeward/nodeward/pkg/sentry"
)

var _ = Describe("Reporting without an initialized client", func() {
	var logger *zap.SugaredLogger

	BeforeEach(func() {
		testLogger := zaptest.NewLogger(GinkgoT())
		logger = testLogger.Sugar()
		sentry.EnableTestMode()
	})

	AfterEach(func() {
		sentry.DisableTestMode()
	})

	It("stays disabled for the development version", func() {
		// Must not panic and must not require a DSN
		sentry.InitSentry(constants.DefaultAppVersion, true)
	})

	It("logs warnings and errors even when Sentry is disabled", func() {
		sentry.ReportIssue(errors.New("node unreachable"), sentry.IssueTypeWarning, logger)
		sentry.ReportIssue(errors.New("pipeline trigger rejected"), sentry.IssueTypeError, logger)
		sentry.ReportIssuef(sentry.IssueTypeWarning, logger, "unknown pipeline status %q", "paused")
	})

	It("tolerates a nil logger", func() {
		sentry.ReportIssue(errors.New("boom"), sentry.IssueTypeWarning, nil)
	})

	It("attaches cycle context without mutating the error", func() {
		err := errors.New("liveness fetch failed")
		sentry.ReportCycleError(logger, "watching", "height_fetch", err)
		sentry.ReportCycleErrorf(logger, "triggering", "trigger", "pipeline %d rejected", 42)
	})
})
