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

package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/h2non/gock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nodeward/nodeward/pkg/config"
	"github.com/nodeward/nodeward/pkg/service/httpclient"
	"github.com/nodeward/nodeward/pkg/service/pipeline"
)

const ciBaseURL = "https://ci.example.com"

const triggerReceipt = `{
	"id": 4711,
	"project_id": 42,
	"ref": "main",
	"status": "created",
	"web_url": "https://ci.example.com/upgrades/-/pipelines/4711",
	"user": {"id": 7, "username": "upgrade-bot", "name": "Upgrade Bot"}
}`

// matchTriggerForm decodes the form-encoded trigger body and checks the
// fields the CI server contractually requires.
func matchTriggerForm(expected map[string]string) gock.MatchFunc {
	return func(request *http.Request, _ *gock.Request) (bool, error) {
		body, err := io.ReadAll(request.Body)
		if err != nil {
			return false, err
		}
		request.Body = io.NopCloser(bytes.NewReader(body))

		values, err := url.ParseQuery(string(body))
		if err != nil {
			return false, err
		}
		for key, value := range expected {
			if values.Get(key) != value {
				return false, nil
			}
		}
		return true, nil
	}
}

var _ = Describe("PipelineService", func() {
	var (
		ctx     context.Context
		service *pipeline.PipelineService
	)

	newService := func(opts ...pipeline.PipelineServiceOption) *pipeline.PipelineService {
		client := &http.Client{}
		gock.InterceptClient(client)

		cfg := config.PipelineConfig{
			APIURL:       ciBaseURL,
			ProjectID:    "42",
			Ref:          "main",
			TriggerToken: "trigger-token",
			AccessToken:  "access-token",
			Variables:    map[string]string{"CHAIN": "gaia"},
		}

		opts = append([]pipeline.PipelineServiceOption{
			pipeline.WithHTTPClient(httpclient.NewDefaultHTTPClient(httpclient.WithClient(client))),
			pipeline.WithStatusPollInterval(time.Millisecond),
		}, opts...)

		return pipeline.NewPipelineService(cfg, opts...)
	}

	BeforeEach(func() {
		ctx = context.Background()
		service = newService()
	})

	AfterEach(func() {
		// Ensure that all gock mocks are turned off after each test, even the unmatched ones
		gock.OffAll()
	})

	Describe("Trigger", func() {
		It("posts token, ref and wrapped variables and decodes the receipt", func() {
			gock.New(ciBaseURL).
				Post("/api/v4/projects/42/trigger/pipeline").
				AddMatcher(matchTriggerForm(map[string]string{
					"token":            "trigger-token",
					"ref":              "main",
					"variables[CHAIN]": "gaia",
				})).
				Reply(201).
				BodyString(triggerReceipt)

			run, err := service.Trigger(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(run.ID).To(Equal(int64(4711)))
			Expect(run.ProjectID).To(Equal(int64(42)))
			Expect(run.Ref).To(Equal("main"))
			Expect(run.Status).To(Equal("created"))
			Expect(run.WebURL).To(Equal("https://ci.example.com/upgrades/-/pipelines/4711"))
			Expect(run.User.Username).To(Equal("upgrade-bot"))
			Expect(gock.IsDone()).To(BeTrue())
		})

		It("returns an error on a rejected trigger", func() {
			gock.New(ciBaseURL).
				Post("/api/v4/projects/42/trigger/pipeline").
				Reply(401).
				BodyString(`{"message": "401 Unauthorized"}`)

			run, err := service.Trigger(ctx)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("401"))
			Expect(run).To(BeNil())
		})

		It("rejects a receipt without a run ID", func() {
			gock.New(ciBaseURL).
				Post("/api/v4/projects/42/trigger/pipeline").
				Reply(201).
				BodyString(`{"ref": "main", "status": "created"}`)

			_, err := service.Trigger(ctx)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("no run ID"))
		})

		It("returns the transport error when the CI server is unreachable", func() {
			gock.New(ciBaseURL).
				Post("/api/v4/projects/42/trigger/pipeline").
				ReplyError(errors.New("connection refused"))

			_, err := service.Trigger(ctx)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("PollStatus", func() {
		mockStatus := func(status string) {
			gock.New(ciBaseURL).
				Get("/api/v4/projects/42/pipelines/4711").
				MatchHeader("PRIVATE-TOKEN", "access-token").
				Reply(200).
				BodyString(`{"id": 4711, "status": "` + status + `"}`)
		}

		It("returns a terminal status straight away", func() {
			mockStatus("success")

			Expect(service.PollStatus(ctx, 4711)).To(Equal(pipeline.StatusSuccess))
			Expect(gock.IsDone()).To(BeTrue())
		})

		It("keeps polling while the run is pending", func() {
			mockStatus("pending")
			mockStatus("running")
			mockStatus("success")

			Expect(service.PollStatus(ctx, 4711)).To(Equal(pipeline.StatusSuccess))
			Expect(gock.IsDone()).To(BeTrue(), "each registered status answer must be consumed exactly once")
		})

		It("treats an unknown status as still running", func() {
			mockStatus("preparing_quantum_runner")
			mockStatus("failed")

			Expect(service.PollStatus(ctx, 4711)).To(Equal(pipeline.StatusFailed))
			Expect(gock.IsDone()).To(BeTrue())
		})

		It("reports canceled runs as canceled, not failed", func() {
			mockStatus("canceled")

			Expect(service.PollStatus(ctx, 4711)).To(Equal(pipeline.StatusCanceled))
		})

		It("fails closed on a transport error", func() {
			gock.New(ciBaseURL).
				Get("/api/v4/projects/42/pipelines/4711").
				ReplyError(errors.New("connection reset"))

			Expect(service.PollStatus(ctx, 4711)).To(Equal(pipeline.StatusFailed))
		})

		It("fails closed on a non-200 status answer", func() {
			gock.New(ciBaseURL).
				Get("/api/v4/projects/42/pipelines/4711").
				Reply(403).
				BodyString(`{"message": "403 Forbidden"}`)

			Expect(service.PollStatus(ctx, 4711)).To(Equal(pipeline.StatusFailed))
		})

		It("fails closed when cancelled between polls", func() {
			service = newService(pipeline.WithStatusPollInterval(10 * time.Second))
			mockStatus("running")

			pollCtx, cancel := context.WithCancel(ctx)
			time.AfterFunc(50*time.Millisecond, cancel)

			start := time.Now()
			status := service.PollStatus(pollCtx, 4711)
			Expect(status).To(Equal(pipeline.StatusFailed))
			Expect(time.Since(start)).To(BeNumerically("<", 5*time.Second),
				"cancellation must cut the inter-poll sleep short")
		})
	})

	Describe("TriggerAndWait", func() {
		It("returns true only for a successful run", func() {
			gock.New(ciBaseURL).
				Post("/api/v4/projects/42/trigger/pipeline").
				Reply(201).
				BodyString(triggerReceipt)
			gock.New(ciBaseURL).
				Get("/api/v4/projects/42/pipelines/4711").
				Reply(200).
				BodyString(`{"status": "success"}`)

			Expect(service.TriggerAndWait(ctx)).To(BeTrue())
			Expect(gock.IsDone()).To(BeTrue())
		})

		It("returns false when the run ends in a non-success terminal status", func() {
			gock.New(ciBaseURL).
				Post("/api/v4/projects/42/trigger/pipeline").
				Reply(201).
				BodyString(triggerReceipt)
			gock.New(ciBaseURL).
				Get("/api/v4/projects/42/pipelines/4711").
				Reply(200).
				BodyString(`{"status": "skipped"}`)

			Expect(service.TriggerAndWait(ctx)).To(BeFalse())
		})

		It("returns false without polling when the trigger is rejected", func() {
			gock.New(ciBaseURL).
				Post("/api/v4/projects/42/trigger/pipeline").
				Reply(404).
				BodyString(`{"message": "404 Project Not Found"}`)

			Expect(service.TriggerAndWait(ctx)).To(BeFalse())
			Expect(gock.IsDone()).To(BeTrue(), "no status fetch may happen after a rejected trigger")
		})
	})
})

var _ = Describe("MockPipelineService", func() {
	It("records calls and honors the injected wait function", func() {
		mock := pipeline.NewMockPipelineService()
		mock.TriggerAndWaitFunc = func(ctx context.Context) bool {
			return ctx.Err() == nil
		}

		Expect(mock.TriggerAndWait(context.Background())).To(BeTrue())
		Expect(mock.TriggerAndWaitCalled).To(Equal(1))

		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		Expect(mock.TriggerAndWait(cancelled)).To(BeFalse())
	})
})
