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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/nodeward/nodeward/pkg/config"
	"github.com/nodeward/nodeward/pkg/control"
	"github.com/nodeward/nodeward/pkg/healthcheck"
	"github.com/nodeward/nodeward/pkg/latency"
	"github.com/nodeward/nodeward/pkg/logger"
	"github.com/nodeward/nodeward/pkg/monitor"
	"github.com/nodeward/nodeward/pkg/sentry"
	"github.com/nodeward/nodeward/pkg/service/chain"
	"github.com/nodeward/nodeward/pkg/service/httpclient"
	"github.com/nodeward/nodeward/pkg/service/pipeline"
	"github.com/nodeward/nodeward/pkg/version"
	"github.com/nodeward/nodeward/pkg/watchdog"
)

func main() {
	// A .env file is a development convenience; its absence is normal.
	_ = godotenv.Load()

	logger.Initialize()
	defer func() {
		_ = logger.Sync()
	}()

	sentry.InitSentry(version.GetAppVersion(), true)

	log := logger.For(logger.ComponentCore)
	log.Infof("Starting nodeward %s", version.GetAppVersion())

	cfg, err := config.Load(log)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to load config: %v", err)
		os.Exit(1)
	}
	log.Infof("Configuration loaded: %+v", cfg.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One HTTP client serves both gateways so all request latencies land in
	// the same tracker.
	tracker := latency.NewTracker()
	client := httpclient.NewDefaultHTTPClient(httpclient.WithLatencyTracker(tracker))

	chainService := chain.NewChainService(cfg.Node.APIURL, chain.WithHTTPClient(client))
	pipelineService := pipeline.NewPipelineService(cfg.Pipeline,
		pipeline.WithHTTPClient(client),
		pipeline.WithStatusPollInterval(cfg.Timing.StatusPollInterval))

	mon := monitor.New(cfg, chainService, pipelineService)

	dog := watchdog.New(cfg, mon.Activity)
	defer dog.Stop()

	healthServer := healthcheck.New(cfg, mon, dog, tracker)
	loop := control.NewControlLoop(mon, dog, cfg)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return loop.Execute(groupCtx)
	})

	group.Go(func() error {
		return healthServer.Start(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		return healthServer.Stop()
	})

	if err := group.Wait(); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "nodeward failed: %v", err)
		os.Exit(1)
	}

	log.Info("nodeward stopped")
}
