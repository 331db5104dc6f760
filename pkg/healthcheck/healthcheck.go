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

// Package healthcheck serves the daemon's HTTP surfaces: liveness,
// readiness, a status snapshot and Prometheus metrics. The server reads
// monitor state through deep-copied snapshots only and never drives it.
package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/nodeward/nodeward/pkg/config"
	"github.com/nodeward/nodeward/pkg/constants"
	"github.com/nodeward/nodeward/pkg/latency"
	"github.com/nodeward/nodeward/pkg/logger"
	"github.com/nodeward/nodeward/pkg/models"
	"github.com/nodeward/nodeward/pkg/monitor"
	"github.com/nodeward/nodeward/pkg/version"
)

// StatusProvider yields the monitor's current snapshot.
type StatusProvider interface {
	Status() monitor.Status
}

// ReadinessProbe reports whether the scheduler loop is alive. The watchdog
// implements it.
type ReadinessProbe interface {
	Healthy() bool
}

// Server is the health and status HTTP server.
type Server struct {
	server *http.Server
	logger *zap.SugaredLogger

	port    int
	status  StatusProvider
	ready   ReadinessProbe
	tracker *latency.Tracker

	startedAt time.Time
	proc      *process.Process
}

// statusResponse is the /status payload.
type statusResponse struct {
	Watcher monitor.Status            `json:"watcher"`
	Process models.ProcessStats       `json:"process"`
	Latency map[string]models.Latency `json:"latency"`
	Version string                    `json:"version"`
}

// New creates a health server. It does not listen until Start is called.
func New(cfg config.Config, status StatusProvider, ready ReadinessProbe, tracker *latency.Tracker) *Server {
	log := logger.For(logger.ComponentHealthCheck)

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warnf("Process telemetry unavailable: %v", err)
		proc = nil
	}

	return &Server{
		logger:    log,
		port:      cfg.Health.Port,
		status:    status,
		ready:     ready,
		tracker:   tracker,
		startedAt: time.Now(),
		proc:      proc,
	}
}

// router builds the gin engine with all routes registered.
func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealthz)
	router.GET("/readyz", s.handleReadyz)
	router.GET("/status", s.handleStatus)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// Start runs the server until it fails or Stop shuts it down. A closed
// server is a clean return, not an error.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Infof("Health server listening on :%d", s.port)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server failed: %w", err)
	}

	return nil
}

// Stop drains in-flight requests within HealthShutdownTimeout.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("Stopping health server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.HealthShutdownTimeout)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleReadyz gates on the watchdog: ready means at least one completed
// cycle and no stall for the current activity.
func (s *Server) handleReadyz(c *gin.Context) {
	if s.ready == nil || !s.ready.Healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := statusResponse{
		Watcher: s.status.Status(),
		Process: s.processStats(),
		Version: version.GetAppVersion(),
	}
	if s.tracker != nil {
		resp.Latency = s.tracker.Summaries()
	}

	c.JSON(http.StatusOK, resp)
}

// processStats collects the daemon's own telemetry. Collection failures
// leave the affected fields at zero; /status never fails over them.
func (s *Server) processStats() models.ProcessStats {
	stats := models.ProcessStats{
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}

	if s.proc == nil {
		return stats
	}

	if cpuPercent, err := s.proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpuPercent
	}
	if memInfo, err := s.proc.MemoryInfo(); err == nil && memInfo != nil {
		stats.MemoryRSSBytes = memInfo.RSS
	}

	return stats
}
