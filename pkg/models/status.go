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

// Package models holds the JSON-facing types shared between the monitor, the
// health endpoints and the latency tooling.
package models

import "time"

// Latency summarizes the rolling window of request round-trip times against
// one remote target.
type Latency struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
	Avg time.Duration `json:"avg"`
}

// ProcessStats is the daemon's own resource usage as reported on /status.
type ProcessStats struct {
	CPUPercent     float64 `json:"cpuPercent"`
	MemoryRSSBytes uint64  `json:"memoryRssBytes"`
	Goroutines     int     `json:"goroutines"`
	UptimeSeconds  float64 `json:"uptimeSeconds"`
}
