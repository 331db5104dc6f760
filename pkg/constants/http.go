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

package constants

import "time"

const (
	// DefaultHTTPTimeout bounds a single outbound request when the caller's
	// context carries no deadline of its own.
	DefaultHTTPTimeout = 30 * time.Second

	// LatencyWindow is how long individual request latencies stay in the
	// rolling window that feeds the /status latency summaries.
	LatencyWindow = 5 * time.Minute

	// HealthShutdownTimeout bounds the graceful shutdown of the health server.
	HealthShutdownTimeout = 5 * time.Second
)
