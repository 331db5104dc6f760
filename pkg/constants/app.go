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

const (
	// DefaultAppVersion is the version reported when the binary was not built
	// with version ldflags (local go run / go test).
	DefaultAppVersion = "0.0.0-dev"

	// DefaultHealthPort serves /healthz, /readyz, /status and /metrics.
	DefaultHealthPort = 8080

	// DefaultDevelopmentEnvironment is reported to the error tracker for
	// prerelease builds.
	DefaultDevelopmentEnvironment = "development"

	// DefaultProductionEnvironment is reported to the error tracker for
	// tagged release builds.
	DefaultProductionEnvironment = "production"
)
