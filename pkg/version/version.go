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

package version

import "github.com/nodeward/nodeward/pkg/constants"

// appVersion is set at build time:
//
//	go build -ldflags "-X github.com/nodeward/nodeward/pkg/version.appVersion=v1.2.3"
var appVersion = constants.DefaultAppVersion

// GetAppVersion returns the version the binary was built as, or
// constants.DefaultAppVersion for untagged builds.
func GetAppVersion() string {
	return appVersion
}
