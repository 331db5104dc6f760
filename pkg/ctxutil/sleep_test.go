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

package ctxutil_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nodeward/nodeward/pkg/ctxutil"
)

var _ = Describe("SleepContext", func() {
	It("should sleep the full duration when not cancelled", func() {
		start := time.Now()
		err := ctxutil.SleepContext(context.Background(), 20*time.Millisecond)

		Expect(err).ToNot(HaveOccurred())
		Expect(time.Since(start)).To(BeNumerically(">=", 20*time.Millisecond))
	})

	It("should return immediately for an already-cancelled context", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		start := time.Now()
		err := ctxutil.SleepContext(ctx, time.Hour)

		Expect(err).To(MatchError(context.Canceled))
		Expect(time.Since(start)).To(BeNumerically("<", 50*time.Millisecond),
			"cancelled wait must not schedule a real timer")
	})

	It("should abort mid-sleep on cancellation", func() {
		ctx, cancel := context.WithCancel(context.Background())

		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		err := ctxutil.SleepContext(ctx, time.Hour)

		Expect(err).To(MatchError(context.Canceled))
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
	})

	It("should not error on a non-positive duration", func() {
		Expect(ctxutil.SleepContext(context.Background(), 0)).To(Succeed())
		Expect(ctxutil.SleepContext(context.Background(), -time.Second)).To(Succeed())
	})
})
