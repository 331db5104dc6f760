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

// Package latency keeps a rolling window of request round-trip times per
// remote target. Entries age out on their own, so the summaries always
// describe recent behavior rather than the whole process lifetime.
package latency

import (
	"sort"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"

	"github.com/nodeward/nodeward/pkg/constants"
	"github.com/nodeward/nodeward/pkg/models"
)

// Tracker records request durations for a set of named targets.
type Tracker struct {
	windows map[string]*expiremap.ExpireMap[time.Time, time.Duration]
	mu      sync.Mutex
}

// NewTracker creates an empty tracker. Target windows are created lazily on
// first Record.
func NewTracker() *Tracker {
	return &Tracker{
		windows: make(map[string]*expiremap.ExpireMap[time.Time, time.Duration]),
	}
}

// Record stores one request duration for the given target.
func (t *Tracker) Record(target string, d time.Duration) {
	t.window(target).Set(time.Now(), d)
}

// Summary computes the latency summary over the target's current window.
// An unknown or empty target yields a zero-valued summary.
func (t *Tracker) Summary(target string) models.Latency {
	return calculate(t.window(target))
}

// Summaries returns the summary for every target seen so far.
func (t *Tracker) Summaries() map[string]models.Latency {
	t.mu.Lock()
	targets := make([]string, 0, len(t.windows))
	for name := range t.windows {
		targets = append(targets, name)
	}
	t.mu.Unlock()

	out := make(map[string]models.Latency, len(targets))
	for _, name := range targets {
		out[name] = t.Summary(name)
	}

	return out
}

func (t *Tracker) window(target string) *expiremap.ExpireMap[time.Time, time.Duration] {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[target]
	if !ok {
		w = expiremap.NewEx[time.Time, time.Duration](constants.LatencyWindow, constants.LatencyWindow)
		t.windows[target] = w
	}

	return w
}

func calculate(window *expiremap.ExpireMap[time.Time, time.Duration]) models.Latency {
	var minimumDuration time.Duration
	var maximumDuration time.Duration
	var p95 time.Duration
	var p99 time.Duration
	var avgNs int64

	var durations []time.Duration

	window.Range(func(_ time.Time, value time.Duration) bool {
		if minimumDuration == 0 || value < minimumDuration {
			minimumDuration = value
		}
		if value > maximumDuration {
			maximumDuration = value
		}
		avgNs += value.Nanoseconds()
		durations = append(durations, value)
		return true
	})

	// Entries can expire mid-iteration, so the count comes from what Range
	// actually delivered, not from Length().
	items := len(durations)
	if items > 0 {
		avgNs /= int64(items)
		sort.Slice(durations, func(i, j int) bool {
			return durations[i] < durations[j]
		})
		p95Index := int(float64(items) * 0.95)
		p99Index := int(float64(items) * 0.99)
		if p95Index >= items {
			p95Index = items - 1
		}
		if p99Index >= items {
			p99Index = items - 1
		}
		if p95Index < 0 {
			p95Index = 0
		}
		if p99Index < 0 {
			p99Index = 0
		}

		p95 = durations[p95Index]
		p99 = durations[p99Index]
	}

	return models.Latency{
		Min: minimumDuration,
		Max: maximumDuration,
		P95: p95,
		P99: p99,
		Avg: time.Duration(avgNs),
	}
}
