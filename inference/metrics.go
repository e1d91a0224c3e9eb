// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package inference

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts orchestration work. A nil *Metrics counts nothing.
type Metrics struct {
	Subproblems     prometheus.Counter
	Draws           prometheus.Counter
	SamplerFailures prometheus.Counter
	SamplerSeconds  prometheus.Histogram
}

// NewMetrics creates orchestration metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Subproblems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rnaseq",
			Subsystem: "inference",
			Name:      "subproblems_total",
			Help:      "Subproblems whose posterior was persisted or written to an artifact.",
		}),
		Draws: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rnaseq",
			Subsystem: "inference",
			Name:      "draws_total",
			Help:      "Posterior draws persisted or written.",
		}),
		SamplerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rnaseq",
			Subsystem: "inference",
			Name:      "sampler_failures_total",
			Help:      "Sampler invocations that returned an error.",
		}),
		SamplerSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rnaseq",
			Subsystem: "inference",
			Name:      "sampler_seconds",
			Help:      "Wall time of sampler invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
	reg.MustRegister(m.Subproblems, m.Draws, m.SamplerFailures, m.SamplerSeconds)
	return m
}

func (m *Metrics) observeSampler(start time.Time, err error) {
	if m == nil {
		return
	}
	m.SamplerSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		m.SamplerFailures.Inc()
	}
}

func (m *Metrics) done(draws int) {
	if m == nil {
		return
	}
	m.Subproblems.Inc()
	m.Draws.Add(float64(draws))
}
