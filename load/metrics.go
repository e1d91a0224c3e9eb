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

package load

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts ingestion work. A nil *Metrics counts nothing.
type Metrics struct {
	Samples                   prometheus.Counter
	Readsets                  prometheus.Counter
	Alignments                prometheus.Counter
	SkippedAlignments         prometheus.Counter
	MultiplicitiesCreated     prometheus.Counter
	MultiplicitiesIncremented prometheus.Counter
}

// NewMetrics creates ingestion counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rnaseq",
			Subsystem: "load",
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(c)
		return c
	}
	return &Metrics{
		Samples:                   counter("samples_total", "Alignment files ingested."),
		Readsets:                  counter("readsets_total", "Readsets (records grouped by read name) processed."),
		Alignments:                counter("alignments_total", "Mapped alignments counted toward leftsite depth."),
		SkippedAlignments:         counter("skipped_alignments_total", "Mapped alignments whose leftsite lies outside the transcript."),
		MultiplicitiesCreated:     counter("multiplicities_created_total", "Multiplicities inserted."),
		MultiplicitiesIncremented: counter("multiplicities_incremented_total", "Occurrences added to existing multiplicities."),
	}
}

func (m *Metrics) add(samples, readsets, alignments, skipped, created, incremented int64) {
	if m == nil {
		return
	}
	m.Samples.Add(float64(samples))
	m.Readsets.Add(float64(readsets))
	m.Alignments.Add(float64(alignments))
	m.SkippedAlignments.Add(float64(skipped))
	m.MultiplicitiesCreated.Add(float64(created))
	m.MultiplicitiesIncremented.Add(float64(incremented))
}
