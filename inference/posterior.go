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
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/rnaseq/store"
)

// Variables lists the posterior variables every transcript must carry.
var Variables = []string{store.VarA, store.VarMu}

// Posterior is the output of a Sampler. Draws[transcript][variable] is the
// burned-in, thinned draw sequence.
type Posterior struct {
	Draws map[int]map[string][]float64 `json:"draws"`
}

// Validate checks that p has draws for exactly the given transcripts, each
// with every variable, all sequences of one common length. If n > 0, that
// length must be n.
func (p *Posterior) Validate(transcripts []int, n int) error {
	if p == nil || len(p.Draws) != len(transcripts) {
		return errors.E(errors.Integrity, fmt.Sprintf("posterior covers %d transcripts, want %d", p.nTranscripts(), len(transcripts)))
	}
	for _, t := range transcripts {
		vars, ok := p.Draws[t]
		if !ok {
			return errors.E(errors.Integrity, fmt.Sprintf("posterior has no draws for transcript %d", t))
		}
		if len(vars) != len(Variables) {
			return errors.E(errors.Integrity, fmt.Sprintf("transcript %d: posterior has %d variables, want %v", t, len(vars), Variables))
		}
		for _, v := range Variables {
			draws, ok := vars[v]
			if !ok {
				return errors.E(errors.Integrity, fmt.Sprintf("transcript %d: posterior has no variable %q", t, v))
			}
			if n <= 0 {
				n = len(draws)
			}
			if len(draws) != n || n == 0 {
				return errors.E(errors.Integrity, fmt.Sprintf("transcript %d, variable %s: %d draws, want %d", t, v, len(draws), n))
			}
		}
	}
	return nil
}

func (p *Posterior) nTranscripts() int {
	if p == nil {
		return 0
	}
	return len(p.Draws)
}

// Rows flattens p into posterior rows under inference, ordered by
// transcript, variable, and draw index.
func (p *Posterior) Rows(inference int64) []store.PosteriorSample {
	ts := make([]int, 0, len(p.Draws))
	for t := range p.Draws {
		ts = append(ts, t)
	}
	sort.Ints(ts)
	var rows []store.PosteriorSample
	for _, t := range ts {
		vars := make([]string, 0, len(p.Draws[t]))
		for v := range p.Draws[t] {
			vars = append(vars, v)
		}
		sort.Strings(vars)
		for _, v := range vars {
			for i, x := range p.Draws[t][v] {
				rows = append(rows, store.PosteriorSample{
					Inference:  inference,
					Transcript: t,
					Variable:   v,
					Sample:     i,
					Value:      x,
				})
			}
		}
	}
	return rows
}

// posteriorFromRows is the inverse of Posterior.Rows.
func posteriorFromRows(rows []store.PosteriorSample) *Posterior {
	p := &Posterior{Draws: make(map[int]map[string][]float64)}
	for _, r := range rows {
		vars := p.Draws[r.Transcript]
		if vars == nil {
			vars = make(map[string][]float64)
			p.Draws[r.Transcript] = vars
		}
		vars[r.Variable] = append(vars[r.Variable], r.Value)
	}
	return p
}
