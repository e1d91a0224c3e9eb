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
	"context"
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/rnaseq/store"
)

// Request is the input of a Sampler: the data of a one-way linear model over
// one subproblem and two groups.
type Request struct {
	Group1      int64        `json:"group1"`
	Group2      int64        `json:"group2"`
	Transcripts []Transcript `json:"transcripts"`
	Samples     []SampleData `json:"samples"`
}

// Transcript describes one transcript of the subproblem.
type Transcript struct {
	ID     int    `json:"id"`
	Label  string `json:"label"`
	Length int    `json:"length"`
}

// SampleData holds one sample's observations restricted to the subproblem.
type SampleData struct {
	ID     int64 `json:"id"`
	Group  int64 `json:"group"`
	NReads int64 `json:"n_reads"`
	// Depth[i][p] is the leftsite count of Request.Transcripts[i] at
	// position p.
	Depth          [][]int64      `json:"depth"`
	Multiplicities []Multiplicity `json:"multiplicities"`
}

// Multiplicity is a multi-mapped readset observed N times.
type Multiplicity struct {
	N       int64            `json:"n"`
	Targets []store.Location `json:"targets"`
}

// TranscriptIDs returns the ids of the request's transcripts.
func (r *Request) TranscriptIDs() []int {
	ids := make([]int, len(r.Transcripts))
	for i, t := range r.Transcripts {
		ids[i] = t.ID
	}
	return ids
}

// BuildRequest reads the model data for pair over transcripts from v. Both
// groups must have at least one sample.
func BuildRequest(ctx context.Context, v *store.View, pair Pair, transcripts []int) (*Request, error) {
	ids := append([]int(nil), transcripts...)
	sort.Ints(ids)
	catalog, err := v.Transcripts(ctx)
	if err != nil {
		return nil, err
	}
	req := &Request{Group1: pair.Group1, Group2: pair.Group2}
	index := make(map[int]int, len(ids))
	for i, id := range ids {
		if id < 0 || id >= len(catalog) {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("transcript %d is not in the catalog", id))
		}
		t := catalog[id]
		req.Transcripts = append(req.Transcripts, Transcript{ID: t.ID, Label: t.Label, Length: t.Length})
		index[id] = i
	}
	for _, g := range []int64{pair.Group1, pair.Group2} {
		if _, err := v.Group(ctx, g); err != nil {
			return nil, err
		}
		samples, err := v.Samples(ctx, g)
		if err != nil {
			return nil, err
		}
		if len(samples) == 0 {
			return nil, errors.E(errors.Precondition, fmt.Sprintf("sample group %d has no samples", g))
		}
		for _, s := range samples {
			sd, err := sampleData(ctx, v, s, req.Transcripts, ids, index)
			if err != nil {
				return nil, err
			}
			req.Samples = append(req.Samples, sd)
		}
	}
	return req, nil
}

func sampleData(ctx context.Context, v *store.View, s store.Sample, ts []Transcript, ids []int, index map[int]int) (SampleData, error) {
	sd := SampleData{ID: s.ID, Group: s.Group, NReads: s.NReads.Int64}
	sd.Depth = make([][]int64, len(ts))
	for i, t := range ts {
		sd.Depth[i] = make([]int64, t.Length)
	}
	depths, err := v.Depths(ctx, s.ID, ids)
	if err != nil {
		return sd, err
	}
	for _, d := range depths {
		sd.Depth[index[d.Transcript]][d.Position] = d.N
	}
	ms, err := v.Multiplicities(ctx, s.ID, ids)
	if err != nil {
		return sd, err
	}
	for _, m := range ms {
		sd.Multiplicities = append(sd.Multiplicities, Multiplicity{N: m.N, Targets: m.Entries})
	}
	return sd, nil
}
