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
	"io"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/rnaseq/store"
	"gonum.org/v1/gonum/stat"
)

// Summary condenses the draws of one (inference, transcript, variable).
type Summary struct {
	Inference  int64   `tsv:"inference"`
	Group1     int64   `tsv:"group1"`
	Group2     int64   `tsv:"group2"`
	Transcript int     `tsv:"transcript"`
	Label      string  `tsv:"label"`
	Variable   string  `tsv:"variable"`
	N          int     `tsv:"n"`
	Mean       float64 `tsv:"mean"`
	// Lower and Upper bound the central 95% credible interval.
	Lower float64 `tsv:"lower95"`
	Upper float64 `tsv:"upper95"`
}

// Summarize returns the posterior summaries of every inference in db,
// ordered by inference, transcript, and variable.
func Summarize(ctx context.Context, db *store.DB) (summaries []Summary, err error) {
	err = db.View(ctx, func(v *store.View) error {
		catalog, err := v.Transcripts(ctx)
		if err != nil {
			return err
		}
		infs, err := v.Inferences(ctx)
		if err != nil {
			return err
		}
		for _, inf := range infs {
			rows, err := v.Posteriors(ctx, inf.ID)
			if err != nil {
				return err
			}
			post := posteriorFromRows(rows)
			for _, s := range SummarizePosterior(post) {
				s.Inference, s.Group1, s.Group2 = inf.ID, inf.Group1, inf.Group2
				if s.Transcript < len(catalog) {
					s.Label = catalog[s.Transcript].Label
				}
				summaries = append(summaries, s)
			}
		}
		return nil
	})
	return
}

// SummarizePosterior computes the mean and the central 95% interval of every
// draw sequence in post, ordered by transcript and variable. The inference
// and label fields are left unset.
func SummarizePosterior(post *Posterior) []Summary {
	var out []Summary
	ts := make([]int, 0, len(post.Draws))
	for t := range post.Draws {
		ts = append(ts, t)
	}
	sort.Ints(ts)
	for _, t := range ts {
		vars := make([]string, 0, len(post.Draws[t]))
		for v := range post.Draws[t] {
			vars = append(vars, v)
		}
		sort.Strings(vars)
		for _, v := range vars {
			draws := post.Draws[t][v]
			if len(draws) == 0 {
				continue
			}
			sorted := append([]float64(nil), draws...)
			sort.Float64s(sorted)
			out = append(out, Summary{
				Transcript: t,
				Variable:   v,
				N:          len(sorted),
				Mean:       stat.Mean(sorted, nil),
				Lower:      stat.Quantile(0.025, stat.Empirical, sorted, nil),
				Upper:      stat.Quantile(0.975, stat.Empirical, sorted, nil),
			})
		}
	}
	return out
}

// WriteSummaries writes summaries as TSV with a header row.
func WriteSummaries(w io.Writer, summaries []Summary) error {
	tw := tsv.NewRowWriter(w)
	for i := range summaries {
		if err := tw.Write(&summaries[i]); err != nil {
			return errors.E(err, "write summary")
		}
	}
	return tw.Flush()
}

// ReadSummaries reads TSV written by WriteSummaries.
func ReadSummaries(r io.Reader) ([]Summary, error) {
	tr := tsv.NewReader(r)
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true
	var out []Summary
	for {
		var s Summary
		if err := tr.Read(&s); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.E(err, "read summary")
		}
		out = append(out, s)
	}
	return out, nil
}
