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

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/jmoiron/sqlx"
)

// View provides read access to the store, either directly or inside a write
// transaction.
type View struct {
	q sqlx.ExtContext
}

func (v *View) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, v.q, dest, v.q.Rebind(query), args...)
}

func (v *View) selectIn(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, v.q, dest, v.q.Rebind(query), args...)
}

func (v *View) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return v.q.ExecContext(ctx, v.q.Rebind(query), args...)
}

// Group returns the sample group with the given id.
func (v *View) Group(ctx context.Context, id int64) (SampleGroup, error) {
	var g SampleGroup
	err := v.get(ctx, &g, `SELECT id, label, is_control FROM sample_group WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return g, errors.E(errors.NotExist, fmt.Sprintf("sample group %d", id))
	}
	if err != nil {
		return g, errors.E(err, fmt.Sprintf("sample group %d", id))
	}
	return g, nil
}

// GroupByLabel returns the sample group with the given label.
func (v *View) GroupByLabel(ctx context.Context, label string) (SampleGroup, error) {
	var g SampleGroup
	err := v.get(ctx, &g, `SELECT id, label, is_control FROM sample_group WHERE label = ?`, label)
	if err == sql.ErrNoRows {
		return g, errors.E(errors.NotExist, "sample group", label)
	}
	if err != nil {
		return g, errors.E(err, "sample group", label)
	}
	return g, nil
}

// Groups returns all sample groups ordered by id.
func (v *View) Groups(ctx context.Context) ([]SampleGroup, error) {
	var groups []SampleGroup
	if err := sqlx.SelectContext(ctx, v.q, &groups,
		`SELECT id, label, is_control FROM sample_group ORDER BY id`); err != nil {
		return nil, errors.E(err, "list sample groups")
	}
	return groups, nil
}

// Samples returns the samples of the given groups, ordered by id. With no
// groups, it returns every sample.
func (v *View) Samples(ctx context.Context, groups ...int64) ([]Sample, error) {
	var (
		samples []Sample
		err     error
	)
	if len(groups) == 0 {
		err = sqlx.SelectContext(ctx, v.q, &samples,
			`SELECT id, sample_group, filename, n_reads FROM samples ORDER BY id`)
	} else {
		err = v.selectIn(ctx, &samples,
			`SELECT id, sample_group, filename, n_reads FROM samples
			 WHERE sample_group IN (?) ORDER BY id`, groups)
	}
	if err != nil {
		return nil, errors.E(err, "list samples")
	}
	return samples, nil
}

// Transcripts returns the catalog ordered by id. It is empty until the first
// file has been ingested.
func (v *View) Transcripts(ctx context.Context) ([]Transcript, error) {
	var ts []Transcript
	if err := sqlx.SelectContext(ctx, v.q, &ts,
		`SELECT id, label, length FROM transcripts ORDER BY id`); err != nil {
		return nil, errors.E(err, "list transcripts")
	}
	return ts, nil
}

// CatalogFinalized reports whether the transcript catalog has been written.
func (v *View) CatalogFinalized(ctx context.Context) (bool, error) {
	var n int
	if err := v.get(ctx, &n, `SELECT COUNT(*) FROM store_meta WHERE name = ?`, catalogFinalizedKey); err != nil {
		return false, errors.E(err, "read catalog marker")
	}
	return n > 0, nil
}

// Links returns every distinct pair of transcripts (a < b) that share at
// least one multiplicity, in ascending order.
func (v *View) Links(ctx context.Context) ([][2]int, error) {
	rows, err := v.q.QueryxContext(ctx, `
		SELECT DISTINCT a.transcript, b.transcript
		FROM multiplicity_entries a
		JOIN multiplicity_entries b
		  ON a.multiplicity = b.multiplicity AND a.transcript < b.transcript
		ORDER BY a.transcript, b.transcript`)
	if err != nil {
		return nil, errors.E(err, "list transcript links")
	}
	defer rows.Close() // nolint: errcheck
	var links [][2]int
	for rows.Next() {
		var l [2]int
		if err := rows.Scan(&l[0], &l[1]); err != nil {
			return nil, errors.E(err, "scan transcript link")
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.E(err, "list transcript links")
	}
	return links, nil
}

// Depths returns the leftsite counts of sample over the given transcripts,
// ordered by transcript and position.
func (v *View) Depths(ctx context.Context, sample int64, transcripts []int) ([]Depth, error) {
	if len(transcripts) == 0 {
		return nil, nil
	}
	var depths []Depth
	if err := v.selectIn(ctx, &depths,
		`SELECT sample, transcript, position, n FROM leftsites
		 WHERE sample = ? AND transcript IN (?)
		 ORDER BY transcript, position`, sample, transcripts); err != nil {
		return nil, errors.E(err, fmt.Sprintf("read depths of sample %d", sample))
	}
	return depths, nil
}

// Multiplicities returns the multiplicities of sample that touch any of the
// given transcripts, with their entries, ordered by id.
func (v *View) Multiplicities(ctx context.Context, sample int64, transcripts []int) ([]Multiplicity, error) {
	if len(transcripts) == 0 {
		return nil, nil
	}
	const touching = `SELECT DISTINCT multiplicity FROM multiplicity_entries WHERE transcript IN (?)`
	var ms []Multiplicity
	if err := v.selectIn(ctx, &ms,
		`SELECT id, sample, targets, n FROM multiplicities
		 WHERE sample = ? AND id IN (`+touching+`)
		 ORDER BY id`, sample, transcripts); err != nil {
		return nil, errors.E(err, fmt.Sprintf("read multiplicities of sample %d", sample))
	}
	if len(ms) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(ms))
	byID := make(map[int64]int, len(ms))
	for i, m := range ms {
		ids[i] = m.ID
		byID[m.ID] = i
	}
	var entries []struct {
		Multiplicity int64 `db:"multiplicity"`
		Location
	}
	if err := v.selectIn(ctx, &entries,
		`SELECT multiplicity, transcript, position FROM multiplicity_entries
		 WHERE multiplicity IN (?)
		 ORDER BY multiplicity, transcript, position`, ids); err != nil {
		return nil, errors.E(err, fmt.Sprintf("read multiplicity entries of sample %d", sample))
	}
	for _, e := range entries {
		m := &ms[byID[e.Multiplicity]]
		m.Entries = append(m.Entries, e.Location)
	}
	return ms, nil
}

// Inference returns the inference run for the canonical pair (group1,
// group2). found is false if there is none.
func (v *View) Inference(ctx context.Context, group1, group2 int64) (inf Inference, found bool, err error) {
	err = v.get(ctx, &inf, `SELECT id, group1, group2 FROM inferences WHERE group1 = ? AND group2 = ?`, group1, group2)
	if err == sql.ErrNoRows {
		return inf, false, nil
	}
	if err != nil {
		return inf, false, errors.E(err, fmt.Sprintf("read inference (%d, %d)", group1, group2))
	}
	return inf, true, nil
}

// Inferences returns all inference runs ordered by id.
func (v *View) Inferences(ctx context.Context) ([]Inference, error) {
	var infs []Inference
	if err := sqlx.SelectContext(ctx, v.q, &infs,
		`SELECT id, group1, group2 FROM inferences ORDER BY id`); err != nil {
		return nil, errors.E(err, "list inferences")
	}
	return infs, nil
}

// Analyzed returns those of the given transcripts that already have
// posterior rows under inference, in ascending order.
func (v *View) Analyzed(ctx context.Context, inference int64, transcripts []int) ([]int, error) {
	if len(transcripts) == 0 {
		return nil, nil
	}
	var ids []int
	if err := v.selectIn(ctx, &ids,
		`SELECT DISTINCT transcript FROM posterior_samples
		 WHERE inference = ? AND transcript IN (?)
		 ORDER BY transcript`, inference, transcripts); err != nil {
		return nil, errors.E(err, fmt.Sprintf("read analyzed transcripts of inference %d", inference))
	}
	return ids, nil
}

// Posteriors returns the posterior draws of inference ordered by transcript,
// variable, and sample index.
func (v *View) Posteriors(ctx context.Context, inference int64) ([]PosteriorSample, error) {
	var ps []PosteriorSample
	if err := sqlx.SelectContext(ctx, v.q, &ps, v.q.Rebind(
		`SELECT inference, transcript, variable, sample, value FROM posterior_samples
		 WHERE inference = ?
		 ORDER BY transcript, variable, sample`), inference); err != nil {
		return nil, errors.E(err, fmt.Sprintf("read posteriors of inference %d", inference))
	}
	return ps, nil
}

// Group returns the sample group with the given id.
func (d *DB) Group(ctx context.Context, id int64) (g SampleGroup, err error) {
	err = d.View(ctx, func(v *View) error {
		g, err = v.Group(ctx, id)
		return err
	})
	return
}

// Groups returns all sample groups ordered by id.
func (d *DB) Groups(ctx context.Context) (groups []SampleGroup, err error) {
	err = d.View(ctx, func(v *View) error {
		groups, err = v.Groups(ctx)
		return err
	})
	return
}

// Transcripts returns the transcript catalog ordered by id.
func (d *DB) Transcripts(ctx context.Context) (ts []Transcript, err error) {
	err = d.View(ctx, func(v *View) error {
		ts, err = v.Transcripts(ctx)
		return err
	})
	return
}
