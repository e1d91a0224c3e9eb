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

// Tx is a write transaction. It embeds a View over the same transaction, so
// reads observe the transaction's own writes.
type Tx struct {
	View
	tx *sqlx.Tx
}

func (t *Tx) nextID(ctx context.Context, table string) (int64, error) {
	var id int64
	if err := t.get(ctx, &id, `SELECT COALESCE(MAX(id), 0) + 1 FROM `+table); err != nil {
		return 0, errors.E(err, "allocate id", table)
	}
	return id, nil
}

// CreateGroup registers a sample group. If g.ID is zero the next free id is
// used. It returns *DuplicateGroupError if the id or the label is taken.
func (t *Tx) CreateGroup(ctx context.Context, g SampleGroup) (SampleGroup, error) {
	if g.Label == "" {
		return g, errors.E(errors.Invalid, "sample group label must be nonempty")
	}
	if g.ID < 0 {
		return g, errors.E(errors.Invalid, fmt.Sprintf("sample group id %d must be positive", g.ID))
	}
	if _, err := t.GroupByLabel(ctx, g.Label); err == nil {
		return g, &DuplicateGroupError{Label: g.Label}
	} else if !errors.Is(errors.NotExist, err) {
		return g, err
	}
	if g.ID == 0 {
		id, err := t.nextID(ctx, "sample_group")
		if err != nil {
			return g, err
		}
		g.ID = id
	} else if _, err := t.Group(ctx, g.ID); err == nil {
		return g, &DuplicateGroupError{ID: g.ID}
	} else if !errors.Is(errors.NotExist, err) {
		return g, err
	}
	if _, err := t.exec(ctx, `INSERT INTO sample_group (id, label, is_control) VALUES (?, ?, ?)`,
		g.ID, g.Label, g.IsControl); err != nil {
		return g, errors.E(err, "insert sample group", g.Label)
	}
	return g, nil
}

// CreateSample registers a new sample in group. Its read count is null until
// SetReadCount is called.
func (t *Tx) CreateSample(ctx context.Context, group int64, filename string) (Sample, error) {
	s := Sample{Group: group, Filename: filename}
	if _, err := t.Group(ctx, group); err != nil {
		return s, err
	}
	id, err := t.nextID(ctx, "samples")
	if err != nil {
		return s, err
	}
	s.ID = id
	if _, err := t.exec(ctx, `INSERT INTO samples (id, sample_group, filename) VALUES (?, ?, ?)`,
		s.ID, s.Group, s.Filename); err != nil {
		return s, errors.E(err, "insert sample", filename)
	}
	return s, nil
}

// SetReadCount records the final readset count of sample.
func (t *Tx) SetReadCount(ctx context.Context, sample int64, n int64) error {
	res, err := t.exec(ctx, `UPDATE samples SET n_reads = ? WHERE id = ?`, n, sample)
	if err != nil {
		return errors.E(err, fmt.Sprintf("set read count of sample %d", sample))
	}
	return expectOneRow(res, fmt.Sprintf("sample %d", sample))
}

// FinalizeCatalog inserts the catalog-finalized marker. It returns true if
// this call inserted it, in which case the caller must insert the catalog in
// the same transaction.
func (t *Tx) FinalizeCatalog(ctx context.Context) (bool, error) {
	res, err := t.exec(ctx,
		`INSERT INTO store_meta (name, value) VALUES (?, 'true') ON CONFLICT (name) DO NOTHING`,
		catalogFinalizedKey)
	if err != nil {
		return false, errors.E(err, "write catalog marker")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.E(err, "write catalog marker")
	}
	return n == 1, nil
}

// InsertTranscripts writes the catalog.
//
// REQUIRES: FinalizeCatalog returned true in this transaction.
func (t *Tx) InsertTranscripts(ctx context.Context, ts []Transcript) error {
	stmt, err := t.tx.PreparexContext(ctx, t.tx.Rebind(
		`INSERT INTO transcripts (id, label, length) VALUES (?, ?, ?)`))
	if err != nil {
		return errors.E(err, "insert transcripts")
	}
	defer stmt.Close() // nolint: errcheck
	for _, tr := range ts {
		if _, err := stmt.ExecContext(ctx, tr.ID, tr.Label, tr.Length); err != nil {
			return errors.E(err, "insert transcript", tr.Label)
		}
	}
	return nil
}

// InitDepth inserts a zero leftsite row for every position of every
// transcript in the catalog for sample.
func (t *Tx) InitDepth(ctx context.Context, sample int64, catalog []Transcript) error {
	stmt, err := t.tx.PreparexContext(ctx, t.tx.Rebind(
		`INSERT INTO leftsites (sample, transcript, position, n) VALUES (?, ?, ?, 0)`))
	if err != nil {
		return errors.E(err, fmt.Sprintf("initialize depth of sample %d", sample))
	}
	defer stmt.Close() // nolint: errcheck
	for _, tr := range catalog {
		for pos := 0; pos < tr.Length; pos++ {
			if _, err := stmt.ExecContext(ctx, sample, tr.ID, pos); err != nil {
				return errors.E(err, fmt.Sprintf("initialize depth of sample %d", sample), tr.Label)
			}
		}
	}
	return nil
}

// AddDepth adds n to the leftsite count of sample at each location.
func (t *Tx) AddDepth(ctx context.Context, sample int64, depth map[Location]int64) error {
	stmt, err := t.tx.PreparexContext(ctx, t.tx.Rebind(
		`UPDATE leftsites SET n = n + ? WHERE sample = ? AND transcript = ? AND position = ?`))
	if err != nil {
		return errors.E(err, fmt.Sprintf("add depth to sample %d", sample))
	}
	defer stmt.Close() // nolint: errcheck
	for loc, n := range depth {
		res, err := stmt.ExecContext(ctx, n, sample, loc.Transcript, loc.Position)
		if err != nil {
			return errors.E(err, fmt.Sprintf("add depth to sample %d at %v", sample, loc))
		}
		if err := expectOneRow(res, fmt.Sprintf("leftsite %v of sample %d", loc, sample)); err != nil {
			return err
		}
	}
	return nil
}

// AddMultiplicity adds n occurrences to the multiplicity m.ID, creating it
// and its entries if it does not exist. m.Targets must be the canonical
// encoding of entries; a stored row with the same id but different targets
// is reported as an integrity error. created reports whether the row is new.
func (t *Tx) AddMultiplicity(ctx context.Context, m Multiplicity, n int64) (created bool, err error) {
	var targets string
	err = t.get(ctx, &targets, `SELECT targets FROM multiplicities WHERE id = ?`, m.ID)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return false, errors.E(err, fmt.Sprintf("read multiplicity %d", m.ID))
	case targets != m.Targets:
		return false, errors.E(errors.Integrity, fmt.Sprintf("multiplicity %d: id collision between %q and %q", m.ID, targets, m.Targets))
	default:
		if _, err := t.exec(ctx, `UPDATE multiplicities SET n = n + ? WHERE id = ?`, n, m.ID); err != nil {
			return false, errors.E(err, fmt.Sprintf("update multiplicity %d", m.ID))
		}
		return false, nil
	}
	if _, err := t.exec(ctx, `INSERT INTO multiplicities (id, sample, targets, n) VALUES (?, ?, ?, ?)`,
		m.ID, m.Sample, m.Targets, n); err != nil {
		return false, errors.E(err, fmt.Sprintf("insert multiplicity %d", m.ID))
	}
	for _, e := range m.Entries {
		if _, err := t.exec(ctx,
			`INSERT INTO multiplicity_entries (multiplicity, transcript, position) VALUES (?, ?, ?)`,
			m.ID, e.Transcript, e.Position); err != nil {
			return false, errors.E(err, fmt.Sprintf("insert entry %v of multiplicity %d", e, m.ID))
		}
	}
	return true, nil
}

// CreateInference inserts the inference run for (group1, group2). The pair
// must be canonical (group1 < group2) and both groups must exist. It returns
// *DuplicateInferenceRunError if the pair, in either order, already has a
// run.
func (t *Tx) CreateInference(ctx context.Context, group1, group2 int64) (Inference, error) {
	inf := Inference{Group1: group1, Group2: group2}
	if group1 >= group2 {
		return inf, errors.E(errors.Invalid, fmt.Sprintf("inference groups (%d, %d) must satisfy group1 < group2", group1, group2))
	}
	for _, pair := range [][2]int64{{group1, group2}, {group2, group1}} {
		existing, found, err := t.Inference(ctx, pair[0], pair[1])
		if err != nil {
			return inf, err
		}
		if found {
			return inf, &DuplicateInferenceRunError{Group1: group1, Group2: group2, Inference: existing.ID}
		}
	}
	for _, g := range []int64{group1, group2} {
		if _, err := t.Group(ctx, g); err != nil {
			return inf, err
		}
	}
	id, err := t.nextID(ctx, "inferences")
	if err != nil {
		return inf, err
	}
	inf.ID = id
	if _, err := t.exec(ctx, `INSERT INTO inferences (id, group1, group2) VALUES (?, ?, ?)`,
		inf.ID, inf.Group1, inf.Group2); err != nil {
		return inf, errors.E(err, fmt.Sprintf("insert inference (%d, %d)", group1, group2))
	}
	return inf, nil
}

// EnsureInference returns the inference run for (group1, group2), creating
// it if needed.
func (t *Tx) EnsureInference(ctx context.Context, group1, group2 int64) (inf Inference, created bool, err error) {
	inf, found, err := t.Inference(ctx, group1, group2)
	if err != nil || found {
		return inf, false, err
	}
	inf, err = t.CreateInference(ctx, group1, group2)
	return inf, err == nil, err
}

// AppendPosteriors inserts posterior draws under inf. It returns
// *DuplicateInferenceRunError if any of the draws' transcripts already has
// rows under inf; existing rows are never modified.
func (t *Tx) AppendPosteriors(ctx context.Context, inf Inference, draws []PosteriorSample) error {
	seen := make(map[int]bool)
	var transcripts []int
	for _, d := range draws {
		if !seen[d.Transcript] {
			seen[d.Transcript] = true
			transcripts = append(transcripts, d.Transcript)
		}
	}
	done, err := t.Analyzed(ctx, inf.ID, transcripts)
	if err != nil {
		return err
	}
	if len(done) > 0 {
		return &DuplicateInferenceRunError{Group1: inf.Group1, Group2: inf.Group2, Inference: inf.ID, Transcripts: done}
	}
	stmt, err := t.tx.PreparexContext(ctx, t.tx.Rebind(
		`INSERT INTO posterior_samples (inference, transcript, variable, sample, value) VALUES (?, ?, ?, ?, ?)`))
	if err != nil {
		return errors.E(err, fmt.Sprintf("insert posteriors of inference %d", inf.ID))
	}
	defer stmt.Close() // nolint: errcheck
	for _, d := range draws {
		if _, err := stmt.ExecContext(ctx, inf.ID, d.Transcript, d.Variable, d.Sample, d.Value); err != nil {
			return errors.E(err, fmt.Sprintf("insert posterior %s of transcript %d, inference %d", d.Variable, d.Transcript, inf.ID))
		}
	}
	return nil
}

// ClearInference deletes the inference run for (group1, group2) and all of
// its posterior draws.
func (t *Tx) ClearInference(ctx context.Context, group1, group2 int64) error {
	inf, found, err := t.Inference(ctx, group1, group2)
	if err != nil {
		return err
	}
	if !found {
		return errors.E(errors.NotExist, fmt.Sprintf("inference (%d, %d)", group1, group2))
	}
	if _, err := t.exec(ctx, `DELETE FROM posterior_samples WHERE inference = ?`, inf.ID); err != nil {
		return errors.E(err, fmt.Sprintf("delete posteriors of inference %d", inf.ID))
	}
	if _, err := t.exec(ctx, `DELETE FROM inferences WHERE id = ?`, inf.ID); err != nil {
		return errors.E(err, fmt.Sprintf("delete inference %d", inf.ID))
	}
	return nil
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.E(err, what)
	}
	if n != 1 {
		return errors.E(errors.NotExist, "no such row", what)
	}
	return nil
}

// CreateGroup registers a sample group in its own transaction.
func (d *DB) CreateGroup(ctx context.Context, g SampleGroup) (created SampleGroup, err error) {
	err = d.Update(ctx, func(tx *Tx) error {
		created, err = tx.CreateGroup(ctx, g)
		return err
	})
	return
}

// ClearInference deletes an inference run and its posterior draws in its own
// transaction.
func (d *DB) ClearInference(ctx context.Context, group1, group2 int64) error {
	return d.Update(ctx, func(tx *Tx) error {
		return tx.ClearInference(ctx, group1, group2)
	})
}
