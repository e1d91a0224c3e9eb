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

package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/rnaseq/store"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*store.DB, func()) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	db, err := store.Open(context.Background(), filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	return db, func() {
		require.NoError(t, db.Close())
		cleanup()
	}
}

func TestParseDSN(t *testing.T) {
	d, driver, source := store.ParseDSN("/tmp/x.db")
	expect.EQ(t, d, store.SQLite)
	expect.EQ(t, driver, "sqlite")
	expect.EQ(t, source, "file:/tmp/x.db?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)&_txlock=immediate")

	_, _, source = store.ParseDSN("file:x.db?mode=rwc")
	expect.EQ(t, source, "file:x.db?mode=rwc&_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)&_txlock=immediate")

	d, driver, source = store.ParseDSN("postgres://u@h/db")
	expect.EQ(t, d, store.Postgres)
	expect.EQ(t, driver, "pgx")
	expect.EQ(t, source, "postgres://u@h/db")
}

func TestCreateGroup(t *testing.T) {
	ctx := context.Background()
	db, cleanup := openTestStore(t)
	defer cleanup()

	g1, err := db.CreateGroup(ctx, store.SampleGroup{Label: "wt", IsControl: true})
	require.NoError(t, err)
	expect.EQ(t, g1.ID, int64(1))
	g5, err := db.CreateGroup(ctx, store.SampleGroup{ID: 5, Label: "ko"})
	require.NoError(t, err)
	expect.EQ(t, g5.ID, int64(5))
	g6, err := db.CreateGroup(ctx, store.SampleGroup{Label: "ko2"})
	require.NoError(t, err)
	expect.EQ(t, g6.ID, int64(6))

	_, err = db.CreateGroup(ctx, store.SampleGroup{ID: 5, Label: "other"})
	dup, ok := err.(*store.DuplicateGroupError)
	require.True(t, ok, "got %v", err)
	expect.EQ(t, dup.ID, int64(5))

	_, err = db.CreateGroup(ctx, store.SampleGroup{Label: "wt"})
	dup, ok = err.(*store.DuplicateGroupError)
	require.True(t, ok, "got %v", err)
	expect.EQ(t, dup.Label, "wt")

	_, err = db.CreateGroup(ctx, store.SampleGroup{})
	expect.True(t, errors.Is(errors.Invalid, err))

	groups, err := db.Groups(ctx)
	require.NoError(t, err)
	expect.EQ(t, groups, []store.SampleGroup{
		{ID: 1, Label: "wt", IsControl: true},
		{ID: 5, Label: "ko"},
		{ID: 6, Label: "ko2"},
	})
	_, err = db.Group(ctx, 2)
	expect.True(t, errors.Is(errors.NotExist, err))
}

// loadTiny writes a two-transcript catalog and one sample by hand.
func loadTiny(t *testing.T, db *store.DB) (group, sample int64) {
	ctx := context.Background()
	g, err := db.CreateGroup(ctx, store.SampleGroup{Label: "g"})
	require.NoError(t, err)
	err = db.Update(ctx, func(tx *store.Tx) error {
		s, err := tx.CreateSample(ctx, g.ID, "a.sam")
		if err != nil {
			return err
		}
		sample = s.ID
		first, err := tx.FinalizeCatalog(ctx)
		require.NoError(t, err)
		require.True(t, first)
		catalog := []store.Transcript{{0, "tx0", 4}, {1, "tx1", 3}}
		if err := tx.InsertTranscripts(ctx, catalog); err != nil {
			return err
		}
		if err := tx.InitDepth(ctx, s.ID, catalog); err != nil {
			return err
		}
		if err := tx.AddDepth(ctx, s.ID, map[store.Location]int64{{0, 1}: 2, {1, 2}: 1}); err != nil {
			return err
		}
		return tx.SetReadCount(ctx, s.ID, 3)
	})
	require.NoError(t, err)
	return g.ID, sample
}

func TestCatalogAndDepth(t *testing.T) {
	ctx := context.Background()
	db, cleanup := openTestStore(t)
	defer cleanup()
	_, sample := loadTiny(t, db)

	err := db.View(ctx, func(v *store.View) error {
		ok, err := v.CatalogFinalized(ctx)
		require.NoError(t, err)
		expect.True(t, ok)
		ts, err := v.Transcripts(ctx)
		require.NoError(t, err)
		expect.EQ(t, ts, []store.Transcript{{0, "tx0", 4}, {1, "tx1", 3}})

		depths, err := v.Depths(ctx, sample, []int{0, 1})
		require.NoError(t, err)
		require.Equal(t, 7, len(depths))
		var total int64
		for i, d := range depths {
			total += d.N
			if i < 4 {
				expect.EQ(t, d.Location, store.Location{0, i})
			} else {
				expect.EQ(t, d.Location, store.Location{1, i - 4})
			}
		}
		expect.EQ(t, total, int64(3))
		expect.EQ(t, depths[1].N, int64(2))

		samples, err := v.Samples(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, len(samples))
		expect.EQ(t, samples[0].NReads.Int64, int64(3))
		expect.True(t, samples[0].NReads.Valid)
		return nil
	})
	require.NoError(t, err)

	// The marker can only be inserted once.
	err = db.Update(ctx, func(tx *store.Tx) error {
		first, err := tx.FinalizeCatalog(ctx)
		require.NoError(t, err)
		expect.False(t, first)
		return nil
	})
	require.NoError(t, err)

	// Depth rows must exist before they can be incremented.
	err = db.Update(ctx, func(tx *store.Tx) error {
		return tx.AddDepth(ctx, sample, map[store.Location]int64{{0, 10}: 1})
	})
	expect.True(t, errors.Is(errors.NotExist, err))
}

func TestUpdateRollsBack(t *testing.T) {
	ctx := context.Background()
	db, cleanup := openTestStore(t)
	defer cleanup()
	g, err := db.CreateGroup(ctx, store.SampleGroup{Label: "g"})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.Update(ctx, func(tx *store.Tx) error {
		if _, err := tx.CreateSample(ctx, g.ID, "a.sam"); err != nil {
			return err
		}
		return boom
	})
	expect.EQ(t, err, boom)
	err = db.View(ctx, func(v *store.View) error {
		samples, err := v.Samples(ctx, g.ID)
		require.NoError(t, err)
		expect.EQ(t, len(samples), 0)
		return nil
	})
	require.NoError(t, err)

	err = db.Update(ctx, func(tx *store.Tx) error {
		_, err := tx.CreateSample(ctx, 99, "a.sam")
		return err
	})
	expect.True(t, errors.Is(errors.NotExist, err))
}

func TestMultiplicities(t *testing.T) {
	ctx := context.Background()
	db, cleanup := openTestStore(t)
	defer cleanup()
	_, sample := loadTiny(t, db)

	m := store.Multiplicity{
		ID:      42,
		Sample:  sample,
		Targets: "0:1,1:2",
		Entries: []store.Location{{0, 1}, {1, 2}},
	}
	var created []bool
	for i := 0; i < 2; i++ {
		err := db.Update(ctx, func(tx *store.Tx) error {
			c, err := tx.AddMultiplicity(ctx, m, 1)
			created = append(created, c)
			return err
		})
		require.NoError(t, err)
	}
	expect.EQ(t, created, []bool{true, false})

	err := db.Update(ctx, func(tx *store.Tx) error {
		bad := m
		bad.Targets = "0:0,1:0"
		_, err := tx.AddMultiplicity(ctx, bad, 1)
		return err
	})
	expect.True(t, errors.Is(errors.Integrity, err))

	err = db.View(ctx, func(v *store.View) error {
		ms, err := v.Multiplicities(ctx, sample, []int{1})
		require.NoError(t, err)
		require.Equal(t, 1, len(ms))
		expect.EQ(t, ms[0].N, int64(2))
		expect.EQ(t, ms[0].Entries, []store.Location{{0, 1}, {1, 2}})

		links, err := v.Links(ctx)
		require.NoError(t, err)
		expect.EQ(t, links, [][2]int{{0, 1}})
		return nil
	})
	require.NoError(t, err)
}

func TestInferences(t *testing.T) {
	ctx := context.Background()
	db, cleanup := openTestStore(t)
	defer cleanup()
	g1, _ := loadTiny(t, db)
	g2, err := db.CreateGroup(ctx, store.SampleGroup{Label: "h"})
	require.NoError(t, err)

	var inf store.Inference
	err = db.Update(ctx, func(tx *store.Tx) (err error) {
		inf, err = tx.CreateInference(ctx, g1, g2.ID)
		return err
	})
	require.NoError(t, err)

	err = db.Update(ctx, func(tx *store.Tx) error {
		_, err := tx.CreateInference(ctx, g2.ID, g1)
		return err
	})
	expect.True(t, errors.Is(errors.Invalid, err))
	err = db.Update(ctx, func(tx *store.Tx) error {
		_, err := tx.CreateInference(ctx, g1, g2.ID)
		return err
	})
	dup, ok := err.(*store.DuplicateInferenceRunError)
	require.True(t, ok, "got %v", err)
	expect.EQ(t, dup.Inference, inf.ID)

	draws := []store.PosteriorSample{
		{Transcript: 0, Variable: store.VarMu, Sample: 0, Value: 0.5},
		{Transcript: 0, Variable: store.VarA, Sample: 0, Value: 1.5},
	}
	appendDraws := func() error {
		return db.Update(ctx, func(tx *store.Tx) error {
			got, created, err := tx.EnsureInference(ctx, g1, g2.ID)
			require.NoError(t, err)
			expect.False(t, created)
			expect.EQ(t, got, inf)
			return tx.AppendPosteriors(ctx, got, draws)
		})
	}
	require.NoError(t, appendDraws())
	err = appendDraws()
	dup, ok = err.(*store.DuplicateInferenceRunError)
	require.True(t, ok, "got %v", err)
	expect.EQ(t, dup.Transcripts, []int{0})

	err = db.View(ctx, func(v *store.View) error {
		ps, err := v.Posteriors(ctx, inf.ID)
		require.NoError(t, err)
		require.Equal(t, 2, len(ps))
		expect.EQ(t, ps[0].Variable, store.VarA)
		expect.EQ(t, ps[1].Value, 0.5)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, db.ClearInference(ctx, g1, g2.ID))
	expect.True(t, errors.Is(errors.NotExist, db.ClearInference(ctx, g1, g2.ID)))
	err = db.View(ctx, func(v *store.View) error {
		infs, err := v.Inferences(ctx)
		require.NoError(t, err)
		expect.EQ(t, len(infs), 0)
		ps, err := v.Posteriors(ctx, inf.ID)
		require.NoError(t, err)
		expect.EQ(t, len(ps), 0)
		return nil
	})
	require.NoError(t, err)
}
