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

package inference_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/rnaseq/encoding/bamprovider"
	"github.com/grailbio/rnaseq/inference"
	"github.com/grailbio/rnaseq/load"
	"github.com/grailbio/rnaseq/store"
	"github.com/grailbio/rnaseq/subproblem"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const nDraws = 4

// fakeSampler returns mu draws t, t+1, ... and a draws of 1 for each
// transcript t, and remembers the requests it saw.
type fakeSampler struct {
	mu   sync.Mutex
	reqs []*inference.Request
	err  error
}

func (s *fakeSampler) Sample(ctx context.Context, req *inference.Request) (*inference.Posterior, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	post := &inference.Posterior{Draws: map[int]map[string][]float64{}}
	for _, t := range req.Transcripts {
		mu := make([]float64, nDraws)
		a := make([]float64, nDraws)
		for i := range mu {
			mu[i] = float64(t.ID + i)
			a[i] = 1
		}
		post.Draws[t.ID] = map[string][]float64{store.VarMu: mu, store.VarA: a}
	}
	return post, nil
}

type fixture struct {
	ctx     context.Context
	dir     string
	db      *store.DB
	control int64
	treated int64
	cleanup func()
}

// newFixture builds a store with three transcripts of length 10, where tx0
// and tx1 share a multiplicity, and one sample in each of two groups.
func newFixture(t *testing.T) *fixture {
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "")
	db, err := store.Open(ctx, filepath.Join(dir, "rnaseq.db"))
	require.NoError(t, err)
	f := &fixture{ctx: ctx, dir: dir, db: db}
	f.cleanup = func() {
		require.NoError(t, db.Close())
		cleanup()
	}
	g1, err := db.CreateGroup(ctx, store.SampleGroup{Label: "control", IsControl: true})
	require.NoError(t, err)
	g2, err := db.CreateGroup(ctx, store.SampleGroup{Label: "treated"})
	require.NoError(t, err)
	f.control, f.treated = g1.ID, g2.ID

	for _, g := range []int64{f.control, f.treated} {
		var refs []*sam.Reference
		for _, name := range []string{"tx0", "tx1", "tx2"} {
			ref, err := sam.NewReference(name, "", "", 10+load.DefaultOpts.ReadLength, nil, nil)
			require.NoError(t, err)
			refs = append(refs, ref)
		}
		header, err := sam.NewHeader(nil, refs)
		require.NoError(t, err)
		recs := []*sam.Record{
			{Name: "a", Ref: refs[0], Pos: 3},
			{Name: "a", Ref: refs[1], Pos: 3},
			{Name: "b", Ref: refs[2], Pos: 5},
			{Name: "c", Ref: refs[2], Pos: 5},
		}
		_, err = load.Ingest(ctx, db, bamprovider.NewFakeProvider(header, recs), "x.bam", g, load.DefaultOpts)
		require.NoError(t, err)
	}
	return f
}

func TestRunInference(t *testing.T) {
	f := newFixture(t)
	defer f.cleanup()
	sampler := &fakeSampler{}
	reg := prometheus.NewRegistry()
	opts := inference.DefaultOpts
	opts.Metrics = inference.NewMetrics(reg)

	// Groups are canonicalized.
	res, err := inference.RunInference(f.ctx, f.db, sampler, f.treated, f.control, []int{1, 0}, opts)
	require.NoError(t, err)
	expect.EQ(t, res.Pair, inference.Pair{Group1: f.control, Group2: f.treated})
	expect.EQ(t, res.Transcripts, []int{0, 1})
	require.NotEqual(t, int64(0), res.Inference)

	require.Equal(t, 1, len(sampler.reqs))
	req := sampler.reqs[0]
	expect.EQ(t, req.TranscriptIDs(), []int{0, 1})
	require.Equal(t, 2, len(req.Samples))
	for _, s := range req.Samples {
		expect.EQ(t, s.NReads, int64(3))
		require.Equal(t, 2, len(s.Depth))
		expect.EQ(t, len(s.Depth[0]), 10)
		expect.EQ(t, s.Depth[0][3], int64(1))
		expect.EQ(t, s.Depth[1][3], int64(1))
		require.Equal(t, 1, len(s.Multiplicities))
		expect.EQ(t, s.Multiplicities[0].N, int64(1))
		expect.EQ(t, s.Multiplicities[0].Targets, []store.Location{{0, 3}, {1, 3}})
	}
	expect.EQ(t, req.Samples[0].Group, f.control)
	expect.EQ(t, req.Samples[1].Group, f.treated)

	post, err := inference.Load(f.ctx, f.db, f.control, f.treated)
	require.NoError(t, err)
	expect.EQ(t, post.Draws[1][store.VarMu], []float64{1, 2, 3, 4})
	expect.EQ(t, len(post.Draws), 2)

	expect.EQ(t, promtestutil.ToFloat64(opts.Metrics.Subproblems), 1.0)
	expect.EQ(t, promtestutil.ToFloat64(opts.Metrics.Draws), float64(2*2*nDraws))

	// The same subproblem cannot be analyzed twice.
	_, err = inference.RunInference(f.ctx, f.db, sampler, f.control, f.treated, []int{0, 1}, opts)
	dup, ok := err.(*store.DuplicateInferenceRunError)
	require.True(t, ok, "got %v", err)
	expect.EQ(t, dup.Transcripts, []int{0, 1})
	expect.EQ(t, len(sampler.reqs), 1)

	// Another subproblem appends under the same run.
	res2, err := inference.RunInference(f.ctx, f.db, sampler, f.control, f.treated, []int{2}, opts)
	require.NoError(t, err)
	expect.EQ(t, res2.Inference, res.Inference)

	// After clearing, the pair can be analyzed again.
	require.NoError(t, f.db.ClearInference(f.ctx, f.control, f.treated))
	_, err = inference.RunInference(f.ctx, f.db, sampler, f.control, f.treated, []int{0, 1}, opts)
	require.NoError(t, err)
}

func TestRunInferenceChecks(t *testing.T) {
	f := newFixture(t)
	defer f.cleanup()
	sampler := &fakeSampler{}
	opts := inference.DefaultOpts

	_, err := inference.RunInference(f.ctx, f.db, sampler, f.control, f.treated, []int{0}, opts)
	incomplete, ok := err.(*subproblem.IncompleteSubproblemError)
	require.True(t, ok, "got %v", err)
	expect.EQ(t, incomplete.Missing, []int{1})

	_, err = inference.RunInference(f.ctx, f.db, sampler, f.control, f.control, []int{2}, opts)
	expect.True(t, errors.Is(errors.Invalid, err))

	_, err = inference.RunInference(f.ctx, f.db, sampler, f.control, 99, []int{2}, opts)
	expect.True(t, errors.Is(errors.NotExist, err))

	empty, err := f.db.CreateGroup(f.ctx, store.SampleGroup{Label: "empty"})
	require.NoError(t, err)
	_, err = inference.RunInference(f.ctx, f.db, sampler, f.control, empty.ID, []int{2}, opts)
	expect.True(t, errors.Is(errors.Precondition, err))
	expect.EQ(t, len(sampler.reqs), 0)
}

func TestSamplerFailure(t *testing.T) {
	f := newFixture(t)
	defer f.cleanup()
	boom := errors.New("diverged")
	sampler := &fakeSampler{err: boom}
	opts := inference.DefaultOpts
	opts.Metrics = inference.NewMetrics(prometheus.NewRegistry())

	_, err := inference.RunInference(f.ctx, f.db, sampler, f.control, f.treated, []int{2}, opts)
	expect.EQ(t, err, boom)
	expect.EQ(t, promtestutil.ToFloat64(opts.Metrics.SamplerFailures), 1.0)
	err = f.db.View(f.ctx, func(v *store.View) error {
		_, found, err := v.Inference(f.ctx, f.control, f.treated)
		require.NoError(t, err)
		expect.False(t, found)
		return nil
	})
	require.NoError(t, err)
}

func TestRunAll(t *testing.T) {
	f := newFixture(t)
	defer f.cleanup()
	sampler := &fakeSampler{}
	opts := inference.DefaultOpts
	opts.Parallelism = 2

	groups, err := f.db.Groups(f.ctx)
	require.NoError(t, err)
	pairs := inference.Pairs(groups, opts.Policy)
	require.Equal(t, 1, len(pairs))

	results, err := inference.RunAll(f.ctx, f.db, sampler, pairs, opts)
	require.NoError(t, err)
	require.Equal(t, 2, len(results))
	expect.EQ(t, results[0].Transcripts, []int{0, 1})
	expect.EQ(t, results[1].Transcripts, []int{2})
	expect.EQ(t, results[0].Inference, results[1].Inference)

	post, err := inference.Load(f.ctx, f.db, f.control, f.treated)
	require.NoError(t, err)
	expect.EQ(t, len(post.Draws), 3)

	// The run row must be new.
	_, err = inference.RunAll(f.ctx, f.db, sampler, pairs, opts)
	_, ok := err.(*store.DuplicateInferenceRunError)
	require.True(t, ok, "got %v", err)
}

func TestArtifactsAndMerge(t *testing.T) {
	f := newFixture(t)
	defer f.cleanup()
	sampler := &fakeSampler{}
	opts := inference.DefaultOpts
	opts.ArtifactDir = filepath.Join(f.dir, "artifacts")
	require.NoError(t, os.MkdirAll(opts.ArtifactDir, 0700))

	pairs := []inference.Pair{{Group1: f.control, Group2: f.treated}}
	results, err := inference.RunAll(f.ctx, f.db, sampler, pairs, opts)
	require.NoError(t, err)
	require.Equal(t, 2, len(results))
	var paths []string
	for _, r := range results {
		expect.EQ(t, r.Inference, int64(0))
		paths = append(paths, r.Artifact)
	}
	expect.EQ(t, filepath.Base(paths[0]), "rnaseq-1-2-0,1.rio")
	expect.EQ(t, filepath.Base(paths[1]), "rnaseq-1-2-2.rio")

	// Nothing was persisted, and artifacts are never overwritten.
	err = f.db.View(f.ctx, func(v *store.View) error {
		infs, err := v.Inferences(f.ctx)
		require.NoError(t, err)
		expect.EQ(t, len(infs), 0)
		return nil
	})
	require.NoError(t, err)
	_, err = inference.RunAll(f.ctx, f.db, sampler, pairs, opts)
	expect.True(t, errors.Is(errors.Exists, err))

	merged, err := inference.Merge(f.ctx, f.db, paths, inference.DefaultOpts)
	require.NoError(t, err)
	require.Equal(t, 2, len(merged))
	expect.EQ(t, merged[0].Inference, merged[1].Inference)
	post, err := inference.Load(f.ctx, f.db, f.control, f.treated)
	require.NoError(t, err)
	expect.EQ(t, post.Draws[2][store.VarMu], []float64{2, 3, 4, 5})

	_, err = inference.Merge(f.ctx, f.db, paths[:1], inference.DefaultOpts)
	_, ok := err.(*store.DuplicateInferenceRunError)
	require.True(t, ok, "got %v", err)
}
