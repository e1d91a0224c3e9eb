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
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/rnaseq/store"
	"github.com/grailbio/rnaseq/subproblem"
)

// Opts controls orchestration.
type Opts struct {
	// Parallelism bounds the number of concurrent sampler invocations in
	// RunAll. If zero, runtime.NumCPU() is used.
	Parallelism int
	// Policy selects the group pairs of a full job.
	Policy Policy
	// ArtifactDir, if nonempty, makes results go to artifacts in this
	// directory instead of the store.
	ArtifactDir string
	// Verbose enables progress logging at the default level.
	Verbose bool
	// Metrics, if non-nil, receives orchestration counts.
	Metrics *Metrics
}

// DefaultOpts are the default orchestration options.
var DefaultOpts = Opts{
	Parallelism: 0,
	Policy:      ControlAware,
}

func (o Opts) progressf(format string, args ...interface{}) {
	if o.Verbose {
		log.Printf(format, args...)
	} else {
		log.Debug.Printf(format, args...)
	}
}

// Result describes one finished (pair, subproblem) job.
type Result struct {
	Pair        Pair
	Transcripts []int
	// Inference is the id of the run the draws were persisted under. It is
	// zero when the draws went to Artifact instead.
	Inference int64
	Artifact  string
	Posterior *Posterior
}

// RunInference analyzes transcripts for groups group1 and group2 (in either
// order). transcripts must be a complete subproblem; otherwise it fails with
// *subproblem.IncompleteSubproblemError before the sampler runs. When the
// draws are persisted, transcripts that already have draws under the pair's
// run cause *store.DuplicateInferenceRunError.
func RunInference(ctx context.Context, db *store.DB, sampler Sampler, group1, group2 int64, transcripts []int, opts Opts) (*Result, error) {
	pair, err := NewPair(group1, group2)
	if err != nil {
		return nil, err
	}
	var p *subproblem.Partition
	if err := db.View(ctx, func(v *store.View) (err error) {
		p, err = subproblem.Load(ctx, v)
		return
	}); err != nil {
		return nil, err
	}
	return run(ctx, db, sampler, p, pair, transcripts, opts)
}

func run(ctx context.Context, db *store.DB, sampler Sampler, p *subproblem.Partition, pair Pair, transcripts []int, opts Opts) (*Result, error) {
	if err := p.Check(transcripts); err != nil {
		return nil, err
	}
	ids := append([]int(nil), transcripts...)
	sort.Ints(ids)
	res := &Result{Pair: pair, Transcripts: ids}

	var req *Request
	err := db.View(ctx, func(v *store.View) error {
		if opts.ArtifactDir == "" {
			if err := checkFresh(ctx, v, pair, ids); err != nil {
				return err
			}
		}
		var err error
		req, err = BuildRequest(ctx, v, pair, ids)
		return err
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	post, err := sampler.Sample(ctx, req)
	if err == nil {
		err = post.Validate(ids, 0)
	}
	opts.Metrics.observeSampler(start, err)
	if err != nil {
		return nil, err
	}
	res.Posterior = post

	if opts.ArtifactDir != "" {
		res.Artifact = filepath.Join(opts.ArtifactDir, ArtifactName(db.DSN(), pair, ids))
		a := &Artifact{Store: db.DSN(), Pair: pair, Transcripts: ids, Posterior: post}
		if err := WriteArtifact(ctx, res.Artifact, a); err != nil {
			return nil, err
		}
	} else if res.Inference, err = persist(ctx, db, pair, post); err != nil {
		return nil, err
	}
	draws := len(ids) * len(Variables) * len(post.Draws[ids[0]][Variables[0]])
	opts.Metrics.done(draws)
	opts.progressf("groups %v: transcripts %v: %d draws", pair, ids, draws)
	return res, nil
}

// checkFresh fails if any of ids already has draws under pair's run.
func checkFresh(ctx context.Context, v *store.View, pair Pair, ids []int) error {
	inf, found, err := v.Inference(ctx, pair.Group1, pair.Group2)
	if err != nil || !found {
		return err
	}
	done, err := v.Analyzed(ctx, inf.ID, ids)
	if err != nil {
		return err
	}
	if len(done) > 0 {
		return &store.DuplicateInferenceRunError{Group1: pair.Group1, Group2: pair.Group2, Inference: inf.ID, Transcripts: done}
	}
	return nil
}

// persist appends post under pair's run, creating the run if needed. The
// store's writer lock serializes run creation across concurrent jobs.
func persist(ctx context.Context, db *store.DB, pair Pair, post *Posterior) (id int64, err error) {
	err = db.Update(ctx, func(tx *store.Tx) error {
		inf, _, err := tx.EnsureInference(ctx, pair.Group1, pair.Group2)
		if err != nil {
			return err
		}
		id = inf.ID
		return tx.AppendPosteriors(ctx, inf, post.Rows(inf.ID))
	})
	return
}

// RunAll analyzes every subproblem of the store for every pair, up to
// opts.Parallelism jobs at a time. When persisting to the store, each pair's
// inference run must not exist yet; it is created before any sampling
// starts. Jobs commit independently: on failure, the runs may hold partial
// results and must be cleared before a retry.
func RunAll(ctx context.Context, db *store.DB, sampler Sampler, pairs []Pair, opts Opts) ([]*Result, error) {
	var p *subproblem.Partition
	if err := db.View(ctx, func(v *store.View) (err error) {
		p, err = subproblem.Load(ctx, v)
		return
	}); err != nil {
		return nil, err
	}
	if opts.ArtifactDir == "" {
		if err := db.Update(ctx, func(tx *store.Tx) error {
			for _, pair := range pairs {
				if _, err := tx.CreateInference(ctx, pair.Group1, pair.Group2); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}
	type job struct {
		pair        Pair
		transcripts []int
	}
	var jobs []job
	for _, pair := range pairs {
		for _, c := range p.Components {
			jobs = append(jobs, job{pair, c})
		}
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if parallelism > len(jobs) {
		parallelism = len(jobs)
	}
	opts.progressf("running %d jobs (%d pairs, %d subproblems) with parallelism %d",
		len(jobs), len(pairs), len(p.Components), parallelism)
	results := make([]*Result, len(jobs))
	err := traverse.Each(parallelism, func(worker int) error {
		startIdx := (worker * len(jobs)) / parallelism
		endIdx := ((worker + 1) * len(jobs)) / parallelism
		for i := startIdx; i < endIdx; i++ {
			j := jobs[i]
			res, err := run(ctx, db, sampler, p, j.pair, j.transcripts, opts)
			if err != nil {
				log.Error.Printf("groups %v: transcripts %v: %v", j.pair, j.transcripts, err)
				return err
			}
			results[i] = res
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Merge persists the artifacts at paths into db. Each artifact's transcripts
// must be a complete subproblem of db, and must not have draws under the
// pair's run yet.
func Merge(ctx context.Context, db *store.DB, paths []string, opts Opts) ([]*Result, error) {
	var p *subproblem.Partition
	if err := db.View(ctx, func(v *store.View) (err error) {
		p, err = subproblem.Load(ctx, v)
		return
	}); err != nil {
		return nil, err
	}
	var results []*Result
	for _, path := range paths {
		a, err := ReadArtifact(ctx, path)
		if err != nil {
			return results, err
		}
		if err := p.Check(a.Transcripts); err != nil {
			return results, err
		}
		if a.Store != db.DSN() {
			log.Printf("%s: artifact was built from store %s, merging into %s", path, a.Store, db.DSN())
		}
		id, err := persist(ctx, db, a.Pair, a.Posterior)
		if err != nil {
			return results, err
		}
		n := len(a.Posterior.Rows(id))
		opts.Metrics.done(n)
		opts.progressf("%s: merged %d draws into inference %d", path, n, id)
		results = append(results, &Result{
			Pair:        a.Pair,
			Transcripts: a.Transcripts,
			Inference:   id,
			Artifact:    path,
			Posterior:   a.Posterior,
		})
	}
	return results, nil
}

// Load returns the draws of inference for the given pair as a Posterior.
func Load(ctx context.Context, db *store.DB, group1, group2 int64) (post *Posterior, err error) {
	pair, err := NewPair(group1, group2)
	if err != nil {
		return nil, err
	}
	err = db.View(ctx, func(v *store.View) error {
		inf, found, err := v.Inference(ctx, pair.Group1, pair.Group2)
		if err != nil {
			return err
		}
		if !found {
			return errors.E(errors.NotExist, fmt.Sprintf("no inference for groups %v", pair))
		}
		rows, err := v.Posteriors(ctx, inf.ID)
		if err != nil {
			return err
		}
		post = posteriorFromRows(rows)
		return nil
	})
	return
}
