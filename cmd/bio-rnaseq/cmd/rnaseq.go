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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/rnaseq/inference"
	"github.com/grailbio/rnaseq/load"
	"github.com/grailbio/rnaseq/manifest"
	"github.com/grailbio/rnaseq/store"
	"github.com/grailbio/rnaseq/subproblem"
	"github.com/prometheus/client_golang/prometheus"
)

// commonFlags are shared by every subcommand.
type commonFlags struct {
	store      string
	metricsOut string
	verbose    bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.store, "store", "rnaseq.db", "Store DSN: a SQLite path or file: URI, or a postgres:// URL")
	fs.StringVar(&c.metricsOut, "metrics-out", "", "If set, write Prometheus metrics in text format to this path on exit")
	fs.BoolVar(&c.verbose, "verbose", false, "Log progress at the default level")
}

// withStore opens the store and a metrics registry, runs fn, and then writes
// the metrics and closes the store.
func (c *commonFlags) withStore(ctx context.Context, fn func(db *store.DB, reg *prometheus.Registry) error) (err error) {
	db, err := store.Open(ctx, c.store)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reg := prometheus.NewRegistry()
	err = fn(db, reg)
	if c.metricsOut != "" {
		if merr := prometheus.WriteToTextfile(c.metricsOut, reg); merr != nil {
			log.Error.Printf("write metrics to %s: %v", c.metricsOut, merr)
			if err == nil {
				err = errors.E(merr, "write metrics", c.metricsOut)
			}
		}
	}
	return err
}

// samplerFlags configure inference.ExecSampler.
type samplerFlags struct {
	path     string
	args     string
	nSamples int
	burn     int
	thin     int
}

func (s *samplerFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&s.path, "sampler", "", "Sampler program. It reads a JSON request on stdin and writes JSON draws on stdout")
	fs.StringVar(&s.args, "sampler-args", "", "Space-separated arguments passed to the sampler program")
	fs.IntVar(&s.nSamples, "n-samples", inference.DefaultExecSampler.NSamples, "Number of posterior draws per transcript and variable")
	fs.IntVar(&s.burn, "burn", inference.DefaultExecSampler.Burn, "Number of burn-in draws to discard")
	fs.IntVar(&s.thin, "thin", inference.DefaultExecSampler.Thin, "Keep every n'th draw after the burn-in")
}

func (s *samplerFlags) sampler() (*inference.ExecSampler, error) {
	if s.path == "" {
		return nil, errors.E(errors.Invalid, "-sampler must be set")
	}
	return &inference.ExecSampler{
		Path:     s.path,
		Args:     strings.Fields(s.args),
		NSamples: s.nSamples,
		Burn:     s.burn,
		Thin:     s.thin,
	}, nil
}

// inferFlags configure inference.Opts.
type inferFlags struct {
	parallelism int
	policy      string
	artifactDir string
}

func (f *inferFlags) register(fs *flag.FlagSet) {
	fs.IntVar(&f.parallelism, "parallelism", inference.DefaultOpts.Parallelism, "Maximum number of concurrent sampler runs; 0 means the number of CPUs")
	fs.StringVar(&f.policy, "policy", inference.DefaultOpts.Policy.String(), "Group pairing policy: control-aware or all-pairs")
	fs.StringVar(&f.artifactDir, "artifact-dir", "", "If set, write posterior draws as artifacts in this directory instead of the store")
}

func (f *inferFlags) opts(common commonFlags, reg prometheus.Registerer) (inference.Opts, error) {
	policy, err := inference.ParsePolicy(f.policy)
	if err != nil {
		return inference.Opts{}, err
	}
	opts := inference.DefaultOpts
	opts.Parallelism = f.parallelism
	opts.Policy = policy
	opts.ArtifactDir = f.artifactDir
	opts.Verbose = common.verbose
	opts.Metrics = inference.NewMetrics(reg)
	return opts, nil
}

func loadOpts(common commonFlags, readLength int, reg prometheus.Registerer) load.Opts {
	opts := load.DefaultOpts
	opts.ReadLength = readLength
	opts.Verbose = common.verbose
	opts.Metrics = load.NewMetrics(reg)
	return opts
}

// resolveGroup looks up a group by label, or by id when no group has that
// label.
func resolveGroup(ctx context.Context, db *store.DB, s string) (g store.SampleGroup, err error) {
	err = db.View(ctx, func(v *store.View) error {
		var err error
		g, err = v.GroupByLabel(ctx, s)
		if err == nil || !errors.Is(errors.NotExist, err) {
			return err
		}
		id, perr := strconv.ParseInt(s, 10, 64)
		if perr != nil {
			return err
		}
		g, err = v.Group(ctx, id)
		return err
	})
	return
}

// parseIDs parses a comma-separated list of transcript ids.
func parseIDs(s string) ([]int, error) {
	var ids []int
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f == "" {
			continue
		}
		id, err := strconv.Atoi(f)
		if err != nil || id < 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("bad transcript id %q", f))
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.E(errors.Invalid, "no transcript ids given")
	}
	return ids, nil
}

func formatIDs(ids []int) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = strconv.Itoa(id)
	}
	return strings.Join(s, ",")
}

type groupRow struct {
	ID      int64  `tsv:"id"`
	Label   string `tsv:"label"`
	Control string `tsv:"control"`
}

func writeGroups(w io.Writer, groups []store.SampleGroup) error {
	tw := tsv.NewRowWriter(w)
	for _, g := range groups {
		if err := tw.Write(&groupRow{g.ID, g.Label, strconv.FormatBool(g.IsControl)}); err != nil {
			return err
		}
	}
	return tw.Flush()
}

type groupFlags struct {
	common  commonFlags
	control bool
	id      int64
}

// group registers one sample group, or lists the groups when label is empty.
func group(ctx context.Context, w io.Writer, flags groupFlags, label string) error {
	return flags.common.withStore(ctx, func(db *store.DB, _ *prometheus.Registry) error {
		if label == "" {
			groups, err := db.Groups(ctx)
			if err != nil {
				return err
			}
			return writeGroups(w, groups)
		}
		g, err := db.CreateGroup(ctx, store.SampleGroup{ID: flags.id, Label: label, IsControl: flags.control})
		if err != nil {
			return err
		}
		log.Printf("created sample group %d (%s, control=%v)", g.ID, g.Label, g.IsControl)
		return writeGroups(w, []store.SampleGroup{g})
	})
}

type loadFlags struct {
	common     commonFlags
	group      string
	manifest   string
	readLength int
}

// loadFiles ingests paths into the group named by flags.group, or every file
// of flags.manifest.
func loadFiles(ctx context.Context, flags loadFlags, paths []string) error {
	if (flags.group == "") == (flags.manifest == "") {
		return errors.E(errors.Invalid, "exactly one of -group and -manifest must be set")
	}
	if flags.manifest != "" && len(paths) > 0 {
		return errors.E(errors.Invalid, "-manifest takes no file arguments")
	}
	if flags.group != "" && len(paths) == 0 {
		return errors.E(errors.Invalid, "no alignment files given")
	}
	return flags.common.withStore(ctx, func(db *store.DB, reg *prometheus.Registry) error {
		opts := loadOpts(flags.common, flags.readLength, reg)
		if flags.manifest != "" {
			_, err := loadManifest(ctx, db, flags.manifest, opts)
			return err
		}
		g, err := resolveGroup(ctx, db, flags.group)
		if err != nil {
			return err
		}
		samples, err := load.IngestFiles(ctx, db, paths, g.ID, opts)
		for _, s := range samples {
			log.Printf("%s: sample %d in group %s", s.Filename, s.ID, g.Label)
		}
		return err
	})
}

// loadManifest registers the manifest's groups and ingests their files.
func loadManifest(ctx context.Context, db *store.DB, path string, opts load.Opts) ([]store.SampleGroup, error) {
	m, err := manifest.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	groups, err := m.Register(ctx, db)
	if err != nil {
		return nil, err
	}
	for i, g := range groups {
		samples, err := load.IngestFiles(ctx, db, m.Groups[i].Files, g.ID, opts)
		if err != nil {
			return nil, err
		}
		log.Printf("group %s: loaded %d files", g.Label, len(samples))
	}
	return groups, nil
}

type subproblemFlags struct {
	common commonFlags
	check  string
}

// subproblems prints one line of comma-separated transcript ids per
// subproblem, or checks that flags.check is a complete subproblem.
func subproblems(ctx context.Context, w io.Writer, flags subproblemFlags) error {
	return flags.common.withStore(ctx, func(db *store.DB, _ *prometheus.Registry) error {
		if flags.check != "" {
			ids, err := parseIDs(flags.check)
			if err != nil {
				return err
			}
			if err := subproblem.Check(ctx, db, ids); err != nil {
				return err
			}
			_, err = fmt.Fprintf(w, "%s: complete\n", formatIDs(ids))
			return err
		}
		subs, err := subproblem.Find(ctx, db)
		if err != nil {
			return err
		}
		for _, s := range subs {
			if _, err := fmt.Fprintln(w, formatIDs(s)); err != nil {
				return err
			}
		}
		log.Printf("%d subproblems", len(subs))
		return nil
	})
}

type inferCmdFlags struct {
	common  commonFlags
	sampler samplerFlags
	infer   inferFlags
}

// infer analyzes one subproblem for one pair of groups.
func infer(ctx context.Context, flags inferCmdFlags, group1, group2, transcripts string) error {
	sampler, err := flags.sampler.sampler()
	if err != nil {
		return err
	}
	ids, err := parseIDs(transcripts)
	if err != nil {
		return err
	}
	return flags.common.withStore(ctx, func(db *store.DB, reg *prometheus.Registry) error {
		opts, err := flags.infer.opts(flags.common, reg)
		if err != nil {
			return err
		}
		g1, err := resolveGroup(ctx, db, group1)
		if err != nil {
			return err
		}
		g2, err := resolveGroup(ctx, db, group2)
		if err != nil {
			return err
		}
		res, err := inference.RunInference(ctx, db, sampler, g1.ID, g2.ID, ids, opts)
		if err != nil {
			return err
		}
		logResult(res)
		return nil
	})
}

func logResult(res *inference.Result) {
	if res.Artifact != "" {
		log.Printf("groups %v: transcripts %s: wrote %s", res.Pair, formatIDs(res.Transcripts), res.Artifact)
	} else {
		log.Printf("groups %v: transcripts %s: stored under inference %d", res.Pair, formatIDs(res.Transcripts), res.Inference)
	}
}

// merge persists artifacts into the store.
func merge(ctx context.Context, common commonFlags, paths []string) error {
	if len(paths) == 0 {
		return errors.E(errors.Invalid, "no artifacts given")
	}
	return common.withStore(ctx, func(db *store.DB, reg *prometheus.Registry) error {
		opts := inference.DefaultOpts
		opts.Verbose = common.verbose
		opts.Metrics = inference.NewMetrics(reg)
		results, err := inference.Merge(ctx, db, paths, opts)
		for _, res := range results {
			logResult(res)
		}
		return err
	})
}

type runFlags struct {
	common     commonFlags
	sampler    samplerFlags
	infer      inferFlags
	manifest   string
	readLength int
	summary    string
}

// runJob loads a manifest, analyzes every subproblem for every pair of its
// groups, and writes the summaries.
func runJob(ctx context.Context, w io.Writer, flags runFlags) error {
	if flags.manifest == "" {
		return errors.E(errors.Invalid, "-manifest must be set")
	}
	sampler, err := flags.sampler.sampler()
	if err != nil {
		return err
	}
	return flags.common.withStore(ctx, func(db *store.DB, reg *prometheus.Registry) error {
		opts, err := flags.infer.opts(flags.common, reg)
		if err != nil {
			return err
		}
		groups, err := loadManifest(ctx, db, flags.manifest, loadOpts(flags.common, flags.readLength, reg))
		if err != nil {
			return err
		}
		pairs := inference.Pairs(groups, opts.Policy)
		log.Printf("%d groups, %d pairs under policy %v", len(groups), len(pairs), opts.Policy)
		results, err := inference.RunAll(ctx, db, sampler, pairs, opts)
		if err != nil {
			return err
		}
		if opts.ArtifactDir != "" {
			log.Printf("wrote %d artifacts to %s", len(results), opts.ArtifactDir)
			return nil
		}
		return writeSummary(ctx, w, db, flags.summary)
	})
}

// writeSummary writes the posterior summaries of db to path, or to w if path
// is empty.
func writeSummary(ctx context.Context, w io.Writer, db *store.DB, path string) (err error) {
	summaries, err := inference.Summarize(ctx, db)
	if err != nil {
		return err
	}
	if path == "" {
		return inference.WriteSummaries(w, summaries)
	}
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create", path)
	}
	defer func() {
		if cerr := out.Close(ctx); cerr != nil && err == nil {
			err = errors.E(cerr, "close", path)
		}
	}()
	return inference.WriteSummaries(out.Writer(ctx), summaries)
}

type summarizeFlags struct {
	common commonFlags
	out    string
}

func summarize(ctx context.Context, w io.Writer, flags summarizeFlags) error {
	return flags.common.withStore(ctx, func(db *store.DB, _ *prometheus.Registry) error {
		return writeSummary(ctx, w, db, flags.out)
	})
}
