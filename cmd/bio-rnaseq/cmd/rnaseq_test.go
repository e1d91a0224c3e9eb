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
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/rnaseq/inference"
	"github.com/grailbio/rnaseq/store"
	"github.com/grailbio/rnaseq/subproblem"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

// Both transcripts have effective length 10. r1 links them.
const testSAM = "@HD\tVN:1.0\tSO:queryname\n" +
	"@SQ\tSN:tx0\tLN:48\n" +
	"@SQ\tSN:tx1\tLN:48\n" +
	"r1\t0\ttx0\t4\t255\t10M\t*\t0\t0\tACGTACGTAC\t*\n" +
	"r1\t256\ttx1\t4\t255\t10M\t*\t0\t0\tACGTACGTAC\t*\n" +
	"r2\t0\ttx1\t8\t255\t10M\t*\t0\t0\tACGTACGTAC\t*\n"

const testDraws = `{"draws":{"0":{"mu":[1,3],"a":[1,1]},"1":{"mu":[2,4],"a":[1,1]}}}`

func writeFixture(t *testing.T, dir string) string {
	for _, name := range []string{"ctl.sam", "trt.sam"} {
		require.NoError(t, ioutil.WriteFile(filepath.Join(dir, name), []byte(testSAM), 0600))
	}
	path := filepath.Join(dir, "jobs.tsv")
	require.NoError(t, ioutil.WriteFile(path,
		[]byte("group\tcontrol\tpath\nctl\ttrue\tctl.sam\ntrt\tfalse\ttrt.sam\n"), 0600))
	return path
}

func testSampler(t *testing.T, dir string) samplerFlags {
	path := filepath.Join(dir, "sampler.sh")
	script := "#!/bin/sh\ncat >/dev/null\necho '" + testDraws + "'\n"
	require.NoError(t, ioutil.WriteFile(path, []byte(script), 0700))
	return samplerFlags{
		path:     path,
		nSamples: 2,
		burn:     inference.DefaultExecSampler.Burn,
		thin:     inference.DefaultExecSampler.Thin,
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs("3, 1,,2")
	require.NoError(t, err)
	expect.EQ(t, ids, []int{3, 1, 2})
	expect.EQ(t, formatIDs(ids), "3,1,2")
	for _, s := range []string{"", ",", "1,x", "-1"} {
		_, err := parseIDs(s)
		expect.True(t, errors.Is(errors.Invalid, err), s)
	}
}

func TestGroupCommand(t *testing.T) {
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	common := commonFlags{store: filepath.Join(dir, "rnaseq.db")}

	var out bytes.Buffer
	require.NoError(t, group(ctx, &out, groupFlags{common: common, control: true}, "wt"))
	require.NoError(t, group(ctx, &out, groupFlags{common: common, id: 7}, "ko"))
	err := group(ctx, &out, groupFlags{common: common}, "wt")
	_, ok := err.(*store.DuplicateGroupError)
	expect.True(t, ok, err)

	out.Reset()
	require.NoError(t, group(ctx, &out, groupFlags{common: common}, ""))
	expect.EQ(t, out.String(), "id\tlabel\tcontrol\n1\twt\ttrue\n7\tko\tfalse\n")

	db, err := store.Open(ctx, common.store)
	require.NoError(t, err)
	defer db.Close()
	g, err := resolveGroup(ctx, db, "ko")
	require.NoError(t, err)
	expect.EQ(t, g.ID, int64(7))
	g, err = resolveGroup(ctx, db, "1")
	require.NoError(t, err)
	expect.EQ(t, g.Label, "wt")
	_, err = resolveGroup(ctx, db, "missing")
	expect.True(t, errors.Is(errors.NotExist, err))
}

func TestLoadFlags(t *testing.T) {
	ctx := context.Background()
	common := commonFlags{store: "unused.db"}
	err := loadFiles(ctx, loadFlags{common: common}, []string{"a.bam"})
	expect.True(t, errors.Is(errors.Invalid, err))
	err = loadFiles(ctx, loadFlags{common: common, group: "g", manifest: "m.tsv"}, nil)
	expect.True(t, errors.Is(errors.Invalid, err))
	err = loadFiles(ctx, loadFlags{common: common, manifest: "m.tsv"}, []string{"a.bam"})
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestStepByStep(t *testing.T) {
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	writeFixture(t, dir)
	common := commonFlags{store: filepath.Join(dir, "rnaseq.db")}

	var out bytes.Buffer
	require.NoError(t, group(ctx, &out, groupFlags{common: common, control: true}, "ctl"))
	require.NoError(t, group(ctx, &out, groupFlags{common: common}, "trt"))
	require.NoError(t, loadFiles(ctx, loadFlags{common: common, group: "ctl", readLength: 38},
		[]string{filepath.Join(dir, "ctl.sam")}))
	require.NoError(t, loadFiles(ctx, loadFlags{common: common, group: "2", readLength: 38},
		[]string{filepath.Join(dir, "trt.sam")}))

	out.Reset()
	require.NoError(t, subproblems(ctx, &out, subproblemFlags{common: common}))
	expect.EQ(t, out.String(), "0,1\n")
	out.Reset()
	require.NoError(t, subproblems(ctx, &out, subproblemFlags{common: common, check: "1,0"}))
	expect.EQ(t, out.String(), "1,0: complete\n")
	err := subproblems(ctx, &out, subproblemFlags{common: common, check: "0"})
	_, ok := err.(*subproblem.IncompleteSubproblemError)
	expect.True(t, ok, err)

	artifacts := filepath.Join(dir, "artifacts")
	require.NoError(t, os.MkdirAll(artifacts, 0700))
	flags := inferCmdFlags{
		common:  common,
		sampler: testSampler(t, dir),
		infer:   inferFlags{policy: "control-aware", artifactDir: artifacts},
	}
	require.NoError(t, infer(ctx, flags, "trt", "ctl", "0,1"))
	paths, err := filepath.Glob(filepath.Join(artifacts, "*.rio"))
	require.NoError(t, err)
	require.Equal(t, 1, len(paths))
	expect.EQ(t, filepath.Base(paths[0]), "rnaseq-1-2-0,1.rio")
	require.NoError(t, merge(ctx, common, paths))

	// The merged draws already cover the subproblem.
	flags.infer.artifactDir = ""
	err = infer(ctx, flags, "ctl", "trt", "0,1")
	_, ok = err.(*store.DuplicateInferenceRunError)
	expect.True(t, ok, err)

	out.Reset()
	require.NoError(t, summarize(ctx, &out, summarizeFlags{common: common}))
	summaries, err := inference.ReadSummaries(&out)
	require.NoError(t, err)
	require.Equal(t, 4, len(summaries))
	expect.EQ(t, summaries[3].Label, "tx1")
	expect.EQ(t, summaries[3].Variable, store.VarMu)
	expect.EQ(t, summaries[3].Mean, 3.0)
}

func TestRunJob(t *testing.T) {
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	flags := runFlags{
		common: commonFlags{
			store:      filepath.Join(dir, "rnaseq.db"),
			metricsOut: filepath.Join(dir, "metrics.prom"),
		},
		sampler:    testSampler(t, dir),
		infer:      inferFlags{parallelism: 2, policy: "control-aware"},
		manifest:   writeFixture(t, dir),
		readLength: 38,
		summary:    filepath.Join(dir, "summary.tsv"),
	}
	var out bytes.Buffer
	require.NoError(t, runJob(ctx, &out, flags))
	expect.EQ(t, out.Len(), 0)

	data, err := ioutil.ReadFile(flags.summary)
	require.NoError(t, err)
	summaries, err := inference.ReadSummaries(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 4, len(summaries))
	for _, s := range summaries {
		expect.EQ(t, s.Group1, int64(1))
		expect.EQ(t, s.Group2, int64(2))
		expect.EQ(t, s.N, 2)
	}
	expect.EQ(t, summaries[0].Label, "tx0")
	expect.EQ(t, summaries[0].Variable, store.VarA)
	expect.EQ(t, summaries[0].Mean, 1.0)

	metrics, err := ioutil.ReadFile(flags.common.metricsOut)
	require.NoError(t, err)
	for _, want := range []string{
		"rnaseq_load_samples_total 2",
		"rnaseq_inference_subproblems_total 1",
	} {
		expect.True(t, strings.Contains(string(metrics), want), want)
	}

	// A second run finds the inference run already present.
	flags.summary = ""
	err = runJob(ctx, &out, flags)
	require.Error(t, err)

	_, err = (&samplerFlags{}).sampler()
	expect.True(t, errors.Is(errors.Invalid, err))
	flags.infer.policy = "bogus"
	expect.True(t, errors.Is(errors.Invalid, runJob(ctx, &out, flags)))
}
