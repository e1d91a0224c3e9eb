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
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/rnaseq/inference"
	"github.com/grailbio/rnaseq/store"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func shSampler(script string, n int) *inference.ExecSampler {
	s := inference.DefaultExecSampler
	s.Path = "/bin/sh"
	s.Args = []string{"-c", script}
	s.NSamples = n
	return &s
}

func TestExecSampler(t *testing.T) {
	ctx := context.Background()
	req := &inference.Request{Group1: 1, Group2: 2, Transcripts: []inference.Transcript{{ID: 5, Label: "tx5", Length: 10}}}

	// The program sees the sampling parameters on stdin.
	s := shSampler(`grep -q '"n_samples":2,"burn":2000,"thin":5' && echo '{"draws":{"5":{"mu":[1,2],"a":[3,4]}}}'`, 2)
	post, err := s.Sample(ctx, req)
	require.NoError(t, err)
	expect.EQ(t, post.Draws[5][store.VarMu], []float64{1, 2})
	expect.EQ(t, post.Draws[5][store.VarA], []float64{3, 4})

	// Wrong number of draws.
	_, err = shSampler(`cat >/dev/null; echo '{"draws":{"5":{"mu":[1],"a":[3]}}}'`, 2).Sample(ctx, req)
	expect.True(t, errors.Is(errors.Integrity, err))

	// Missing variable.
	_, err = shSampler(`cat >/dev/null; echo '{"draws":{"5":{"mu":[1,2]}}}'`, 2).Sample(ctx, req)
	expect.True(t, errors.Is(errors.Integrity, err))

	// Program failure carries stderr.
	_, err = shSampler(`cat >/dev/null; echo not converged >&2; exit 3`, 2).Sample(ctx, req)
	require.Error(t, err)
	expect.True(t, strings.Contains(err.Error(), "not converged"))

	_, err = (&inference.ExecSampler{}).Sample(ctx, req)
	expect.True(t, errors.Is(errors.Invalid, err))
}
