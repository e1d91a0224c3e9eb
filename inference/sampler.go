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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Sampler estimates the posterior of a one-way linear model. Implementations
// must be safe for concurrent use.
type Sampler interface {
	// Sample returns the posterior draws for every transcript of req.
	Sample(ctx context.Context, req *Request) (*Posterior, error)
}

// ExecSampler runs an external program per request. The program reads an
// execInput as JSON on stdin and writes a Posterior as JSON on stdout.
type ExecSampler struct {
	// Path is the program to run.
	Path string
	// Args are passed to the program.
	Args []string
	// NSamples is the number of draws to return per transcript and variable.
	NSamples int
	// Burn is the number of raw draws the program discards first.
	Burn int
	// Thin keeps every Thin'th raw draw after the burn-in.
	Thin int
}

// DefaultExecSampler holds the default sampling parameters. Path must be set.
var DefaultExecSampler = ExecSampler{
	NSamples: 500,
	Burn:     2000,
	Thin:     5,
}

type execInput struct {
	NSamples int      `json:"n_samples"`
	Burn     int      `json:"burn"`
	Thin     int      `json:"thin"`
	Request  *Request `json:"request"`
}

// Sample implements Sampler.
func (s *ExecSampler) Sample(ctx context.Context, req *Request) (*Posterior, error) {
	if s.Path == "" {
		return nil, errors.E(errors.Invalid, "sampler program is not set")
	}
	in, err := json.Marshal(execInput{NSamples: s.NSamples, Burn: s.Burn, Thin: s.Thin, Request: req})
	if err != nil {
		return nil, errors.E(err, "encode sampler request")
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.Path, s.Args...)
	cmd.Stdin = bytes.NewReader(in)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	log.Debug.Printf("%s: sampling groups (%d, %d), %d transcripts, %d samples",
		s.Path, req.Group1, req.Group2, len(req.Transcripts), len(req.Samples))
	if err := cmd.Run(); err != nil {
		return nil, errors.E(err, fmt.Sprintf("sampler %s: %s", s.Path, strings.TrimSpace(stderr.String())))
	}
	post := &Posterior{}
	if err := json.Unmarshal(stdout.Bytes(), post); err != nil {
		return nil, errors.E(err, fmt.Sprintf("sampler %s: decode posterior", s.Path))
	}
	if err := post.Validate(req.TranscriptIDs(), s.NSamples); err != nil {
		return nil, errors.E(err, fmt.Sprintf("sampler %s", s.Path))
	}
	return post, nil
}
