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

// This file defines the posterior artifact: a recordio file holding the
// draws of one (pair, subproblem) job, for transport out of band and a later
// Merge into a store.

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
)

const (
	// <artifactVersionHeader, artifactVersion> is stored in a recordio header.
	artifactVersionHeader = "rnaseqversion"
	artifactVersion       = "RNASEQ_POSTERIOR_V1"
	// artifactRunHeader holds the random id of the job that wrote the file.
	artifactRunHeader = "run"
)

// Artifact is the self-contained result of one job.
type Artifact struct {
	// Run identifies the job that produced the artifact.
	Run string
	// Store is the DSN of the store the request was built from.
	Store       string
	Pair        Pair
	Transcripts []int
	Posterior   *Posterior
}

// artifactTrailer is stored in the trailer section of the recordio file.
type artifactTrailer struct {
	Store       string
	Group1      int64
	Group2      int64
	Transcripts []int
}

// artifactRecord is one (transcript, variable) draw sequence.
type artifactRecord struct {
	Transcript int
	Variable   string
	Draws      []float64
}

// ArtifactName returns the default file name of the artifact for pair and
// transcripts: "<store>-<group1>-<group2>-<t1,t2,...>.rio", where <store> is
// the base name of the store file without its extension.
func ArtifactName(dsn string, pair Pair, transcripts []int) string {
	base := dsn
	if strings.Contains(base, "://") {
		base = "postgres"
	} else {
		base = strings.TrimPrefix(base, "file:")
		if i := strings.IndexByte(base, '?'); i >= 0 {
			base = base[:i]
		}
		base = filepath.Base(base)
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	ids := append([]int(nil), transcripts...)
	sort.Ints(ids)
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = strconv.Itoa(id)
	}
	return fmt.Sprintf("%s-%d-%d-%s.rio", base, pair.Group1, pair.Group2, strings.Join(strs, ","))
}

// WriteArtifact writes a to path. It refuses to replace an existing file.
func WriteArtifact(ctx context.Context, path string, a *Artifact) (err error) {
	if _, err := file.Stat(ctx, path); err == nil {
		return errors.E(errors.Exists, "artifact already exists", path)
	}
	if a.Run == "" {
		a.Run = uuid.New().String()
	}
	recordiozstd.Init()
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create", path)
	}
	defer func() {
		if cerr := out.Close(ctx); cerr != nil && err == nil {
			err = errors.E(cerr, "close", path)
		}
	}()
	w := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(artifactVersionHeader, artifactVersion)
	w.AddHeader(artifactRunHeader, a.Run)
	w.AddHeader(recordio.KeyTrailer, true)
	for _, row := range groupRows(a.Posterior) {
		b := bytes.Buffer{}
		if err := gob.NewEncoder(&b).Encode(row); err != nil {
			return errors.E(err, "encode", path)
		}
		w.Append(b.Bytes())
	}
	b := bytes.Buffer{}
	trailer := artifactTrailer{
		Store:       a.Store,
		Group1:      a.Pair.Group1,
		Group2:      a.Pair.Group2,
		Transcripts: a.Transcripts,
	}
	if err := gob.NewEncoder(&b).Encode(trailer); err != nil {
		return errors.E(err, "encode trailer", path)
	}
	w.SetTrailer(b.Bytes())
	if err := w.Finish(); err != nil {
		return errors.E(err, "write", path)
	}
	return nil
}

// groupRows returns the draw sequences of p ordered by transcript and
// variable.
func groupRows(p *Posterior) []artifactRecord {
	var rows []artifactRecord
	for _, r := range p.Rows(0) {
		n := len(rows)
		if n == 0 || rows[n-1].Transcript != r.Transcript || rows[n-1].Variable != r.Variable {
			rows = append(rows, artifactRecord{Transcript: r.Transcript, Variable: r.Variable})
			n++
		}
		rows[n-1].Draws = append(rows[n-1].Draws, r.Value)
	}
	return rows
}

// ReadArtifact reads an artifact written by WriteArtifact.
func ReadArtifact(ctx context.Context, path string) (a *Artifact, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open", path)
	}
	defer func() {
		if cerr := in.Close(ctx); cerr != nil && err == nil {
			err = errors.E(cerr, "close", path)
		}
	}()
	recordiozstd.Init()
	r := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{})
	a = &Artifact{Posterior: &Posterior{Draws: make(map[int]map[string][]float64)}}
	var version string
	for _, kv := range r.Header() {
		switch kv.Key {
		case artifactVersionHeader:
			version, _ = kv.Value.(string)
		case artifactRunHeader:
			a.Run, _ = kv.Value.(string)
		}
	}
	if version != artifactVersion {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: artifact version %q, want %q", path, version, artifactVersion))
	}
	for r.Scan() {
		var row artifactRecord
		if err := gob.NewDecoder(bytes.NewReader(r.Get().([]byte))).Decode(&row); err != nil {
			return nil, errors.E(err, "decode", path)
		}
		vars := a.Posterior.Draws[row.Transcript]
		if vars == nil {
			vars = make(map[string][]float64)
			a.Posterior.Draws[row.Transcript] = vars
		}
		vars[row.Variable] = row.Draws
	}
	if err := r.Err(); err != nil {
		return nil, errors.E(err, "read", path)
	}
	var trailer artifactTrailer
	if err := gob.NewDecoder(bytes.NewReader(r.Trailer())).Decode(&trailer); err != nil {
		return nil, errors.E(err, "decode trailer", path)
	}
	if err := r.Finish(); err != nil {
		return nil, errors.E(err, "read", path)
	}
	a.Store = trailer.Store
	a.Transcripts = trailer.Transcripts
	if a.Pair, err = NewPair(trailer.Group1, trailer.Group2); err != nil {
		return nil, errors.E(err, path)
	}
	if err := a.Posterior.Validate(a.Transcripts, 0); err != nil {
		return nil, errors.E(err, path)
	}
	return a, nil
}
