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

package load

import (
	"context"
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/rnaseq/encoding/bamprovider"
	"github.com/grailbio/rnaseq/store"
	"gopkg.in/guregu/null.v3"
)

// Opts controls ingestion.
type Opts struct {
	// ReadLength is subtracted from each header length to get the transcript
	// length. The aligner index pads every transcript by the read length.
	ReadLength int
	// Verbose enables progress logging at the default level.
	Verbose bool
	// Metrics, if non-nil, receives ingestion counts after each commit.
	Metrics *Metrics
}

// DefaultOpts are the default ingestion options.
var DefaultOpts = Opts{ReadLength: 38}

const progressInterval = 1 << 20

func (o Opts) progressf(format string, args ...interface{}) {
	if o.Verbose {
		log.Printf(format, args...)
	} else {
		log.Debug.Printf(format, args...)
	}
}

// Catalog derives transcript catalog entries from an alignment header.
func Catalog(header *sam.Header, readLength int) ([]store.Transcript, error) {
	refs := header.Refs()
	if len(refs) == 0 {
		return nil, errors.E(errors.Invalid, "alignment header lists no transcripts")
	}
	ts := make([]store.Transcript, len(refs))
	for i, ref := range refs {
		n := ref.Len() - readLength
		if n < 0 {
			return nil, errors.E(errors.Invalid,
				fmt.Sprintf("transcript %s: header length %d is shorter than the read length %d", ref.Name(), ref.Len(), readLength))
		}
		ts[i] = store.Transcript{ID: i, Label: ref.Name(), Length: n}
	}
	return ts, nil
}

// reconcile makes the store's catalog equal to ts: it inserts ts if this is
// the first file, and verifies it otherwise.
func reconcile(ctx context.Context, tx *store.Tx, path string, ts []store.Transcript) error {
	first, err := tx.FinalizeCatalog(ctx)
	if err != nil {
		return err
	}
	if first {
		log.Debug.Printf("%s: defining the catalog with %d transcripts", path, len(ts))
		return tx.InsertTranscripts(ctx, ts)
	}
	stored, err := tx.Transcripts(ctx)
	if err != nil {
		return err
	}
	n := len(stored)
	if len(ts) > n {
		n = len(ts)
	}
	for i := 0; i < n; i++ {
		var want, got store.Transcript
		if i < len(stored) {
			want = stored[i]
		}
		if i < len(ts) {
			got = ts[i]
		}
		if want != got || i >= len(stored) || i >= len(ts) {
			return &CatalogMismatchError{Path: path, Index: i, Want: want, Got: got}
		}
	}
	return nil
}

// stats accumulates one file's counts until it commits.
type stats struct {
	readsets, alignments, skipped, created, incremented int64
}

type pendingMultiplicity struct {
	m store.Multiplicity
	n int64
}

// Ingest loads the records of provider into the store as a new sample of
// group. path is recorded as the sample's filename. The provider must yield
// records grouped by read name. On any error, including
// *CatalogMismatchError, nothing derived from the file is committed.
func Ingest(ctx context.Context, db *store.DB, provider bamprovider.Provider, path string, group int64, opts Opts) (store.Sample, error) {
	header, err := provider.GetHeader()
	if err != nil {
		return store.Sample{}, err
	}
	catalog, err := Catalog(header, opts.ReadLength)
	if err != nil {
		return store.Sample{}, errors.E(err, path)
	}
	var (
		sample store.Sample
		st     stats
	)
	err = db.Update(ctx, func(tx *store.Tx) error {
		st = stats{}
		var err error
		if sample, err = tx.CreateSample(ctx, group, path); err != nil {
			return err
		}
		if err = reconcile(ctx, tx, path, catalog); err != nil {
			return err
		}
		if err = tx.InitDepth(ctx, sample.ID, catalog); err != nil {
			return err
		}
		depth, mults, err := scan(provider, path, sample.ID, catalog, opts, &st)
		if err != nil {
			return err
		}
		for _, p := range mults {
			created, err := tx.AddMultiplicity(ctx, p.m, p.n)
			if err != nil {
				return err
			}
			if created {
				st.created++
				st.incremented += p.n - 1
			} else {
				st.incremented += p.n
			}
		}
		if err = tx.AddDepth(ctx, sample.ID, depth); err != nil {
			return err
		}
		sample.NReads = null.IntFrom(st.readsets)
		return tx.SetReadCount(ctx, sample.ID, st.readsets)
	})
	if err != nil {
		return store.Sample{}, err
	}
	opts.Metrics.add(1, st.readsets, st.alignments, st.skipped, st.created, st.incremented)
	opts.progressf("%s: sample %d: %d readsets, %d alignments (%d skipped), %d new multiplicities",
		path, sample.ID, st.readsets, st.alignments, st.skipped, st.created)
	return sample, nil
}

// scan reads every readset of provider and returns the depth increments and
// the multiplicities observed, sorted by id.
func scan(provider bamprovider.Provider, path string, sample int64, catalog []store.Transcript, opts Opts, st *stats) (map[store.Location]int64, []pendingMultiplicity, error) {
	depth := make(map[store.Location]int64)
	byID := make(map[int64]*pendingMultiplicity)
	iter := provider.NewIterator()
	rs := newReadsetScanner(iter)
	var locs []store.Location
	for rs.Scan() {
		st.readsets++
		locs = locs[:0]
		for _, r := range rs.Readset() {
			if r.Ref == nil || r.Flags&sam.Unmapped != 0 {
				continue
			}
			l := store.Location{Transcript: r.Ref.ID(), Position: r.Pos}
			if l.Transcript < 0 || l.Transcript >= len(catalog) || l.Position < 0 || l.Position >= catalog[l.Transcript].Length {
				st.skipped++
				continue
			}
			st.alignments++
			depth[l]++
			locs = append(locs, l)
		}
		if len(locs) > 1 {
			entries, targets := canonicalTargets(append([]store.Location(nil), locs...))
			if len(entries) > 1 {
				id := multiplicityID(sample, targets)
				p := byID[id]
				if p == nil {
					p = &pendingMultiplicity{m: store.Multiplicity{ID: id, Sample: sample, Targets: targets, Entries: entries}}
					byID[id] = p
				} else if p.m.Targets != targets {
					_ = iter.Close()
					return nil, nil, errors.E(errors.Integrity,
						fmt.Sprintf("%s: multiplicity %d: id collision between %q and %q", path, id, p.m.Targets, targets))
				}
				p.n++
			}
		}
		if st.readsets%progressInterval == 0 {
			opts.progressf("%s: %d readsets", path, st.readsets)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, nil, errors.E(err, "read", path)
	}
	mults := make([]pendingMultiplicity, 0, len(byID))
	for _, p := range byID {
		mults = append(mults, *p)
	}
	sort.Slice(mults, func(i, j int) bool { return mults[i].m.ID < mults[j].m.ID })
	return depth, mults, nil
}

// IngestFile ingests the BAM or SAM file at path into group.
func IngestFile(ctx context.Context, db *store.DB, path string, group int64, opts Opts) (store.Sample, error) {
	provider := bamprovider.NewProvider(path)
	sample, err := Ingest(ctx, db, provider, path, group, opts)
	if cerr := provider.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return sample, err
}

// IngestFiles ingests paths into group one at a time, each file in its own
// transaction. It stops at the first failure; files before it stay
// committed.
func IngestFiles(ctx context.Context, db *store.DB, paths []string, group int64, opts Opts) ([]store.Sample, error) {
	samples := make([]store.Sample, 0, len(paths))
	for _, path := range paths {
		s, err := IngestFile(ctx, db, path, group, opts)
		if err != nil {
			return samples, err
		}
		samples = append(samples, s)
	}
	return samples, nil
}
