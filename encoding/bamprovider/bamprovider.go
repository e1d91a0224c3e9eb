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

package bamprovider

import (
	"io"
	"strings"
	"sync"

	"github.com/grailbio/base/errorreporter"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/klauspost/compress/gzip"
)

// recordReader is the subset of bam.Reader and sam.Reader used by the
// iterators.
type recordReader interface {
	Header() *sam.Header
	Read() (*sam.Record, error)
}

// openedReader bundles a recordReader with the resources that must be
// released once reading is done.
type openedReader struct {
	in     file.File
	reader recordReader
	closer func() error
}

func (o *openedReader) close() error {
	once := errors.Once{}
	if o.closer != nil {
		once.Set(o.closer())
	}
	if o.in != nil {
		once.Set(o.in.Close(vcontext.Background()))
	}
	return once.Err()
}

// fileProvider holds the state shared by BAMProvider and SAMProvider.
type fileProvider struct {
	err errorreporter.T

	mu      sync.Mutex
	nActive int
	header  *sam.Header
}

func (p *fileProvider) getHeader(path string, open func(string) (*openedReader, error)) (*sam.Header, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.header != nil {
		return p.header, nil
	}
	r, err := open(path)
	if err != nil {
		p.err.Set(err)
		return nil, err
	}
	p.header = r.reader.Header()
	if err := r.close(); err != nil {
		p.err.Set(err)
		return nil, err
	}
	return p.header, nil
}

func (p *fileProvider) newIterator(path string, open func(string) (*openedReader, error)) Iterator {
	r, err := open(path)
	if err != nil {
		p.err.Set(err)
		return NewErrorIterator(err)
	}
	p.mu.Lock()
	p.nActive++
	p.mu.Unlock()
	return &fileIterator{provider: p, r: r}
}

func (p *fileProvider) freeIterator(i *fileIterator) {
	p.err.Set(i.Err())
	p.mu.Lock()
	p.nActive--
	if p.nActive < 0 {
		log.Panicf("negative active iterator count for %+v", p)
	}
	p.mu.Unlock()
}

func (p *fileProvider) close(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nActive > 0 {
		log.Panicf("%s: %d iterators still active", path, p.nActive)
	}
	return p.err.Err()
}

// BAMProvider implements Provider for BAM files. The path is opened through
// grailbio/base/file, so any registered file scheme may be used.
type BAMProvider struct {
	// Path of the *.bam file. Must be nonempty.
	Path string
	fileProvider
}

func openBAM(path string) (*openedReader, error) {
	ctx := vcontext.Background()
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open", path)
	}
	reader, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		_ = in.Close(ctx)
		return nil, errors.E(err, "read bam header", path)
	}
	return &openedReader{in: in, reader: reader, closer: reader.Close}, nil
}

// GetHeader implements the Provider interface.
func (b *BAMProvider) GetHeader() (*sam.Header, error) {
	return b.getHeader(b.Path, openBAM)
}

// NewIterator implements the Provider interface.
func (b *BAMProvider) NewIterator() Iterator {
	return b.newIterator(b.Path, openBAM)
}

// Close implements the Provider interface.
func (b *BAMProvider) Close() error {
	return b.close(b.Path)
}

// SAMProvider implements Provider for SAM text files. Paths ending in ".gz"
// are decompressed on the fly.
type SAMProvider struct {
	// Path of the *.sam or *.sam.gz file. Must be nonempty.
	Path string
	fileProvider
}

func openSAM(path string) (*openedReader, error) {
	ctx := vcontext.Background()
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open", path)
	}
	var (
		r      io.Reader = in.Reader(ctx)
		closer func() error
	)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			_ = in.Close(ctx)
			return nil, errors.E(err, "gunzip", path)
		}
		r, closer = gz, gz.Close
	}
	reader, err := sam.NewReader(r)
	if err != nil {
		if closer != nil {
			_ = closer()
		}
		_ = in.Close(ctx)
		return nil, errors.E(err, "read sam header", path)
	}
	return &openedReader{in: in, reader: reader, closer: closer}, nil
}

// GetHeader implements the Provider interface.
func (s *SAMProvider) GetHeader() (*sam.Header, error) {
	return s.getHeader(s.Path, openSAM)
}

// NewIterator implements the Provider interface.
func (s *SAMProvider) NewIterator() Iterator {
	return s.newIterator(s.Path, openSAM)
}

// Close implements the Provider interface.
func (s *SAMProvider) Close() error {
	return s.close(s.Path)
}

type fileIterator struct {
	provider *fileProvider
	r        *openedReader
	next     *sam.Record
	err      error
	closed   bool
}

// Scan implements the Iterator interface.
func (i *fileIterator) Scan() bool {
	if i.closed {
		log.Panic("scan on a closed iterator")
	}
	if i.err != nil {
		return false
	}
	i.next, i.err = i.r.reader.Read()
	return i.err == nil
}

// Record implements the Iterator interface.
func (i *fileIterator) Record() *sam.Record {
	return i.next
}

// Err implements the Iterator interface.
func (i *fileIterator) Err() error {
	if i.err == io.EOF {
		return nil
	}
	return i.err
}

// Close implements the Iterator interface.
func (i *fileIterator) Close() error {
	if i.closed {
		log.Panic("iterator closed twice")
	}
	i.closed = true
	if err := i.r.close(); err != nil && i.Err() == nil {
		i.err = err
	}
	i.provider.freeIterator(i)
	return i.Err()
}
