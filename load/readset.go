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
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/rnaseq/encoding/bamprovider"
)

// readsetScanner groups consecutive records that share a read name. The input
// must be sorted (or at least grouped) by read name; the scanner never looks
// back past the current group.
type readsetScanner struct {
	iter    bamprovider.Iterator
	pending *sam.Record // first record of the next readset
	cur     []*sam.Record
	done    bool
}

func newReadsetScanner(iter bamprovider.Iterator) *readsetScanner {
	return &readsetScanner{iter: iter}
}

// Scan advances to the next readset. It returns false at the end of input or
// on error; check Err.
func (s *readsetScanner) Scan() bool {
	s.cur = s.cur[:0]
	if s.pending != nil {
		s.cur = append(s.cur, s.pending)
		s.pending = nil
	}
	for !s.done {
		if !s.iter.Scan() {
			s.done = true
			break
		}
		r := s.iter.Record()
		if len(s.cur) > 0 && r.Name != s.cur[0].Name {
			s.pending = r
			return true
		}
		s.cur = append(s.cur, r)
	}
	return len(s.cur) > 0
}

// Readset returns the records of the current readset. The slice is reused by
// the next call to Scan.
func (s *readsetScanner) Readset() []*sam.Record { return s.cur }

// Err returns the iterator error, if any.
func (s *readsetScanner) Err() error { return s.iter.Err() }
