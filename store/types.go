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

package store

import (
	"fmt"

	"gopkg.in/guregu/null.v3"
)

// SampleGroup is one biological condition.
type SampleGroup struct {
	ID        int64  `db:"id"`
	Label     string `db:"label"`
	IsControl bool   `db:"is_control"`
}

// Sample is one ingested alignment file. NReads stays null until the file's
// ingestion finishes.
type Sample struct {
	ID       int64    `db:"id"`
	Group    int64    `db:"sample_group"`
	Filename string   `db:"filename"`
	NReads   null.Int `db:"n_reads"`
}

// Transcript is one catalog entry. ID is the ordinal of the reference in the
// alignment header; Length excludes the aligner's read-length padding.
type Transcript struct {
	ID     int    `db:"id"`
	Label  string `db:"label"`
	Length int    `db:"length"`
}

// Location is a (transcript, 0-based leftsite) pair.
type Location struct {
	Transcript int `db:"transcript" json:"transcript"`
	Position   int `db:"position" json:"position"`
}

// String implements fmt.Stringer.
func (l Location) String() string {
	return fmt.Sprintf("%d:%d", l.Transcript, l.Position)
}

// Less orders locations by transcript, then position.
func (l Location) Less(o Location) bool {
	if l.Transcript != o.Transcript {
		return l.Transcript < o.Transcript
	}
	return l.Position < o.Position
}

// Depth is the leftsite count of one sample at one location.
type Depth struct {
	Sample int64 `db:"sample"`
	Location
	N int64 `db:"n"`
}

// Multiplicity is a multi-mapped readset observed N times in one sample.
// Targets is the canonical encoding of the sorted location set that the ID
// was derived from.
type Multiplicity struct {
	ID      int64      `db:"id"`
	Sample  int64      `db:"sample"`
	Targets string     `db:"targets"`
	N       int64      `db:"n"`
	Entries []Location `db:"-"`
}

// Inference is one analyzed group pair. Group1 <= Group2.
type Inference struct {
	ID     int64 `db:"id"`
	Group1 int64 `db:"group1"`
	Group2 int64 `db:"group2"`
}

// Posterior variables.
const (
	// VarMu is the location shift between the two groups.
	VarMu = "mu"
	// VarA is the scale term.
	VarA = "a"
)

// PosteriorSample is one posterior draw.
type PosteriorSample struct {
	Inference  int64   `db:"inference"`
	Transcript int     `db:"transcript"`
	Variable   string  `db:"variable"`
	Sample     int     `db:"sample"`
	Value      float64 `db:"value"`
}
