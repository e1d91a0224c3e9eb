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
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/rnaseq/store"
)

// Policy selects which group pairs a job analyzes.
type Policy int

const (
	// ControlAware analyzes every unordered pair when the groups are all
	// control or all experimental, and only control/experimental pairs
	// otherwise.
	ControlAware Policy = iota
	// AllPairs analyzes every unordered pair of distinct groups.
	AllPairs
)

func (p Policy) String() string {
	switch p {
	case ControlAware:
		return "control-aware"
	case AllPairs:
		return "all-pairs"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy parses the output of Policy.String.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "control-aware":
		return ControlAware, nil
	case "all-pairs":
		return AllPairs, nil
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("unknown pairing policy %q", s))
}

// Pair is a canonical group pair, Group1 < Group2.
type Pair struct {
	Group1, Group2 int64
}

func (p Pair) String() string { return fmt.Sprintf("%d-%d", p.Group1, p.Group2) }

// NewPair orders a and b into a canonical pair. A group cannot be paired
// with itself.
func NewPair(a, b int64) (Pair, error) {
	if a == b {
		return Pair{}, errors.E(errors.Invalid, fmt.Sprintf("cannot pair group %d with itself", a))
	}
	if a > b {
		a, b = b, a
	}
	return Pair{a, b}, nil
}

// Pairs returns the group pairs to analyze under policy, sorted.
func Pairs(groups []store.SampleGroup, policy Policy) []Pair {
	nControl := 0
	for _, g := range groups {
		if g.IsControl {
			nControl++
		}
	}
	all := policy == AllPairs || nControl == 0 || nControl == len(groups)
	var pairs []Pair
	for i := range groups {
		for j := i + 1; j < len(groups); j++ {
			a, b := groups[i], groups[j]
			if a.ID == b.ID || (!all && a.IsControl == b.IsControl) {
				continue
			}
			p, _ := NewPair(a.ID, b.ID)
			pairs = append(pairs, p)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Group1 != pairs[j].Group1 {
			return pairs[i].Group1 < pairs[j].Group1
		}
		return pairs[i].Group2 < pairs[j].Group2
	})
	return pairs
}
