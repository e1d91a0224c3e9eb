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

// Package subproblem partitions the transcript catalog into sets that can be
// analyzed independently.
//
// Two transcripts are linked when some multiplicity has entries on both,
// regardless of position. A subproblem is a connected component of the
// resulting graph; every catalog transcript belongs to exactly one, and most
// are singletons.
package subproblem

import (
	"context"
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/rnaseq/store"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// IncompleteSubproblemError reports a transcript set that is linked to
// transcripts outside it. Missing lists those transcripts.
type IncompleteSubproblemError struct {
	Given   []int
	Missing []int
}

func (e *IncompleteSubproblemError) Error() string {
	return fmt.Sprintf("transcripts %v do not form a complete subproblem: missing %v", e.Given, e.Missing)
}

// Partition is the component structure of one store snapshot.
type Partition struct {
	// Components are sorted internally and ordered by their smallest id.
	Components [][]int
	// index maps a transcript id to its component.
	index map[int]int
}

// NewPartition computes the connected components of the graph with the given
// nodes and links. The result depends only on the node and link sets, not on
// their order.
func NewPartition(ids []int, links [][2]int) *Partition {
	g := simple.NewUndirectedGraph()
	for _, id := range ids {
		if g.Node(int64(id)) == nil {
			g.AddNode(simple.Node(id))
		}
	}
	for _, l := range links {
		if l[0] == l[1] {
			continue
		}
		g.SetEdge(g.NewEdge(simple.Node(l[0]), simple.Node(l[1])))
	}
	p := &Partition{index: make(map[int]int)}
	for _, cc := range topo.ConnectedComponents(g) {
		c := make([]int, len(cc))
		for i, n := range cc {
			c[i] = int(n.ID())
		}
		sort.Ints(c)
		p.Components = append(p.Components, c)
	}
	sort.Slice(p.Components, func(i, j int) bool { return p.Components[i][0] < p.Components[j][0] })
	for i, c := range p.Components {
		for _, id := range c {
			p.index[id] = i
		}
	}
	return p
}

// Component returns the component containing transcript id.
func (p *Partition) Component(id int) ([]int, bool) {
	i, ok := p.index[id]
	if !ok {
		return nil, false
	}
	return p.Components[i], true
}

// Check verifies that ids is closed under links: for every transcript in it,
// its whole component is in it too. A union of components passes. It returns
// *IncompleteSubproblemError naming the transcripts that must be added.
func (p *Partition) Check(ids []int) error {
	if len(ids) == 0 {
		return errors.E(errors.Invalid, "empty transcript set")
	}
	given := make(map[int]bool, len(ids))
	for _, id := range ids {
		if _, ok := p.index[id]; !ok {
			return errors.E(errors.Invalid, fmt.Sprintf("transcript %d is not in the catalog", id))
		}
		given[id] = true
	}
	var missing []int
	seen := make(map[int]bool)
	for id := range given {
		ci := p.index[id]
		if seen[ci] {
			continue
		}
		seen[ci] = true
		for _, other := range p.Components[ci] {
			if !given[other] {
				missing = append(missing, other)
			}
		}
	}
	if len(missing) > 0 {
		sort.Ints(missing)
		sorted := append([]int(nil), ids...)
		sort.Ints(sorted)
		return &IncompleteSubproblemError{Given: sorted, Missing: missing}
	}
	return nil
}

// Load reads the catalog and multiplicity links from v and partitions them.
func Load(ctx context.Context, v *store.View) (*Partition, error) {
	ts, err := v.Transcripts(ctx)
	if err != nil {
		return nil, err
	}
	links, err := v.Links(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(ts))
	for i, t := range ts {
		ids[i] = t.ID
	}
	p := NewPartition(ids, links)
	log.Debug.Printf("partitioned %d transcripts with %d links into %d subproblems",
		len(ids), len(links), len(p.Components))
	return p, nil
}

// Find returns the subproblems of the store: the connected components of the
// transcript graph, each sorted, ordered by smallest transcript id.
func Find(ctx context.Context, db *store.DB) (subproblems [][]int, err error) {
	err = db.View(ctx, func(v *store.View) error {
		p, err := Load(ctx, v)
		if err != nil {
			return err
		}
		subproblems = p.Components
		return nil
	})
	return
}

// Check verifies that ids is a complete subproblem of the store. See
// Partition.Check.
func Check(ctx context.Context, db *store.DB, ids []int) error {
	return db.View(ctx, func(v *store.View) error {
		p, err := Load(ctx, v)
		if err != nil {
			return err
		}
		return p.Check(ids)
	})
}
