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
	"sort"
	"strconv"
	"strings"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/rnaseq/store"
)

// canonicalTargets sorts and dedups locs in place and returns the result
// together with its text encoding, "t:p,t:p,...".
func canonicalTargets(locs []store.Location) ([]store.Location, string) {
	sort.Slice(locs, func(i, j int) bool { return locs[i].Less(locs[j]) })
	n := 0
	for i, l := range locs {
		if i > 0 && l == locs[n-1] {
			continue
		}
		locs[n] = l
		n++
	}
	locs = locs[:n]
	var b strings.Builder
	for i, l := range locs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(l.Transcript))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(l.Position))
	}
	return locs, b.String()
}

// multiplicityID derives the stable id of the multiplicity with the given
// canonical targets in sample.
func multiplicityID(sample int64, targets string) int64 {
	key := strconv.FormatInt(sample, 10) + "/" + targets
	return int64(farm.Fingerprint64([]byte(key)))
}
