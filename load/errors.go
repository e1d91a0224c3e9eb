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
	"fmt"

	"github.com/grailbio/rnaseq/store"
)

// CatalogMismatchError reports that an alignment header disagrees with the
// store's transcript catalog. Index is the ordinal of the first offending
// transcript. Want is the stored entry and Got the entry derived from the
// header; either is zero-valued when the catalogs differ in length.
type CatalogMismatchError struct {
	Path  string
	Index int
	Want  store.Transcript
	Got   store.Transcript
}

func (e *CatalogMismatchError) Error() string {
	return fmt.Sprintf("%s: transcript %d does not match the store catalog: store has %q (length %d), file has %q (length %d)",
		e.Path, e.Index, e.Want.Label, e.Want.Length, e.Got.Label, e.Got.Length)
}
