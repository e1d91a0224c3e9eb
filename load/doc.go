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

// Package load ingests name-sorted alignment files into a store.
//
// Each file becomes one Sample. The first file ingested into a store defines
// the transcript catalog; later files must carry an identical header or fail
// with *CatalogMismatchError. Depth rows are initialized densely before any
// read is counted. Readsets (consecutive records sharing a read name) that
// align to more than one location become multiplicities, identified by a
// fingerprint of the sample and the sorted location set, so that identical
// multi-mappings accumulate a count instead of creating new rows.
//
// A file is ingested inside a single store transaction: either every row
// derived from it is committed or none is.
package load
