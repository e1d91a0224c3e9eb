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

// Package bamprovider provides sequential readers over the records of a BAM,
// SAM, or gzipped SAM file.
//
// The Provider is the interface the rest of this module uses to obtain the
// header of an alignment file and to iterate over its records in file order.
// Callers that need records grouped by read name (for example, the loader)
// rely on the file having been sorted by name; the provider itself never
// reorders records.
package bamprovider
