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

// Package inference drives the per-subproblem differential expression
// analysis between pairs of sample groups.
//
// For a group pair and a complete subproblem (see package subproblem), the
// orchestrator builds a Request from the depth and multiplicity rows of both
// groups' samples, hands it to a Sampler, and either persists the returned
// posterior draws under the pair's inference run or writes them to a
// self-contained artifact that Merge can load later.
//
// Posterior rows are append-only. Running a subproblem whose transcripts
// already have draws under the pair's run fails with
// *store.DuplicateInferenceRunError; clear the run first with
// store.DB.ClearInference.
package inference
