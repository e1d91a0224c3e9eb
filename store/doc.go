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

// Package store is the relational store behind the RNA-seq pipeline.
//
// A store holds sample groups, samples, the transcript catalog, per-position
// leftsite depth, multiplicities (multi-mapped readsets) and their entries,
// inference runs, and posterior samples. It is backed by SQLite (the default)
// or PostgreSQL, accessed through sqlx.
//
// Writers are exclusive: DB.Update holds the store's writer lock and a database
// transaction for the duration of the callback, so one alignment file's
// ingestion commits or rolls back as a unit. Readers (DB.View) share the lock
// and never observe a half-ingested file from the same process.
//
// The transcript catalog is written exactly once. The first writer to insert
// the catalog-finalized marker (Tx.FinalizeCatalog) owns the catalog insert;
// every later writer must verify against the stored rows instead.
package store
