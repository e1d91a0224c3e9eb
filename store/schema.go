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

// Ids are assigned by the store rather than by the database, which keeps the
// DDL identical for SQLite and PostgreSQL.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS store_meta (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sample_group (
		id BIGINT PRIMARY KEY,
		label TEXT NOT NULL UNIQUE,
		is_control BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS samples (
		id BIGINT PRIMARY KEY,
		sample_group BIGINT NOT NULL REFERENCES sample_group(id),
		filename TEXT NOT NULL,
		n_reads BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS transcripts (
		id INTEGER PRIMARY KEY,
		label TEXT NOT NULL,
		length INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS leftsites (
		sample BIGINT NOT NULL REFERENCES samples(id),
		transcript INTEGER NOT NULL REFERENCES transcripts(id),
		position INTEGER NOT NULL,
		n BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (sample, transcript, position)
	)`,
	`CREATE TABLE IF NOT EXISTS multiplicities (
		id BIGINT PRIMARY KEY,
		sample BIGINT NOT NULL REFERENCES samples(id),
		targets TEXT NOT NULL,
		n BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS multiplicity_entries (
		multiplicity BIGINT NOT NULL REFERENCES multiplicities(id),
		transcript INTEGER NOT NULL REFERENCES transcripts(id),
		position INTEGER NOT NULL,
		PRIMARY KEY (multiplicity, transcript, position)
	)`,
	`CREATE INDEX IF NOT EXISTS multiplicity_entries_transcript
		ON multiplicity_entries(transcript)`,
	`CREATE INDEX IF NOT EXISTS multiplicities_sample
		ON multiplicities(sample)`,
	`CREATE TABLE IF NOT EXISTS inferences (
		id BIGINT PRIMARY KEY,
		group1 BIGINT NOT NULL REFERENCES sample_group(id),
		group2 BIGINT NOT NULL REFERENCES sample_group(id),
		UNIQUE (group1, group2),
		CHECK (group1 <= group2)
	)`,
	`CREATE TABLE IF NOT EXISTS posterior_samples (
		inference BIGINT NOT NULL REFERENCES inferences(id),
		transcript INTEGER NOT NULL REFERENCES transcripts(id),
		variable TEXT NOT NULL,
		sample INTEGER NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (inference, transcript, variable, sample)
	)`,
}

const catalogFinalizedKey = "catalog_finalized"
