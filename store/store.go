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
	"context"
	"strings"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Dialect identifies the database behind a store.
type Dialect int

const (
	// SQLite is the default, file-backed store.
	SQLite Dialect = iota
	// Postgres is selected by postgres:// and postgresql:// DSNs.
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// DB is an open store. It is safe for concurrent use; see View and Update for
// the locking discipline.
type DB struct {
	dsn     string
	dialect Dialect
	db      *sqlx.DB

	// mu makes writers exclusive within this process. SQLite stores are
	// additionally opened in immediate-transaction mode so that writers in
	// other processes wait for the database lock.
	mu sync.RWMutex
}

// ParseDSN returns the dialect, driver name, and driver data source for dsn.
func ParseDSN(dsn string) (Dialect, string, string) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return Postgres, "pgx", dsn
	}
	source := dsn
	if !strings.HasPrefix(source, "file:") {
		source = "file:" + source
	}
	sep := "?"
	if strings.Contains(source, "?") {
		sep = "&"
	}
	source += sep + "_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)&_txlock=immediate"
	return SQLite, "sqlite", source
}

// Open opens or creates the store at dsn and makes sure the schema exists.
func Open(ctx context.Context, dsn string) (*DB, error) {
	dialect, driver, source := ParseDSN(dsn)
	db, err := sqlx.ConnectContext(ctx, driver, source)
	if err != nil {
		return nil, errors.E(err, "open store", dsn)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, errors.E(err, "create schema", dsn)
		}
	}
	log.Debug.Printf("%s: opened %s store", dsn, dialect)
	return &DB{dsn: dsn, dialect: dialect, db: db}, nil
}

// Close closes the underlying database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// DSN returns the string the store was opened with.
func (d *DB) DSN() string { return d.dsn }

// Dialect returns the database dialect.
func (d *DB) Dialect() Dialect { return d.dialect }

// View calls fn with read access to the store. Views share the store lock
// with each other and exclude writers in this process.
func (d *DB) View(ctx context.Context, fn func(*View) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return fn(&View{q: d.db})
}

// Update calls fn inside a write transaction, holding the store's exclusive
// writer lock. The transaction commits if fn returns nil and rolls back
// otherwise; fn's error is returned as-is so typed errors survive.
func (d *DB) Update(ctx context.Context, fn func(*Tx) error) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.E(err, "begin transaction", d.dsn)
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				log.Error.Printf("%s: rollback: %v", d.dsn, rerr)
			}
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = errors.E(cerr, "commit", d.dsn)
		}
	}()
	return fn(&Tx{View: View{q: tx}, tx: tx})
}
