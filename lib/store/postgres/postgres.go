// Package postgres implements the key-value interface for PostgreSQL. Rows live in a
// single bytea table so key-bound range queries provide the prefix scans.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq" //nolint:gci // load the postgres driver that is used by the system

	"github.com/dtorres/electrumd/lib/store"
)

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection' and
// creates the rows table if missing.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS rows (key bytea PRIMARY KEY, v bytea NOT NULL)`); err != nil {
		return nil, fmt.Errorf("cannot create rows table: %w", err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// Close implements store.KV.
func (p *Postgres) Close() error {
	return p.ClosePostgres()
}

// Get returns the value stored under key, or store.ErrNotFound.
func (p *Postgres) Get(key []byte) ([]byte, error) {
	var v []byte

	err := p.db.QueryRow(`SELECT v FROM rows WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("could not get row from db: %w", err)
	}

	return v, nil
}

// Write upserts all rows in one transaction.
func (p *Postgres) Write(rows []store.Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin write: %w", err)
	}

	for _, r := range rows {
		if _, err = tx.Exec(
			`INSERT INTO rows (key, v) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET v = $2`,
			r.Key, r.Value); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("could not write row to db: %w", err)
		}
	}

	return tx.Commit()
}

// Delete removes the given keys in one transaction. Missing keys are ignored.
func (p *Postgres) Delete(keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin delete: %w", err)
	}

	for _, k := range keys {
		if _, err = tx.Exec(`DELETE FROM rows WHERE key = $1`, k); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("could not delete row from db: %w", err)
		}
	}

	return tx.Commit()
}

// ScanPrefix returns all rows under prefix in key order.
func (p *Postgres) ScanPrefix(prefix []byte) ([]store.Row, error) {
	var (
		res *sql.Rows
		err error
	)

	if end := store.PrefixEnd(prefix); end != nil {
		res, err = p.db.Query(`SELECT key, v FROM rows WHERE key >= $1 AND key < $2 ORDER BY key`, prefix, end)
	} else {
		res, err = p.db.Query(`SELECT key, v FROM rows WHERE key >= $1 ORDER BY key`, prefix)
	}

	if err != nil {
		return nil, fmt.Errorf("error scanning db prefix: %w", err)
	}
	defer res.Close()

	var rows []store.Row

	for res.Next() {
		var r store.Row
		if err = res.Scan(&r.Key, &r.Value); err != nil {
			return nil, fmt.Errorf("error decoding db row: %w", err)
		}

		rows = append(rows, r)
	}

	return rows, res.Err()
}
