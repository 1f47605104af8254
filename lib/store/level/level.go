// Package level implements the key-value interface on a local LevelDB directory. This is
// the default backend for the index database.
package level

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/dtorres/electrumd/lib/store"
)

// Level implements a connection to a LevelDB database directory.
type Level struct {
	db *leveldb.DB
}

// New opens (or creates) the LevelDB database at dir.
func New(dir string) (*Level, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{
		// initial import writes one batch per block, favour large tables
		CompactionTableSize: 8 * opt.MiB,
		WriteBuffer:         32 * opt.MiB,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot open leveldb in %s: %w", dir, err)
	}

	return &Level{db: db}, nil
}

// CloseLevel will close the database. Must be called at termination time.
func (l *Level) CloseLevel() error {
	return l.db.Close()
}

// Close implements store.KV.
func (l *Level) Close() error {
	return l.CloseLevel()
}

// Get returns the value stored under key, or store.ErrNotFound.
func (l *Level) Get(key []byte) ([]byte, error) {
	v, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, store.ErrNotFound
	}

	return v, err
}

// Write applies all rows in a single batch.
func (l *Level) Write(rows []store.Row) error {
	b := new(leveldb.Batch)
	for _, r := range rows {
		b.Put(r.Key, r.Value)
	}

	return l.db.Write(b, nil)
}

// Delete removes the given keys in a single batch. Missing keys are ignored.
func (l *Level) Delete(keys [][]byte) error {
	b := new(leveldb.Batch)
	for _, k := range keys {
		b.Delete(k)
	}

	return l.db.Write(b, nil)
}

// ScanPrefix returns all rows under prefix in key order.
func (l *Level) ScanPrefix(prefix []byte) ([]store.Row, error) {
	it := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var rows []store.Row

	for it.Next() {
		k := make([]byte, len(it.Key()))
		copy(k, it.Key())
		v := make([]byte, len(it.Value()))
		copy(v, it.Value())
		rows = append(rows, store.Row{Key: k, Value: v})
	}

	return rows, it.Error()
}

// Properties returns numeric database properties for the metrics exporter.
func (l *Level) Properties() map[string]int64 {
	props := map[string]int64{}

	for _, name := range []string{
		"leveldb.openedtables",
		"leveldb.alivesnaps",
		"leveldb.aliveiters",
	} {
		s, err := l.db.GetProperty(name)
		if err != nil {
			continue
		}

		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			props[name] = n
		}
	}

	if sizes, err := l.db.SizeOf([]util.Range{{Start: nil, Limit: nil}}); err == nil {
		props["leveldb.size"] = sizes.Sum()
	}

	return props
}
