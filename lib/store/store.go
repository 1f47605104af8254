// Package store defines the key-value interface for the index database backends.
package store

import (
	"errors"
)

// Row is a single key-value pair of the index database.
type Row struct {
	Key   []byte
	Value []byte
}

// KV defines required methods for index database backends. Write applies a batch of rows
// atomically. ScanPrefix returns all rows whose key starts with prefix, in key order.
type KV interface {
	Get(key []byte) ([]byte, error)
	Write(rows []Row) error
	Delete(keys [][]byte) error
	ScanPrefix(prefix []byte) ([]Row, error)
	Close() error
}

// Errors returned
var (
	ErrNotFound = errors.New("key was not found in store")
)

// PrefixEnd returns the smallest key greater than every key starting with p. A nil return
// means there is no upper bound (p is all 0xff).
func PrefixEnd(p []byte) []byte {
	end := make([]byte, len(p))
	copy(end, p)

	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++

			return end[:i+1]
		}
	}

	return nil
}
