package level

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dtorres/electrumd/lib/store"
)

// TestLevel covers the key-value operations over a temporary database directory.
func TestLevel(t *testing.T) {
	l, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Error opening leveldb: %v", err)
	}
	defer l.Close()

	// missing key
	if _, err = l.Get([]byte("missing")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got:%v", err)
	}

	// batch write and read back
	err = l.Write([]store.Row{
		{Key: []byte("p/b"), Value: []byte("2")},
		{Key: []byte("p/a"), Value: []byte("1")},
		{Key: []byte("q/c"), Value: []byte("3")},
	})
	if err != nil {
		t.Fatalf("Error writing rows: %v", err)
	}

	v, err := l.Get([]byte("p/a"))
	if err != nil || !bytes.Equal(v, []byte("1")) {
		t.Errorf("get err:%v v:%s", err, v)
	}

	// prefix scan returns rows in key order
	rows, err := l.ScanPrefix([]byte("p/"))
	if err != nil || len(rows) != 2 {
		t.Fatalf("scan err:%v rows:%+v", err, rows)
	}
	if !bytes.Equal(rows[0].Key, []byte("p/a")) || !bytes.Equal(rows[1].Key, []byte("p/b")) {
		t.Errorf("scan order does not match: %+v", rows)
	}

	// delete, missing keys are ignored
	if err = l.Delete([][]byte{[]byte("p/a"), []byte("missing")}); err != nil {
		t.Errorf("Error deleting keys: %v", err)
	}
	if _, err = l.Get([]byte("p/a")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deleted key still present, err:%v", err)
	}

	// properties for the metrics exporter
	if props := l.Properties(); props == nil {
		t.Errorf("expected database properties")
	}
}
