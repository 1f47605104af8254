// +build integration

package mongo

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dtorres/electrumd/lib/store"
)

// This test requires an available MongoDB server at localhost:27017.
var uri string = "mongodb://localhost:27017"

func TestMongoKV(t *testing.T) {
	m, err := New(uri)
	if err != nil {
		t.Fatalf("err:%e", err)
	}
	defer m.CloseMongo()

	// clean up rows of previous runs
	_ = m.Delete([][]byte{[]byte("t/a"), []byte("t/b"), []byte("u/c")})

	if _, err = m.Get([]byte("t/a")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got:%v", err)
	}

	err = m.Write([]store.Row{
		{Key: []byte("t/b"), Value: []byte("2")},
		{Key: []byte("t/a"), Value: []byte("1")},
		{Key: []byte("u/c"), Value: []byte("3")},
	})
	if err != nil {
		t.Fatalf("err:%e", err)
	}

	v, err := m.Get([]byte("t/a"))
	if err != nil || !bytes.Equal(v, []byte("1")) {
		t.Errorf("get err:%v v:%s", err, v)
	}

	// upserts replace
	if err = m.Write([]store.Row{{Key: []byte("t/a"), Value: []byte("1bis")}}); err != nil {
		t.Fatalf("err:%e", err)
	}
	if v, _ = m.Get([]byte("t/a")); !bytes.Equal(v, []byte("1bis")) {
		t.Errorf("upsert did not replace, v:%s", v)
	}

	rows, err := m.ScanPrefix([]byte("t/"))
	if err != nil || len(rows) != 2 {
		t.Fatalf("scan err:%v rows:%+v", err, rows)
	}
	if !bytes.Equal(rows[0].Key, []byte("t/a")) || !bytes.Equal(rows[1].Key, []byte("t/b")) {
		t.Errorf("scan order does not match: %+v", rows)
	}

	if err = m.Delete([][]byte{[]byte("t/a"), []byte("t/b"), []byte("u/c")}); err != nil {
		t.Errorf("err:%e", err)
	}
	if _, err = m.Get([]byte("u/c")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deleted key still present, err:%v", err)
	}
}
