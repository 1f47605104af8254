package store

import (
	"bytes"
	"errors"
	"sort"
	"testing"
)

// mapKV is an in-memory KV used to test the helpers without a database.
type mapKV map[string][]byte

func (m mapKV) Get(key []byte) ([]byte, error) {
	v, ok := m[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m mapKV) Write(rows []Row) error {
	for _, r := range rows {
		m[string(r.Key)] = r.Value
	}
	return nil
}

func (m mapKV) Delete(keys [][]byte) error {
	for _, k := range keys {
		delete(m, string(k))
	}
	return nil
}

func (m mapKV) ScanPrefix(prefix []byte) ([]Row, error) {
	var rows []Row
	for k, v := range m {
		if bytes.HasPrefix([]byte(k), prefix) {
			rows = append(rows, Row{Key: []byte(k), Value: v})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return bytes.Compare(rows[i].Key, rows[j].Key) < 0 })
	return rows, nil
}

func (m mapKV) Close() error { return nil }

// TestPrefixEnd checks the scan upper bound computation.
func TestPrefixEnd(t *testing.T) {
	if end := PrefixEnd([]byte{'a', 'b'}); !bytes.Equal(end, []byte{'a', 'c'}) {
		t.Errorf("got %v", end)
	}
	if end := PrefixEnd([]byte{'a', 0xff}); !bytes.Equal(end, []byte{'b'}) {
		t.Errorf("got %v", end)
	}
	if end := PrefixEnd([]byte{0xff, 0xff}); end != nil {
		t.Errorf("expected no upper bound, got %v", end)
	}
}

// TestWatchList covers adding, listing and removing monitored addresses.
func TestWatchList(t *testing.T) {
	kv := mapKV{}

	if err := AddWatch(kv, "mainnet", "addr1"); err != nil {
		t.Errorf("AddWatch err:%v", err)
	}
	if err := AddWatch(kv, "mainnet", "addr2"); err != nil {
		t.Errorf("AddWatch err:%v", err)
	}
	// another network must not leak into the list
	if err := AddWatch(kv, "testnet", "addr3"); err != nil {
		t.Errorf("AddWatch err:%v", err)
	}

	addrs, err := Watched(kv, "mainnet")
	if err != nil || len(addrs) != 2 || addrs[0] != "addr1" || addrs[1] != "addr2" {
		t.Errorf("Watched err:%v addrs:%v", err, addrs)
	}

	if err = RemoveWatch(kv, "mainnet", "addr1"); err != nil {
		t.Errorf("RemoveWatch err:%v", err)
	}
	if err = RemoveWatch(kv, "mainnet", "addr1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got:%v", err)
	}

	addrs, _ = Watched(kv, "mainnet")
	if len(addrs) != 1 || addrs[0] != "addr2" {
		t.Errorf("addrs after remove:%v", addrs)
	}
}
