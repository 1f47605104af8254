package index

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/dtorres/electrumd/lib/store"
	"github.com/dtorres/electrumd/lib/store/level"
)

// TestScriptHash covers the Electrum wire form roundtrip of scripthashes.
func TestScriptHash(t *testing.T) {
	sh := NewScriptHash([]byte{0x51}) // OP_TRUE

	w := sh.Wire()
	if len(w) != 64 {
		t.Errorf("wire form is not 32 hex bytes: %s", w)
	}

	back, err := ParseWireHash(w)
	if err != nil || back != sh {
		t.Errorf("wire roundtrip failed, err:%v got:%x want:%x", err, back, sh)
	}

	if _, err = ParseWireHash("zz"); err != ErrBadHash {
		t.Errorf("expected ErrBadHash for bad hex, got:%v", err)
	}
	if _, err = ParseWireHash("abcd"); err != ErrBadHash {
		t.Errorf("expected ErrBadHash for short input, got:%v", err)
	}
}

// TestRowCodecs covers the encode/parse pairs of the row families.
func TestRowCodecs(t *testing.T) {
	txid := chainhash.Hash{0xaa, 0x01}
	sh := NewScriptHash([]byte{0x51})

	h, p, err := ParseTxValue(TxValue(1234, 7))
	if err != nil || h != 1234 || p != 7 {
		t.Errorf("tx row roundtrip failed: %d %d %v", h, p, err)
	}
	if _, _, err = ParseTxValue([]byte{1, 2}); err != ErrShortRow {
		t.Errorf("expected ErrShortRow, got:%v", err)
	}

	hr, err := ParseHistoryRow(store.Row{
		Key:   HistoryKey(sh, 55, txid, true),
		Value: HistoryValue(5000),
	})
	if err != nil || hr.Height != 55 || hr.TxID != txid || !hr.Spending || hr.Value != 5000 {
		t.Errorf("history row roundtrip failed: %+v %v", hr, err)
	}

	u, err := ParseUTXO(store.Row{
		Key:   UTXOKey(sh, txid, 3),
		Value: UTXOValue(55, 1500),
	})
	if err != nil || u.TxID != txid || u.Vout != 3 || u.Height != 55 || u.Value != 1500 {
		t.Errorf("utxo row roundtrip failed: %+v %v", u, err)
	}

	sh2, val, err := ParseOutpointValue(OutpointValue(sh, 2100))
	if err != nil || sh2 != sh || val != 2100 {
		t.Errorf("outpoint row roundtrip failed: %x %d %v", sh2, val, err)
	}

	header := make([]byte, 80)
	header[0] = 0x02
	blkHash := chainhash.Hash{0xbb}

	gotHash, gotHeader, err := ParseHeaderValue(HeaderValue(blkHash, header))
	if err != nil || gotHash != blkHash || len(gotHeader) != 80 || gotHeader[0] != 0x02 {
		t.Errorf("header row roundtrip failed: %v", err)
	}
	if _, _, err = ParseHeaderValue(header); err != ErrShortRow {
		t.Errorf("expected ErrShortRow for short header row, got:%v", err)
	}
}

// TestQueries covers History ordering and dedupe, Balance, ListUnspent, SearchAddresses
// and Status over a real store.
func TestQueries(t *testing.T) {
	kv, err := level.New(t.TempDir())
	if err != nil {
		t.Fatalf("Error opening leveldb: %v", err)
	}
	defer kv.Close()

	sh := NewScriptHash([]byte{0x51})
	sh2 := NewScriptHash([]byte{0x52})
	txA := chainhash.Hash{0xaa}
	txB := chainhash.Hash{0xbb}

	err = kv.Write([]store.Row{
		// txB funds and spends at block 1, txA funds at block 2
		{Key: HistoryKey(sh, 2, txA, false), Value: HistoryValue(1000)},
		{Key: HistoryKey(sh, 1, txB, false), Value: HistoryValue(400)},
		{Key: HistoryKey(sh, 1, txB, true), Value: HistoryValue(300)},
		{Key: TxKey(txA), Value: TxValue(2, 0)},
		{Key: TxKey(txB), Value: TxValue(1, 3)},
		{Key: UTXOKey(sh, txA, 0), Value: UTXOValue(2, 1500)},
		{Key: UTXOKey(sh, txA, 1), Value: UTXOValue(2, 500)},
		{Key: AddrKey("addr1", sh), Value: []byte{}},
		{Key: AddrKey("addr1", sh2), Value: []byte{}},
		{Key: AddrKey("addr11", sh), Value: []byte{}},
		{Key: AddrKey("addr2", sh), Value: []byte{}},
	})
	if err != nil {
		t.Fatalf("Error writing rows: %v", err)
	}

	hist, err := History(kv, sh)
	if err != nil || len(hist) != 2 {
		t.Fatalf("history err:%v hist:%+v", err, hist)
	}
	if hist[0].TxID != txB || hist[0].Height != 1 || hist[0].Pos != 3 {
		t.Errorf("history[0] does not match: %+v", hist[0])
	}
	if hist[1].TxID != txA || hist[1].Height != 2 || hist[1].Pos != 0 {
		t.Errorf("history[1] does not match: %+v", hist[1])
	}

	bal, err := Balance(kv, sh)
	if err != nil || bal != 2000 {
		t.Errorf("balance err:%v bal:%d", err, bal)
	}

	utxos, err := ListUnspent(kv, sh)
	if err != nil || len(utxos) != 2 {
		t.Errorf("listunspent err:%v utxos:%+v", err, utxos)
	}

	addrs, err := SearchAddresses(kv, "addr1", 0)
	if err != nil || len(addrs) != 2 || addrs[0] != "addr1" || addrs[1] != "addr11" {
		t.Errorf("search err:%v addrs:%v", err, addrs)
	}
	addrs, err = SearchAddresses(kv, "addr", 1)
	if err != nil || len(addrs) != 1 || addrs[0] != "addr1" {
		t.Errorf("search with limit err:%v addrs:%v", err, addrs)
	}

	status, err := Status(kv, sh)
	if err != nil || len(status) != 64 {
		t.Errorf("status err:%v status:%s", err, status)
	}
	// an untouched scripthash has the empty status
	status, err = Status(kv, NewScriptHash([]byte{0x53}))
	if err != nil || status != "" {
		t.Errorf("empty status err:%v status:%s", err, status)
	}
}

// TestMerkleBranch checks the branch against a root computed by hand.
func TestMerkleBranch(t *testing.T) {
	txids := []chainhash.Hash{{0x01}, {0x02}, {0x03}}

	branch, pos, err := MerkleBranch(txids, txids[1])
	if err != nil || pos != 1 {
		t.Fatalf("err:%v pos:%d", err, pos)
	}

	// three transactions pair as (t0,t1) and (t2,t2); for t1 the branch is t0 and then
	// the hash of the duplicated right pair
	h22 := chainhash.DoubleHashH(append(txids[2][:], txids[2][:]...))
	if len(branch) != 2 || branch[0] != txids[0].String() || branch[1] != h22.String() {
		t.Errorf("branch does not match: %v", branch)
	}

	if _, _, err = MerkleBranch(txids, chainhash.Hash{0xff}); err != ErrTxNotInBlock {
		t.Errorf("expected ErrTxNotInBlock, got:%v", err)
	}

	// single transaction blocks have an empty branch
	branch, pos, err = MerkleBranch(txids[:1], txids[0])
	if err != nil || pos != 0 || len(branch) != 0 {
		t.Errorf("single tx branch err:%v pos:%d branch:%v", err, pos, branch)
	}
}
