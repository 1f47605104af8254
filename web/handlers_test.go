package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/gorilla/mux"

	"github.com/dtorres/electrumd/indexer/chainsync"
	"github.com/dtorres/electrumd/lib/chain"
	"github.com/dtorres/electrumd/lib/index"
	"github.com/dtorres/electrumd/lib/store"
	"github.com/dtorres/electrumd/lib/store/level"
)

// knownTx is the only transaction the fake daemon knows about.
var knownTx = chainhash.Hash{0xaa}

// fakeChain answers the daemon calls the handlers need.
type fakeChain struct{}

func (f *fakeChain) MaxBlocks() int { return 4 }
func (f *fakeChain) AvgBlock() int  { return 600 }
func (f *fakeChain) Close()         {}

func (f *fakeChain) BestHeight() (int64, error) { return 0, nil }

func (f *fakeChain) GetBlockHash(int64) (*chainhash.Hash, error) {
	return nil, chain.ErrNoBlock
}

func (f *fakeChain) GetBlock(*chainhash.Hash) (*wire.MsgBlock, error) {
	return nil, chain.ErrNoBlock
}

func (f *fakeChain) GetHeader(*chainhash.Hash) (*wire.BlockHeader, error) {
	return nil, chain.ErrNoBlock
}

func (f *fakeChain) GetRawTransaction(*chainhash.Hash) ([]byte, error) {
	return nil, chain.ErrNoTrx
}

func (f *fakeChain) GetVerboseTransaction(txid *chainhash.Hash) (*btcjson.TxRawResult, error) {
	if *txid != knownTx {
		return nil, chain.ErrNoTrx
	}
	return &btcjson.TxRawResult{Txid: txid.String()}, nil
}

func (f *fakeChain) SendRawTransaction(string) (*chainhash.Hash, error) {
	return nil, errors.New("not supported")
}

func (f *fakeChain) EstimateFee(int64) (float64, error) { return -1, nil }
func (f *fakeChain) RelayFee() (float64, error)         { return 0.00001, nil }

func (f *fakeChain) MempoolEntries() ([]chain.MempoolEntry, error) {
	return nil, nil
}

// newTestAPI seeds a store and returns the API with its router, plus the test address.
func newTestAPI(t *testing.T, addressSearch bool) (*API, *mux.Router, string) {
	t.Helper()

	kv, err := level.New(t.TempDir())
	if err != nil {
		t.Fatalf("Error opening leveldb: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	params := &chaincfg.RegressionNetParams

	// a deterministic p2pkh address on regtest
	decoded, err := btcutil.NewAddressPubKeyHash(bytes.Repeat([]byte{0x11}, 20), params)
	if err != nil {
		t.Fatalf("cannot build address: %v", err)
	}
	address := decoded.EncodeAddress()

	script, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		t.Fatalf("cannot build script: %v", err)
	}
	sh := index.NewScriptHash(script)

	err = kv.Write([]store.Row{
		{Key: index.HistoryKey(sh, 1, knownTx, false), Value: index.HistoryValue(1000)},
		{Key: index.TxKey(knownTx), Value: index.TxValue(1, 0)},
		{Key: index.UTXOKey(sh, knownTx, 0), Value: index.UTXOValue(1, 1000)},
		{Key: index.AddrKey(address, sh), Value: []byte{}},
	})
	if err != nil {
		t.Fatalf("Error seeding rows: %v", err)
	}

	cs, err := chainsync.New("regtest", 4, kv)
	if err != nil {
		t.Fatalf("Error creating cursor: %v", err)
	}

	a := New("regtest", kv, &fakeChain{}, params, cs, addressSearch)

	r := mux.NewRouter()
	r.HandleFunc("/tip", a.tipHandler).Methods("GET")
	r.HandleFunc("/tx/{txid}", a.txHandler).Methods("GET")
	r.HandleFunc("/tx", a.sendHandler).Methods("POST")
	r.HandleFunc("/address/{address}", a.addrHandler).Methods("GET")
	r.HandleFunc("/search/{prefix}", a.searchHandler).Methods("GET")
	r.HandleFunc("/listen/{address}", a.listenHandler)
	r.HandleFunc("/listen", a.getWatchHandler).Methods("GET")

	return a, r, address
}

// do performs one request against the router and decodes the response envelope.
func do(t *testing.T, r *mux.Router, method, target, body string) (int, Response) {
	t.Helper()

	var reqBody *bytes.Buffer = bytes.NewBufferString(body)

	req := httptest.NewRequest(method, target, reqBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var res Response
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("cannot decode response of %s %s: %v", method, target, err)
	}

	return rec.Code, res
}

// TestTipAndTx covers the tip and transaction endpoints.
func TestTipAndTx(t *testing.T) {
	a, r, _ := newTestAPI(t, false)

	// empty index
	code, res := do(t, r, "GET", "/tip", "")
	if code != http.StatusNotFound || res.Error != ErrNoTip.Error() {
		t.Errorf("code:%d res:%+v", code, res)
	}

	a.cs.Update("hash0", 4)
	code, res = do(t, r, "GET", "/tip", "")
	if code != http.StatusOK {
		t.Fatalf("code:%d res:%+v", code, res)
	}
	var tip tipResult
	if err := json.Unmarshal([]byte(res.Body), &tip); err != nil || tip.Height != 0 || tip.Hash != "hash0" {
		t.Errorf("tip:%+v err:%v", tip, err)
	}

	code, res = do(t, r, "GET", "/tx/"+knownTx.String(), "")
	if code != http.StatusOK {
		t.Fatalf("code:%d res:%+v", code, res)
	}
	var tx btcjson.TxRawResult
	if err := json.Unmarshal([]byte(res.Body), &tx); err != nil || tx.Txid != knownTx.String() {
		t.Errorf("tx:%+v err:%v", tx, err)
	}

	// unknown transactions are a 404, malformed ids a 400
	code, _ = do(t, r, "GET", "/tx/00000000000000000000000000000000000000000000000000000000000000ff", "")
	if code != http.StatusNotFound {
		t.Errorf("code:%d", code)
	}
	code, _ = do(t, r, "GET", "/tx/zz", "")
	if code != http.StatusBadRequest {
		t.Errorf("code:%d", code)
	}
}

// TestTipDuringImport hits the tip endpoint while the cursor advances, the way the
// import routine updates it behind the running server.
func TestTipDuringImport(t *testing.T) {
	a, r, _ := newTestAPI(t, false)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			a.cs.Update(fmt.Sprintf("hash%d", i), 4)
		}
	}()

	for i := 0; i < 200; i++ {
		code, res := do(t, r, "GET", "/tip", "")
		if code != http.StatusOK && code != http.StatusNotFound {
			t.Fatalf("code:%d res:%+v", code, res)
		}
	}
	wg.Wait()

	code, res := do(t, r, "GET", "/tip", "")
	if code != http.StatusOK {
		t.Fatalf("code:%d res:%+v", code, res)
	}
	var tip tipResult
	if err := json.Unmarshal([]byte(res.Body), &tip); err != nil || tip.Height != 199 || tip.Hash != "hash199" {
		t.Errorf("tip:%+v err:%v", tip, err)
	}
}

// TestAddress covers the address balance endpoint and the search toggle.
func TestAddress(t *testing.T) {
	_, r, address := newTestAPI(t, false)

	code, res := do(t, r, "GET", "/address/"+address, "")
	if code != http.StatusOK {
		t.Fatalf("code:%d res:%+v", code, res)
	}
	var ar addrResult
	if err := json.Unmarshal([]byte(res.Body), &ar); err != nil ||
		ar.Confirmed != 1000 || len(ar.History) != 1 {
		t.Errorf("addr result:%+v err:%v", ar, err)
	}

	code, _ = do(t, r, "GET", "/address/not-an-address", "")
	if code != http.StatusBadRequest {
		t.Errorf("code:%d", code)
	}

	// search is disabled on this instance
	code, res = do(t, r, "GET", "/search/"+address[:4], "")
	if code != http.StatusNotFound || res.Error != ErrNoSearch.Error() {
		t.Errorf("code:%d res:%+v", code, res)
	}
}

// TestSearch covers the address search endpoint when enabled.
func TestSearch(t *testing.T) {
	_, r, address := newTestAPI(t, true)

	code, res := do(t, r, "GET", "/search/"+address[:4], "")
	if code != http.StatusOK {
		t.Fatalf("code:%d res:%+v", code, res)
	}
	var addrs []string
	if err := json.Unmarshal([]byte(res.Body), &addrs); err != nil ||
		len(addrs) != 1 || addrs[0] != address {
		t.Errorf("addrs:%v err:%v", addrs, err)
	}
}

// TestListen covers the watch list endpoints.
func TestListen(t *testing.T) {
	_, r, address := newTestAPI(t, false)

	code, _ := do(t, r, "POST", "/listen/"+address, "")
	if code != http.StatusOK {
		t.Fatalf("code:%d", code)
	}

	code, res := do(t, r, "GET", "/listen", "")
	if code != http.StatusOK {
		t.Fatalf("code:%d res:%+v", code, res)
	}
	var addrs []string
	if err := json.Unmarshal([]byte(res.Body), &addrs); err != nil ||
		len(addrs) != 1 || addrs[0] != address {
		t.Errorf("addrs:%v err:%v", addrs, err)
	}

	code, _ = do(t, r, "DELETE", "/listen/"+address, "")
	if code != http.StatusOK {
		t.Errorf("code:%d", code)
	}
	// removing twice is a 404
	code, _ = do(t, r, "DELETE", "/listen/"+address, "")
	if code != http.StatusNotFound {
		t.Errorf("code:%d", code)
	}

	// addresses must parse on the configured network
	code, _ = do(t, r, "POST", "/listen/bogus", "")
	if code != http.StatusBadRequest {
		t.Errorf("code:%d", code)
	}
}
