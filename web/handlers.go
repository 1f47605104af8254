package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/gorilla/mux"

	"github.com/dtorres/electrumd/lib/chain"
	"github.com/dtorres/electrumd/lib/index"
	"github.com/dtorres/electrumd/lib/store"
)

// searchLimit caps the number of addresses replied by the search endpoint.
const searchLimit = 100

// Errors returned to client requests.
var (
	ErrBadMethod  = errors.New("bad method in request")
	ErrBadRequest = errors.New("bad request")
	ErrNoAddr     = errors.New("undefined address - missing in uri")
	ErrNoSearch   = errors.New("address search is not enabled on this server")
	ErrNoTip      = errors.New("index is empty")
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// reply encodes the deferred JSON response the way all the handlers share.
func reply(rw http.ResponseWriter, r *http.Request, body interface{}, err error, status int) {
	var res Response

	if err != nil {
		res.Error = fmt.Sprintf("%s", err)

		rw.WriteHeader(status)
	} else {
		rw.WriteHeader(http.StatusOK)

		tmp, _ := json.Marshal(body)
		res.Body = string(tmp)
	}
	// log request
	log.Printf("httpreq from %v %s err:%v\n", r.RemoteAddr, r.RequestURI, err)
	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(&res)
}

// homeHandler just replies a welcome message to the client.
func (a *API) homeHandler(rw http.ResponseWriter, r *http.Request) {
	reply(rw, r, "Hello, this is your Electrum index server!", nil, http.StatusOK)
}

// tipResult is the payload of the tip endpoint.
type tipResult struct {
	Net    string `json:"net"`
	Height int64  `json:"height"`
	Hash   string `json:"hash"`
}

// tipHandler replies the height and hash of the last indexed block.
func (a *API) tipHandler(rw http.ResponseWriter, r *http.Request) {
	height, hash := a.cs.Tip()
	if height < 0 {
		reply(rw, r, nil, ErrNoTip, http.StatusNotFound)

		return
	}

	reply(rw, r, tipResult{Net: a.net, Height: height, Hash: hash}, nil, http.StatusOK)
}

// txHandler replies the verbose details of the transaction requested.
func (a *API) txHandler(rw http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)

	txid, err := chainhash.NewHashFromStr(v["txid"])
	if err != nil {
		reply(rw, r, nil, ErrBadRequest, http.StatusBadRequest)

		return
	}

	tx, err := a.c.GetVerboseTransaction(txid)
	if errors.Is(err, chain.ErrNoTrx) {
		reply(rw, r, nil, err, http.StatusNotFound)

		return
	} else if err != nil {
		reply(rw, r, nil, err, http.StatusBadGateway)

		return
	}

	reply(rw, r, tx, nil, http.StatusOK)
}

// SendReq is the request body to broadcast a raw transaction.
type SendReq struct {
	RawTx string `json:"rawtx"`
}

// sendHandler submits a raw transaction to the daemon for execution. A response is given
// to the client with the transaction hash or error.
func (a *API) sendHandler(rw http.ResponseWriter, r *http.Request) {
	var req SendReq

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RawTx == "" {
		reply(rw, r, nil, ErrBadRequest, http.StatusBadRequest)

		return
	}

	txid, err := a.c.SendRawTransaction(req.RawTx)
	if err != nil {
		reply(rw, r, nil, err, http.StatusBadRequest)

		return
	}

	reply(rw, r, txid.String(), nil, http.StatusOK)
}

// addrResult is the payload of the address endpoint.
type addrResult struct {
	Address   string                   `json:"address"`
	Confirmed int64                    `json:"confirmed"`
	History   []map[string]interface{} `json:"history"`
}

// scriptHash derives the index scripthash of an address on the configured network.
func (a *API) scriptHash(addr string) (index.ScriptHash, error) {
	decoded, err := btcutil.DecodeAddress(addr, a.params)
	if err != nil {
		return index.ScriptHash{}, fmt.Errorf("cannot decode address %s: %w", addr, err)
	}

	script, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		return index.ScriptHash{}, err
	}

	return index.NewScriptHash(script), nil
}

// addrHandler replies the confirmed balance and history of the address requested.
func (a *API) addrHandler(rw http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)

	address, ok := v["address"]
	if !ok {
		reply(rw, r, nil, ErrNoAddr, http.StatusBadRequest)

		return
	}

	sh, err := a.scriptHash(address)
	if err != nil {
		reply(rw, r, nil, err, http.StatusBadRequest)

		return
	}

	bal, err := index.Balance(a.kv, sh)
	if err != nil {
		reply(rw, r, nil, err, http.StatusInternalServerError)

		return
	}

	hist, err := index.History(a.kv, sh)
	if err != nil {
		reply(rw, r, nil, err, http.StatusInternalServerError)

		return
	}

	res := addrResult{Address: address, Confirmed: bal}
	for _, tp := range hist {
		res.History = append(res.History, map[string]interface{}{
			"tx_hash": tp.TxID.String(),
			"height":  tp.Height,
		})
	}

	reply(rw, r, res, nil, http.StatusOK)
}

// searchHandler replies the indexed addresses starting with the given prefix.
func (a *API) searchHandler(rw http.ResponseWriter, r *http.Request) {
	if !a.addressSearch {
		reply(rw, r, nil, ErrNoSearch, http.StatusNotFound)

		return
	}

	v := mux.Vars(r)

	addrs, err := index.SearchAddresses(a.kv, v["prefix"], searchLimit)
	if err != nil {
		reply(rw, r, nil, err, http.StatusInternalServerError)

		return
	}

	reply(rw, r, addrs, nil, http.StatusOK)
}

// listenHandler adds or removes an address of the watch list. Transactions involving
// watched addresses are published to the message broker by the indexer.
func (a *API) listenHandler(rw http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)

	address, ok := v["address"]
	if !ok {
		reply(rw, r, nil, ErrNoAddr, http.StatusBadRequest)

		return
	}

	address = strings.TrimSpace(address)

	// reject addresses that do not parse on this network
	if _, err := a.scriptHash(address); err != nil {
		reply(rw, r, nil, err, http.StatusBadRequest)

		return
	}

	var err error

	switch r.Method {
	case http.MethodPost:
		err = store.AddWatch(a.kv, a.net, address)
	case http.MethodDelete:
		err = store.RemoveWatch(a.kv, a.net, address)
		if errors.Is(err, store.ErrNotFound) {
			reply(rw, r, nil, err, http.StatusNotFound)

			return
		}
	default:
		reply(rw, r, nil, ErrBadMethod, http.StatusMethodNotAllowed)

		return
	}

	if err != nil {
		reply(rw, r, nil, err, http.StatusInternalServerError)

		return
	}

	reply(rw, r, address, nil, http.StatusOK)
}

// getWatchHandler replies the client with the addresses being monitored.
func (a *API) getWatchHandler(rw http.ResponseWriter, r *http.Request) {
	addrs, err := store.Watched(a.kv, a.net)
	if err != nil {
		reply(rw, r, nil, err, http.StatusInternalServerError)

		return
	}

	reply(rw, r, addrs, nil, http.StatusOK)
}
