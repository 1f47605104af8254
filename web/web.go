// package web implements the HTTP interface of the index server.
//
// The API exposes the indexed chain over plain REST: tip, transactions, address balances
// and history, address search, and the watch list used for transaction eventing.
package web

import (
	"context"
	"log"
	"net/http"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/dtorres/electrumd/indexer/chainsync"
	"github.com/dtorres/electrumd/lib/chain"
	"github.com/dtorres/electrumd/lib/store"
)

// API contains the data necessary to deliver the service
type API struct {
	net           string
	kv            store.KV
	c             chain.Chain
	params        *chaincfg.Params
	cs            *chainsync.Cursor
	addressSearch bool

	s  *http.Server  // http server
	sc chan struct{} // http server channel used for graceful shutdowns
}

// New returns a pointer to a new API service
func New(net string, kv store.KV, c chain.Chain, params *chaincfg.Params,
	cs *chainsync.Cursor, addressSearch bool) *API {
	return &API{
		net:           net,
		kv:            kv,
		c:             c,
		params:        params,
		cs:            cs,
		addressSearch: addressSearch,
	}
}

// Stop shuts down the http server implementing the RESTful API.
func (a *API) Stop() {
	if a.s != nil {
		if err := a.s.Shutdown(context.Background()); err != nil {
			log.Printf("Error in http server shutdown:%e", err)
		}
	}

	close(a.sc) // close server channel to indicate shutdown has finished
}
