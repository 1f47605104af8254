package web

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// Init sets up and starts the http server to service the RESTful API. It blocks until
// Stop is called and returns a completion status for the calling routine.
func (a *API) Init(addr string) string {
	var err error

	// API definition
	r := mux.NewRouter()
	r.HandleFunc("/", a.homeHandler)
	r.HandleFunc("/tip", a.tipHandler).Methods("GET")                // get indexed chain tip
	r.HandleFunc("/tx/{txid}", a.txHandler).Methods("GET")           // get transaction details
	r.HandleFunc("/tx", a.sendHandler).Methods("POST")               // broadcast a raw transaction
	r.HandleFunc("/address/{address}", a.addrHandler).Methods("GET") // get address balance and history
	r.HandleFunc("/search/{prefix}", a.searchHandler).Methods("GET") // search indexed addresses
	r.HandleFunc("/listen/{address}", a.listenHandler)               // monitor events related to the address
	r.HandleFunc("/listen", a.getWatchHandler).Methods("GET")        // get monitored addresses

	// setup shutdown channel
	a.sc = make(chan struct{})

	// start http server
	a.s = &http.Server{
		Handler: r,
		Addr:    addr,
		// Good practice: enforce timeouts for servers you create!
		WriteTimeout: timeout * time.Second,
		ReadTimeout:  timeout * time.Second,
	}

	go func() {
		err = a.s.ListenAndServe()
	}()

	log.Printf("[%s] Listening to API http requests on %s", a.net, addr)

	// wait for server to be shutdown
	<-a.sc

	return fmt.Sprintf("http server:%e", err)
}
