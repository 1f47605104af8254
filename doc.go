// Package electrumd and its sub-packages implement an Electrum index server for
// bitcoin-like networks.
/*
electrumd provides three services inside one process:

1) an indexer (package indexer) that imports mined blocks from a full node daemon over
 JSON-RPC and maintains a compact key-value index of transactions, script histories and
 unspent outputs.

2) an Electrum protocol server (package electrum) that answers wallet clients over TCP
 with newline-delimited JSON-RPC 2.0, including header and scripthash subscriptions.

3) an HTTP RESTful API (package web) for operational queries such as the indexed tip,
 address balances and history, address search and the monitored address list.

Architecture

The indexer is the only writer of the index database. It requests block hashes and blocks
from the daemon, extracts index rows for every transaction, and keeps a sync cursor with
the recent block hashes so chain reorganizations within the configured window can be
rolled back using per-block undo records. The Electrum server and the HTTP API read the
same database, so all three services see a consistent view of the indexed chain.

The index database is layered (package lib/store) behind a product agnostic key-value
interface with LevelDB, MongoDB and PostgreSQL backends selected via configuration.

When an address is set for monitoring through the HTTP API, transactions involving it are
published to a message broker so front-ends can provide real-time eventing. The broker is
implemented as a product agnostic layer (package lib/msg) and is configured via a JSON
config file at service startup. Block events are published on every indexed block once
the initial import is done.

The server can also be monitored via a Prometheus API by setting the flag "-m" at
startup.

Running

The server can be started running cmd/electrumd/main.go, with a JSON config file (-c),
OS ENV variables (EDX_ prefixed) or command-line flags selecting the network, the index
database, the upstream daemon endpoint and credential, and the Electrum and HTTP listen
addresses. See cmd/conf.json for a sample configuration and the Makefile for common
invocations, including a protocol smoke probe against a running server.

*/
package electrumd
