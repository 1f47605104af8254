// Package chain defines the interface required for connections to the upstream full node.
package chain

import (
	"errors"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Chain is an interface with the daemon calls the indexer and the servers need. It has
// been designed to be as much standard as possible over bitcoind-compatible nodes.
type Chain interface {
	// member-type methods
	MaxBlocks() int // number of blocks that are controlled for reorgs
	AvgBlock() int  // average block mining rate in seconds
	// methods
	Close()
	BestHeight() (int64, error)
	GetBlockHash(height int64) (*chainhash.Hash, error)
	GetBlock(hash *chainhash.Hash) (*wire.MsgBlock, error)
	GetHeader(hash *chainhash.Hash) (*wire.BlockHeader, error)
	GetRawTransaction(txid *chainhash.Hash) ([]byte, error)
	GetVerboseTransaction(txid *chainhash.Hash) (*btcjson.TxRawResult, error)
	SendRawTransaction(rawHex string) (*chainhash.Hash, error)
	EstimateFee(target int64) (float64, error)
	RelayFee() (float64, error)
	MempoolEntries() ([]MempoolEntry, error)
}

// MempoolEntry is the vsize and fee of one mempool transaction, used to build the fee
// histogram. Fee is in satoshis.
type MempoolEntry struct {
	VSize int64
	Fee   int64
}

// Errors returned
var (
	ErrNoBlock = errors.New("block not available yet")
	ErrNoTrx   = errors.New("transaction not found")
)

// Params returns the chain parameters for the configured network name.
func Params(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	}

	return nil, errors.New("unknown network: " + network)
}
