// Package daemon implements the chain interface over the JSON-RPC API of a
// bitcoind-compatible full node.
package daemon

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/dtorres/electrumd/lib/chain"
)

// Daemon implements a connection to the upstream full node.
type Daemon struct {
	c      *rpcclient.Client
	net    string
	mb     int
	logRPC bool
}

// Errors returned
var (
	ErrBadCookie = errors.New("cookie must be a user:pass pair")
	ErrNoCookie  = errors.New("daemon credentials missing: set cookie or cookie file")
)

// bitcoind JSON-RPC error codes of interest
const (
	rpcInvalidParameter    = -8 // getblockhash beyond the tip
	rpcInvalidAddressOrKey = -5 // unknown transaction or block
)

// Credentials splits a user:pass cookie string, reading it from cookieFile when the
// literal pair is not given.
func Credentials(cookie, cookieFile string) (user, pass string, err error) {
	if cookie == "" && cookieFile != "" {
		b, errRead := os.ReadFile(cookieFile)
		if errRead != nil {
			return "", "", fmt.Errorf("cannot read cookie file %s: %w", cookieFile, errRead)
		}

		cookie = strings.TrimSpace(string(b))
	}

	if cookie == "" {
		return "", "", ErrNoCookie
	}

	user, pass, found := strings.Cut(cookie, ":")
	if !found || user == "" {
		return "", "", ErrBadCookie
	}

	return user, pass, nil
}

// New returns a connection to the full node RPC at addr, authenticated with the cookie
// pair. maxBlocks is required to indicate how many blocks are kept for reorg control.
func New(addr, cookie, cookieFile, net string, maxBlocks int, logRPC bool) (*Daemon, error) {
	user, pass, err := Credentials(cookie, cookieFile)
	if err != nil {
		return nil, err
	}

	c, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         addr,
		User:         user,
		Pass:         pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon RPC in %s: %w", addr, err)
	}

	return &Daemon{c: c, net: net, mb: maxBlocks, logRPC: logRPC}, nil
}

// MaxBlocks returns how many blocks are kept for reorg control.
func (d *Daemon) MaxBlocks() int {
	return d.mb
}

// AvgBlock returns the average time to mine a block in seconds.
func (d *Daemon) AvgBlock() int {
	return 600 // we could put this in the config file...
}

// Close ends the connection.
func (d *Daemon) Close() {
	d.c.Shutdown()
}

func (d *Daemon) trace(method string, args, res interface{}, err error) {
	if d.logRPC {
		log.Printf("[%s] daemon rpc %s(%v) res:%+v err:%v", d.net, method, args, res, err)
	}
}

// rpcCode maps daemon RPC error codes to the chain sentinel errors.
func rpcCode(err error, code int, sentinel error) error {
	if err == nil {
		return nil
	}

	var jerr *btcjson.RPCError
	if errors.As(err, &jerr) && int(jerr.Code) == code {
		return sentinel
	}

	return err
}

// BestHeight returns the daemon's chain tip height.
func (d *Daemon) BestHeight() (int64, error) {
	h, err := d.c.GetBlockCount()
	d.trace("getblockcount", nil, h, err)

	return h, err
}

// GetBlockHash returns the hash of the block at the given height, or chain.ErrNoBlock
// when the height is beyond the daemon's tip.
func (d *Daemon) GetBlockHash(height int64) (*chainhash.Hash, error) {
	h, err := d.c.GetBlockHash(height)
	d.trace("getblockhash", height, h, err)

	return h, rpcCode(err, rpcInvalidParameter, chain.ErrNoBlock)
}

// GetBlock returns the full block for the given hash.
func (d *Daemon) GetBlock(hash *chainhash.Hash) (*wire.MsgBlock, error) {
	b, err := d.c.GetBlock(hash)
	d.trace("getblock", hash, b != nil, err)

	return b, rpcCode(err, rpcInvalidAddressOrKey, chain.ErrNoBlock)
}

// GetHeader returns the block header for the given hash.
func (d *Daemon) GetHeader(hash *chainhash.Hash) (*wire.BlockHeader, error) {
	h, err := d.c.GetBlockHeader(hash)
	d.trace("getblockheader", hash, h != nil, err)

	return h, rpcCode(err, rpcInvalidAddressOrKey, chain.ErrNoBlock)
}

// GetRawTransaction returns the serialized transaction, or chain.ErrNoTrx.
func (d *Daemon) GetRawTransaction(txid *chainhash.Hash) ([]byte, error) {
	tx, err := d.c.GetRawTransaction(txid)
	d.trace("getrawtransaction", txid, tx != nil, err)

	if err != nil {
		return nil, rpcCode(err, rpcInvalidAddressOrKey, chain.ErrNoTrx)
	}

	var buf bytes.Buffer
	if err = tx.MsgTx().Serialize(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// GetVerboseTransaction returns the daemon's verbose decoding of the transaction, or
// chain.ErrNoTrx.
func (d *Daemon) GetVerboseTransaction(txid *chainhash.Hash) (*btcjson.TxRawResult, error) {
	tx, err := d.c.GetRawTransactionVerbose(txid)
	d.trace("getrawtransaction", txid, tx != nil, err)

	return tx, rpcCode(err, rpcInvalidAddressOrKey, chain.ErrNoTrx)
}

// SendRawTransaction submits the hex-encoded transaction to the daemon and returns its
// txid.
func (d *Daemon) SendRawTransaction(rawHex string) (*chainhash.Hash, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("malformed raw transaction: %w", err)
	}

	tx := new(wire.MsgTx)
	if err = tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("malformed raw transaction: %w", err)
	}

	hash, err := d.c.SendRawTransaction(tx, false)
	d.trace("sendrawtransaction", tx.TxHash(), hash, err)

	return hash, err
}

// EstimateFee returns the daemon's fee estimate in coin/kvB for the given confirmation
// target, or -1 when no estimate is available.
func (d *Daemon) EstimateFee(target int64) (float64, error) {
	mode := btcjson.EstimateModeConservative

	res, err := d.c.EstimateSmartFee(target, &mode)
	d.trace("estimatesmartfee", target, res, err)

	if err != nil {
		return -1, err
	}

	if res.FeeRate == nil {
		return -1, nil
	}

	return *res.FeeRate, nil
}

// RelayFee returns the daemon's minimum relay fee in coin/kvB.
func (d *Daemon) RelayFee() (float64, error) {
	res, err := d.c.GetNetworkInfo()
	d.trace("getnetworkinfo", nil, res != nil, err)

	if err != nil {
		return 0, err
	}

	return res.RelayFee, nil
}

// MempoolEntries returns the vsize and fee of every mempool transaction.
func (d *Daemon) MempoolEntries() ([]chain.MempoolEntry, error) {
	res, err := d.c.GetRawMempoolVerbose()
	d.trace("getrawmempool", true, len(res), err)

	if err != nil {
		return nil, err
	}

	entries := make([]chain.MempoolEntry, 0, len(res))
	for _, e := range res {
		entries = append(entries, chain.MempoolEntry{
			VSize: int64(e.Vsize),
			Fee:   int64(e.Fee * 1e8),
		})
	}

	return entries, nil
}
