package electrum

import (
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/dtorres/electrumd/lib/chain"
	"github.com/dtorres/electrumd/lib/index"
)

// maxHeaderChunk is the largest number of headers served by one block.headers call.
const maxHeaderChunk = 2016

// unpack decodes positional JSON-RPC params into the given destinations. Missing
// trailing params keep their zero values.
func unpack(raw json.RawMessage, dst ...interface{}) error {
	if len(raw) == 0 {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return err
	}

	for i, d := range dst {
		if i >= len(items) {
			break
		}

		if err := json.Unmarshal(items[i], d); err != nil {
			return err
		}
	}

	return nil
}

// dispatch routes one request to its method handler and returns the response body.
func (s *Server) dispatch(sess *Session, req *Request) Response {
	if s.met != nil {
		s.met.RPCCalls.WithLabelValues(req.Method).Inc()
	}

	switch req.Method {
	case "server.version":
		return s.serverVersion(req)
	case "server.banner":
		return Response{Result: s.banner}
	case "server.ping":
		return Response{Result: nil}
	case "server.donation_address":
		return Response{Result: ""}
	case "server.features":
		return s.serverFeatures()
	case "server.peers.subscribe":
		return Response{Result: []interface{}{}}
	case "blockchain.headers.subscribe":
		return s.headersSubscribe(sess)
	case "blockchain.block.header":
		return s.blockHeader(req)
	case "blockchain.block.headers":
		return s.blockHeaders(req)
	case "blockchain.estimatefee":
		return s.estimateFee(req)
	case "blockchain.relayfee":
		return s.relayFee()
	case "blockchain.scripthash.get_balance":
		return s.scriptHashBalance(req)
	case "blockchain.scripthash.get_history":
		return s.scriptHashHistory(req)
	case "blockchain.scripthash.listunspent":
		return s.scriptHashUnspent(req)
	case "blockchain.scripthash.subscribe":
		return s.scriptHashSubscribe(sess, req)
	case "blockchain.scripthash.unsubscribe":
		return s.scriptHashUnsubscribe(sess, req)
	case "blockchain.transaction.get":
		return s.transactionGet(req)
	case "blockchain.transaction.broadcast":
		return s.transactionBroadcast(req)
	case "blockchain.transaction.get_merkle":
		return s.transactionMerkle(req)
	case "mempool.get_fee_histogram":
		return s.feeHistogram()
	}

	return errResponse(CodeMethodNotFound, "unknown method "+req.Method)
}

func (s *Server) serverVersion(req *Request) Response {
	var clientName string
	if err := unpack(req.Params, &clientName); err != nil {
		return errResponse(CodeInvalidParams, "bad params")
	}

	return Response{Result: []string{ServerVersion, ProtocolVersion}}
}

func (s *Server) serverFeatures() Response {
	return Response{Result: map[string]interface{}{
		"genesis_hash":   s.params.GenesisHash.String(),
		"hash_function":  "sha256",
		"server_version": ServerVersion,
		"protocol_min":   ProtocolVersion,
		"protocol_max":   ProtocolVersion,
		"pruning":        nil,
		"hosts":          map[string]interface{}{},
	}}
}

// headersResult is the tip object of blockchain.headers.subscribe.
func headersResult(height int64, header []byte) map[string]interface{} {
	return map[string]interface{}{
		"height": height,
		"hex":    hex.EncodeToString(header),
	}
}

func (s *Server) headersSubscribe(sess *Session) Response {
	height, header := s.hub.Tip()
	if height < 0 {
		return errResponse(CodeError, "index is empty")
	}

	sess.mu.Lock()
	sess.headers = true
	sess.mu.Unlock()

	return Response{Result: headersResult(height, header)}
}

func (s *Server) blockHeader(req *Request) Response {
	var height int64 = -1
	if err := unpack(req.Params, &height); err != nil || height < 0 || height > math.MaxUint32 {
		return errResponse(CodeInvalidParams, "bad height")
	}

	v, err := s.kv.Get(index.HeaderKey(uint32(height)))
	if err != nil {
		return errResponse(CodeError, "header not indexed")
	}

	_, header, err := index.ParseHeaderValue(v)
	if err != nil {
		return errOf(err)
	}

	return Response{Result: hex.EncodeToString(header)}
}

func (s *Server) blockHeaders(req *Request) Response {
	var start, count int64

	if err := unpack(req.Params, &start, &count); err != nil || start < 0 || count < 0 || start > math.MaxUint32 {
		return errResponse(CodeInvalidParams, "bad params")
	}

	if count > maxHeaderChunk {
		count = maxHeaderChunk
	}

	// keep the scanned heights within the key space
	if last := int64(math.MaxUint32) - start + 1; count > last {
		count = last
	}

	var raw []byte

	n := int64(0)
	for ; n < count; n++ {
		v, err := s.kv.Get(index.HeaderKey(uint32(start + n)))
		if err != nil {
			break
		}

		_, header, errHdr := index.ParseHeaderValue(v)
		if errHdr != nil {
			return errOf(errHdr)
		}

		raw = append(raw, header...)
	}

	return Response{Result: map[string]interface{}{
		"hex":   hex.EncodeToString(raw),
		"count": n,
		"max":   maxHeaderChunk,
	}}
}

func (s *Server) estimateFee(req *Request) Response {
	var target int64 = 2
	if err := unpack(req.Params, &target); err != nil || target <= 0 {
		return errResponse(CodeInvalidParams, "bad confirmation target")
	}

	fee, err := s.c.EstimateFee(target)
	if err != nil {
		return errOf(err)
	}

	return Response{Result: fee}
}

func (s *Server) relayFee() Response {
	fee, err := s.c.RelayFee()
	if err != nil {
		return errOf(err)
	}

	return Response{Result: fee}
}

// scriptHashParam decodes the leading wire scripthash param.
func scriptHashParam(req *Request) (index.ScriptHash, *RPCError) {
	var s string
	if err := unpack(req.Params, &s); err != nil {
		return index.ScriptHash{}, &RPCError{Code: CodeInvalidParams, Message: "bad params"}
	}

	sh, err := index.ParseWireHash(s)
	if err != nil {
		return sh, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}

	return sh, nil
}

func (s *Server) scriptHashBalance(req *Request) Response {
	sh, rpcErr := scriptHashParam(req)
	if rpcErr != nil {
		return Response{Error: rpcErr}
	}

	bal, err := index.Balance(s.kv, sh)
	if err != nil {
		return errOf(err)
	}

	return Response{Result: map[string]int64{"confirmed": bal, "unconfirmed": 0}}
}

func (s *Server) scriptHashHistory(req *Request) Response {
	sh, rpcErr := scriptHashParam(req)
	if rpcErr != nil {
		return Response{Error: rpcErr}
	}

	hist, err := index.History(s.kv, sh)
	if err != nil {
		return errOf(err)
	}

	items := make([]map[string]interface{}, 0, len(hist))
	for _, tp := range hist {
		items = append(items, map[string]interface{}{
			"tx_hash": tp.TxID.String(),
			"height":  tp.Height,
		})
	}

	return Response{Result: items}
}

func (s *Server) scriptHashUnspent(req *Request) Response {
	sh, rpcErr := scriptHashParam(req)
	if rpcErr != nil {
		return Response{Error: rpcErr}
	}

	utxos, err := index.ListUnspent(s.kv, sh)
	if err != nil {
		return errOf(err)
	}

	items := make([]map[string]interface{}, 0, len(utxos))
	for _, u := range utxos {
		items = append(items, map[string]interface{}{
			"tx_hash": u.TxID.String(),
			"tx_pos":  u.Vout,
			"height":  u.Height,
			"value":   u.Value,
		})
	}

	return Response{Result: items}
}

func (s *Server) scriptHashSubscribe(sess *Session, req *Request) Response {
	sh, rpcErr := scriptHashParam(req)
	if rpcErr != nil {
		return Response{Error: rpcErr}
	}

	status, err := index.Status(s.kv, sh)
	if err != nil {
		return errOf(err)
	}

	sess.mu.Lock()
	sess.scripts[sh] = sh.Wire()
	sess.mu.Unlock()

	if status == "" {
		return Response{Result: nil}
	}

	return Response{Result: status}
}

func (s *Server) scriptHashUnsubscribe(sess *Session, req *Request) Response {
	sh, rpcErr := scriptHashParam(req)
	if rpcErr != nil {
		return Response{Error: rpcErr}
	}

	sess.mu.Lock()
	_, ok := sess.scripts[sh]
	delete(sess.scripts, sh)
	sess.mu.Unlock()

	return Response{Result: ok}
}

func (s *Server) transactionGet(req *Request) Response {
	var (
		txidStr string
		verbose bool
	)

	if err := unpack(req.Params, &txidStr, &verbose); err != nil {
		return errResponse(CodeInvalidParams, "bad params")
	}

	txid, err := chainhash.NewHashFromStr(txidStr)
	if err != nil {
		return errResponse(CodeInvalidParams, "malformed txid")
	}

	if verbose {
		tx, errTx := s.c.GetVerboseTransaction(txid)
		if errTx != nil {
			return errOf(errTx)
		}

		return Response{Result: tx}
	}

	raw, err := s.c.GetRawTransaction(txid)
	if err != nil {
		return errOf(err)
	}

	return Response{Result: hex.EncodeToString(raw)}
}

func (s *Server) transactionBroadcast(req *Request) Response {
	var raw string
	if err := unpack(req.Params, &raw); err != nil || raw == "" {
		return errResponse(CodeInvalidParams, "bad params")
	}

	txid, err := s.c.SendRawTransaction(raw)
	if err != nil {
		return errOf(err)
	}

	return Response{Result: txid.String()}
}

func (s *Server) transactionMerkle(req *Request) Response {
	var (
		txidStr string
		height  int64 = -1
	)

	if err := unpack(req.Params, &txidStr, &height); err != nil || height < 0 || height > math.MaxUint32 {
		return errResponse(CodeInvalidParams, "bad params")
	}

	txid, err := chainhash.NewHashFromStr(txidStr)
	if err != nil {
		return errResponse(CodeInvalidParams, "malformed txid")
	}

	v, err := s.kv.Get(index.HeaderKey(uint32(height)))
	if err != nil {
		return errResponse(CodeError, "header not indexed")
	}

	blkHash, _, err := index.ParseHeaderValue(v)
	if err != nil {
		return errOf(err)
	}

	blk, err := s.c.GetBlock(&blkHash)
	if err != nil {
		return errOf(err)
	}

	txids := make([]chainhash.Hash, len(blk.Transactions))
	for i, tx := range blk.Transactions {
		txids[i] = tx.TxHash()
	}

	branch, pos, err := index.MerkleBranch(txids, *txid)
	if err != nil {
		return errOf(err)
	}

	return Response{Result: map[string]interface{}{
		"merkle":       branch,
		"block_height": height,
		"pos":          pos,
	}}
}

// histogramBin is the vbyte size accumulated per bin of the fee histogram.
const histogramBin = 100_000

func (s *Server) feeHistogram() Response {
	entries, err := s.c.MempoolEntries()
	if err != nil {
		return errOf(err)
	}

	return Response{Result: FeeHistogram(entries)}
}

// FeeHistogram compacts the mempool into [fee_rate, vsize] pairs, from the highest fee
// rate down, closing a bin whenever it accumulates histogramBin vbytes.
func FeeHistogram(entries []chain.MempoolEntry) [][2]float64 {
	rate := func(e chain.MempoolEntry) float64 {
		if e.VSize == 0 {
			return 0
		}

		return float64(e.Fee) / float64(e.VSize)
	}

	sort.Slice(entries, func(i, j int) bool {
		return rate(entries[i]) > rate(entries[j])
	})

	hist := [][2]float64{}

	var binSize int64

	for _, e := range entries {
		binSize += e.VSize

		if binSize >= histogramBin {
			hist = append(hist, [2]float64{rate(e), float64(binSize)})
			binSize = 0
		}
	}

	if binSize > 0 {
		hist = append(hist, [2]float64{0, float64(binSize)})
	}

	return hist
}
