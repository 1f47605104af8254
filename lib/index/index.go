// Package index defines the row families of the on-disk index and the queries over them.
//
// One byte prefixes a row family. All integers are big-endian so prefix scans iterate in
// key order:
//
//	'T' || txid(32)                                   -> height(4) || pos(4)
//	'H' || scripthash(32) || height(4) || txid(32) || flag(1) -> value(8)
//	'U' || scripthash(32) || txid(32) || vout(4)      -> height(4) || value(8)
//	'O' || txid(32) || vout(4)                        -> scripthash(32) || value(8)
//	'a' || address || 0x00 || scripthash(32)          -> empty
//	'B' || height(4)                                  -> hash(32) || header(80)
//	'R' || height(4)                                  -> JSON undo data
//	'C'                                               -> JSON sync cursor
//	'F'                                               -> empty, initial import done
//
// Scripthash is sha256 of the output script; the Electrum wire form is the byte-reversed
// hex of it.
package index

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sort"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/dtorres/electrumd/lib/store"
)

// Row family prefixes.
const (
	prefixTx     = 'T'
	prefixHist   = 'H'
	prefixUTXO   = 'U'
	prefixOut    = 'O'
	prefixAddr   = 'a'
	prefixHeader = 'B'
	prefixUndo   = 'R'
)

// Singleton row keys.
var (
	CursorKey = []byte{'C'}
	DoneKey   = []byte{'F'}
)

// Errors returned
var (
	ErrShortRow = errors.New("index row is too short")
	ErrBadHash  = errors.New("malformed scripthash: 32 hex-encoded bytes expected")
)

// ScriptHash identifies an output script in the index.
type ScriptHash [32]byte

// NewScriptHash hashes an output script.
func NewScriptHash(script []byte) ScriptHash {
	return sha256.Sum256(script)
}

// Wire returns the Electrum wire form of the scripthash.
func (s ScriptHash) Wire() string {
	var r [32]byte
	for i := range s {
		r[31-i] = s[i]
	}

	return hex.EncodeToString(r[:])
}

// ParseWireHash decodes an Electrum wire scripthash into its index form.
func ParseWireHash(s string) (ScriptHash, error) {
	var sh ScriptHash

	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return sh, ErrBadHash
	}

	for i, c := range b {
		sh[31-i] = c
	}

	return sh, nil
}

func putUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)

	return append(b, tmp[:]...)
}

func putUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)

	return append(b, tmp[:]...)
}

// TxKey returns the key of the transaction position row.
func TxKey(txid chainhash.Hash) []byte {
	return append([]byte{prefixTx}, txid[:]...)
}

// TxValue encodes the confirmed position of a transaction.
func TxValue(height, pos uint32) []byte {
	return putUint32(putUint32(make([]byte, 0, 8), height), pos)
}

// ParseTxValue decodes a transaction position row value.
func ParseTxValue(v []byte) (height, pos uint32, err error) {
	if len(v) < 8 {
		return 0, 0, ErrShortRow
	}

	return binary.BigEndian.Uint32(v[:4]), binary.BigEndian.Uint32(v[4:8]), nil
}

// HistoryKey returns the key of a script history row. Funding and spending entries of the
// same transaction get distinct keys through the flag byte.
func HistoryKey(sh ScriptHash, height uint32, txid chainhash.Hash, spending bool) []byte {
	k := make([]byte, 0, 1+32+4+32+1)
	k = append(k, prefixHist)
	k = append(k, sh[:]...)
	k = putUint32(k, height)
	k = append(k, txid[:]...)

	flag := byte(0)
	if spending {
		flag = 1
	}

	return append(k, flag)
}

// HistoryValue encodes the satoshi value moved by a history row.
func HistoryValue(value int64) []byte {
	return putUint64(make([]byte, 0, 8), uint64(value))
}

// HistoryRow is a decoded script history row.
type HistoryRow struct {
	Height   uint32
	TxID     chainhash.Hash
	Spending bool
	Value    int64
}

// ParseHistoryRow decodes a script history row.
func ParseHistoryRow(r store.Row) (h HistoryRow, err error) {
	if len(r.Key) < 1+32+4+32+1 || len(r.Value) < 8 {
		return h, ErrShortRow
	}

	h.Height = binary.BigEndian.Uint32(r.Key[33:37])
	copy(h.TxID[:], r.Key[37:69])
	h.Spending = r.Key[69] == 1
	h.Value = int64(binary.BigEndian.Uint64(r.Value[:8]))

	return h, nil
}

// UTXOKey returns the key of an unspent output row.
func UTXOKey(sh ScriptHash, txid chainhash.Hash, vout uint32) []byte {
	k := make([]byte, 0, 1+32+32+4)
	k = append(k, prefixUTXO)
	k = append(k, sh[:]...)
	k = append(k, txid[:]...)

	return putUint32(k, vout)
}

// UTXOValue encodes the confirmation height and satoshi value of an unspent output.
func UTXOValue(height uint32, value int64) []byte {
	return putUint64(putUint32(make([]byte, 0, 12), height), uint64(value))
}

// UTXO is a decoded unspent output row.
type UTXO struct {
	TxID   chainhash.Hash
	Vout   uint32
	Height uint32
	Value  int64
}

// ParseUTXO decodes an unspent output row.
func ParseUTXO(r store.Row) (u UTXO, err error) {
	if len(r.Key) < 1+32+32+4 || len(r.Value) < 12 {
		return u, ErrShortRow
	}

	copy(u.TxID[:], r.Key[33:65])
	u.Vout = binary.BigEndian.Uint32(r.Key[65:69])
	u.Height = binary.BigEndian.Uint32(r.Value[:4])
	u.Value = int64(binary.BigEndian.Uint64(r.Value[4:12]))

	return u, nil
}

// OutpointKey returns the key of the outpoint row, used to resolve the scripthash and
// value of an output when it is spent.
func OutpointKey(txid chainhash.Hash, vout uint32) []byte {
	k := make([]byte, 0, 1+32+4)
	k = append(k, prefixOut)
	k = append(k, txid[:]...)

	return putUint32(k, vout)
}

// OutpointValue encodes the scripthash and satoshi value of an output.
func OutpointValue(sh ScriptHash, value int64) []byte {
	v := make([]byte, 0, 40)
	v = append(v, sh[:]...)

	return putUint64(v, uint64(value))
}

// ParseOutpointValue decodes an outpoint row value.
func ParseOutpointValue(v []byte) (sh ScriptHash, value int64, err error) {
	if len(v) < 40 {
		return sh, 0, ErrShortRow
	}

	copy(sh[:], v[:32])

	return sh, int64(binary.BigEndian.Uint64(v[32:40])), nil
}

// AddrKey returns the key of an address search row.
func AddrKey(addr string, sh ScriptHash) []byte {
	k := make([]byte, 0, 1+len(addr)+1+32)
	k = append(k, prefixAddr)
	k = append(k, addr...)
	k = append(k, 0x00)

	return append(k, sh[:]...)
}

// AddrSearchPrefix returns the scan prefix matching all addresses starting with p.
func AddrSearchPrefix(p string) []byte {
	return append([]byte{prefixAddr}, p...)
}

// HeaderKey returns the key of the header row at the given height.
func HeaderKey(height uint32) []byte {
	return putUint32([]byte{prefixHeader}, height)
}

// HeaderValue encodes the block hash and the serialized 80-byte header.
func HeaderValue(hash chainhash.Hash, header []byte) []byte {
	return append(hash[:], header...)
}

// ParseHeaderValue decodes a header row value.
func ParseHeaderValue(v []byte) (hash chainhash.Hash, header []byte, err error) {
	if len(v) < 32+80 {
		return hash, nil, ErrShortRow
	}

	copy(hash[:], v[:32])

	return hash, v[32:112], nil
}

// UndoKey returns the key of the undo row at the given height.
func UndoKey(height uint32) []byte {
	return putUint32([]byte{prefixUndo}, height)
}

// TxPos is one confirmed transaction of a script history.
type TxPos struct {
	TxID   chainhash.Hash
	Height uint32
	Pos    uint32
}

// History returns the confirmed transactions touching the scripthash, ordered by height
// and position in block. Funding and spending rows of the same transaction collapse into
// one entry.
func History(kv store.KV, sh ScriptHash) ([]TxPos, error) {
	prefix := append([]byte{prefixHist}, sh[:]...)

	rows, err := kv.ScanPrefix(prefix)
	if err != nil {
		return nil, err
	}

	seen := make(map[chainhash.Hash]struct{}, len(rows))
	hist := make([]TxPos, 0, len(rows))

	for _, r := range rows {
		h, errRow := ParseHistoryRow(r)
		if errRow != nil {
			return nil, errRow
		}

		if _, ok := seen[h.TxID]; ok {
			continue
		}

		seen[h.TxID] = struct{}{}

		tp := TxPos{TxID: h.TxID, Height: h.Height}
		if v, errTx := kv.Get(TxKey(h.TxID)); errTx == nil {
			_, tp.Pos, _ = ParseTxValue(v)
		}

		hist = append(hist, tp)
	}

	sort.Slice(hist, func(i, j int) bool {
		if hist[i].Height != hist[j].Height {
			return hist[i].Height < hist[j].Height
		}

		return hist[i].Pos < hist[j].Pos
	})

	return hist, nil
}

// Balance returns the confirmed balance of the scripthash in satoshis.
func Balance(kv store.KV, sh ScriptHash) (int64, error) {
	utxos, err := ListUnspent(kv, sh)
	if err != nil {
		return 0, err
	}

	var sum int64
	for _, u := range utxos {
		sum += u.Value
	}

	return sum, nil
}

// ListUnspent returns the unspent outputs of the scripthash.
func ListUnspent(kv store.KV, sh ScriptHash) ([]UTXO, error) {
	prefix := append([]byte{prefixUTXO}, sh[:]...)

	rows, err := kv.ScanPrefix(prefix)
	if err != nil {
		return nil, err
	}

	utxos := make([]UTXO, 0, len(rows))

	for _, r := range rows {
		u, errRow := ParseUTXO(r)
		if errRow != nil {
			return nil, errRow
		}

		utxos = append(utxos, u)
	}

	return utxos, nil
}

// SearchAddresses returns up to limit indexed addresses starting with the given prefix.
func SearchAddresses(kv store.KV, prefix string, limit int) ([]string, error) {
	rows, err := kv.ScanPrefix(AddrSearchPrefix(prefix))
	if err != nil {
		return nil, err
	}

	var (
		addrs []string
		last  string
	)

	for _, r := range rows {
		k := r.Key[1:]

		sep := len(k) - 33 // 0x00 + scripthash
		if sep < 0 || k[sep] != 0x00 {
			return nil, ErrShortRow
		}

		addr := string(k[:sep])
		if addr == last {
			continue
		}

		last = addr

		addrs = append(addrs, addr)
		if limit > 0 && len(addrs) >= limit {
			break
		}
	}

	return addrs, nil
}

// Status returns the Electrum status of the scripthash: sha256 over the concatenated
// "txid:height:" history entries, hex-encoded. The empty string means no history.
func Status(kv store.KV, sh ScriptHash) (string, error) {
	hist, err := History(kv, sh)
	if err != nil {
		return "", err
	}

	if len(hist) == 0 {
		return "", nil
	}

	h := sha256.New()
	for _, tp := range hist {
		h.Write([]byte(tp.TxID.String()))
		h.Write([]byte(":"))
		h.Write([]byte(strconv.FormatUint(uint64(tp.Height), 10)))
		h.Write([]byte(":"))
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
