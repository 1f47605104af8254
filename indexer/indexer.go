// Package indexer implements the block import service. The indexer scans mined blocks of
// the configured network through the daemon's JSON-RPC, extracts the index rows of every
// transaction, and keeps the index database in sync with the daemon's chain, rolling
// back reorganized blocks within the recent-hash window.
package indexer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/dtorres/electrumd/indexer/chainsync"
	"github.com/dtorres/electrumd/lib/chain"
	"github.com/dtorres/electrumd/lib/index"
	"github.com/dtorres/electrumd/lib/metrics"
	"github.com/dtorres/electrumd/lib/msg"
	"github.com/dtorres/electrumd/lib/store"
)

// Notifier receives in-process notifications on every indexed block, used by the
// Electrum server to push subscription updates.
type Notifier interface {
	NotifyBlock(height int64, header []byte)
	NotifyScriptHashes(shs []index.ScriptHash)
}

// Options are the indexing feature toggles.
type Options struct {
	AddressSearch     bool
	IndexUnspendables bool
}

// Indexer implements the block import service.
type Indexer struct {
	net    string
	kv     store.KV
	c      chain.Chain
	cs     *chainsync.Cursor
	mb     msg.MsgBroker
	hub    Notifier
	met    *metrics.Set
	params *chaincfg.Params
	opts   Options
	synced bool

	stopc    chan struct{}
	stopOnce sync.Once
}

// undoData is the JSON rollback record kept per recent block: the keys the block added
// and the pre-existing rows it deleted.
type undoData struct {
	Hash    string      `json:"hash"`
	Added   [][]byte    `json:"added"`
	Removed []store.Row `json:"removed"`
}

// New instantiates a new indexer service. The broker and the notifier may be nil.
func New(net string, kv store.KV, c chain.Chain, mb msg.MsgBroker, hub Notifier,
	met *metrics.Set, params *chaincfg.Params, opts Options) (*Indexer, error) {
	cs, err := chainsync.New(net, c.MaxBlocks(), kv)
	if err != nil {
		return nil, fmt.Errorf("indexer: cannot load sync cursor: %w", err)
	}

	synced := false
	if _, err = kv.Get(index.DoneKey); err == nil {
		synced = true
	}

	return &Indexer{
		net:    net,
		kv:     kv,
		c:      c,
		cs:     cs,
		mb:     mb,
		hub:    hub,
		met:    met,
		params: params,
		opts:   opts,
		synced: synced,
		stopc:  make(chan struct{}),
	}, nil
}

// Cursor exposes the sync cursor, used by the servers to report the indexed tip.
func (ix *Indexer) Cursor() *chainsync.Cursor {
	return ix.cs
}

// Stop will send a termination signal to the import go routine, waking it up if it is
// waiting for a new block at the tip.
func (ix *Indexer) Stop() {
	ix.cs.Stop()
	ix.stopOnce.Do(func() { close(ix.stopc) })
}

// Run starts the import go routine. The routine's completion status arrives on the
// returned channel so the calling routine can control graceful termination.
func (ix *Indexer) Run() chan string {
	ret := make(chan string, 1)

	log.Printf("[%s] Importing at block %d... ", ix.net, ix.cs.Height)

	go func() {
		var err error

		defer func() {
			// save cursor to DB
			errSave := ix.cs.Save(ix.kv)
			// write into channel
			ret <- "[" + ix.net + "] Done!" + fmt.Sprintf(" err:%v", err) + fmt.Sprintf(" err2:%v", errSave)
		}()

		for ix.cs.Status() == chainsync.WORK {
			height := ix.cs.Height + 1

			hash, errHash := ix.c.GetBlockHash(height)
			if errors.Is(errHash, chain.ErrNoBlock) {
				// at the daemon's tip, mark the initial import done and wait for a new
				// block to be mined
				ix.markSynced()
				select {
				case <-time.After(time.Duration(ix.c.AvgBlock()) * time.Second):
				case <-ix.stopc:
				}

				continue
			} else if errHash != nil {
				log.Printf("[%s] Run GetBlockHash height:%d err:%v", ix.net, height, errHash)
				err = errHash
				ix.cs.Stop()

				return
			}

			blk, errBlk := ix.c.GetBlock(hash)
			if errBlk != nil {
				log.Printf("[%s] Run GetBlock hash:%s err:%v", ix.net, hash, errBlk)
				err = errBlk
				ix.cs.Stop()

				return
			}

			// check block is chained
			if !ix.cs.Chained(blk.Header.PrevBlock.String()) {
				log.Printf("[%s] Block %d is not chained, rolling back %s", ix.net, height, ix.cs.TipHash())

				if err = ix.rollback(); err != nil {
					log.Printf("[%s] Rollback failed: %v", ix.net, err)
					ix.cs.Stop()

					return
				}

				continue
			}

			if err = ix.indexBlock(height, hash.String(), blk); err != nil {
				log.Printf("[%s] Error indexing block %d: %v", ix.net, height, err)
				ix.cs.Stop()

				return
			}

			if height%1000 == 0 && !ix.synced {
				log.Printf("[%s] Imported block %d hash:%s", ix.net, height, hash)
			}
		}
	}()

	return ret
}

// markSynced writes the flag row that records a completed initial import. Subscription
// and broker eventing start only from this point.
func (ix *Indexer) markSynced() {
	if ix.synced {
		return
	}

	if err := ix.kv.Write([]store.Row{{Key: index.DoneKey, Value: []byte{}}}); err != nil {
		log.Printf("[%s] Error saving import flag to DB, err:%v", ix.net, err)

		return
	}

	log.Printf("[%s] Initial import done at block %d", ix.net, ix.cs.Height)
	ix.synced = true
}

// watchMap resolves the monitored addresses to their scripthashes.
func (ix *Indexer) watchMap() map[index.ScriptHash]string {
	m := map[index.ScriptHash]string{}

	addrs, err := store.Watched(ix.kv, ix.net)
	if err != nil {
		log.Printf("[%s] Cannot load monitored addresses from DB, err:%v", ix.net, err)

		return m
	}

	for _, a := range addrs {
		decoded, errDec := btcutil.DecodeAddress(a, ix.params)
		if errDec != nil {
			continue
		}

		script, errScr := txscript.PayToAddrScript(decoded)
		if errScr != nil {
			continue
		}

		m[index.NewScriptHash(script)] = a
	}

	return m
}

// indexBlock extracts and writes the index rows of one block, persists the cursor and
// the undo record, and fans out events and notifications.
func (ix *Indexer) indexBlock(height int64, hash string, blk *wire.MsgBlock) error {
	start := time.Now()
	watched := ix.watchMap()

	var (
		rows    []store.Row
		delKeys [][]byte
		undo    = undoData{Hash: hash}
		touched = map[index.ScriptHash]struct{}{}
		evts    []msg.TxEvent
		newOut  = map[string][]byte{} // outpoints created within this block
	)

	h32 := uint32(height)

	add := func(key, value []byte) {
		rows = append(rows, store.Row{Key: key, Value: value})
		undo.Added = append(undo.Added, key)
	}

	// header row
	var buf bytes.Buffer
	if err := blk.Header.Serialize(&buf); err != nil {
		return err
	}

	blkHash := blk.BlockHash()
	add(index.HeaderKey(h32), index.HeaderValue(blkHash, buf.Bytes()))

	for pos, tx := range blk.Transactions {
		txid := tx.TxHash()
		add(index.TxKey(txid), index.TxValue(h32, uint32(pos)))

		// funding rows
		for vout, out := range tx.TxOut {
			if txscript.IsUnspendable(out.PkScript) && !ix.opts.IndexUnspendables {
				continue
			}

			sh := index.NewScriptHash(out.PkScript)
			touched[sh] = struct{}{}

			add(index.HistoryKey(sh, h32, txid, false), index.HistoryValue(out.Value))
			add(index.UTXOKey(sh, txid, uint32(vout)), index.UTXOValue(h32, out.Value))

			outVal := index.OutpointValue(sh, out.Value)
			add(index.OutpointKey(txid, uint32(vout)), outVal)
			newOut[string(index.OutpointKey(txid, uint32(vout)))] = outVal

			if ix.opts.AddressSearch {
				if _, addrs, _, errAddr := txscript.ExtractPkScriptAddrs(out.PkScript, ix.params); errAddr == nil {
					for _, a := range addrs {
						add(index.AddrKey(a.EncodeAddress(), sh), []byte{})
					}
				}
			}

			if a, ok := watched[sh]; ok {
				evts = append(evts, msg.TxEvent{
					Net: ix.net, Height: height, TxID: txid.String(), Address: a, Value: out.Value,
				})
			}
		}

		// spending rows
		if blockchain.IsCoinBaseTx(tx) {
			continue
		}

		for _, in := range tx.TxIn {
			outKey := index.OutpointKey(in.PreviousOutPoint.Hash, in.PreviousOutPoint.Index)

			outVal, inBlock := newOut[string(outKey)]
			if !inBlock {
				v, errGet := ix.kv.Get(outKey)
				if errors.Is(errGet, store.ErrNotFound) {
					// output was not indexed (unspendable or pre-index)
					continue
				} else if errGet != nil {
					return errGet
				}

				outVal = v
			}

			sh, val, errOut := index.ParseOutpointValue(outVal)
			if errOut != nil {
				return errOut
			}

			touched[sh] = struct{}{}

			add(index.HistoryKey(sh, h32, txid, true), index.HistoryValue(val))

			utxoKey := index.UTXOKey(sh, in.PreviousOutPoint.Hash, in.PreviousOutPoint.Index)
			delKeys = append(delKeys, utxoKey, outKey)

			// rows that existed before this block are kept for rollback
			if !inBlock {
				if v, errGet := ix.kv.Get(utxoKey); errGet == nil {
					undo.Removed = append(undo.Removed, store.Row{Key: utxoKey, Value: v})
				}

				undo.Removed = append(undo.Removed, store.Row{Key: outKey, Value: outVal})
			}

			if a, ok := watched[sh]; ok {
				evts = append(evts, msg.TxEvent{
					Net: ix.net, Height: height, TxID: txid.String(), Address: a, Value: -val,
				})
			}
		}
	}

	undoRow, err := encodeUndo(undo)
	if err != nil {
		return err
	}

	rows = append(rows, store.Row{Key: index.UndoKey(h32), Value: undoRow})

	if err = ix.kv.Write(rows); err != nil {
		return err
	}

	if err = ix.kv.Delete(delKeys); err != nil {
		return err
	}

	// sync'ed - store hash and update cursor
	ix.cs.Update(hash, ix.c.MaxBlocks())

	if err = ix.cs.Save(ix.kv); err != nil {
		log.Printf("[%s] Error saving cursor to DB, err:%v", ix.net, err)

		return err
	}

	// drop the undo record that fell out of the reorg window
	if old := height - int64(ix.c.MaxBlocks()); old >= 0 {
		_ = ix.kv.Delete([][]byte{index.UndoKey(uint32(old))})
	}

	if ix.met != nil {
		ix.met.Height.Set(float64(height))
		ix.met.Blocks.Inc()
		ix.met.BatchSeconds.Observe(time.Since(start).Seconds())
	}

	ix.fanout(height, buf.Bytes(), touched, evts)

	return nil
}

// fanout sends the block and transaction events and the in-process notifications, once
// the initial import is done.
func (ix *Indexer) fanout(height int64, header []byte, touched map[index.ScriptHash]struct{}, evts []msg.TxEvent) {
	if !ix.synced {
		return
	}

	if ix.mb != nil {
		if err := ix.mb.SendBlock(msg.BlockEvent{Net: ix.net, Height: height, Hash: ix.cs.TipHash()}); err != nil {
			log.Printf("[%s] Error sending block event: %v", ix.net, err)
		}

		if len(evts) > 0 {
			err := ix.mb.SendTrans(ix.net, evts)
			log.Printf("[%s] Sending %d events err:%v", ix.net, len(evts), err)
		}
	}

	if ix.hub != nil {
		ix.hub.NotifyBlock(height, header)

		shs := make([]index.ScriptHash, 0, len(touched))
		for sh := range touched {
			shs = append(shs, sh)
		}

		ix.hub.NotifyScriptHashes(shs)
	}
}

func encodeUndo(u undoData) ([]byte, error) {
	return json.Marshal(u)
}

func decodeUndo(v []byte) (u undoData, err error) {
	err = json.Unmarshal(v, &u)

	return u, err
}

// rollback undoes the last indexed block using its undo record and steps the cursor
// back.
func (ix *Indexer) rollback() error {
	height := ix.cs.Height
	if height < 0 {
		return errors.New("indexer: cannot roll back an empty index")
	}

	v, err := ix.kv.Get(index.UndoKey(uint32(height)))
	if err != nil {
		return fmt.Errorf("indexer: no undo data for block %d: %w", height, err)
	}

	undo, err := decodeUndo(v)
	if err != nil {
		return err
	}

	if err = ix.kv.Delete(append(undo.Added, index.UndoKey(uint32(height)))); err != nil {
		return err
	}

	if err = ix.kv.Write(undo.Removed); err != nil {
		return err
	}

	if _, ok := ix.cs.Rewind(); !ok {
		return errors.New("indexer: reorg deeper than the recent-hash window")
	}

	log.Printf("[%s] Rolled back block %d hash:%s", ix.net, height, undo.Hash)

	return ix.cs.Save(ix.kv)
}
