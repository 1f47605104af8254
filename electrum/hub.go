package electrum

import (
	"encoding/hex"
	"log"
	"sync"

	"github.com/dtorres/electrumd/lib/index"
	"github.com/dtorres/electrumd/lib/store"
)

// Hub fans the indexer's per-block notifications out to the subscribed sessions and
// caches the indexed tip. It implements the indexer Notifier interface.
type Hub struct {
	kv store.KV

	mu        sync.Mutex
	tipHeight int64
	tipHeader []byte
	sessions  map[*Session]struct{}
}

// NewHub returns a hub over the index database. The tip starts unset (height -1).
func NewHub(kv store.KV) *Hub {
	return &Hub{kv: kv, tipHeight: -1, sessions: map[*Session]struct{}{}}
}

// SetTip primes the cached tip, used at startup from the sync cursor.
func (h *Hub) SetTip(height int64, header []byte) {
	h.mu.Lock()
	h.tipHeight = height
	h.tipHeader = header
	h.mu.Unlock()
}

// Tip returns the cached indexed tip.
func (h *Hub) Tip() (int64, []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.tipHeight, h.tipHeader
}

func (h *Hub) add(sess *Session) {
	h.mu.Lock()
	h.sessions[sess] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(sess *Session) {
	h.mu.Lock()
	delete(h.sessions, sess)
	h.mu.Unlock()
}

func (h *Hub) snapshot() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*Session, 0, len(h.sessions))
	for sess := range h.sessions {
		out = append(out, sess)
	}

	return out
}

// NotifyBlock updates the cached tip and pushes the new header to the sessions
// subscribed to headers.
func (h *Hub) NotifyBlock(height int64, header []byte) {
	h.SetTip(height, header)

	params := []interface{}{map[string]interface{}{
		"height": height,
		"hex":    hex.EncodeToString(header),
	}}

	for _, sess := range h.snapshot() {
		sess.mu.Lock()
		subscribed := sess.headers
		sess.mu.Unlock()

		if !subscribed {
			continue
		}

		if err := sess.notify("blockchain.headers.subscribe", params); err != nil {
			log.Printf("Error notifying headers to %v, dropping session: %v", sess.conn.RemoteAddr(), err)
			// closing the connection makes the session's read loop tear it down
			_ = sess.conn.Close()
		}
	}
}

// NotifyScriptHashes recomputes and pushes the status of every touched scripthash a
// session subscribed to.
func (h *Hub) NotifyScriptHashes(shs []index.ScriptHash) {
	touched := make(map[index.ScriptHash]struct{}, len(shs))
	for _, sh := range shs {
		touched[sh] = struct{}{}
	}

	for _, sess := range h.snapshot() {
		sess.mu.Lock()
		subs := make(map[index.ScriptHash]string, len(sess.scripts))
		for sh, wire := range sess.scripts {
			subs[sh] = wire
		}
		sess.mu.Unlock()

		for sh, wire := range subs {
			if _, ok := touched[sh]; !ok {
				continue
			}

			status, err := index.Status(h.kv, sh)
			if err != nil {
				log.Printf("Error computing status for %s: %v", wire, err)

				continue
			}

			var param interface{}
			if status != "" {
				param = status
			}

			if err = sess.notify("blockchain.scripthash.subscribe", []interface{}{wire, param}); err != nil {
				log.Printf("Error notifying scripthash to %v, dropping session: %v", sess.conn.RemoteAddr(), err)
				_ = sess.conn.Close()

				break
			}
		}
	}
}
