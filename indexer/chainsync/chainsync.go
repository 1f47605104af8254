// package chainsync keeps the indexer's position in the chain: the last indexed height
// and a revolving slice of recent block hashes used to detect reorgs. The cursor is
// persisted in the index database so an interrupted import resumes where it stopped.
package chainsync

import (
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/dtorres/electrumd/lib/index"
	"github.com/dtorres/electrumd/lib/store"
)

// Status possible values, control whether a Cursor is working or is/has to stop
const (
	WORK int = 0
	STOP int = 1
)

// Cursor contains the fields and data structures required to manage the import of a
// network. Height is -1 until the first block is indexed.
type Cursor struct {
	l      sync.Mutex // l is a mutex to ensure concurrent updating of the chain state
	status int
	Height int64    `json:"height"` // last block indexed
	Bh     []string `json:"bh"`     // contains the last blocks hashes (from Height down to Height-maxBlocks+1)
	Bhi    int      `json:"bhi"`    // index to last block's hash in Bh
}

// New loads the cursor from the index database, or starts a fresh one from below the
// genesis block when the database holds none.
func New(net string, max int, kv store.KV) (*Cursor, error) {
	var c Cursor

	v, err := kv.Get(index.CursorKey)

	switch {
	case errors.Is(err, store.ErrNotFound):
		// nothing indexed yet, start from scratch
		c.Height = -1
		c.Bhi = 0
		c.Bh = make([]string, max)
	case err != nil:
		return nil, err
	default:
		if err = json.Unmarshal(v, &c); err != nil {
			return nil, err
		}
		// grow the ring when maxBlocks was raised between runs
		for len(c.Bh) < max {
			c.Bh = append(c.Bh, "")
		}
	}

	c.status = WORK

	log.Printf("[%s] chainsync.New %+v", net, &c)

	return &c, nil
}

// Chained checks if the supplied parent hash links the incoming block to the last
// indexed one.
func (c *Cursor) Chained(parentHash string) bool {
	c.l.Lock()
	defer c.l.Unlock()

	return c.Bh[c.Bhi] == parentHash || c.Bh[c.Bhi] == ""
}

// Update advances the cursor with the new block hash.
func (c *Cursor) Update(hash string, maxBlocks int) {
	c.l.Lock()
	defer c.l.Unlock()
	c.Height++
	c.Bhi++
	c.Bhi %= maxBlocks
	c.Bh[c.Bhi] = hash
}

// Rewind steps the cursor back one block. Returns the height stepped away from and false
// when the ring holds no more hashes to rewind past.
func (c *Cursor) Rewind() (int64, bool) {
	c.l.Lock()
	defer c.l.Unlock()

	if c.Height < 0 || c.Bh[c.Bhi] == "" {
		return c.Height, false
	}

	h := c.Height
	c.Bh[c.Bhi] = ""
	c.Bhi = (c.Bhi - 1 + len(c.Bh)) % len(c.Bh)
	c.Height--

	return h, true
}

// Tip returns the last indexed height and block hash under the cursor lock, for readers
// outside the import routine.
func (c *Cursor) Tip() (int64, string) {
	c.l.Lock()
	defer c.l.Unlock()

	if c.Height < 0 {
		return c.Height, ""
	}

	return c.Height, c.Bh[c.Bhi]
}

// TipHash returns the hash of the last indexed block, or "" when none.
func (c *Cursor) TipHash() string {
	c.l.Lock()
	defer c.l.Unlock()

	if c.Height < 0 {
		return ""
	}

	return c.Bh[c.Bhi]
}

// Save persists the cursor to the index database.
func (c *Cursor) Save(kv store.KV) error {
	c.l.Lock()
	v, err := json.Marshal(c)
	c.l.Unlock()

	if err != nil {
		return err
	}

	return kv.Write([]store.Row{{Key: index.CursorKey, Value: v}})
}

// Stop sets status to STOP
func (c *Cursor) Stop() {
	c.l.Lock()
	c.status = STOP
	c.l.Unlock()
}

// Start sets status to WORK
func (c *Cursor) Start() {
	c.l.Lock()
	c.status = WORK
	c.l.Unlock()
}

// Status returns the current Cursor status
func (c *Cursor) Status() int {
	c.l.Lock()
	defer c.l.Unlock()
	return c.status
}
