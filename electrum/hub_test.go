package electrum

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dtorres/electrumd/lib/index"
	"github.com/dtorres/electrumd/lib/store/level"
)

// stuckConn fails every write, like a client that stopped draining its socket.
type stuckConn struct {
	once   sync.Once
	closed chan struct{}
}

func newStuckConn() *stuckConn {
	return &stuckConn{closed: make(chan struct{})}
}

func (c *stuckConn) Read([]byte) (int, error)  { return 0, net.ErrClosed }
func (c *stuckConn) Write([]byte) (int, error) { return 0, net.ErrClosed }

func (c *stuckConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *stuckConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (c *stuckConn) RemoteAddr() net.Addr             { return &net.TCPAddr{} }
func (c *stuckConn) SetDeadline(time.Time) error      { return nil }
func (c *stuckConn) SetReadDeadline(time.Time) error  { return nil }
func (c *stuckConn) SetWriteDeadline(time.Time) error { return nil }

// TestHubDropsFailingSession checks that a session whose notification write fails gets
// its connection closed, so the read loop tears it down instead of stalling every block
// fanout on the same dead client.
func TestHubDropsFailingSession(t *testing.T) {
	kv, err := level.New(t.TempDir())
	if err != nil {
		t.Fatalf("Error opening leveldb: %v", err)
	}
	defer kv.Close()

	hub := NewHub(kv)

	conn := newStuckConn()
	sess := &Session{conn: conn, scripts: map[index.ScriptHash]string{}}
	sess.headers = true
	hub.add(sess)

	hub.NotifyBlock(1, make([]byte, 80))

	select {
	case <-conn.closed:
	default:
		t.Errorf("connection was not closed after a failed header notification")
	}

	// same teardown on a failed scripthash notification
	sh := index.NewScriptHash([]byte{0x51})
	conn2 := newStuckConn()
	sess2 := &Session{conn: conn2, scripts: map[index.ScriptHash]string{sh: sh.Wire()}}
	hub.add(sess2)

	hub.NotifyScriptHashes([]index.ScriptHash{sh})

	select {
	case <-conn2.closed:
	default:
		t.Errorf("connection was not closed after a failed scripthash notification")
	}
}
