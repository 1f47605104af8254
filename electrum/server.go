// Package electrum implements the Electrum protocol server. Clients connect over TCP and
// exchange newline-terminated JSON-RPC 2.0 objects; subscriptions are pushed as JSON-RPC
// notifications on the same connection.
package electrum

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/dtorres/electrumd/lib/chain"
	"github.com/dtorres/electrumd/lib/index"
	"github.com/dtorres/electrumd/lib/metrics"
	"github.com/dtorres/electrumd/lib/store"
)

// ServerVersion is the software identification reported to clients.
const ServerVersion = "electrumd 0.1.0"

// ProtocolVersion is the only Electrum protocol version spoken.
const ProtocolVersion = "1.4"

// maxLine bounds the size of one request line.
const maxLine = 1 << 20

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Notification is a JSON-RPC 2.0 notification for subscriptions.
type Notification struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// JSON-RPC error codes replied to clients.
const (
	CodeError          = 1 // daemon or index failure
	CodeParse          = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

// Server implements the Electrum protocol endpoint.
type Server struct {
	net    string
	kv     store.KV
	c      chain.Chain
	params *chaincfg.Params
	hub    *Hub
	met    *metrics.Set
	logRPC bool
	banner string

	ln net.Listener
	sc chan struct{} // server channel used for graceful shutdowns

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// Session is one connected Electrum client.
type Session struct {
	conn net.Conn

	wmu sync.Mutex // serializes writes from the read loop and the hub

	mu      sync.Mutex
	headers bool
	scripts map[index.ScriptHash]string // subscribed scripthash -> wire form
}

// NewServer returns a pointer to a new Electrum server. The hub must be the same one the
// indexer notifies.
func NewServer(netName string, kv store.KV, c chain.Chain, params *chaincfg.Params,
	hub *Hub, met *metrics.Set, logRPC bool) *Server {
	return &Server{
		net:      netName,
		kv:       kv,
		c:        c,
		params:   params,
		hub:      hub,
		met:      met,
		logRPC:   logRPC,
		banner:   fmt.Sprintf("%s on %s, welcome!", ServerVersion, netName),
		sessions: map[*Session]struct{}{},
	}
}

// Serve listens on addr and services Electrum sessions until Stop is called. Returns a
// completion status for the calling routine, in line with the other services.
func (s *Server) Serve(addr string) string {
	var err error

	s.sc = make(chan struct{})

	s.ln, err = net.Listen("tcp", addr)
	if err != nil {
		return fmt.Sprintf("electrum server: %v", err)
	}

	log.Printf("[%s] Listening to Electrum RPC requests on %s", s.net, addr)

	go func() {
		for {
			conn, errAcc := s.ln.Accept()
			if errAcc != nil {
				// listener closed on shutdown
				return
			}

			go s.serveConn(conn)
		}
	}()

	// wait for server to be shutdown
	<-s.sc

	return fmt.Sprintf("electrum server: shutdown err:%v", err)
}

// Stop closes the listener and all the open sessions.
func (s *Server) Stop() {
	if s.ln != nil {
		_ = s.ln.Close()
	}

	s.mu.Lock()
	for sess := range s.sessions {
		_ = sess.conn.Close()
	}
	s.mu.Unlock()

	close(s.sc)
}

func (s *Server) addSession(sess *Session) {
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	s.hub.add(sess)

	if s.met != nil {
		s.met.Sessions.Inc()
	}
}

func (s *Server) dropSession(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()

	s.hub.remove(sess)

	if s.met != nil {
		s.met.Sessions.Dec()
	}

	_ = sess.conn.Close()
}

// serveConn runs the read loop of one session.
func (s *Server) serveConn(conn net.Conn) {
	sess := &Session{conn: conn, scripts: map[index.ScriptHash]string{}}

	s.addSession(sess)
	defer s.dropSession(sess)

	log.Printf("[%s] Electrum session from %v", s.net, conn.RemoteAddr())

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxLine)

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		if s.logRPC {
			log.Printf("[%s] electrum <- %v %s", s.net, conn.RemoteAddr(), line)
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = sess.write(Response{JSONRPC: "2.0", ID: nullID,
				Error: &RPCError{Code: CodeParse, Message: "parse error"}}, s)

			continue
		}

		res := s.dispatch(sess, &req)
		if req.ID == nil {
			// notification-style request, nothing to reply
			continue
		}

		res.JSONRPC = "2.0"
		res.ID = req.ID

		if err := sess.write(res, s); err != nil {
			log.Printf("[%s] Electrum session %v write error: %v", s.net, conn.RemoteAddr(), err)

			return
		}
	}

	log.Printf("[%s] Electrum session %v closed", s.net, conn.RemoteAddr())
}

var nullID = json.RawMessage("null")

// write sends one JSON object followed by a newline.
func (sess *Session) write(v interface{}, s *Server) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	if s != nil && s.logRPC {
		log.Printf("[%s] electrum -> %v %s", s.net, sess.conn.RemoteAddr(), b)
	}

	sess.wmu.Lock()
	defer sess.wmu.Unlock()

	_ = sess.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	_, err = sess.conn.Write(append(b, '\n'))

	return err
}

// notify pushes a subscription notification to the session.
func (sess *Session) notify(method string, params []interface{}) error {
	return sess.write(Notification{JSONRPC: "2.0", Method: method, Params: params}, nil)
}

// errResponse builds an error-only response body.
func errResponse(code int, msg string) Response {
	return Response{Error: &RPCError{Code: code, Message: msg}}
}

// errOf maps backend errors to client-facing RPC errors.
func errOf(err error) Response {
	switch {
	case errors.Is(err, chain.ErrNoTrx):
		return errResponse(CodeError, "transaction not found")
	case errors.Is(err, chain.ErrNoBlock):
		return errResponse(CodeError, "block not found")
	case errors.Is(err, index.ErrBadHash):
		return errResponse(CodeInvalidParams, err.Error())
	}

	return errResponse(CodeError, err.Error())
}
