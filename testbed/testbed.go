// Package testbed is an in-process fake redis server for tests.
//
// It speaks redis wire protocol and implements small subset of commands: strings, counters,
// lists with blocking pop, hashes, SCAN, WATCH/MULTI/EXEC, scripts (without Lua: EVAL answers with
// its keys and arguments), publish/subscribe, and DEBUG SLEEP.
// Faults could be injected: replies could be held, clients dropped, and GARBAGE command answers with
// malformed frame.
package testbed

import (
	"net"
	"sync"
	"time"

	"github.com/joomcode/redispool/redis"
)

// Server is a fake redis server.
type Server struct {
	// Addr is listen address. If empty, random local port is used, and Addr is set on Start.
	Addr string
	// Network is "tcp" (default) or "unix".
	Network string
	// Password - if set, AUTH is required.
	Password string

	mu       sync.Mutex
	l        net.Listener
	wg       sync.WaitGroup
	clients  map[*client]struct{}
	dbs      map[int]map[string]interface{}
	versions map[string]uint64
	scripts  map[string]string
	calls    map[string]int
	held     bool
	accepted int
}

// NewServer creates and starts fake server on random local port.
func NewServer() (*Server, error) {
	s := &Server{}
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// Start starts listening. Data is preserved between Stop and Start.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.l != nil {
		return nil
	}
	if s.dbs == nil {
		s.dbs = make(map[int]map[string]interface{})
		s.versions = make(map[string]uint64)
		s.scripts = make(map[string]string)
		s.calls = make(map[string]int)
	}
	s.clients = make(map[*client]struct{})
	network := s.Network
	if network == "" {
		network = "tcp"
	}
	addr := s.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	var l net.Listener
	var err error
	// port could be still in TIME_WAIT after Stop
	for i := 0; i < 50; i++ {
		if l, err = net.Listen(network, addr); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		return err
	}
	s.l = l
	s.Addr = l.Addr().String()
	s.wg.Add(1)
	go s.serve(l)
	return nil
}

// Stop closes listener and all client connections.
func (s *Server) Stop() {
	s.mu.Lock()
	l := s.l
	s.l = nil
	s.held = false
	s.mu.Unlock()
	if l == nil {
		return
	}
	l.Close()
	s.DropClients()
	s.wg.Wait()
}

// DropClients closes all client connections, but keeps listening.
func (s *Server) DropClients() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		c.closed = true
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.c.Close()
	}
}

// Hold stops (or resumes) processing of received commands.
// Commands are still read from sockets, so clients observe silence.
func (s *Server) Hold(hold bool) {
	s.mu.Lock()
	s.held = hold
	s.mu.Unlock()
}

// Calls returns number of times command were received.
func (s *Server) Calls(cmd string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[cmd]
}

// Accepted returns number of accepted connections since creation.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Clients returns number of currently connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Do sends single command to server through fresh connection.
func (s *Server) Do(cmd string, args ...interface{}) interface{} {
	return Do(s.Addr, cmd, args...)
}

// FlushAll removes all data and scripts.
func (s *Server) FlushAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for db, keys := range s.dbs {
		for k := range keys {
			s.touch(db, k)
		}
	}
	s.dbs = make(map[int]map[string]interface{})
	s.scripts = make(map[string]string)
}

func (s *Server) serve(l net.Listener) {
	defer s.wg.Done()
	for {
		c, err := l.Accept()
		if err != nil {
			return
		}
		cl := &client{s: s, c: c, dec: redis.NewDecoder(redis.ModeRaw)}
		s.mu.Lock()
		if s.l != l {
			s.mu.Unlock()
			c.Close()
			return
		}
		s.clients[cl] = struct{}{}
		s.accepted++
		s.mu.Unlock()
		s.wg.Add(1)
		go cl.serve()
	}
}

func (s *Server) isHeld() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// client is a state of single client connection.
type client struct {
	s   *Server
	c   net.Conn
	dec *redis.Decoder
	wmu sync.Mutex

	// fields below are accessed under s.mu
	db     int
	authed bool
	watch  map[string]uint64
	multi  bool
	dirty  bool
	queued [][]string
	subs   map[string]struct{}
	psubs  map[string]struct{}
	closed bool
}

func (cl *client) serve() {
	defer cl.s.wg.Done()
	defer func() {
		cl.c.Close()
		cl.s.mu.Lock()
		cl.closed = true
		delete(cl.s.clients, cl)
		cl.s.mu.Unlock()
	}()
	buf := make([]byte, 16*1024)
	var cmds []interface{}
	for {
		n, err := cl.c.Read(buf)
		if n > 0 {
			cmds = append(cmds, cl.dec.Feed(buf[:n])...)
		}
		if err != nil {
			return
		}
		for len(cmds) > 0 && cl.s.isHeld() {
			// wait for release, but notice closed socket
			time.Sleep(time.Millisecond)
			if cl.isClosed() {
				return
			}
		}
		var out []byte
		for _, c := range cmds {
			args, ok := requestArgs(c)
			if !ok {
				out = redis.AppendReply(out, errReply("ERR Protocol error: expected array of bulks"))
				continue
			}
			for _, r := range cl.exec(args) {
				if raw, ok := r.(rawReply); ok {
					out = append(out, raw...)
					continue
				}
				out = redis.AppendReply(out, r)
			}
		}
		cmds = cmds[:0]
		if len(out) > 0 {
			if err := cl.write(out); err != nil {
				return
			}
		}
	}
}

func (cl *client) isClosed() bool {
	cl.s.mu.Lock()
	defer cl.s.mu.Unlock()
	return cl.closed
}

func (cl *client) write(b []byte) error {
	cl.wmu.Lock()
	defer cl.wmu.Unlock()
	_, err := cl.c.Write(b)
	return err
}

func requestArgs(v interface{}) ([]string, bool) {
	arr, ok := v.([]interface{})
	if !ok || len(arr) == 0 {
		return nil, false
	}
	args := make([]string, len(arr))
	for i, a := range arr {
		b, ok := a.([]byte)
		if !ok {
			return nil, false
		}
		args[i] = string(b)
	}
	return args, true
}

// errReply is a server error line.
type errReply string

func (e errReply) Error() string { return string(e) }

// rawReply is written to socket as is.
type rawReply []byte
