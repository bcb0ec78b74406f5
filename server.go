package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-io/mqtt/packet"
	"golang.org/x/net/websocket"
)

// shutdownPollIntervalMax is the max polling interval when checking
// quiescence during Server.Shutdown. Polling starts with a small
// interval and backs off to the max.
const shutdownPollIntervalMax = 500 * time.Millisecond
const size = 64 << 10

// A Handler responds to an MQTT request.
type Handler interface {
	ServeMQTT(ResponseWriter, packet.Packet)
}

type HandlerFunc func(ResponseWriter, packet.Packet)

func (f HandlerFunc) ServeMQTT(rw ResponseWriter, r packet.Packet) {
	f(rw, r)
}

type serverHandler struct {
	s *Server
}

func (s serverHandler) ServeMQTT(rw ResponseWriter, p packet.Packet) {
	handler := s.s.Handler
	if handler == nil {
		handler = defaultHandler{}
	}
	handler.ServeMQTT(rw, p)
}

type ResponseWriter interface {
	OnSend(request packet.Packet) error
}

// response represents the server side of an MQTT response.
type response struct {
	conn   *conn
	packet packet.Packet // request for this response
}

func (w *response) OnSend(pkt packet.Packet) error {
	w.conn.mu.Lock()
	defer w.conn.mu.Unlock()
	stat.PacketSent.Inc()
	return pkt.Pack(w.conn)
}

const (
	// StateNew represents a new connection that is expected to
	// send a request immediately. Connections begin at this
	// state and then transition to either StateActive or
	// StateClosed.
	StateNew ConnState = iota

	// StateActive represents a connection currently inside a handler.
	StateActive

	// StateIdle represents a connection that has finished handling a
	// request and is waiting for the next one.
	StateIdle

	// StateHijacked represents a hijacked connection. Terminal.
	StateHijacked

	// StateClosed represents a closed connection. Terminal.
	StateClosed
)

// ErrAbortHandler is a sentinel panic value to abort a handler.
var ErrAbortHandler = errors.New("mqtt: abort Handler")

// A ConnState represents the state of a client connection to a server.
type ConnState int

// A Server defines parameters for running an MQTT server. NewServer
// wires up its options, sessions, router and dispatcher; a zero-value
// Server has none of these and cannot serve connections.
type Server struct {
	Handler          Handler
	WebsocketHandler websocket.Handler

	TLSConfig *tls.Config

	ConnState func(net.Conn, ConnState)

	ConnContext func(ctx context.Context, c net.Conn) context.Context

	inShutdown atomic.Bool

	mu            sync.RWMutex
	listeners     map[*net.Listener]struct{}
	activeConn    map[*conn]struct{}
	onShutdown    []func()
	listenerGroup sync.WaitGroup

	options  *config
	sessions *SessionManager
	router   *Router
	dispatch *Dispatcher
}

func NewServer(ctx context.Context) *Server {
	CONFIG.applySeconds()

	concurrency := CONFIG.DispatcherConcurrency
	if concurrency <= 0 {
		concurrency = int64(runtime.GOMAXPROCS(0))
	}

	s := &Server{
		activeConn: make(map[*conn]struct{}),
		listeners:  make(map[*net.Listener]struct{}),
		options:    CONFIG,
	}
	s.dispatch = NewDispatcher(concurrency)
	s.sessions = NewSessionManager(CONFIG.MaximumInflightPerSession, CONFIG.MaximumQueuedQoS1PerSession, CONFIG.SessionExpiryCap, s.dispatch)
	s.router = NewRouter(s.sessions, s.dispatch)
	s.sessions.SetRouter(s.router)

	go func() {
		<-ctx.Done()
		if err := s.Shutdown(ctx); err != nil {
			panic(err)
		}
	}()
	return s
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	s.mu.Lock()
	lnerr := s.closeListenersLocked()
	for _, f := range s.onShutdown {
		go f()
	}
	s.mu.Unlock()
	s.listenerGroup.Wait()

	pollIntervalBase := time.Millisecond
	nextPollInterval := func() time.Duration {
		interval := pollIntervalBase + time.Duration(rand.Intn(int(pollIntervalBase/10+1)))
		pollIntervalBase *= 2
		if pollIntervalBase > shutdownPollIntervalMax {
			pollIntervalBase = shutdownPollIntervalMax
		}
		return interval
	}

	timer := time.NewTimer(nextPollInterval())
	defer timer.Stop()
	for {
		if s.closeIdleConns() {
			return lnerr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			timer.Reset(nextPollInterval())
		}
	}
}

// closeIdleConns closes all idle connections and reports whether the
// server is quiescent.
func (s *Server) closeIdleConns() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiescent := true
	for c := range s.activeConn {
		st, unixSec := c.getState()
		if st == StateNew && unixSec < time.Now().Unix()-5 {
			st = StateIdle
		}
		if st != StateIdle || unixSec == 0 {
			quiescent = false
			continue
		}
		_ = c.rwc.Close()
		delete(s.activeConn, c)
	}
	return quiescent
}

func (s *Server) closeListenersLocked() error {
	var err error
	for ln := range s.listeners {
		if cerr := (*ln).Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Create new connection from rwc.
func (s *Server) newConn(rwc net.Conn) *conn {
	return &conn{server: s, rwc: rwc}
}

// Serve accepts incoming connections on the Listener l, creating a new
// service goroutine for each.
//
// Serve always returns a non-nil error and closes l. After
// [Server.Shutdown], the returned error is [ErrServerClosed].
func (s *Server) Serve(l net.Listener) error {
	defer l.Close()

	if !s.trackListener(&l, true) {
		return ErrServerClosed
	}
	defer s.trackListener(&l, false)

	ctx := context.Background()

	for {
		rw, err := l.Accept()
		if err != nil {
			if s.shuttingDown() {
				return ErrServerClosed
			}
			return err
		}
		connCtx := ctx
		if cc := s.ConnContext; cc != nil {
			connCtx = cc(connCtx, rw)
			if connCtx == nil {
				panic("ConnContext returned nil")
			}
		}
		c := s.newConn(rw)
		c.setState(c.rwc, StateNew, true)
		go c.serve(ctx)
	}
}

func (s *Server) trackConn(c *conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		stat.ActiveConnections.Inc()
		s.activeConn[c] = struct{}{}
	} else {
		stat.ActiveConnections.Dec()
		delete(s.activeConn, c)
	}
}

// trackListener adds or removes a net.Listener to the set of tracked
// listeners. It reports whether the server is still up.
func (s *Server) trackListener(ln *net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[*net.Listener]struct{})
	}
	if add {
		if s.shuttingDown() {
			return false
		}
		s.listeners[ln] = struct{}{}
		s.listenerGroup.Add(1)
	} else {
		delete(s.listeners, ln)
		s.listenerGroup.Done()
	}
	return true
}

func (s *Server) shuttingDown() bool {
	return s.inShutdown.Load()
}

// ErrServerClosed is returned by [Server.Serve] and friends after a
// call to [Server.Shutdown].
var ErrServerClosed = errors.New("mqtt: Server closed")

func (s *Server) ListenAndServe(opts ...Option) error {
	options := newOptions(opts...)
	if s.shuttingDown() {
		return ErrServerClosed
	}
	u, err := url.Parse(options.URL)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return err
	}
	log.Printf("mqtt serve: %s", u.Host)
	return s.Serve(ln)
}

func (s *Server) ServeTLS(l net.Listener, certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return err
	}
	config := &tls.Config{Certificates: []tls.Certificate{cert}}
	tlsListener := tls.NewListener(l, config)
	return s.Serve(tlsListener)
}

func (s *Server) ListenAndServeTLS(certFile, keyFile string, opts ...Option) error {
	if s.shuttingDown() {
		return ErrServerClosed
	}
	options := newOptions(opts...)
	u, err := url.Parse(options.URL)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return err
	}
	log.Printf("mqtt(s) serve: %s", u.Host)
	return s.ServeTLS(ln, certFile, keyFile)
}

// ListenAndServeWebsocket serves MQTT-over-websocket (§6), wrapping
// each accepted websocket connection in the same conn/csm machinery as
// a plain TCP connection.
func (s *Server) ListenAndServeWebsocket(opts ...Option) error {
	if s.shuttingDown() {
		return ErrServerClosed
	}
	options := newOptions(opts...)
	u, err := url.Parse(options.URL)
	if err != nil {
		return err
	}

	s.WebsocketHandler = func(ws *websocket.Conn) {
		ws.PayloadType = websocket.BinaryFrame
		c := s.newConn(ws)
		c.setState(c.rwc, StateNew, true)
		c.serve(context.Background())
	}

	mux := http.NewServeMux()
	mux.Handle("/", s.WebsocketHandler)
	log.Printf("websocket serve: %s", u.Host)
	return http.ListenAndServe(u.Host, mux)
}
