// Package server provides the mobility daemon's network server.
//
// The server accepts client connections, reads request envelopes, and
// dispatches them to the handler. Requests on one connection run
// concurrently; a server-wide semaphore bounds how many run at once.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xtxerr/mobility/config"
	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/handler"
	"github.com/xtxerr/mobility/internal/logging"
	"github.com/xtxerr/mobility/internal/wire"
)

var log = logging.Component("server")

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Handler answers requests (required).
	Handler *handler.Handler

	// Listen is the address to listen on (e.g., "127.0.0.1:9170").
	Listen string

	// TLS configuration (optional).
	TLSCertFile string
	TLSKeyFile  string

	// MaxInFlight bounds concurrently dispatched requests across all
	// connections.
	MaxInFlight int

	// MaxMessageSize bounds one request envelope.
	MaxMessageSize int

	// DrainTimeout is how long Shutdown waits for in-flight requests
	// before cancelling them.
	DrainTimeout time.Duration

	// Session tunes per-connection send buffering.
	Session *handler.SessionConfig
}

// Stats holds server counters.
type Stats struct {
	Sessions int
	InFlight int64
	Requests int64
	Rejected int64
}

// =============================================================================
// Server
// =============================================================================

// Server is the mobility protocol server.
type Server struct {
	cfg      *Config
	handler  *handler.Handler
	sessions *handler.SessionManager
	sem      *semaphore.Weighted

	mu       sync.Mutex
	listener net.Listener

	// baseCtx parents every request; cancelled once draining gives up.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	nInFlight atomic.Int64
	unsent    atomic.Int64
	requests  atomic.Int64
	rejected  atomic.Int64

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New creates a new server.
func New(cfg *Config) *Server {
	// Apply defaults
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultListenAddress
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = config.DefaultMaxInFlight
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = config.DefaultMaxMessageSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = time.Duration(config.DefaultDrainTimeoutSec) * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:        cfg,
		handler:    cfg.Handler,
		sessions:   handler.NewSessionManager(&handler.SessionManagerConfig{Session: cfg.Session}),
		sem:        semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		baseCtx:    ctx,
		baseCancel: cancel,
		shutdown:   make(chan struct{}),
	}
}

// Listen opens the listener without accepting connections yet.
func (s *Server) Listen() error {
	var ln net.Listener
	var err error

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("load TLS cert: %w", err)
		}
		tlsCfg := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		ln, err = tls.Listen("tcp", s.cfg.Listen, tlsCfg)
		if err != nil {
			return fmt.Errorf("TLS listen: %w", err)
		}
		log.Info("listening with TLS", "address", ln.Addr().String())
	} else {
		ln, err = net.Listen("tcp", s.cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		log.Info("listening without TLS", "address", ln.Addr().String())
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("serve: %w", errors.NewMissingField("listener"))
	}

	s.sessions.Start()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
				log.Error("accept error", "error", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Shutdown stops the server gracefully. In-flight requests get the drain
// timeout to finish and send their responses; the rest are cancelled.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		log.Info("shutting down")
		close(s.shutdown)

		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()

		if !s.drain(s.cfg.DrainTimeout) {
			log.Warn("drain timeout, cancelling in-flight requests", "in_flight", s.nInFlight.Load())
		}

		s.baseCancel()
		s.sessions.Stop()
		s.wg.Wait()

		log.Info("shutdown complete", "requests", s.requests.Load())
	})
}

// drain waits until no request is in flight and every response is written.
// It returns false on timeout.
func (s *Server) drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for s.nInFlight.Load() > 0 || s.unsent.Load() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		<-ticker.C
	}
	return true
}

// Stats returns server counters.
func (s *Server) Stats() Stats {
	return Stats{
		Sessions: s.sessions.CountActive(),
		InFlight: s.nInFlight.Load(),
		Requests: s.requests.Load(),
		Rejected: s.rejected.Load(),
	}
}

// =============================================================================
// Connection Handling
// =============================================================================

// handleConn serves one connection until it closes.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	session := s.sessions.CreateSession(conn)
	w := wire.NewConn(conn, s.cfg.MaxMessageSize)

	// Requests of this connection stop when it goes away.
	connCtx, connCancel := context.WithCancel(s.baseCtx)
	defer connCancel()

	// Start writer goroutine
	sendCh := session.SendChan()
	done := make(chan struct{})
	go func() {
		defer close(done)
		failed := false
		for env := range sendCh {
			if !failed {
				if err := w.Write(env); err != nil {
					// Close() is idempotent, so it's safe to call from both goroutines.
					log.Debug("write failed, closing session",
						"session_id", session.ID,
						"error", err)
					failed = true
					session.Close()
				}
			}
			s.unsent.Add(-1)
		}
	}()

	var pending sync.WaitGroup

	// Read loop
	for {
		env, err := w.Read()
		if err != nil && errors.IsValidation(err) {
			// The frame was read whole; only its envelope was malformed.
			s.rejected.Add(1)
			s.send(session, wire.NewErrorFromErr(0, err))
			continue
		}
		if err != nil {
			if err != io.EOF && !session.IsClosed() {
				log.Warn("read failed", "session_id", session.ID, "error", err)
			}
			break
		}

		if !env.IsRequest() {
			s.rejected.Add(1)
			s.send(session, wire.NewError(env.ID, errors.CodeInvalidArguments, "message is not a request"))
			continue
		}

		select {
		case <-s.shutdown:
			s.rejected.Add(1)
			s.send(session, wire.NewError(env.ID, errors.CodeCancelled, "server shutting down"))
			continue
		default:
		}

		if err := s.sem.Acquire(connCtx, 1); err != nil {
			break
		}

		session.CountRequest()
		s.requests.Add(1)
		s.nInFlight.Add(1)
		pending.Add(1)

		go func(env *wire.Envelope) {
			defer func() {
				s.sem.Release(1)
				s.nInFlight.Add(-1)
				pending.Done()
			}()
			s.send(session, s.handler.Handle(connCtx, session, env))
		}(env)
	}

	// Disconnect - cancel outstanding requests, then close the session and
	// wait for the writer goroutine.
	connCancel()
	pending.Wait()
	session.Close()
	<-done

	log.Info("session disconnected", "session_id", session.ID, "requests", session.Requests())
}

// send queues a response and counts it until the writer is done with it.
func (s *Server) send(session *handler.Session, env *wire.Envelope) {
	s.unsent.Add(1)
	if !session.Send(env) {
		s.unsent.Add(-1)
	}
}
