// Package client provides a client for the mobility daemon.
//
// Requests are multiplexed over one connection: each carries a fresh ID and
// the read loop routes responses back to their waiting callers, so several
// goroutines can call concurrently.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/mobility/config"
	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/logging"
	"github.com/xtxerr/mobility/internal/wire"
)

var log = logging.Component("client")

// =============================================================================
// State Machine
// =============================================================================

// ClientState represents the connection state of a client.
type ClientState int32

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

// String returns the human-readable name of the state.
func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// stateTransition represents a state transition.
type stateTransition struct {
	from ClientState
	to   ClientState
}

// validTransitions defines all allowed state transitions.
var validTransitions = map[stateTransition]bool{
	// From Disconnected
	{StateDisconnected, StateConnecting}: true,
	{StateDisconnected, StateClosing}:    true,

	// From Connecting
	{StateConnecting, StateConnected}:    true,
	{StateConnecting, StateDisconnected}: true,

	// From Connected
	{StateConnected, StateDisconnected}: true,
	{StateConnected, StateClosing}:      true,

	// From Closing
	{StateClosing, StateClosed}: true,
}

// =============================================================================
// Errors
// =============================================================================

var (
	ErrClientClosed     = errors.New("client is closed")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrConnectionLost   = errors.New("connection lost")
)

// =============================================================================
// Client
// =============================================================================

// Config holds client configuration.
type Config struct {
	Addr           string
	TLS            bool
	TLSSkipVerify  bool
	ConnectTimeout time.Duration

	// RequestTimeout applies when the caller's context has no deadline.
	// Zero waits indefinitely.
	RequestTimeout time.Duration

	MaxMessageSize int
}

// DefaultConfig returns default client configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:           config.DefaultListenAddress,
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 60 * time.Second,
		MaxMessageSize: config.DefaultMaxMessageSize,
	}
}

// Client connects to a mobility daemon.
type Client struct {
	cfg       Config
	tlsConfig *tls.Config

	// Connection - protected by mu
	mu   sync.Mutex
	conn net.Conn
	wire *wire.Conn

	state atomic.Int32

	// Pending requests
	pendingMu sync.RWMutex
	pending   map[uint64]chan *wire.Envelope
	requestID atomic.Uint64

	onDisconnect func(error)

	// lost is closed when the current connection ends.
	lost chan struct{}
}

// New creates a new client.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	c := &Client{
		cfg:     *cfg,
		pending: make(map[uint64]chan *wire.Envelope),
		lost:    make(chan struct{}),
	}

	if cfg.TLS {
		c.tlsConfig = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		}
	}

	return c
}

// getState returns the current state.
func (c *Client) getState() ClientState {
	return ClientState(c.state.Load())
}

// transitionFrom attempts to transition from a specific state to a new state.
func (c *Client) transitionFrom(from, to ClientState) bool {
	if !validTransitions[stateTransition{from: from, to: to}] {
		return false
	}
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// =============================================================================
// Connection Management
// =============================================================================

// Connect dials the server.
func (c *Client) Connect(ctx context.Context) error {
	switch c.getState() {
	case StateClosed, StateClosing:
		return ErrClientClosed
	case StateConnected:
		return ErrAlreadyConnected
	}

	if !c.transitionFrom(StateDisconnected, StateConnecting) {
		return fmt.Errorf("cannot connect: current state is %s", c.getState())
	}

	success := false
	defer func() {
		if !success {
			c.transitionFrom(StateConnecting, StateDisconnected)
		}
	}()

	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}

	var conn net.Conn
	var err error
	if c.tlsConfig != nil {
		td := &tls.Dialer{NetDialer: dialer, Config: c.tlsConfig}
		conn, err = td.DialContext(ctx, "tcp", c.cfg.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.Addr, err)
	}

	w := wire.NewConn(conn, c.cfg.MaxMessageSize)
	lost := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.wire = w
	c.lost = lost
	c.mu.Unlock()

	if !c.transitionFrom(StateConnecting, StateConnected) {
		conn.Close()
		return fmt.Errorf("cannot connect: current state is %s", c.getState())
	}

	go c.readLoop(conn, w, lost)

	success = true
	log.Debug("connected", "addr", c.cfg.Addr)
	return nil
}

// Close closes the client permanently. Waiting calls fail with
// ErrClientClosed.
func (c *Client) Close() error {
	for {
		st := c.getState()
		if st == StateClosing || st == StateClosed {
			return nil
		}
		if st == StateConnecting {
			time.Sleep(time.Millisecond)
			continue
		}
		if c.transitionFrom(st, StateClosing) {
			break
		}
	}

	c.mu.Lock()
	var closeErr error
	if c.conn != nil {
		closeErr = c.conn.Close()
		c.conn = nil
		c.wire = nil
	}
	c.mu.Unlock()

	c.failPending()
	c.transitionFrom(StateClosing, StateClosed)
	return closeErr
}

// Reconnect drops the current connection, if any, and dials again.
func (c *Client) Reconnect(ctx context.Context) error {
	if st := c.getState(); st == StateClosed || st == StateClosing {
		return ErrClientClosed
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	// Wait for the read loop to notice.
	c.mu.Lock()
	lost := c.lost
	c.mu.Unlock()
	if c.getState() == StateConnected {
		select {
		case <-lost:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return c.Connect(ctx)
}

// failPending wakes every waiting caller.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// IsConnected returns true if connected.
func (c *Client) IsConnected() bool {
	return c.getState() == StateConnected
}

// IsClosed returns true if permanently closed.
func (c *Client) IsClosed() bool {
	return c.getState() == StateClosed
}

// State returns the current state as a string.
func (c *Client) State() string {
	return c.getState().String()
}

// OnDisconnect sets the handler for an unexpected disconnection.
func (c *Client) OnDisconnect(fn func(error)) {
	c.pendingMu.Lock()
	c.onDisconnect = fn
	c.pendingMu.Unlock()
}

// =============================================================================
// Read Loop
// =============================================================================

func (c *Client) readLoop(conn net.Conn, w *wire.Conn, lost chan struct{}) {
	var disconnectErr error

	defer func() {
		conn.Close()

		if c.transitionFrom(StateConnected, StateDisconnected) {
			c.failPending()
		}
		close(lost)

		c.pendingMu.RLock()
		fn := c.onDisconnect
		c.pendingMu.RUnlock()

		if fn != nil && disconnectErr != nil {
			fn(disconnectErr)
		}
	}()

	for {
		env, err := w.Read()
		if err != nil {
			if c.getState() == StateConnected {
				disconnectErr = err
				log.Debug("connection lost", "addr", c.cfg.Addr, "error", err)
			}
			return
		}

		c.pendingMu.RLock()
		ch, ok := c.pending[env.ID]
		c.pendingMu.RUnlock()

		if ok {
			select {
			case ch <- env:
			default:
			}
		}
	}
}

// =============================================================================
// Request/Response
// =============================================================================

// Call sends a request and waits for its result. A server error is
// returned as *wire.Error, which matches the errors package sentinels
// under errors.Is.
func (c *Client) Call(ctx context.Context, method string, args map[string]any) (any, error) {
	if c.getState() != StateConnected {
		if c.IsClosed() {
			return nil, ErrClientClosed
		}
		return nil, ErrNotConnected
	}

	if _, ok := ctx.Deadline(); !ok && c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	id := c.requestID.Add(1)
	ch := make(chan *wire.Envelope, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.mu.Lock()
	w := c.wire
	c.mu.Unlock()
	if w == nil {
		return nil, ErrNotConnected
	}

	if err := w.Write(wire.NewRequest(id, method, args)); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			if c.IsClosed() || c.getState() == StateClosing {
				return nil, ErrClientClosed
			}
			return nil, ErrConnectionLost
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil

	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", method, errors.ErrTimeout)
		}
		return nil, fmt.Errorf("%s: %w", method, errors.ErrCancelled)
	}
}
