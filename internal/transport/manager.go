package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/status"
)

var (
	// ErrConnectionNotReady is returned by Invoke before the first connect or while reconnecting.
	ErrConnectionNotReady = errors.New("transport: connection not ready")
	// ErrConnectionLost fails invocations that were in flight when the socket dropped.
	ErrConnectionLost = errors.New("transport: connection lost")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("transport: closed")
)

// Handler receives the raw payload of a push event.
type Handler func(payload json.RawMessage)

// Options configures a Manager.
type Options struct {
	URL           string
	Token         string
	InvokeTimeout time.Duration
	MinBackoff    time.Duration
	MaxBackoff    time.Duration
}

type registration struct {
	handler Handler
}

type attempt struct {
	done chan struct{}
	err  error
}

type completion struct {
	frame Frame
	err   error
}

// Manager owns the single persistent push connection of a session.
type Manager struct {
	dialer Dialer
	opts   Options
	state  *status.Machine
	logger *zap.Logger
	tracer trace.Tracer

	mu       sync.Mutex
	conn     Conn
	attempt  *attempt
	ready    chan struct{}
	closed   bool
	closeCh  chan struct{}
	pending  map[string]chan completion
	nextID   uint64
	handlers map[string]*registration

	writeMu sync.Mutex
}

// NewManager creates a manager. Nothing is dialed until Connect.
func NewManager(dialer Dialer, opts Options, state *status.Machine, logger *zap.Logger) *Manager {
	if opts.InvokeTimeout <= 0 {
		opts.InvokeTimeout = 10 * time.Second
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if state == nil {
		state = status.NewMachine(nil)
	}
	return &Manager{
		dialer:   dialer,
		opts:     opts,
		state:    state,
		logger:   logger,
		tracer:   otel.Tracer("chatsync/transport"),
		ready:    make(chan struct{}),
		closeCh:  make(chan struct{}),
		pending:  make(map[string]chan completion),
		handlers: make(map[string]*registration),
	}
}

// State returns the current connection state.
func (m *Manager) State() status.State {
	return m.state.Current()
}

// Connect establishes the connection. While a connect is in flight, or the
// connection is already up, it returns without dialing again. While
// reconnecting it waits for the redial to succeed.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	switch m.state.Current() {
	case status.Connected:
		m.mu.Unlock()
		return nil
	case status.Reconnecting:
		ready := m.ready
		m.mu.Unlock()
		select {
		case <-ready:
			return nil
		case <-m.closeCh:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if a := m.attempt; a != nil {
		m.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	a := &attempt{done: make(chan struct{})}
	m.attempt = a
	m.transition(status.Connecting)
	m.mu.Unlock()

	conn, err := m.dialer.Dial(ctx, m.opts.URL, m.header())

	m.mu.Lock()
	m.attempt = nil
	switch {
	case err != nil:
		if !m.closed {
			m.transition(status.Idle)
		}
		a.err = fmt.Errorf("connect: %w", err)
	case m.closed:
		_ = conn.Close()
		a.err = ErrClosed
	default:
		m.install(conn)
	}
	m.mu.Unlock()
	close(a.done)

	if a.err == nil {
		m.logger.Info("push connection established", zap.String("url", m.opts.URL))
	}
	return a.err
}

// install must be called with mu held.
func (m *Manager) install(conn Conn) {
	m.conn = conn
	m.transition(status.Connected)
	close(m.ready)
	go m.readLoop(conn)
}

// Subscribe registers the handler for a push event name, replacing any
// previous handler. The returned function removes this registration only;
// once the handler has been replaced it does nothing.
func (m *Manager) Subscribe(event string, h Handler) func() {
	reg := &registration{handler: h}
	m.mu.Lock()
	m.handlers[event] = reg
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		if m.handlers[event] == reg {
			delete(m.handlers, event)
		}
		m.mu.Unlock()
	}
}

// Invoke performs a request/response call over the push connection and
// decodes the result into out when out is non-nil. Invocations are not retried.
func (m *Manager) Invoke(ctx context.Context, method string, payload, out any) (err error) {
	ctx, span := m.tracer.Start(ctx, "transport.Invoke", trace.WithAttributes(attribute.String("rpc.method", method)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.IncInvoke(method, "error")
		} else {
			metrics.IncInvoke(method, "ok")
		}
		span.End()
	}()

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("invoke %s: encode payload: %w", method, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	conn := m.conn
	if conn == nil || m.state.Current() != status.Connected {
		m.mu.Unlock()
		return ErrConnectionNotReady
	}
	m.nextID++
	id := strconv.FormatUint(m.nextID, 10)
	ch := make(chan completion, 1)
	m.pending[id] = ch
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, m.opts.InvokeTimeout)
	defer cancel()

	if err := m.write(conn, Frame{Type: FrameInvocation, ID: id, Target: method, Payload: raw}); err != nil {
		return fmt.Errorf("invoke %s: %w: %v", method, ErrConnectionLost, err)
	}

	select {
	case c := <-ch:
		if c.err != nil {
			return fmt.Errorf("invoke %s: %w", method, c.err)
		}
		if c.frame.Error != "" {
			return &RemoteError{Method: method, Message: c.frame.Error}
		}
		if out != nil && len(c.frame.Result) > 0 {
			if err := json.Unmarshal(c.frame.Result, out); err != nil {
				return fmt.Errorf("invoke %s: decode result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("invoke %s: %w", method, ctx.Err())
	}
}

// Close ends the connection lifecycle. Pending invocations fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.closeCh)
	conn := m.conn
	m.conn = nil
	m.failPending(ErrClosed)
	m.transition(status.Closed)
	m.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (m *Manager) header() http.Header {
	h := http.Header{}
	if m.opts.Token != "" {
		h.Set("Authorization", "Bearer "+m.opts.Token)
	}
	return h
}

func (m *Manager) write(conn Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDrop(conn, err)
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			m.logger.Warn("malformed frame", zap.Error(err))
			continue
		}
		switch f.Type {
		case FrameCompletion:
			m.complete(f)
		case FrameEvent:
			m.dispatch(f.Target, f.Payload)
		case FramePing:
			if err := m.write(conn, Frame{Type: FramePong}); err != nil {
				m.logger.Debug("pong failed", zap.Error(err))
			}
		case FramePong:
		default:
			m.logger.Debug("unknown frame type", zap.String("type", f.Type))
		}
	}
}

func (m *Manager) complete(f Frame) {
	m.mu.Lock()
	ch, ok := m.pending[f.ID]
	delete(m.pending, f.ID)
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("completion for unknown invocation", zap.String("id", f.ID))
		return
	}
	ch <- completion{frame: f}
}

func (m *Manager) dispatch(event string, payload json.RawMessage) {
	m.mu.Lock()
	reg := m.handlers[event]
	m.mu.Unlock()
	if reg == nil {
		m.logger.Debug("no handler for push event", zap.String("event", event))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("push handler panicked", zap.String("event", event), zap.Any("panic", r))
		}
	}()
	reg.handler(payload)
}

func (m *Manager) handleDrop(conn Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	_ = conn.Close()
	m.failPending(ErrConnectionLost)
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.ready = make(chan struct{})
	m.transition(status.Reconnecting)
	m.mu.Unlock()

	m.logger.Warn("push connection lost, reconnecting", zap.Error(cause))
	go m.reconnect()
}

func (m *Manager) reconnect() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.MinBackoff
	b.MaxInterval = m.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	var conn Conn
	op := func() error {
		c, err := m.dialer.Dial(ctx, m.opts.URL, m.header())
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		m.logger.Warn("redial failed", zap.Error(err), zap.Duration("retry_in", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.install(conn)
	m.mu.Unlock()

	metrics.IncReconnect()
	m.logger.Info("push connection restored")
}

// failPending must be called with mu held.
func (m *Manager) failPending(err error) {
	for id, ch := range m.pending {
		ch <- completion{err: err}
		delete(m.pending, id)
	}
}

func (m *Manager) transition(to status.State) {
	if err := m.state.Transition(to); err != nil {
		m.logger.Debug("transport state", zap.Error(err))
	}
}
