package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
)

var errFakeClosed = errors.New("fake conn closed")

// fakeConn is an in-memory Conn. The test plays the server through toClient
// and fromClient.
type fakeConn struct {
	toClient   chan []byte
	fromClient chan Frame
	closeOnce  sync.Once
	closed     chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		toClient:   make(chan []byte, 16),
		fromClient: make(chan Frame, 16),
		closed:     make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.toClient:
		return 1, b, nil
	case <-c.closed:
		return 0, nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.fromClient <- f
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the server going away.
func (c *fakeConn) drop() { _ = c.Close() }

func (c *fakeConn) send(f Frame) {
	b, _ := json.Marshal(f)
	c.toClient <- b
}

func (c *fakeConn) event(name string, payload any) {
	raw, _ := json.Marshal(payload)
	c.send(Frame{Type: FrameEvent, Target: name, Payload: raw})
}

type fakeDialer struct {
	conns  chan *fakeConn
	gate   chan struct{}
	dials  atomic.Int32
	header http.Header
	mu     sync.Mutex
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string, header http.Header) (Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	d.header = header
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	select {
	case c := <-d.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, errors.New("connection refused")
	}
}
