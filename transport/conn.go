// Package transport provides the framed, optionally TLS-wrapped connection
// used by the coordinator, the worker and the relay.
//
// A Conn is owned by one goroutine (the reactor or a dispatch loop). Socket
// I/O happens on two helper goroutines per connection which never touch
// framing or queues; they deposit raw bytes, record errors and post readiness
// into a poll.Poller. The owner reacts to readiness by calling Read and Write,
// which never block.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/swarm/frame"
	"github.com/pithecene-io/swarm/poll"
)

// readChunk is the size of a single socket read.
const readChunk = 16 * 1024

// closeGrace bounds how long Close waits on a TLS close_notify.
const closeGrace = time.Second

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("transport: connection closed")

// HandshakeError reports a failed TLS handshake.
type HandshakeError struct {
	Err error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("tls handshake: %v", e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Conn is a message-framed connection.
type Conn struct {
	id     int
	nc     net.Conn
	tls    *tls.Conn
	poller *poll.Poller

	// Written by the reader goroutine.
	mu      sync.Mutex
	inbound []byte
	rerr    error
	hsDone  bool
	hsErr   error
	werr    error

	writing atomic.Bool
	outCh   chan []byte
	done    chan struct{}
	once    sync.Once

	// Owner-only state.
	dec         *frame.Decoder
	recvQ       []string
	sendQ       []byte
	sendCount   int
	handshaking bool
	closed      bool
	sent        uint64
	received    uint64
}

// NewConn wraps an established connection and starts its I/O goroutines.
// A *tls.Conn starts in the handshaking state; the handshake runs on the
// reader goroutine and its completion is posted as readiness for id.
func NewConn(id int, nc net.Conn, p *poll.Poller) *Conn {
	c := &Conn{
		id:     id,
		nc:     nc,
		poller: p,
		outCh:  make(chan []byte, 1),
		done:   make(chan struct{}),
		dec:    frame.NewDecoder(),
	}
	if tc, ok := nc.(*tls.Conn); ok {
		c.tls = tc
		c.handshaking = true
	}
	go c.readLoop()
	go c.writeLoop()
	return c
}

// Dial connects to addr and wraps the result. With a non-nil cfg the
// connection is a TLS client and starts handshaking.
func Dial(ctx context.Context, id int, addr string, cfg *tls.Config, p *poll.Poller) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if cfg != nil {
		nc = tls.Client(nc, cfg)
	}
	return NewConn(id, nc, p), nil
}

func (c *Conn) readLoop() {
	if c.tls != nil {
		err := c.tls.HandshakeContext(context.Background())
		c.mu.Lock()
		c.hsDone = true
		c.hsErr = err
		c.mu.Unlock()
		c.poller.Notify(c.id, poll.Readable|poll.Writable)
		if err != nil {
			return
		}
	}

	buf := make([]byte, readChunk)
	for {
		n, err := c.nc.Read(buf)
		c.mu.Lock()
		if n > 0 {
			c.inbound = append(c.inbound, buf[:n]...)
		}
		if err != nil {
			c.rerr = err
		}
		c.mu.Unlock()
		if n > 0 || err != nil {
			c.poller.Notify(c.id, poll.Readable)
		}
		if err != nil {
			return
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case b := <-c.outCh:
			_, err := c.nc.Write(b)
			if err != nil {
				c.mu.Lock()
				c.werr = err
				c.mu.Unlock()
			}
			c.writing.Store(false)
			c.poller.Notify(c.id, poll.Writable)
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// ID returns the poller id of the connection.
func (c *Conn) ID() int { return c.id }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Handshaking reports whether a TLS handshake is still in progress.
func (c *Conn) Handshaking() bool { return c.handshaking }

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool { return c.closed }

// WantsRead is true while the connection is open.
func (c *Conn) WantsRead() bool { return !c.closed }

// WantsWrite is true while frames are queued or a write is in flight.
func (c *Conn) WantsWrite() bool {
	return !c.closed && (len(c.sendQ) > 0 || c.writing.Load())
}

// Pending returns the number of decoded messages waiting in the receive queue.
func (c *Conn) Pending() int { return len(c.recvQ) }

// Stats returns the number of frames sent and received.
func (c *Conn) Stats() (sent, received uint64) { return c.sent, c.received }

// Read moves bytes delivered by the reader goroutine through the decoder
// into the receive queue. Messages decoded before an error stay queued.
//
// Returns a *HandshakeError, a *frame.Error, or the socket error (io.EOF
// when the peer closed). Every error closes the connection.
func (c *Conn) Read() error {
	if c.closed {
		return ErrClosed
	}

	c.mu.Lock()
	data := c.inbound
	c.inbound = nil
	rerr := c.rerr
	hsDone, hsErr := c.hsDone, c.hsErr
	c.mu.Unlock()

	if c.handshaking {
		if !hsDone {
			return nil
		}
		c.handshaking = false
		if hsErr != nil {
			c.Close()
			return &HandshakeError{Err: hsErr}
		}
	}

	if len(data) > 0 {
		msgs, err := c.dec.Feed(data)
		for _, m := range msgs {
			c.recvQ = append(c.recvQ, string(m))
		}
		c.received += uint64(len(msgs))
		if err != nil {
			c.Close()
			return err
		}
	}

	if rerr != nil {
		c.Close()
		if errors.Is(rerr, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("read: %w", rerr)
	}
	return nil
}

// Write hands every queued frame to the writer goroutine as one buffer when
// no write is in flight. Partial sends are absorbed by the goroutine.
func (c *Conn) Write() error {
	if c.closed {
		return ErrClosed
	}

	c.mu.Lock()
	werr := c.werr
	c.mu.Unlock()
	if werr != nil {
		c.Close()
		return fmt.Errorf("write: %w", werr)
	}

	if c.handshaking || len(c.sendQ) == 0 || c.writing.Load() {
		return nil
	}
	buf := c.sendQ
	c.sendQ = nil
	c.sent += uint64(c.sendCount)
	c.sendCount = 0
	c.writing.Store(true)
	c.outCh <- buf
	return nil
}

// Enqueue frames msg and queues it for sending.
func (c *Conn) Enqueue(msg string) {
	if c.closed {
		return
	}
	c.sendQ = frame.AppendFrame(c.sendQ, []byte(msg))
	c.sendCount++
	if !c.handshaking && !c.writing.Load() {
		c.poller.Notify(c.id, poll.Writable)
	}
}

// Dequeue pops the oldest received message.
func (c *Conn) Dequeue() (string, bool) {
	if len(c.recvQ) == 0 {
		return "", false
	}
	m := c.recvQ[0]
	c.recvQ = c.recvQ[1:]
	return m, true
}

// PushFront inserts msg at the head of the receive queue, as if it had just
// arrived ahead of everything else.
func (c *Conn) PushFront(msg string) {
	c.recvQ = append([]string{msg}, c.recvQ...)
}

// Close shuts the connection down. Idempotent; errors are swallowed.
func (c *Conn) Close() {
	c.closed = true
	c.once.Do(func() {
		close(c.done)
		_ = c.nc.SetDeadline(time.Now().Add(closeGrace))
		_ = c.nc.Close()
	})
}
