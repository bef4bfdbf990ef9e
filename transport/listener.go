package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/pithecene-io/swarm/poll"
)

// Listener accepts connections on a goroutine and posts each one as read
// readiness for its poller id. The owner pops accepted sockets with Accept.
type Listener struct {
	id     int
	ln     net.Listener
	poller *poll.Poller

	mu      sync.Mutex
	pending []net.Conn
	err     error
	closed  bool
}

// Listen binds addr. With a non-nil cfg every accepted socket is wrapped as
// a TLS server connection; the handshake starts when the socket is wrapped
// by NewConn.
func Listen(id int, addr string, cfg *tls.Config, p *poll.Poller) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if cfg != nil {
		ln = tls.NewListener(ln, cfg)
	}
	l := &Listener{id: id, ln: ln, poller: p}
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) acceptLoop() {
	for {
		nc, err := l.ln.Accept()
		l.mu.Lock()
		if err != nil {
			if !l.closed {
				l.err = err
			}
			l.mu.Unlock()
			l.poller.Notify(l.id, poll.Readable)
			return
		}
		if l.closed {
			l.mu.Unlock()
			_ = nc.Close()
			return
		}
		l.pending = append(l.pending, nc)
		l.mu.Unlock()
		l.poller.Notify(l.id, poll.Readable)
	}
}

// ID returns the poller id of the listener.
func (l *Listener) ID() int { return l.id }

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Port returns the bound TCP port.
func (l *Listener) Port() int {
	if a, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

// Accept pops one accepted socket without blocking.
func (l *Listener) Accept() (net.Conn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return nil, false
	}
	nc := l.pending[0]
	l.pending = l.pending[1:]
	return nc, true
}

// Err returns the error that stopped the accept loop, if any.
func (l *Listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close stops accepting and closes sockets that were accepted but never
// popped. Idempotent.
func (l *Listener) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	_ = l.ln.Close()
	for _, nc := range pending {
		_ = nc.Close()
	}
}
