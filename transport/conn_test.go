package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/swarm/frame"
	"github.com/pithecene-io/swarm/poll"
	"github.com/pithecene-io/swarm/transport/transporttest"
)

const (
	listenerID = -1
	serverID   = 0
	clientID   = 1
)

// harness drives one poller the way the reactor does.
type harness struct {
	t      *testing.T
	poller *poll.Poller
	conns  map[int]*Conn
	errs   map[int]error
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, poller: poll.New(), conns: map[int]*Conn{}, errs: map[int]error{}}
}

func (h *harness) add(c *Conn) {
	h.conns[c.ID()] = c
}

// pump runs the readiness loop until done returns true or the deadline passes.
func (h *harness) pump(done func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !done() {
		if time.Now().After(deadline) {
			h.t.Fatal("pump: deadline exceeded")
		}
		for id, c := range h.conns {
			var in poll.Interest
			if c.WantsRead() {
				in |= poll.Readable
			}
			if c.WantsWrite() {
				in |= poll.Writable
			}
			h.poller.Register(id, in)
		}
		evs, err := h.poller.Wait(context.Background(), 50*time.Millisecond)
		if err != nil {
			h.t.Fatalf("Wait: %v", err)
		}
		for _, ev := range evs {
			c := h.conns[ev.ID]
			if c == nil || c.Closed() {
				continue
			}
			if ev.Ready.Has(poll.Readable) {
				if err := c.Read(); err != nil {
					h.errs[ev.ID] = err
					continue
				}
			}
			if ev.Ready.Has(poll.Writable) {
				if err := c.Write(); err != nil {
					h.errs[ev.ID] = err
				}
			}
		}
	}
}

func acceptOne(t *testing.T, h *harness, ln *Listener) net.Conn {
	t.Helper()
	h.poller.Register(ln.ID(), poll.Readable)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if nc, ok := ln.Accept(); ok {
			h.poller.Unregister(ln.ID())
			return nc
		}
		if _, err := h.poller.Wait(context.Background(), 50*time.Millisecond); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	t.Fatal("accept: deadline exceeded")
	return nil
}

func connectPair(t *testing.T, h *harness, serverCfg, clientCfg *tls.Config) (server, client *Conn) {
	t.Helper()
	ln, err := Listen(listenerID, "127.0.0.1:0", serverCfg, h.poller)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(ln.Close)

	client, err = Dial(context.Background(), clientID, ln.Addr().String(), clientCfg, h.poller)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	server = NewConn(serverID, acceptOne(t, h, ln), h.poller)
	h.add(server)
	h.add(client)
	t.Cleanup(server.Close)
	t.Cleanup(client.Close)
	return server, client
}

func TestConn_PlainExchange(t *testing.T) {
	h := newHarness(t)
	server, client := connectPair(t, h, nil, nil)

	client.Enqueue("set:k:v")
	client.Enqueue("echo:a\x00b")
	h.pump(func() bool { return server.Pending() == 2 })

	for _, want := range []string{"set:k:v", "echo:a\x00b"} {
		got, ok := server.Dequeue()
		if !ok || got != want {
			t.Errorf("Dequeue = %q, %v; want %q", got, ok, want)
		}
	}

	server.Enqueue("OK:SET(k)")
	h.pump(func() bool { return client.Pending() == 1 })
	if got, _ := client.Dequeue(); got != "OK:SET(k)" {
		t.Errorf("client got %q", got)
	}

	sent, _ := client.Stats()
	if sent != 2 {
		t.Errorf("client sent = %d, want 2", sent)
	}
}

func TestConn_LargeMessage(t *testing.T) {
	h := newHarness(t)
	server, client := connectPair(t, h, nil, nil)

	big := strings.Repeat("x", 3*readChunk+17)
	client.Enqueue(big)
	h.pump(func() bool { return server.Pending() == 1 })
	if got, _ := server.Dequeue(); got != big {
		t.Errorf("payload length = %d, want %d", len(got), len(big))
	}
}

func TestConn_TLSVerifyPeer(t *testing.T) {
	certPEM, keyPEM := transporttest.SelfSigned(t)
	serverCfg, err := ServerTLSConfig(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("ServerTLSConfig: %v", err)
	}
	clientCfg, err := ClientTLSConfig(certPEM, VerifyPeer)
	if err != nil {
		t.Fatalf("ClientTLSConfig: %v", err)
	}

	h := newHarness(t)
	server, client := connectPair(t, h, serverCfg, clientCfg)
	if !server.Handshaking() || !client.Handshaking() {
		t.Fatal("TLS connections should start handshaking")
	}

	// Queued before the handshake completes; held until it does.
	server.Enqueue("OK:HELLO")
	h.pump(func() bool { return client.Pending() == 1 })
	if got, _ := client.Dequeue(); got != "OK:HELLO" {
		t.Errorf("client got %q, want OK:HELLO", got)
	}
	if client.Handshaking() {
		t.Error("client still handshaking after exchange")
	}

	client.Enqueue("quit:")
	h.pump(func() bool { return server.Pending() == 1 })
}

func TestConn_TLSVerifyFailure(t *testing.T) {
	certPEM, keyPEM := transporttest.SelfSigned(t)
	otherCA, _ := transporttest.SelfSigned(t)

	serverCfg, err := ServerTLSConfig(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("ServerTLSConfig: %v", err)
	}
	clientCfg, err := ClientTLSConfig(otherCA, VerifyPeer)
	if err != nil {
		t.Fatalf("ClientTLSConfig: %v", err)
	}

	h := newHarness(t)
	_, client := connectPair(t, h, serverCfg, clientCfg)
	h.pump(func() bool { return h.errs[clientID] != nil })

	var he *HandshakeError
	if !errors.As(h.errs[clientID], &he) {
		t.Fatalf("client error = %v, want *HandshakeError", h.errs[clientID])
	}
	if !client.Closed() {
		t.Error("client should be closed after handshake failure")
	}
}

func TestConn_TLSVerifyNone(t *testing.T) {
	certPEM, keyPEM := transporttest.SelfSigned(t)
	serverCfg, err := ServerTLSConfig(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("ServerTLSConfig: %v", err)
	}
	clientCfg, err := ClientTLSConfig(nil, VerifyNone)
	if err != nil {
		t.Fatalf("ClientTLSConfig: %v", err)
	}

	h := newHarness(t)
	server, client := connectPair(t, h, serverCfg, clientCfg)
	client.Enqueue("STATE(1):eJwDAAAAAAE=")
	h.pump(func() bool { return server.Pending() == 1 })

	if clientCfg.MaxVersion != tls.VersionTLS12 {
		t.Errorf("MaxVersion = %x, want TLS 1.2", clientCfg.MaxVersion)
	}
}

func TestConn_PeerCloseSurfacesEOF(t *testing.T) {
	h := newHarness(t)
	server, client := connectPair(t, h, nil, nil)

	client.Enqueue("OK:BYE")
	h.pump(func() bool { return !client.WantsWrite() })
	client.Close()
	delete(h.conns, clientID)

	h.pump(func() bool { return h.errs[serverID] != nil })
	if !errors.Is(h.errs[serverID], io.EOF) {
		t.Errorf("server error = %v, want io.EOF", h.errs[serverID])
	}
	// The message that arrived before EOF is still queued.
	if got, ok := server.Dequeue(); !ok || got != "OK:BYE" {
		t.Errorf("Dequeue = %q, %v; want OK:BYE", got, ok)
	}
	if err := server.Read(); !errors.Is(err, ErrClosed) {
		t.Errorf("Read after close = %v, want ErrClosed", err)
	}
}

func TestConn_BadHeaderIsFatal(t *testing.T) {
	h := newHarness(t)
	ln, err := Listen(listenerID, "127.0.0.1:0", nil, h.poller)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(ln.Close)

	raw, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = raw.Close() })

	server := NewConn(serverID, acceptOne(t, h, ln), h.poller)
	h.add(server)

	if _, err := raw.Write([]byte("hello world, not a header")); err != nil {
		t.Fatalf("raw write: %v", err)
	}
	h.pump(func() bool { return h.errs[serverID] != nil })
	if !frame.IsFrameError(h.errs[serverID]) {
		t.Errorf("server error = %v, want frame error", h.errs[serverID])
	}
	if !server.Closed() {
		t.Error("server should be closed after bad header")
	}
}

func TestConn_PushFrontAndCloseIdempotent(t *testing.T) {
	h := newHarness(t)
	server, client := connectPair(t, h, nil, nil)

	client.Enqueue("second")
	h.pump(func() bool { return server.Pending() == 1 })
	server.PushFront("first")

	for _, want := range []string{"first", "second"} {
		if got, _ := server.Dequeue(); got != want {
			t.Errorf("Dequeue = %q, want %q", got, want)
		}
	}
	if _, ok := server.Dequeue(); ok {
		t.Error("Dequeue on empty queue returned ok")
	}

	server.Close()
	server.Close()
	if server.WantsRead() || server.WantsWrite() {
		t.Error("closed conn should want nothing")
	}
}

func TestListener_CloseDropsPending(t *testing.T) {
	p := poll.New()
	ln, err := Listen(listenerID, "127.0.0.1:0", nil, p)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if ln.Port() == 0 {
		t.Error("Port = 0, want bound port")
	}
	ln.Close()
	ln.Close()
	if ln.Err() != nil {
		t.Errorf("Err after Close = %v, want nil", ln.Err())
	}
	if _, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second); err == nil {
		t.Error("dial succeeded after Close")
	}
}
