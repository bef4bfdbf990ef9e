// Package relay implements the state-exchange rendezvous server.
//
// Actors that cannot reach one another directly connect to the relay and
// introduce themselves with HELLO_STATE:<run-id>:<generation>:<partner>.
// Every later message from an actor is forwarded, in order, to the actor
// whose id is the sender's partner id. Messages wait on the sender while the
// partner is absent. If the sender leaves first, its undelivered messages
// are buried as tombstones and handed to the partner when it arrives, at most
// once, unless the retention window passes first.
//
// The server is a single goroutine driving a poll.Poller, like the reactor.
package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"slices"
	"time"

	"github.com/pithecene-io/swarm/log"
	"github.com/pithecene-io/swarm/metrics"
	"github.com/pithecene-io/swarm/poll"
	"github.com/pithecene-io/swarm/transport"
	"github.com/pithecene-io/swarm/types"
)

// DefaultPort is the relay's conventional listening port.
const DefaultPort = 13575

const (
	// DefaultRetention is how long a tombstone waits for its recipient.
	DefaultRetention = 10 * time.Minute
	// DefaultSweepInterval is how often expired tombstones are removed.
	DefaultSweepInterval = 30 * time.Second
)

const listenerID = 0

// Config configures a relay server.
type Config struct {
	// ListenAddr is the bind address, e.g. ":13575".
	ListenAddr string
	// TLS enables TLS on accepted connections when non-nil.
	TLS *tls.Config
	// Retention bounds how long tombstones are kept (default 10m).
	Retention time.Duration
	// SweepInterval is the tombstone expiry period (default 30s).
	SweepInterval time.Duration
	// Tombstones stores messages for absent partners (default in-memory).
	Tombstones TombstoneStore
	// Logger receives relay events. Nil discards them.
	Logger *log.Logger
	// Collector counts forwarded, buffered, delivered and expired messages.
	Collector *metrics.Collector
}

type peer struct {
	conn     *transport.Conn
	key      types.RendezvousKey
	hello    bool
	interest poll.Interest
}

// Relay is a state-exchange server.
type Relay struct {
	cfg       Config
	poller    *poll.Poller
	ln        *transport.Listener
	logger    *log.Logger
	collector *metrics.Collector
	store     TombstoneStore

	nextID int
	peers  map[int]*peer
	byKey  map[string]*peer
}

// New binds the listen address. The relay serves once Run is called.
func New(cfg Config) (*Relay, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Tombstones == nil {
		cfg.Tombstones = NewMemoryTombstones()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	p := poll.New()
	ln, err := transport.Listen(listenerID, cfg.ListenAddr, cfg.TLS, p)
	if err != nil {
		return nil, err
	}
	p.Register(listenerID, poll.Readable)

	return &Relay{
		cfg:       cfg,
		poller:    p,
		ln:        ln,
		logger:    logger,
		collector: cfg.Collector,
		store:     cfg.Tombstones,
		nextID:    listenerID + 1,
		peers:     make(map[int]*peer),
		byKey:     make(map[string]*peer),
	}, nil
}

// Addr returns the bound address.
func (r *Relay) Addr() net.Addr {
	return r.ln.Addr()
}

// Run serves until ctx is cancelled or the listener fails. Cancellation is a
// clean shutdown and returns nil.
func (r *Relay) Run(ctx context.Context) error {
	defer r.shutdown()

	r.logger.Info("relay listening", map[string]any{"addr": r.Addr().String()})
	nextSweep := time.Now().Add(r.cfg.SweepInterval)

	for {
		r.updateInterest()

		evs, err := r.poller.Wait(ctx, max(time.Until(nextSweep), 0))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		for _, ev := range evs {
			if ev.ID == listenerID {
				if err := r.accept(); err != nil {
					return err
				}
				continue
			}
			p, ok := r.peers[ev.ID]
			if !ok {
				continue
			}
			if ev.Ready.Has(poll.Readable) {
				if err := p.conn.Read(); err != nil {
					r.depart(ctx, p, err)
					continue
				}
			}
			if ev.Ready.Has(poll.Writable) {
				if err := p.conn.Write(); err != nil {
					r.depart(ctx, p, err)
				}
			}
		}

		for _, id := range r.peerIDs() {
			if p, ok := r.peers[id]; ok {
				r.handle(ctx, p)
			}
		}

		if !time.Now().Before(nextSweep) {
			r.sweep(ctx)
			nextSweep = time.Now().Add(r.cfg.SweepInterval)
		}
	}
}

func (r *Relay) peerIDs() []int {
	ids := make([]int, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Relay) updateInterest() {
	for id, p := range r.peers {
		var want poll.Interest
		if p.conn.WantsRead() {
			want |= poll.Readable
		}
		if p.conn.WantsWrite() {
			want |= poll.Writable
		}
		if want == p.interest {
			continue
		}
		p.interest = want
		if want == 0 {
			r.poller.Unregister(id)
		} else {
			r.poller.Register(id, want)
		}
	}
}

func (r *Relay) accept() error {
	for {
		nc, ok := r.ln.Accept()
		if !ok {
			break
		}
		id := r.nextID
		r.nextID++
		r.peers[id] = &peer{conn: transport.NewConn(id, nc, r.poller)}
		r.logger.Debug("relay peer accepted", map[string]any{"conn": id, "remote": nc.RemoteAddr().String()})
	}
	return r.ln.Err()
}

// handle consumes the hello, then forwards whatever the partner can take.
func (r *Relay) handle(ctx context.Context, p *peer) {
	if !p.hello {
		msg, ok := p.conn.Dequeue()
		if !ok {
			return
		}
		key, err := types.ParseHello(msg)
		if err != nil {
			r.logger.Warn("relay rejected peer", map[string]any{"conn": p.conn.ID(), "error": err.Error()})
			r.drop(p)
			return
		}
		r.greet(ctx, p, key)
	}

	partner, ok := r.byKey[p.key.PartnerID()]
	if !ok || partner.conn.Closed() {
		return
	}
	for {
		msg, ok := p.conn.Dequeue()
		if !ok {
			return
		}
		partner.conn.Enqueue(msg)
		r.collector.IncRelayForwarded()
	}
}

func (r *Relay) greet(ctx context.Context, p *peer, key types.RendezvousKey) {
	id := key.ID()
	if old, ok := r.byKey[id]; ok && old != p {
		r.logger.Warn("relay id reused, dropping previous peer", map[string]any{"id": id})
		r.drop(old)
	}
	p.key = key
	p.hello = true
	r.byKey[id] = p
	r.logger.Debug("relay hello", map[string]any{"id": id, "partner": key.PartnerID()})

	buried, err := r.store.Take(ctx, id)
	if err != nil {
		r.logger.Error("relay take tombstones", map[string]any{"id": id, "error": err.Error()})
	}
	for _, ts := range buried {
		for _, msg := range ts.Messages {
			p.conn.Enqueue(msg)
		}
		r.collector.AddRelayDelivered(int64(len(ts.Messages)))
		r.logger.Debug("relay delivered tombstone", map[string]any{"id": id, "from": ts.From, "messages": len(ts.Messages)})
	}

	// A partner that is still connected may be holding messages for p.
	if partner, ok := r.byKey[key.PartnerID()]; ok && partner != p && partner.hello &&
		!partner.conn.Closed() && partner.key.PartnerID() == id {
		r.handle(ctx, partner)
	}
}

// depart handles a peer whose connection failed. Messages decoded before
// the failure are forwarded if possible and buried otherwise.
func (r *Relay) depart(ctx context.Context, p *peer, err error) {
	if !errors.Is(err, io.EOF) {
		r.logger.Warn("relay peer failed", map[string]any{"conn": p.conn.ID(), "error": err.Error()})
	}
	r.handle(ctx, p)
	if p.hello {
		var held []string
		for {
			msg, ok := p.conn.Dequeue()
			if !ok {
				break
			}
			held = append(held, msg)
		}
		if len(held) > 0 {
			ts := Tombstone{
				Recipient: p.key.PartnerID(),
				From:      p.key.ID(),
				Messages:  held,
				BuriedAt:  time.Now(),
			}
			if err := r.store.Put(ctx, ts); err != nil {
				r.logger.Error("relay bury", map[string]any{"id": ts.From, "error": err.Error()})
			} else {
				r.collector.IncRelayBuffered()
				r.logger.Debug("relay buried messages", map[string]any{"from": ts.From, "for": ts.Recipient, "messages": len(held)})
			}
		}
	}
	r.drop(p)
}

func (r *Relay) drop(p *peer) {
	id := p.conn.ID()
	p.conn.Close()
	r.poller.Unregister(id)
	delete(r.peers, id)
	if p.hello && r.byKey[p.key.ID()] == p {
		delete(r.byKey, p.key.ID())
	}
}

func (r *Relay) sweep(ctx context.Context) {
	n, err := r.store.Expire(ctx, time.Now().Add(-r.cfg.Retention))
	if err != nil {
		r.logger.Error("relay expire tombstones", map[string]any{"error": err.Error()})
		return
	}
	if n > 0 {
		r.collector.AddRelayExpired(int64(n))
		r.logger.Info("relay expired tombstones", map[string]any{"count": n})
	}
}

func (r *Relay) shutdown() {
	r.ln.Close()
	r.poller.Unregister(listenerID)
	for _, p := range r.peers {
		r.drop(p)
	}
	if err := r.store.Close(); err != nil {
		r.logger.Warn("relay close tombstones", map[string]any{"error": err.Error()})
	}
}
