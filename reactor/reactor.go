// Package reactor implements the coordinator main loop: one goroutine owning
// a fixed array of actor slots, driving every worker's state machine from
// readiness events until all of them finish.
package reactor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	"github.com/pithecene-io/swarm/frame"
	"github.com/pithecene-io/swarm/log"
	"github.com/pithecene-io/swarm/machine"
	"github.com/pithecene-io/swarm/metrics"
	"github.com/pithecene-io/swarm/poll"
	"github.com/pithecene-io/swarm/transport"
	"github.com/pithecene-io/swarm/types"
)

// listenerID is the poller id of the accept socket; actor slots use their index.
const listenerID = -1

// maxHandlePasses bounds repeated handling within one iteration when
// hand-offs wake other actors.
const maxHandlePasses = 8

// GroupInfoKey is the Info key holding an actor's keyframe group.
const GroupInfoKey = "actor_group_number"

// RemoteHostKey is the Info key holding the worker's address as seen by the
// coordinator. Hand-offs use it to point neighbours at a worker's listener.
const RemoteHostKey = "remote_host"

// Defaults applied by New.
const (
	DefaultStatusInterval = 2 * time.Second
	DefaultIdleTimeout    = 30 * time.Minute
)

// Fleet is the view of the actor array offered to hand-off hooks.
type Fleet interface {
	// SetInfo writes key into the Info map of actor number num. Values for
	// actors that have not connected yet are applied when they do.
	SetInfo(num int, key, value string)
	// NumParts is the fleet size.
	NumParts() int
}

// Handoff reacts to an INFO message applied to actor from.
type Handoff func(f Fleet, from *machine.Actor, update machine.InfoUpdate)

// Config is constructed once per run and threaded through the reactor.
type Config struct {
	// ListenAddr is the accept address, e.g. ":13579".
	ListenAddr string
	// NumParts is the number of actor slots.
	NumParts int
	// KeyframeDistance groups actors by goose placement when > 0.
	KeyframeDistance int
	// TLS, when set, wraps accepted sockets as TLS servers.
	TLS *tls.Config
	// Initial returns the first step for actor number num.
	Initial func(num int) machine.Step
	// Handoff, when set, is called for every INFO update.
	Handoff Handoff
	// StatusInterval is how often status is emitted.
	StatusInterval time.Duration
	// IdleTimeout fails the whole run when no readiness arrives for this long.
	IdleTimeout time.Duration
	// ProfileFile, when set, receives a CPU profile of the run.
	ProfileFile string
	Observer    Observer
	Logger      *log.Logger
	Collector   *metrics.Collector
}

type slot struct {
	actor    *machine.Actor
	conn     *transport.Conn
	interest poll.Interest
	counted  bool
}

// Reactor drives one run.
type Reactor struct {
	cfg     Config
	logger  *log.Logger
	poller  *poll.Poller
	ln      *transport.Listener
	slots   []*slot
	byNum   map[int]*slot
	pending map[int]map[string]string
	start   time.Time
}

// New validates cfg and binds the listener.
func New(cfg Config) (*Reactor, error) {
	if cfg.NumParts <= 0 {
		return nil, fmt.Errorf("num_parts must be positive, got %d", cfg.NumParts)
	}
	if cfg.Initial == nil {
		return nil, errors.New("initial step is required")
	}
	if cfg.KeyframeDistance < 0 {
		return nil, fmt.Errorf("keyframe_distance must not be negative, got %d", cfg.KeyframeDistance)
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
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

	return &Reactor{
		cfg:     cfg,
		logger:  logger,
		poller:  p,
		ln:      ln,
		byNum:   make(map[int]*slot),
		pending: make(map[int]map[string]string),
	}, nil
}

// Addr returns the bound listen address.
func (r *Reactor) Addr() net.Addr {
	return r.ln.Addr()
}

// NumParts implements Fleet.
func (r *Reactor) NumParts() int { return r.cfg.NumParts }

// SetInfo implements Fleet.
func (r *Reactor) SetInfo(num int, key, value string) {
	if s, ok := r.byNum[num]; ok {
		s.actor.SetInfo(key, value)
		return
	}
	if r.pending[num] == nil {
		r.pending[num] = make(map[string]string)
	}
	r.pending[num][key] = value
}

// Run drives the fleet until every slot is filled and terminal, the fleet
// times out, or ctx is done. The returned Result is always non-nil; the
// error is a *FleetError when any actor failed.
func (r *Reactor) Run(ctx context.Context) (*Result, error) {
	r.start = time.Now()
	stopProfile, err := r.startProfile()
	if err != nil {
		r.ln.Close()
		return nil, err
	}
	defer stopProfile()

	r.logger.Info("coordinator listening", map[string]any{
		"addr":      r.ln.Addr().String(),
		"num_parts": r.cfg.NumParts,
		"tls":       r.cfg.TLS != nil,
	})

	lastEvent := time.Now()
	lastStatus := time.Now()
	timedOut := false

	for {
		r.updateInterest()
		if r.finished() {
			break
		}

		wait := min(r.cfg.StatusInterval, r.cfg.IdleTimeout-time.Since(lastEvent))
		evs, err := r.poller.Wait(ctx, max(wait, 0))
		if err != nil {
			res := r.finish(false)
			return res, err
		}

		if len(evs) == 0 {
			if time.Since(lastEvent) >= r.cfg.IdleTimeout {
				r.cfg.Collector.IncFleetTimeout()
				r.logger.Error("fleet timeout", map[string]any{"idle": r.cfg.IdleTimeout.String()})
				timedOut = true
				break
			}
			r.emitStatus()
			lastStatus = time.Now()
			continue
		}
		lastEvent = time.Now()

		for _, ev := range evs {
			if !ev.Ready.Has(poll.Readable) {
				continue
			}
			if ev.ID == listenerID {
				r.accept()
				continue
			}
			r.read(r.slots[ev.ID])
		}
		for _, ev := range evs {
			if ev.ID == listenerID || !ev.Ready.Has(poll.Writable) {
				continue
			}
			r.write(r.slots[ev.ID])
		}
		r.handleAll()

		if time.Since(lastStatus) >= r.cfg.StatusInterval {
			r.emitStatus()
			lastStatus = time.Now()
		}
	}

	res := r.finish(timedOut)
	r.emitStatus()
	if len(res.Failed) > 0 {
		fe := &FleetError{Indices: res.Failed, Timeout: timedOut}
		for _, i := range res.Failed {
			a := res.Actors[i]
			fe.Details = append(fe.Details, fmt.Sprintf("%d (actor %d): %s %s", a.Index, a.Num, a.Status, a.Err))
		}
		return res, fe
	}
	return res, nil
}

func (r *Reactor) startProfile() (func(), error) {
	if r.cfg.ProfileFile == "" {
		return func() {}, nil
	}
	f, err := os.Create(r.cfg.ProfileFile)
	if err != nil {
		return nil, fmt.Errorf("create profile file: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("start cpu profile: %w", err)
	}
	return func() {
		pprof.StopCPUProfile()
		_ = f.Close()
	}, nil
}

// updateInterest recomputes desired readiness per slot and touches the
// poller only on change.
func (r *Reactor) updateInterest() {
	for i, s := range r.slots {
		var want poll.Interest
		if !s.conn.Closed() {
			if !s.actor.Done() && s.conn.WantsRead() {
				want |= poll.Readable
			}
			if s.conn.WantsWrite() {
				want |= poll.Writable
			}
		}
		if want == s.interest {
			continue
		}
		s.interest = want
		if want == 0 {
			r.poller.Unregister(i)
		} else {
			r.poller.Register(i, want)
		}
	}
}

func (r *Reactor) finished() bool {
	if r.ln != nil {
		return false
	}
	for _, s := range r.slots {
		if !s.actor.Done() || s.interest != 0 {
			return false
		}
	}
	return true
}

func (r *Reactor) retireListener() {
	r.ln.Close()
	r.poller.Unregister(listenerID)
	r.ln = nil
}

func (r *Reactor) accept() {
	if r.ln == nil {
		return
	}
	for len(r.slots) < r.cfg.NumParts {
		nc, ok := r.ln.Accept()
		if !ok {
			break
		}
		idx := len(r.slots)
		pl := Place(idx, r.cfg.KeyframeDistance, r.cfg.NumParts)
		conn := transport.NewConn(idx, nc, r.poller)
		actor := machine.NewActor(idx, pl.Num, conn, r.cfg.Initial(pl.Num))
		if r.cfg.KeyframeDistance > 0 {
			actor.Info[GroupInfoKey] = strconv.Itoa(pl.Group)
		}
		if host, _, err := net.SplitHostPort(nc.RemoteAddr().String()); err == nil {
			actor.Info[RemoteHostKey] = host
		}
		s := &slot{actor: actor, conn: conn}
		r.slots = append(r.slots, s)
		r.byNum[pl.Num] = s
		for k, v := range r.pending[pl.Num] {
			actor.SetInfo(k, v)
		}
		delete(r.pending, pl.Num)

		r.cfg.Collector.IncActorAccepted()
		r.logger.Debug("actor accepted", map[string]any{
			"index":  idx,
			"actor":  pl.Num,
			"remote": nc.RemoteAddr().String(),
		})
	}

	if len(r.slots) == r.cfg.NumParts {
		r.retireListener()
		return
	}
	if err := r.ln.Err(); err != nil {
		r.logger.Error("listener failed", map[string]any{"error": err.Error()})
		r.retireListener()
	}
}

func (r *Reactor) read(s *slot) {
	if s.conn.Closed() {
		return
	}
	err := s.conn.Read()
	if err == nil {
		return
	}
	// Messages that arrived before the error are still consumed.
	s.actor.Handle()
	if s.actor.Done() && errors.Is(err, io.EOF) {
		return
	}
	r.failActor(s, err)
}

func (r *Reactor) write(s *slot) {
	if s.conn.Closed() {
		return
	}
	if err := s.conn.Write(); err != nil {
		r.failActor(s, err)
	}
}

func (r *Reactor) failActor(s *slot, err error) {
	switch {
	case isHandshake(err):
		r.cfg.Collector.IncHandshakeFailure()
	case frame.IsFrameError(err):
		r.cfg.Collector.IncFrameError()
	}
	s.actor.Fail(err)
	s.conn.Close()
}

func isHandshake(err error) bool {
	var he *transport.HandshakeError
	return errors.As(err, &he)
}

func errorKind(err error) string {
	switch {
	case isHandshake(err):
		return "handshake"
	case frame.IsFrameError(err):
		return "frame"
	case errors.Is(err, io.EOF), errors.Is(err, transport.ErrClosed):
		return "transport"
	case errors.Is(err, machine.ErrUnmatched), errors.Is(err, machine.ErrAmbiguous):
		return "protocol"
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return "transport"
	}
	return "protocol"
}

// handleAll runs the algebra for every actor with queued input, then
// forwards INFO updates through the hand-off hook.
func (r *Reactor) handleAll() {
	for range maxHandlePasses {
		progressed := false
		for _, s := range r.slots {
			if !s.actor.HasWork() {
				continue
			}
			progressed = true
			s.actor.Handle()
			for _, u := range s.actor.TakeInfoUpdates() {
				if r.cfg.Handoff != nil {
					r.cfg.Handoff(r, s.actor, u)
				}
			}
		}
		r.account()
		if !progressed {
			return
		}
	}
}

// account records each actor's terminal outcome once.
func (r *Reactor) account() {
	for _, s := range r.slots {
		if s.counted || !s.actor.Done() {
			continue
		}
		s.counted = true
		if err := s.actor.Err(); err != nil {
			r.cfg.Collector.IncActorErrored(errorKind(err))
			r.logger.Warn("actor failed", map[string]any{
				"index": s.actor.Index,
				"actor": s.actor.Num,
				"error": err.Error(),
			})
			s.conn.Close()
			continue
		}
		r.cfg.Collector.IncActorCompleted()
	}
}

func (r *Reactor) status() Status {
	st := Status{
		Elapsed:   time.Since(r.start),
		Prelaunch: r.cfg.NumParts - len(r.slots),
	}
	for _, s := range r.slots {
		switch {
		case machine.IsError(s.actor.State()):
			st.Errors++
		case s.actor.Done():
			st.Done++
		}
		if s.interest != 0 {
			st.Active++
		}
		st.States = append(st.States, s.actor.State().Name())
	}
	return st
}

func (r *Reactor) emitStatus() {
	st := r.status()
	r.logger.Info("fleet status", map[string]any{
		"elapsed":   st.Elapsed.Round(time.Millisecond).String(),
		"active":    st.Active,
		"done":      st.Done,
		"prelaunch": st.Prelaunch,
		"error":     st.Errors,
	})
	if r.cfg.Observer != nil {
		r.cfg.Observer(st)
	}
}

// finish closes every transport and builds the result.
func (r *Reactor) finish(timedOut bool) *Result {
	if r.ln != nil {
		r.retireListener()
	}
	r.account()

	res := &Result{
		Start:    r.start,
		Duration: time.Since(r.start),
		TimedOut: timedOut,
	}
	var in, out uint64
	for i, s := range r.slots {
		s.conn.Close()
		r.poller.Unregister(i)
		sent, recv := s.conn.Stats()
		in += recv
		out += sent

		rep := ActorReport{
			Index: i,
			Num:   s.actor.Num,
			State: s.actor.State().Name(),
			Trail: s.actor.Trail,
			Info:  maps.Clone(s.actor.Info),
		}
		for _, ts := range s.actor.Timestamps {
			rep.Timestamps = append(rep.Timestamps, ts.Sub(r.start))
		}
		switch {
		case s.actor.Err() != nil:
			rep.Status = types.ActorError
			rep.Err = s.actor.Err().Error()
		case s.actor.Done():
			rep.Status = types.ActorDone
		default:
			rep.Status = types.ActorPending
			rep.Err = "not terminal at exit"
		}
		if rep.Status.Failed() {
			res.Failed = append(res.Failed, i)
		}
		res.Actors = append(res.Actors, rep)
	}
	for i := len(r.slots); i < r.cfg.NumParts; i++ {
		res.Actors = append(res.Actors, ActorReport{
			Index:  i,
			Num:    -1,
			Status: types.ActorMissing,
			State:  "prelaunch",
			Err:    "no worker connected",
		})
		res.Failed = append(res.Failed, i)
	}
	r.cfg.Collector.AddMessages(int64(in), int64(out))
	return res
}
