// Package poll provides the readiness multiplexer driven by the reactor and
// the worker dispatch loop.
//
// Sources of readiness (connection reader and writer goroutines, listener
// accept loops, background tasks) call Notify from any goroutine. The single
// owning goroutine registers interest and calls Wait. Ready bits are sticky:
// a bit set while no interest is registered is delivered once interest is
// added, and is cleared only when delivered or unregistered.
package poll

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Interest is a bit set of readiness kinds.
type Interest uint8

const (
	// Readable means inbound data or a pending accept is available.
	Readable Interest = 1 << iota
	// Writable means the source can take more outbound data.
	Writable
)

// Has reports whether all bits in o are set.
func (i Interest) Has(o Interest) bool {
	return i&o == o
}

func (i Interest) String() string {
	switch i {
	case 0:
		return "none"
	case Readable:
		return "r"
	case Writable:
		return "w"
	case Readable | Writable:
		return "rw"
	default:
		return "?"
	}
}

// Event reports readiness for one registered source.
type Event struct {
	ID    int
	Ready Interest
}

// Poller is a level-triggered readiness set.
type Poller struct {
	mu       sync.Mutex
	interest map[int]Interest
	ready    map[int]Interest
	wake     chan struct{}
}

// New creates an empty poller.
func New() *Poller {
	return &Poller{
		interest: make(map[int]Interest),
		ready:    make(map[int]Interest),
		wake:     make(chan struct{}, 1),
	}
}

// Register sets the interest for id. Registering an existing id replaces
// its interest.
func (p *Poller) Register(id int, in Interest) {
	p.mu.Lock()
	p.interest[id] = in
	p.mu.Unlock()
	p.kick()
}

// Modify is Register under the name callers expect when interest changes.
func (p *Poller) Modify(id int, in Interest) {
	p.Register(id, in)
}

// Unregister drops id and any undelivered readiness for it.
func (p *Poller) Unregister(id int) {
	p.mu.Lock()
	delete(p.interest, id)
	delete(p.ready, id)
	p.mu.Unlock()
}

// Notify marks id ready. Safe for concurrent use.
func (p *Poller) Notify(id int, ev Interest) {
	p.mu.Lock()
	p.ready[id] |= ev
	p.mu.Unlock()
	p.kick()
}

// Len returns the number of registered ids.
func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.interest)
}

func (p *Poller) kick() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// collectLocked returns deliverable events in ascending id order and clears
// the delivered bits.
func (p *Poller) collectLocked() []Event {
	var evs []Event
	for id, r := range p.ready {
		hit := r & p.interest[id]
		if hit == 0 {
			continue
		}
		evs = append(evs, Event{ID: id, Ready: hit})
		if rest := r &^ hit; rest == 0 {
			delete(p.ready, id)
		} else {
			p.ready[id] = rest
		}
	}
	slices.SortFunc(evs, func(a, b Event) int { return a.ID - b.ID })
	return evs
}

// Wait blocks until at least one registered source is ready, the timeout
// elapses, or ctx is done. A timeout returns (nil, nil).
func (p *Poller) Wait(ctx context.Context, timeout time.Duration) ([]Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		evs := p.collectLocked()
		p.mu.Unlock()
		if len(evs) > 0 {
			return evs, nil
		}

		select {
		case <-p.wake:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
