package worker

import (
	"sync"

	"github.com/pithecene-io/swarm/poll"
)

// result is the outcome of one command, foreground or backgrounded.
type result struct {
	// reply is the framed response for the coordinator.
	reply string
	// code is the exit code of a run command; 0 for other commands.
	code int
	// ran marks replies of run commands.
	ran bool
}

// tasks runs slow commands on goroutines and posts their results into the
// dispatch loop's poller under one id.
type tasks struct {
	id     int
	poller *poll.Poller

	mu          sync.Mutex
	done        []result
	outstanding int
}

func newTasks(id int, p *poll.Poller) *tasks {
	return &tasks{id: id, poller: p}
}

// spawn runs fn in the background.
func (t *tasks) spawn(fn func() result) {
	t.mu.Lock()
	t.outstanding++
	t.mu.Unlock()

	go func() {
		r := fn()
		t.mu.Lock()
		t.done = append(t.done, r)
		t.mu.Unlock()
		t.poller.Notify(t.id, poll.Readable)
	}()
}

// take returns finished results in completion order.
func (t *tasks) take() []result {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.done
	t.done = nil
	t.outstanding -= len(d)
	return d
}

// busy reports whether any task has not been taken yet.
func (t *tasks) busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outstanding > 0
}
