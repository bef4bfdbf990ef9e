package machine

import (
	"errors"
	"slices"
	"strconv"
	"testing"
)

type fakePort struct {
	in   []string
	sent []string
}

func (p *fakePort) Enqueue(msg string) { p.sent = append(p.sent, msg) }

func (p *fakePort) Dequeue() (string, bool) {
	if len(p.in) == 0 {
		return "", false
	}
	m := p.in[0]
	p.in = p.in[1:]
	return m, true
}

func (p *fakePort) PushFront(msg string) { p.in = append([]string{msg}, p.in...) }
func (p *fakePort) Pending() int         { return len(p.in) }

func newTestActor(t *testing.T, initial Step) (*Actor, *fakePort) {
	t.Helper()
	port := &fakePort{}
	return NewActor(0, 0, port, initial), port
}

func feed(a *Actor, p *fakePort, msgs ...string) {
	p.in = append(p.in, msgs...)
	a.Handle()
}

func TestOnePass_ExpectSendNext(t *testing.T) {
	a, port := newTestActor(t, OnePass{
		Label:   "hello",
		Expect:  "OK:HELLO",
		Command: "set:k:v",
		Next:    OnePass{Expect: "OK:SET", Command: "quit:", Next: Done},
	})

	feed(a, port, "OK:HELLO")
	if !slices.Equal(port.sent, []string{"set:k:v"}) {
		t.Fatalf("sent = %q, want [set:k:v]", port.sent)
	}
	feed(a, port, "OK:SET(k)")

	if !a.Done() || a.Err() != nil {
		t.Fatalf("state = %s, err = %v; want done", a.State().Name(), a.Err())
	}
	if !slices.Equal(port.sent, []string{"set:k:v", "quit:"}) {
		t.Errorf("sent = %q", port.sent)
	}
	if len(a.Timestamps) != 2 {
		t.Errorf("timestamps = %d, want 2", len(a.Timestamps))
	}
	if !slices.Equal(a.Trail, []string{"hello", "one_pass", "done"}) {
		t.Errorf("trail = %q", a.Trail)
	}
}

func TestOnePass_KickSendsWithoutWaiting(t *testing.T) {
	a, port := newTestActor(t, OnePass{Command: "echo:go", Next: OnePass{Expect: "OK:ECHO", Next: Done}})
	if !a.HasWork() {
		t.Fatal("kicked actor should have work before any message arrives")
	}
	a.Handle()

	if !slices.Equal(port.sent, []string{"echo:go"}) {
		t.Fatalf("sent = %q, want [echo:go]", port.sent)
	}
	if len(a.Timestamps) != 0 {
		t.Errorf("kick recorded %d timestamps, want 0", len(a.Timestamps))
	}
	feed(a, port, "OK:ECHO(go)")
	if !a.Done() {
		t.Errorf("state = %s, want done", a.State().Name())
	}
}

func TestOnePass_PostEscalatesFailure(t *testing.T) {
	boom := errors.New("non-zero exit")
	a, port := newTestActor(t, OnePass{
		Expect: "OK:RETVAL",
		Post: func(_ *Actor, msg string) (Step, error) {
			if msg != "OK:RETVAL(0)" {
				return nil, boom
			}
			return Done, nil
		},
	})
	feed(a, port, "OK:RETVAL(1)")
	if !errors.Is(a.Err(), boom) {
		t.Errorf("Err = %v, want %v", a.Err(), boom)
	}
}

func TestCommandList_Sequential(t *testing.T) {
	next := OnePass{Label: "after", Expect: "OK:ECHO", Next: Done}
	a, port := newTestActor(t, CommandList{
		Pairs: []Pair{
			Expect("OK:HELLO", "set:k:v"),
			Send("seti:n:1"),
			Send("echo:x"),
		},
		Next: next,
	})

	replies := []string{"OK:HELLO", "OK:SET(k)", "OK:SETI(n)"}
	for i, r := range replies {
		feed(a, port, r)
		if len(port.sent) != i+1 {
			t.Fatalf("after reply %d sent %d commands, want %d", i, len(port.sent), i+1)
		}
	}
	if !slices.Equal(port.sent, []string{"set:k:v", "seti:n:1", "echo:x"}) {
		t.Errorf("sent = %q", port.sent)
	}
	if a.State().Name() != "after" {
		t.Fatalf("state = %s, want after", a.State().Name())
	}
	feed(a, port, "OK:ECHO(x)")
	if !a.Done() || a.Err() != nil {
		t.Errorf("state = %s err = %v, want done", a.State().Name(), a.Err())
	}
}

func TestCommandList_MismatchFails(t *testing.T) {
	a, port := newTestActor(t, CommandList{
		Pairs: []Pair{Expect("OK:HELLO", "set:k:v"), Send("echo:x")},
		Next:  Done,
	})
	feed(a, port, "OK:HELLO", "FAIL(invalid syntax for SET)")

	if !errors.Is(a.Err(), ErrUnmatched) {
		t.Fatalf("Err = %v, want ErrUnmatched", a.Err())
	}
	if len(port.sent) != 1 {
		t.Errorf("sent %d commands, want 1", len(port.sent))
	}
}

func TestCommandList_Pipelined(t *testing.T) {
	a, port := newTestActor(t, CommandList{
		Pipelined: true,
		Pairs: []Pair{
			Expect("OK:HELLO", "connect:relay:HELLO_STATE:r:0:1"),
			Send("seti:run_iter:0"),
			Send("retrieve:key\x00##TMPDIR##/in"),
		},
		Next: OnePass{Label: "retrieved", Expect: "OK:RETRIEV", Next: Done},
	})

	feed(a, port, "OK:HELLO")
	if len(port.sent) != 3 {
		t.Fatalf("sent %d commands before any reply, want 3", len(port.sent))
	}
	if port.sent[2] != "retrieve:key\x00##TMPDIR##/in" {
		t.Errorf("last command = %q", port.sent[2])
	}

	feed(a, port, "OK:CONNECT(relay)")
	if a.State().Name() != "pipelined_list" {
		t.Fatalf("left list after 1 of 2 replies: %s", a.State().Name())
	}
	feed(a, port, "OK:SETI(run_iter)")
	if a.State().Name() != "retrieved" {
		t.Fatalf("state = %s, want retrieved", a.State().Name())
	}
	feed(a, port, "OK:RETRIEVE(b/key)")
	if !a.Done() || a.Err() != nil {
		t.Errorf("state = %s err = %v", a.State().Name(), a.Err())
	}
	if len(port.sent) != 3 {
		t.Errorf("sent %d commands total, want 3", len(port.sent))
	}
}

func TestCommandList_PipelinedDeferral(t *testing.T) {
	a, port := newTestActor(t, CommandList{
		Pipelined: true,
		Pairs:     []Pair{KickOff("echo:a"), Send("set:b:2"), Send("quit:")},
		Next:      Done,
	})
	a.Handle()
	feed(a, port, "OK:SET(b)", "OK:ECHO(a)")
	// OK:SET is set aside, OK:ECHO consumed, then OK:SET matches on retry.
	if !a.Done() || a.Err() != nil {
		t.Fatalf("state = %s err = %v, want done", a.State().Name(), a.Err())
	}

	b, port2 := newTestActor(t, CommandList{
		Pipelined: true,
		Pairs:     []Pair{KickOff("set:a:1"), Send("echo:c")},
		Next:      Done,
	})
	b.Handle()
	feed(b, port2, "OK:ECHO(c)")
	if !errors.Is(b.Err(), ErrUnmatched) {
		t.Errorf("Err = %v, want ErrUnmatched", b.Err())
	}
}

func TestForLoop_ExactIterations(t *testing.T) {
	const bound = 4
	bodyEntries := 0

	var loop Step
	body := StepFunc(func(a *Actor) State {
		bodyEntries++
		a.Info["scratch"] = "clobbered-" + strconv.Itoa(bodyEntries)
		delete(a.Info, "other")
		return OnePass{Label: "body", Command: "run:x", Next: OnePass{Expect: "OK:RETVAL", Next: Later(&loop)}}.Enter(a)
	})
	loop = ForLoop{Init: 0, Fin: bound, Body: body, Exit: OnePass{Label: "exit", Command: "quit:", Next: Done}}

	a, port := newTestActor(t, loop)
	a.Info["other"] = "x"
	a.Handle()
	for i := 0; i < bound; i++ {
		feed(a, port, "OK:RETVAL(0):OUTPUT():COMMAND(x)")
	}

	if bodyEntries != bound {
		t.Errorf("body entered %d times, want %d", bodyEntries, bound)
	}
	if !a.Done() || a.Err() != nil {
		t.Fatalf("state = %s err = %v, want done", a.State().Name(), a.Err())
	}
	if port.sent[len(port.sent)-1] != "quit:" {
		t.Errorf("last command = %q, want quit:", port.sent[len(port.sent)-1])
	}
	if _, ok := a.Info[DefaultBreakKey]; ok {
		t.Error("break key should be cleared on exit")
	}
	if a.Info[DefaultIterKey] != strconv.Itoa(bound) {
		t.Errorf("iter = %q, want %d", a.Info[DefaultIterKey], bound)
	}
}

func TestForLoop_Break(t *testing.T) {
	var loop Step
	body := OnePass{Command: "run:x", Next: OnePass{Expect: "OK:RETVAL", Next: Later(&loop)}}
	loop = ForLoop{IterKey: "pass", BreakKey: "converged", Init: 0, Fin: 100, Body: body, Exit: Done}

	a, port := newTestActor(t, loop)
	a.Handle()
	feed(a, port, "OK:RETVAL(0):OUTPUT():COMMAND(x)")
	feed(a, port, "INFO:converged:true", "OK:RETVAL(0):OUTPUT():COMMAND(x)")

	if !a.Done() || a.Err() != nil {
		t.Fatalf("state = %s err = %v, want done", a.State().Name(), a.Err())
	}
	if a.Info["pass"] != "2" {
		t.Errorf("pass = %q, want 2", a.Info["pass"])
	}
}

func TestIfElse(t *testing.T) {
	for _, tc := range []struct {
		mode string
		want string
	}{
		{mode: "2", want: "listen"},
		{mode: "1", want: "connect"},
	} {
		a, port := newTestActor(t, IfElse{
			Expect: "OK:HELLO",
			Test:   func(info map[string]string) bool { return info["mode"] == "2" },
			Then:   OnePass{Label: "listen", Expect: "OK", Next: Done},
			Else:   OnePass{Label: "connect", Expect: "OK", Next: Done},
		})
		a.Info["mode"] = tc.mode
		feed(a, port, "OK:HELLO")
		if a.State().Name() != tc.want {
			t.Errorf("mode %s: state = %s, want %s", tc.mode, a.State().Name(), tc.want)
		}
	}
}

func TestIfElse_TestCannotMutateInfo(t *testing.T) {
	a, port := newTestActor(t, IfElse{
		Expect: "OK",
		Test: func(info map[string]string) bool {
			info["mode"] = "tampered"
			return true
		},
		Then: Done,
		Else: Done,
	})
	a.Info["mode"] = "1"
	feed(a, port, "OK")
	if a.Info["mode"] != "1" {
		t.Errorf("mode = %q, predicate mutated Info", a.Info["mode"])
	}
}

func branch(label, cmd, reply string) Step {
	return OnePass{Label: label, Command: cmd, Next: OnePass{Label: label + "_wait", Expect: reply, Next: Done}}
}

func TestSuperposition_CompletesWhenAllBranchesFinish(t *testing.T) {
	a, port := newTestActor(t, Superposition{
		Branches: []Step{
			branch("a", "retrieve:left\x00##TMPDIR##/l", "OK:RETRIEVE(b/left"),
			branch("b", "retrieve:right\x00##TMPDIR##/r", "OK:RETRIEVE(b/right"),
		},
		Next: OnePass{Label: "compare", Expect: "", Command: "run:ssim", Next: Done},
	})
	a.Handle()
	if len(port.sent) != 2 {
		t.Fatalf("sent = %q, want both retrieves", port.sent)
	}

	feed(a, port, "OK:RETRIEVE(b/right)")
	if a.State().Name() != "superposition" {
		t.Fatalf("left superposition after one branch: %s", a.State().Name())
	}
	feed(a, port, "OK:RETRIEVE(b/left)")
	if !a.Done() {
		t.Fatalf("state = %s, want done", a.State().Name())
	}
	if port.sent[2] != "run:ssim" {
		t.Errorf("sent = %q, want run:ssim after both branches", port.sent)
	}
}

func TestSuperposition_FinishedOnEntryKeepsTrail(t *testing.T) {
	a, port := newTestActor(t, Superposition{
		Label:    "fetch",
		Branches: []Step{Done, Done},
		Next:     OnePass{Label: "score", Expect: "OK:RETVAL(0)", Next: Done},
	})
	if want := []string{"done", "done", "fetch", "score"}; !slices.Equal(a.Trail, want) {
		t.Fatalf("trail = %q, want %q", a.Trail, want)
	}

	feed(a, port, "OK:RETVAL(0)")
	if !a.Done() {
		t.Fatalf("state = %s, want done", a.State().Name())
	}
	if want := []string{"done", "done", "fetch", "score", "done"}; !slices.Equal(a.Trail, want) {
		t.Errorf("trail = %q, want %q", a.Trail, want)
	}
}

func TestSuperposition_UnmatchedSurfaces(t *testing.T) {
	a, port := newTestActor(t, Superposition{
		Branches: []Step{
			branch("a", "echo:a", "OK:ECHO(a)"),
			branch("b", "echo:b", "OK:ECHO(b)"),
		},
		Next: Done,
	})
	a.Handle()
	feed(a, port, "OK:ECHO(zzz)")

	if !errors.Is(a.Err(), ErrUnmatched) {
		t.Errorf("Err = %v, want ErrUnmatched", a.Err())
	}
}

func TestSuperposition_BranchErrorFailsActor(t *testing.T) {
	boom := errors.New("boom")
	a, port := newTestActor(t, Superposition{
		Branches: []Step{
			branch("a", "echo:a", "OK:ECHO(a)"),
			OnePass{Label: "b", Expect: "OK:RUN", Post: func(*Actor, string) (Step, error) { return nil, boom }},
		},
		Next: Done,
	})
	a.Handle()
	feed(a, port, "OK:RUNNING(x)")
	if !errors.Is(a.Err(), boom) {
		t.Errorf("Err = %v, want %v", a.Err(), boom)
	}
}

func TestSuperposition_AmbiguousRejected(t *testing.T) {
	a, _ := newTestActor(t, Superposition{
		Branches: []Step{
			OnePass{Expect: "OK:RETRIEV", Next: Done},
			OnePass{Expect: "OK:RETRIEVE(b/x)", Next: Done},
		},
		Next: Done,
	})
	if !errors.Is(a.Err(), ErrAmbiguous) {
		t.Errorf("Err = %v, want ErrAmbiguous", a.Err())
	}
}

func TestInfoWatcher_FiresOnInfoChange(t *testing.T) {
	a, port := newTestActor(t, InfoWatcher{
		Ready: func(info map[string]string) bool { return info["peer_port"] != "" },
		CommandFunc: func(a *Actor) string {
			return "connect:10.0.0.1:" + a.Info["peer_port"]
		},
		Next: OnePass{Label: "connected", Expect: "OK:CONNECT", Next: Done},
	})
	a.Handle()
	if len(port.sent) != 0 {
		t.Fatalf("sent = %q before info arrived", port.sent)
	}

	a.SetInfo("unrelated", "x")
	a.Handle()
	if len(port.sent) != 0 {
		t.Fatalf("sent = %q on unrelated info", port.sent)
	}

	a.SetInfo("peer_port", "9100")
	if !a.HasWork() {
		t.Fatal("info change should re-arm the watcher")
	}
	a.Handle()
	if !slices.Equal(port.sent, []string{"connect:10.0.0.1:9100"}) {
		t.Fatalf("sent = %q", port.sent)
	}
	if a.State().Name() != "connected" {
		t.Errorf("state = %s, want connected", a.State().Name())
	}
}

func TestHandle_InfoAppliedFirst(t *testing.T) {
	a, port := newTestActor(t, IfElse{
		Expect: "OK:GETI",
		Test:   func(info map[string]string) bool { return info["n"] == "3" },
		Then:   Done,
		Else:   Fail(errors.New("info not applied")),
	})
	feed(a, port, "OK:GETI(n)", "INFO:n:3")

	if !a.Done() || a.Err() != nil {
		t.Fatalf("state = %s err = %v", a.State().Name(), a.Err())
	}
	updates := a.TakeInfoUpdates()
	if len(updates) != 1 || updates[0] != (InfoUpdate{Key: "n", Value: "3"}) {
		t.Errorf("updates = %v", updates)
	}
	if a.TakeInfoUpdates() != nil {
		t.Error("updates not cleared")
	}
}

func TestHandle_MalformedInfoFails(t *testing.T) {
	a, port := newTestActor(t, OnePass{Expect: "OK", Next: Done})
	feed(a, port, "INFO:nocolon")
	if a.Err() == nil {
		t.Error("malformed INFO should fail the actor")
	}
}

func TestHandle_DeferredMessageRetriedOnce(t *testing.T) {
	a, port := newTestActor(t, OnePass{Expect: "OK:X", Next: OnePass{Expect: "OK:Y", Next: Done}})
	feed(a, port, "OK:Y", "OK:X")
	if !a.Done() || a.Err() != nil {
		t.Errorf("state = %s err = %v, want done", a.State().Name(), a.Err())
	}
	if len(a.Timestamps) != 2 {
		t.Errorf("timestamps = %d, want 2", len(a.Timestamps))
	}
}

func TestActor_FailIsSticky(t *testing.T) {
	a, port := newTestActor(t, OnePass{Expect: "OK", Next: Done})
	a.Fail(errors.New("connection reset"))
	a.Fail(errors.New("second"))
	feed(a, port, "OK")

	if !IsError(a.State()) {
		t.Fatalf("state = %s, want error", a.State().Name())
	}
	if a.Err().Error() != "one_pass: connection reset" {
		t.Errorf("Err = %q", a.Err())
	}
	if a.HasWork() {
		t.Error("failed actor should have no work")
	}
}
