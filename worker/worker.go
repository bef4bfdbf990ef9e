// Package worker implements the worker side of the protocol: it connects to
// the coordinator, decodes framed commands, executes them (in the
// foreground or as background tasks) and replies with exactly one framed
// response per command.
package worker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pithecene-io/swarm/command"
	"github.com/pithecene-io/swarm/log"
	"github.com/pithecene-io/swarm/poll"
	"github.com/pithecene-io/swarm/transport"
	"github.com/pithecene-io/swarm/types"
)

// Poller ids of the dispatch loop's sources.
const (
	cmdID = iota
	listenerID
	prevID
	nextID
	taskID
)

// Defaults applied by New.
const (
	DefaultAddr        = "127.0.0.1"
	DefaultPort        = 13579
	DefaultIdleTimeout = 30 * time.Second
	dialTimeout        = 10 * time.Second
)

// InfoListenPort is the INFO key carrying the peer listener's port.
const InfoListenPort = "lsnport"

// ErrIdleTimeout is returned when nothing happens for IdleTimeout while no
// background task is outstanding.
var ErrIdleTimeout = errors.New("worker idle timeout")

// Config configures one worker invocation.
type Config struct {
	// Event is the launch payload.
	Event types.WorkerEvent
	// Storage serves retrieve, upload, emit and collect.
	Storage Storage
	// Runner executes run commands. Defaults to ShellRunner.
	Runner Runner
	// TmpDir is the working directory for ##TMPDIR##. When empty a fresh
	// directory is created and removed on exit unless KeepTmpdir is set.
	TmpDir string
	// IdleTimeout ends the dispatch loop when nothing is ready.
	IdleTimeout time.Duration
	// TransferLimit bounds concurrent transfers of emit and collect.
	TransferLimit int
	// Stdout receives the reply of mode 0 runs. Defaults to os.Stdout.
	Stdout io.Writer
	Logger *log.Logger
}

// Worker is one dispatch loop. Not safe for concurrent use.
type Worker struct {
	ev            types.WorkerEvent
	vars          Vars
	storage       Storage
	runner        Runner
	logger        *log.Logger
	stdout        io.Writer
	tmpdir        string
	removeTmp     bool
	idle          time.Duration
	transferLimit int

	poller   *poll.Poller
	cmd      *transport.Conn
	ln       *transport.Listener
	prev     *transport.Conn
	next     *transport.Conn
	tasks    *tasks
	interest map[int]poll.Interest
	quitting bool
}

// New prepares a worker. Nothing is dialed until Run.
func New(cfg Config) (*Worker, error) {
	w := &Worker{
		ev:            cfg.Event,
		vars:          newVars(cfg.Event),
		storage:       cfg.Storage,
		runner:        cfg.Runner,
		logger:        cfg.Logger,
		stdout:        cfg.Stdout,
		tmpdir:        cfg.TmpDir,
		idle:          cfg.IdleTimeout,
		transferLimit: cfg.TransferLimit,
		poller:        poll.New(),
		interest:      make(map[int]poll.Interest),
	}
	if w.runner == nil {
		w.runner = ShellRunner{}
	}
	if w.logger == nil {
		w.logger = log.NewNop()
	}
	if w.stdout == nil {
		w.stdout = os.Stdout
	}
	if w.idle <= 0 {
		w.idle = DefaultIdleTimeout
	}
	if w.transferLimit <= 0 {
		w.transferLimit = DefaultTransferLimit
	}
	if w.tmpdir == "" {
		dir, err := os.MkdirTemp("", "swarm_")
		if err != nil {
			return nil, fmt.Errorf("create tmpdir: %w", err)
		}
		w.tmpdir = dir
		w.removeTmp = !cfg.Event.KeepTmpdir
	}
	w.tasks = newTasks(taskID, w.poller)
	w.poller.Register(taskID, poll.Readable)
	return w, nil
}

// Vars returns the live variable table.
func (w *Worker) Vars() Vars { return w.vars }

// TmpDir returns the directory substituted for ##TMPDIR##.
func (w *Worker) TmpDir() string { return w.tmpdir }

// Run executes the launch payload's mode. Mode 0 runs the default command
// once and prints its reply; modes 1 and 2 serve the coordinator until quit.
func (w *Worker) Run(ctx context.Context) error {
	defer w.cleanup()

	if w.ev.Mode == types.ModeOneShot {
		r := w.runNow(ctx, "")
		_, err := fmt.Fprintln(w.stdout, r.reply)
		return err
	}

	if err := w.dialCoordinator(ctx); err != nil {
		return err
	}
	if w.ev.Mode == types.ModeListen {
		w.listen()
	} else {
		w.reply(command.Hello)
	}
	return w.loop(ctx)
}

func (w *Worker) dialCoordinator(ctx context.Context) error {
	addr := w.ev.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	port := w.ev.Port
	if port == 0 {
		port = DefaultPort
	}

	var cfg *tls.Config
	if w.ev.CACert != "" {
		var err error
		ca := transport.FormatPEM(w.ev.CACert, transport.PEMCertificate)
		cfg, err = transport.ClientTLSConfig([]byte(ca), transport.VerifyPeer)
		if err != nil {
			return fmt.Errorf("coordinator tls: %w", err)
		}
	}

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := transport.Dial(dctx, cmdID, net.JoinHostPort(addr, strconv.Itoa(port)), cfg, w.poller)
	if err != nil {
		return err
	}
	w.cmd = conn
	w.logger.Info("connected to coordinator", map[string]any{
		"addr": conn.RemoteAddr().String(),
		"mode": w.ev.Mode,
		"tls":  cfg != nil,
	})
	return nil
}

// serverTLS builds the peer listener config from the payload's certificate
// and key. Without them the listener is plain.
func (w *Worker) serverTLS() (*tls.Config, error) {
	if w.ev.SrvCert == "" || w.ev.SrvKey == "" {
		return nil, nil
	}
	cert := []byte(transport.FormatPEM(w.ev.SrvCert, transport.PEMCertificate))
	var firstErr error
	for _, kind := range []string{transport.PEMPrivateKey, transport.PEMRSAKey} {
		cfg, err := transport.ServerTLSConfig(cert, []byte(transport.FormatPEM(w.ev.SrvKey, kind)))
		if err == nil {
			return cfg, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// peerTLS is the dialing config for worker listeners: TLS without
// verification when the fleet carries certificates.
func (w *Worker) peerTLS() (*tls.Config, error) {
	if w.ev.SrvCert == "" {
		return nil, nil
	}
	return transport.ClientTLSConfig(nil, transport.VerifyNone)
}

func (w *Worker) loop(ctx context.Context) error {
	lastActive := time.Now()
	for {
		w.updateInterest()
		if w.cmd.Closed() {
			return nil
		}

		evs, err := w.poller.Wait(ctx, max(w.idle-time.Since(lastActive), 0))
		if err != nil {
			return err
		}
		if len(evs) == 0 {
			if w.tasks.busy() {
				lastActive = time.Now()
				continue
			}
			w.logger.Warn("worker idle timeout", map[string]any{"idle": w.idle.String()})
			return ErrIdleTimeout
		}
		lastActive = time.Now()

		for _, ev := range evs {
			switch ev.ID {
			case cmdID:
				if err := w.service(w.cmd, ev.Ready); err != nil {
					// A coordinator usually hangs up right after quit:, so
					// commands decoded before the error still run.
					w.drain(ctx)
					if w.quitting {
						return nil
					}
					return fmt.Errorf("command channel: %w", err)
				}
			case listenerID:
				w.accept()
			case prevID:
				if err := w.service(w.prev, ev.Ready); err != nil {
					w.dropPeer(&w.prev, err)
				}
			case nextID:
				if err := w.service(w.next, ev.Ready); err != nil {
					w.dropPeer(&w.next, err)
				}
			}
		}

		w.receiveStates(w.prev)
		w.receiveStates(w.next)
		w.drain(ctx)
		for _, r := range w.tasks.take() {
			w.finish(r)
		}
		if w.quitting && !w.cmd.WantsWrite() {
			w.cmd.Close()
			return nil
		}
	}
}

// drain dispatches queued commands until the queue is empty or quit: is seen.
func (w *Worker) drain(ctx context.Context) {
	for !w.quitting {
		msg, ok := w.cmd.Dequeue()
		if !ok {
			return
		}
		w.dispatch(ctx, msg)
	}
}

// service performs the I/O a readiness event allows. Messages decoded before
// a read error stay queued.
func (w *Worker) service(c *transport.Conn, ready poll.Interest) error {
	if c == nil {
		return nil
	}
	if ready.Has(poll.Readable) {
		if err := c.Read(); err != nil {
			return err
		}
	}
	if ready.Has(poll.Writable) {
		return c.Write()
	}
	return nil
}

func (w *Worker) dropPeer(slot **transport.Conn, err error) {
	c := *slot
	if err != nil && !errors.Is(err, io.EOF) {
		w.logger.Warn("peer connection failed", map[string]any{"id": c.ID(), "error": err.Error()})
	}
	w.receiveStates(c)
	c.Close()
	w.poller.Unregister(c.ID())
	delete(w.interest, c.ID())
	*slot = nil
}

func (w *Worker) updateInterest() {
	for id, c := range map[int]*transport.Conn{cmdID: w.cmd, prevID: w.prev, nextID: w.next} {
		var want poll.Interest
		if c != nil && !c.Closed() {
			if c.WantsRead() {
				want |= poll.Readable
			}
			if c.WantsWrite() {
				want |= poll.Writable
			}
		}
		if want == w.interest[id] {
			continue
		}
		w.interest[id] = want
		if want == 0 {
			w.poller.Unregister(id)
		} else {
			w.poller.Register(id, want)
		}
	}
}

// accept takes the first inbound peer as the previous pipeline neighbour.
// Later connections are closed.
func (w *Worker) accept() {
	if w.ln == nil {
		return
	}
	for {
		nc, ok := w.ln.Accept()
		if !ok {
			break
		}
		if w.prev != nil {
			_ = nc.Close()
			continue
		}
		w.prev = transport.NewConn(prevID, nc, w.poller)
		w.logger.Debug("peer accepted", map[string]any{"remote": nc.RemoteAddr().String()})
	}
	if err := w.ln.Err(); err != nil {
		w.logger.Warn("peer listener failed", map[string]any{"error": err.Error()})
		w.closeListener()
	}
}

// receiveStates stores every STATE(n) blob queued on c as ##TMPDIR##/n.state.
func (w *Worker) receiveStates(c *transport.Conn) {
	if c == nil {
		return
	}
	for {
		msg, ok := c.Dequeue()
		if !ok {
			return
		}
		n, blob, err := DecodeState(msg)
		if err != nil {
			w.logger.Warn("dropping peer message", map[string]any{"error": err.Error(), "size": len(msg)})
			continue
		}
		path := StateFile(w.tmpdir, n)
		if err := writeState(path, blob); err != nil {
			w.logger.Error("write state file", map[string]any{"path": path, "error": err.Error()})
			continue
		}
		w.logger.Debug("state received", map[string]any{"n": n, "size": len(blob)})
	}
}

// sendState forwards ##TMPDIR##/final.state to the next neighbour after a
// successful run, when one is connected and send_statefile is set.
func (w *Worker) sendState() {
	if w.next == nil || !w.vars.Bool(VarSendStatefile) {
		return
	}
	blob, err := os.ReadFile(FinalStateFile(w.tmpdir))
	if err != nil {
		w.logger.Warn("no state to send", map[string]any{"error": err.Error()})
		return
	}
	msg, err := EncodeState(w.vars.Int(VarRunIter), blob)
	if err != nil {
		w.logger.Error("encode state", map[string]any{"error": err.Error()})
		return
	}
	w.next.Enqueue(msg)
}

func (w *Worker) reply(msg string) {
	w.cmd.Enqueue(msg)
}

// finish delivers a command result.
func (w *Worker) finish(r result) {
	if w.cmd != nil {
		w.reply(r.reply)
	}
	if r.ran && r.code == 0 {
		w.sendState()
	}
}

func (w *Worker) closeListener() {
	if w.ln == nil {
		return
	}
	w.ln.Close()
	w.poller.Unregister(listenerID)
	w.ln = nil
}

func (w *Worker) cleanup() {
	for _, c := range []*transport.Conn{w.cmd, w.prev, w.next} {
		if c != nil {
			c.Close()
		}
	}
	w.closeListener()
	if w.removeTmp {
		if err := os.RemoveAll(w.tmpdir); err != nil {
			w.logger.Warn("remove tmpdir", map[string]any{"path": w.tmpdir, "error": err.Error()})
		}
	}
}
