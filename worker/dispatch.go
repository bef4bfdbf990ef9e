package worker

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pithecene-io/swarm/command"
	"github.com/pithecene-io/swarm/poll"
	"github.com/pithecene-io/swarm/transport"
)

// dispatch executes one command. Every command except quit queues exactly
// one reply, now or when its background task completes.
func (w *Worker) dispatch(ctx context.Context, msg string) {
	c := command.Parse(msg)
	w.logger.Debug("command", map[string]any{"keyword": c.Keyword, "size": len(msg)})

	switch c.Kind {
	case command.Set:
		w.reply(w.set(c.Arg, false))
	case command.SetI:
		w.reply(w.set(c.Arg, true))
	case command.Get:
		w.get(c.Arg, false)
	case command.GetI:
		w.get(c.Arg, true)
	case command.DumpVals:
		w.reply("OK:DUMP_VALS:" + w.vars.JSON())
	case command.Retrieve:
		w.retrieve(ctx, c.Arg)
	case command.Upload:
		w.upload(ctx, c.Arg)
	case command.Emit:
		w.reply(w.emit(ctx, c.Arg))
	case command.Collect:
		w.reply(w.collect(ctx, c.Arg))
	case command.EmitList:
		w.reply(w.emitList(ctx, c.Arg))
	case command.CollectList:
		w.reply(w.collectList(ctx, c.Arg))
	case command.Echo:
		w.reply(command.OK("ECHO", c.Arg))
	case command.Run:
		w.run(ctx, c.Arg)
	case command.Connect:
		w.connect(ctx, c.Arg)
	case command.CloseConnect:
		if w.next != nil {
			w.dropPeer(&w.next, nil)
		}
		w.reply("OK:CLOSE_CONNECT")
	case command.Listen:
		w.listen()
	case command.CloseListen:
		w.closeListener()
		w.reply("OK:CLOSE_LISTEN")
	case command.Quit:
		w.quitting = true
	default:
		w.reply(command.NoSuchCommand(msg))
	}
}

func failReply(err error) string {
	return command.Fail(err.Error())
}

func (w *Worker) set(arg string, asInt bool) string {
	key, value, ok := strings.Cut(arg, ":")
	if !ok || key == "" {
		return command.Fail("invalid syntax for SET")
	}
	tag := "SET"
	if asInt {
		tag = "SETI"
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return command.Failf("could not interpret %s as an integer", value)
		}
		value = strconv.Itoa(n)
	}
	w.vars[key] = value
	return command.OK(tag, key)
}

func (w *Worker) get(name string, asInfo bool) {
	v, ok := w.vars[name]
	if !ok {
		w.reply(command.Failf("no such variable %s", name))
		return
	}
	if asInfo {
		w.reply(command.Info(name, v))
		w.reply(command.OK("GETI", name))
		return
	}
	w.reply(command.OK("GET", v))
}

// background runs job as a task when nonblock is set, acknowledging with
// ack unless bg_silent is set. Otherwise job runs in the foreground.
func (w *Worker) background(job func() result, ack string) {
	if !w.vars.Bool(VarNonblock) {
		w.finish(job())
		return
	}
	w.tasks.spawn(job)
	if !w.vars.Bool(VarBgSilent) {
		w.reply(ack)
	}
}

func (w *Worker) runNow(ctx context.Context, arg string) result {
	cmdline := ExpandCommand(arg, w.vars, w.ev, w.tmpdir)
	return w.execute(ctx, cmdline)
}

func (w *Worker) execute(ctx context.Context, cmdline string) result {
	code, out, err := w.runner.Run(ctx, cmdline)
	if err != nil {
		return result{reply: failReply(err)}
	}
	w.logger.Debug("command finished", map[string]any{"code": code})
	return result{reply: command.Retval(code, out, cmdline), code: code, ran: true}
}

func (w *Worker) run(ctx context.Context, arg string) {
	cmdline := ExpandCommand(arg, w.vars, w.ev, w.tmpdir)
	w.background(func() result {
		return w.execute(ctx, cmdline)
	}, fmt.Sprintf("OK:RUNNING(%s)", cmdline))
}

// objectParams resolves bucket, key and local file from an inline
// "key\x00path" argument or from the named variables.
func (w *Worker) objectParams(arg, keyVar, fileVar string) (bucket, key, file string, ok bool) {
	bucket = w.vars[VarBucket]
	if k, f, inline := strings.Cut(arg, "\x00"); inline {
		key, file = k, f
	} else {
		key, file = w.vars[keyVar], w.vars[fileVar]
	}
	if bucket == "" || key == "" || file == "" {
		return "", "", "", false
	}
	return bucket, key, expandPath(file, w.tmpdir), true
}

func (w *Worker) retrieve(ctx context.Context, arg string) {
	bucket, key, file, ok := w.objectParams(arg, VarInKey, VarTargFile)
	if !ok || w.storage == nil {
		w.reply(command.Fail("could not compute download params"))
		return
	}
	w.background(func() result {
		if err := w.storage.Download(ctx, bucket, key, file); err != nil {
			return result{reply: command.Failf("retrieving %s:%s->%s: %v", bucket, key, file, err)}
		}
		return result{reply: command.OK("RETRIEVE", bucket+"/"+key)}
	}, fmt.Sprintf("OK:RETRIEVING(%s/%s->%s)", bucket, key, file))
}

func (w *Worker) upload(ctx context.Context, arg string) {
	bucket, key, file, ok := w.objectParams(arg, VarOutKey, VarFromFile)
	if !ok || w.storage == nil {
		w.reply(command.Fail("could not compute upload params"))
		return
	}
	w.background(func() result {
		if err := w.storage.Upload(ctx, bucket, key, file); err != nil {
			return result{reply: command.Failf("uploading %s->%s:%s: %v", file, bucket, key, err)}
		}
		return result{reply: command.OK("UPLOAD", bucket+"/"+key)}
	}, fmt.Sprintf("OK:UPLOADING(%s->%s/%s)", file, bucket, key))
}

// connect handles "<host>:<port>:<payload>": dial a peer (a neighbour's
// listener or the relay) and optionally send payload as its first message.
func (w *Worker) connect(ctx context.Context, arg string) {
	if w.next != nil {
		w.reply(command.Fail("already connected"))
		return
	}
	parts := strings.SplitN(arg, ":", 3)
	if len(parts) < 2 {
		w.reply(command.Fail("could not parse connect message"))
		return
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		w.reply(command.Failf("could not parse port number %q", parts[1]))
		return
	}
	cfg, err := w.peerTLS()
	if err != nil {
		w.reply(failReply(err))
		return
	}

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := transport.Dial(dctx, nextID, net.JoinHostPort(parts[0], strconv.Itoa(port)), cfg, w.poller)
	if err != nil {
		w.reply(failReply(err))
		return
	}
	w.next = conn
	if len(parts) == 3 && parts[2] != "" {
		conn.Enqueue(parts[2])
	}
	w.reply(command.OK("CONNECT", arg))
}

// listen opens the peer listener once and reports its port, first as INFO
// so the coordinator can hand it to a neighbour.
func (w *Worker) listen() {
	if w.ln == nil {
		cfg, err := w.serverTLS()
		if err != nil {
			w.reply(failReply(err))
			return
		}
		ln, err := transport.Listen(listenerID, ":0", cfg, w.poller)
		if err != nil {
			w.reply(failReply(err))
			return
		}
		w.ln = ln
		w.poller.Register(listenerID, poll.Readable)
	}
	port := strconv.Itoa(w.ln.Port())
	w.reply(command.Info(InfoListenPort, port))
	w.reply(command.OK("LISTEN", port))
}
