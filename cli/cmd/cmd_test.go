package cmd

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/swarm/cli/config"
	"github.com/pithecene-io/swarm/frame"
	"github.com/pithecene-io/swarm/launch"
	"github.com/pithecene-io/swarm/reactor"
	"github.com/pithecene-io/swarm/types"
)

func TestOutputFlags_IncludesTUI(t *testing.T) {
	hasTUI := false
	for _, f := range OutputFlags() {
		if f.Names()[0] == "tui" {
			hasTUI = true
			break
		}
	}

	if !hasTUI {
		t.Error("OutputFlags should include --tui flag for explicit error handling")
	}
}

func TestIsStderrTTY(_ *testing.T) {
	// Actual TTY behavior depends on runtime environment.
	_ = isStderrTTY()
}

func TestOutcomeToExitCode(t *testing.T) {
	tests := []struct {
		status types.OutcomeStatus
		want   int
	}{
		{types.OutcomeSuccess, exitSuccess},
		{types.OutcomeActorFailure, exitActorFailure},
		{types.OutcomeTimeout, exitTimeout},
		{types.OutcomeSetupFailure, exitSetupFailure},
		{"unknown", exitActorFailure},
	}
	for _, tt := range tests {
		if got := outcomeToExitCode(tt.status); got != tt.want {
			t.Errorf("outcomeToExitCode(%q) = %d, want %d", tt.status, got, tt.want)
		}
	}
}

func TestWorkerAddr(t *testing.T) {
	bound := &net.TCPAddr{IP: net.IPv4zero, Port: 4242}
	tests := []struct {
		name     string
		public   string
		listen   string
		wantHost string
	}{
		{"public wins", "coord.example", ":13579", "coord.example"},
		{"listen host", "", "10.0.0.5:13579", "10.0.0.5"},
		{"empty host", "", ":13579", "127.0.0.1"},
		{"unspecified host", "", "0.0.0.0:13579", "127.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, err := workerAddr(tt.public, tt.listen, bound)
			if err != nil {
				t.Fatalf("workerAddr: %v", err)
			}
			if host != tt.wantHost {
				t.Errorf("host = %q, want %q", host, tt.wantHost)
			}
			if port != 4242 {
				t.Errorf("port = %d, want 4242", port)
			}
		})
	}
}

func TestLaunchRequest(t *testing.T) {
	cfg := &config.Config{}
	cfg.Coordinator.Listen = "127.0.0.1:0"
	cfg.Coordinator.NumParts = 3
	cfg.Coordinator.Overprovision = 2
	cfg.Launcher.Regions = []string{"us-east-1", "us-west-2"}

	ev := types.WorkerEvent{Mode: types.ModeListen, Nonblock: true, Bucket: "bkt"}
	req, err := launchRequest(cfg, ev, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}, payloadPEM{ca: "Q0E="})
	if err != nil {
		t.Fatalf("launchRequest: %v", err)
	}
	if req.Count != 5 {
		t.Errorf("Count = %d, want 5", req.Count)
	}
	got := req.EventFor(1)
	if got.Addr != "127.0.0.1" || got.Port != 9000 {
		t.Errorf("addr = %s:%d, want 127.0.0.1:9000", got.Addr, got.Port)
	}
	if got.Region != "us-west-2" {
		t.Errorf("Region = %q, want us-west-2", got.Region)
	}
	if got.CACert != "Q0E=" || !got.Nonblock || got.Bucket != "bkt" {
		t.Errorf("payload = %+v, want pipeline event with CA", got)
	}
}

func TestReadEvent(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"connect", `{"mode":1,"addr":"127.0.0.1","port":13579}`, ""},
		{"one shot needs no addr", `{"mode":0,"command":"true"}`, ""},
		{"empty", "  \n", "empty"},
		{"bad json", `{"mode":`, "invalid"},
		{"unknown mode", `{"mode":7,"addr":"h","port":1}`, "unknown worker mode"},
		{"missing addr", `{"mode":2}`, "addr and port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readEvent("-", strings.NewReader(tt.input))
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("readEvent: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("readEvent error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestReadEvent_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "event.json")
	if err := os.WriteFile(path, []byte(`{"mode":1,"addr":"h","port":1,"bucket":"b"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	ev, err := readEvent(path, strings.NewReader(""))
	if err != nil {
		t.Fatalf("readEvent: %v", err)
	}
	if ev.Bucket != "b" {
		t.Errorf("Bucket = %q, want b", ev.Bucket)
	}
}

func TestMergeFlags(t *testing.T) {
	cfg := &config.Config{}
	cfg.Coordinator.Listen = ":1111"
	cfg.Coordinator.NumParts = 8
	cfg.Pipeline.Name = "xcenc"

	app := &cli.App{
		Flags: ServeCommand().Flags,
		Action: func(c *cli.Context) error {
			mergeServeFlags(c, cfg)
			return nil
		},
	}
	if err := app.Run([]string{"swarm", "--num-parts", "4", "--status-interval", "5s"}); err != nil {
		t.Fatalf("app.Run: %v", err)
	}

	if cfg.Coordinator.Listen != ":1111" {
		t.Errorf("Listen = %q, want config value :1111", cfg.Coordinator.Listen)
	}
	if cfg.Coordinator.NumParts != 4 {
		t.Errorf("NumParts = %d, want flag value 4", cfg.Coordinator.NumParts)
	}
	if cfg.Pipeline.Name != "xcenc" {
		t.Errorf("Pipeline.Name = %q, want xcenc", cfg.Pipeline.Name)
	}
	if cfg.Coordinator.StatusInterval.Duration != 5*time.Second {
		t.Errorf("StatusInterval = %v, want 5s", cfg.Coordinator.StatusInterval.Duration)
	}
	if cfg.Coordinator.IdleTimeout.Duration != reactor.DefaultIdleTimeout {
		t.Errorf("IdleTimeout = %v, want default %v", cfg.Coordinator.IdleTimeout.Duration, reactor.DefaultIdleTimeout)
	}
	if cfg.Launcher.Type != "local" {
		t.Errorf("Launcher.Type = %q, want default local", cfg.Launcher.Type)
	}
}

func TestNewAdapter(t *testing.T) {
	a, err := newAdapter(config.AdapterConfig{})
	if err != nil || a != nil {
		t.Errorf("newAdapter(empty) = %v, %v; want nil, nil", a, err)
	}

	zero := 0
	a, err = newAdapter(config.AdapterConfig{Type: "webhook", URL: "http://localhost:1/hook", Retries: &zero})
	if err != nil {
		t.Fatalf("newAdapter(webhook): %v", err)
	}
	_ = a.Close()

	if _, err := newAdapter(config.AdapterConfig{Type: "carrier-pigeon"}); err == nil {
		t.Error("newAdapter(unknown) should fail")
	}
}

func TestNewLauncher(t *testing.T) {
	if _, err := newLauncher(config.LauncherConfig{Type: "lambda"}, nil, nil); err == nil {
		t.Error("newLauncher(lambda) should fail")
	}
	l, err := newLauncher(config.LauncherConfig{Type: "none"}, nil, nil)
	if err != nil {
		t.Fatalf("newLauncher(none): %v", err)
	}
	res, err := l.Launch(context.Background(), launch.Request{Count: 1})
	if err != nil || res.Launched != 0 {
		t.Errorf("Nop launch = %+v, %v", res, err)
	}
}

func TestServe_TimesOutWithoutWorkers(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Pipeline.Name = "echo"
	cfg.Coordinator.Listen = "127.0.0.1:0"
	cfg.Coordinator.NumParts = 2
	cfg.Coordinator.IdleTimeout.Duration = 200 * time.Millisecond
	cfg.Coordinator.StatusInterval.Duration = 50 * time.Millisecond
	cfg.Coordinator.OutFile = filepath.Join(dir, "out.txt")
	cfg.Launcher.Type = "none"
	cfg.Storage.Backend = "memory"
	cfg.Report.Bucket = "reports"

	meta := &types.RunMeta{RunID: "run-1", Pipeline: "echo", Attempt: 1}
	summary, err := serve(context.Background(), serveOptions{cfg: cfg, meta: meta})
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if summary.Outcome != types.OutcomeTimeout {
		t.Errorf("Outcome = %s, want timeout", summary.Outcome)
	}
	if len(summary.Actors) != 2 {
		t.Fatalf("Actors = %d, want 2", len(summary.Actors))
	}
	if len(summary.Failed) != 2 {
		t.Errorf("Failed = %v, want both slots", summary.Failed)
	}
	if _, err := os.Stat(cfg.Coordinator.OutFile); err != nil {
		t.Errorf("out file: %v", err)
	}

	headers, rows := summary.Table()
	if len(headers) != 6 || len(rows) != 2 {
		t.Errorf("Table() = %d headers, %d rows; want 6, 2", len(headers), len(rows))
	}
}

func TestServe_UnknownPipeline(t *testing.T) {
	cfg := &config.Config{}
	cfg.Pipeline.Name = "nope"
	cfg.Coordinator.NumParts = 1
	_, err := serve(context.Background(), serveOptions{cfg: cfg, meta: &types.RunMeta{RunID: "r", Attempt: 1}})
	exitErr, ok := err.(cli.ExitCoder)
	if !ok {
		t.Fatalf("serve error = %v, want cli.ExitCoder", err)
	}
	if exitErr.ExitCode() != exitUsage {
		t.Errorf("exit code = %d, want %d", exitErr.ExitCode(), exitUsage)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("a\nb", 10); got != "a b" {
		t.Errorf("truncate = %q, want %q", got, "a b")
	}
	if got := truncate(strings.Repeat("x", 20), 10); len(got) != 10 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate long = %q", got)
	}
}

func TestNewVersionResponse(t *testing.T) {
	v := newVersionResponse("abc123")
	if v.Version != types.Version {
		t.Errorf("Version = %q, want %q", v.Version, types.Version)
	}
	if v.Commit != "abc123" {
		t.Errorf("Commit = %q, want abc123", v.Commit)
	}
	if v.FrameHeader != frame.HeaderLen {
		t.Errorf("FrameHeader = %d, want %d", v.FrameHeader, frame.HeaderLen)
	}
	if v.GoVersion == "" {
		t.Error("GoVersion is empty")
	}
}
