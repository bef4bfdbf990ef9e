package command

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		msg     string
		kind    Kind
		keyword string
		arg     string
	}{
		{msg: "set:k:v", kind: Set, keyword: "set", arg: "k:v"},
		{msg: "seti:run_iter:0", kind: SetI, keyword: "seti", arg: "run_iter:0"},
		{msg: "retrieve:key\x00/tmp/in", kind: Retrieve, keyword: "retrieve", arg: "key\x00/tmp/in"},
		{msg: "quit:", kind: Quit, keyword: "quit", arg: ""},
		{msg: "quit", kind: Quit, keyword: "quit", arg: ""},
		{msg: "close_connect:", kind: CloseConnect, keyword: "close_connect"},
		{msg: "frobnicate:x", kind: Unknown, keyword: "frobnicate", arg: "x"},
		{msg: "", kind: Unknown},
	}

	for _, tt := range tests {
		got := Parse(tt.msg)
		if got.Kind != tt.kind || got.Keyword != tt.keyword || got.Arg != tt.arg {
			t.Errorf("Parse(%q) = {%v %q %q}, want {%v %q %q}",
				tt.msg, got.Kind, got.Keyword, got.Arg, tt.kind, tt.keyword, tt.arg)
		}
	}
}

func TestKeywordRoundTrip(t *testing.T) {
	for kw, k := range keywords {
		if k.Keyword() != kw {
			t.Errorf("%v.Keyword() = %q, want %q", k, k.Keyword(), kw)
		}
	}
	if Unknown.String() != "unknown" {
		t.Errorf("Unknown.String() = %q", Unknown.String())
	}
}

func TestExpectedResponse(t *testing.T) {
	tests := []struct {
		cmd  string
		want string
	}{
		{cmd: "set:k:v", want: "OK:SET"},
		{cmd: "retrieve:a\x00b", want: "OK:RETRIEV"},
		{cmd: "run:echo hi", want: "OK:R"},
		{cmd: "connect:1.2.3.4:9000", want: "OK:CONNECT"},
		{cmd: "emit_list:##TMPDIR##/out", want: "OK:EMIT_LIST"},
		{cmd: "quit:", want: DefaultResponse},
		{cmd: "nope", want: DefaultResponse},
	}
	for _, tt := range tests {
		if got := ExpectedResponse(tt.cmd); got != tt.want {
			t.Errorf("ExpectedResponse(%q) = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestReplies(t *testing.T) {
	if got := OK("SET", "k"); got != "OK:SET(k)" {
		t.Errorf("OK = %q", got)
	}
	if got := NoSuchCommand("frob:x"); got != "FAIL(no such command 'frob:x')" {
		t.Errorf("NoSuchCommand = %q", got)
	}
	if got := Info("port", "9000"); got != "INFO:port:9000" {
		t.Errorf("Info = %q", got)
	}
	if !IsFail(Failf("no such variable %s", "x")) {
		t.Error("Failf output not recognized as failure")
	}
}

func TestParseInfo(t *testing.T) {
	k, v, ok := ParseInfo("INFO:addr:10.0.0.1:9000")
	if !ok || k != "addr" || v != "10.0.0.1:9000" {
		t.Errorf("ParseInfo = %q, %q, %v", k, v, ok)
	}
	for _, bad := range []string{"INFO:", "INFO:novalue", "OK:INFO:a:b", "INFO::x"} {
		if _, _, ok := ParseInfo(bad); ok {
			t.Errorf("ParseInfo(%q) ok, want malformed", bad)
		}
	}
}

func TestRetval(t *testing.T) {
	msg := Retval(2, "boom", "false")
	if msg != "OK:RETVAL(2):OUTPUT(boom):COMMAND(false)" {
		t.Fatalf("Retval = %q", msg)
	}
	if n, ok := ParseRetval(msg); !ok || n != 2 {
		t.Errorf("ParseRetval = %d, %v; want 2", n, ok)
	}
	if n, ok := ParseRetval("OK:RETVAL(-1):OUTPUT():COMMAND(x)"); !ok || n != -1 {
		t.Errorf("ParseRetval negative = %d, %v", n, ok)
	}
	if _, ok := ParseRetval("OK:RUNNING(x)"); ok {
		t.Error("ParseRetval accepted a non-retval reply")
	}
}

func TestState(t *testing.T) {
	msg := State(3, "eJwDAAAAAAE=")
	n, enc, ok := ParseState(msg)
	if !ok || n != 3 || enc != "eJwDAAAAAAE=" {
		t.Errorf("ParseState(%q) = %d, %q, %v", msg, n, enc, ok)
	}
	for _, bad := range []string{"STATE(x):y", "STATE(1)y", "OK:STATE(1):y"} {
		if _, _, ok := ParseState(bad); ok {
			t.Errorf("ParseState(%q) ok, want malformed", bad)
		}
	}
}
