// Package command defines the worker command vocabulary shared by the
// coordinator and the worker: keywords, response tags and reply formatting.
package command

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the closed set of worker commands.
type Kind int

const (
	// Unknown is any keyword outside the vocabulary.
	Unknown Kind = iota
	Set
	SetI
	Get
	GetI
	DumpVals
	Retrieve
	Upload
	Emit
	Collect
	EmitList
	CollectList
	Echo
	Run
	Connect
	CloseConnect
	Listen
	CloseListen
	Quit
)

var keywords = map[string]Kind{
	"set":           Set,
	"seti":          SetI,
	"get":           Get,
	"geti":          GetI,
	"dump_vals":     DumpVals,
	"retrieve":      Retrieve,
	"upload":        Upload,
	"emit":          Emit,
	"collect":       Collect,
	"emit_list":     EmitList,
	"collect_list":  CollectList,
	"echo":          Echo,
	"run":           Run,
	"connect":       Connect,
	"close_connect": CloseConnect,
	"listen":        Listen,
	"close_listen":  CloseListen,
	"quit":          Quit,
}

// Keyword returns the wire keyword of k, or "" for Unknown.
func (k Kind) Keyword() string {
	for kw, kk := range keywords {
		if kk == k {
			return kw
		}
	}
	return ""
}

func (k Kind) String() string {
	if kw := k.Keyword(); kw != "" {
		return kw
	}
	return "unknown"
}

// responseTags maps each command to the prefix of its success reply.
// Retrieve is deliberately truncated so that both OK:RETRIEVE(...) and the
// backgrounded OK:RETRIEVING(...) acknowledgement match.
var responseTags = map[Kind]string{
	Set:          "OK:SET",
	SetI:         "OK:SETI",
	Get:          "OK:GET",
	GetI:         "OK:GETI",
	DumpVals:     "OK:DUMP_VALS",
	Retrieve:     "OK:RETRIEV",
	Upload:       "OK:UPLOAD",
	Emit:         "OK:EMIT",
	Collect:      "OK:COLLECT",
	EmitList:     "OK:EMIT_LIST",
	CollectList:  "OK:COLLECT_LIST",
	Echo:         "OK:ECHO",
	Run:          "OK:R",
	Connect:      "OK:CONNECT",
	CloseConnect: "OK:CLOSE_CONNECT",
	Listen:       "OK:LISTEN",
	CloseListen:  "OK:CLOSE_LISTEN",
}

// DefaultResponse is the expectation used when nothing more specific is known.
const DefaultResponse = "OK"

// Command is a parsed message.
type Command struct {
	Kind    Kind
	Keyword string
	Arg     string
	Raw     string
}

// Parse splits msg at the first ':' into keyword and argument. A message
// without ':' is all keyword.
func Parse(msg string) Command {
	kw, arg, _ := strings.Cut(msg, ":")
	return Command{Kind: keywords[kw], Keyword: kw, Arg: arg, Raw: msg}
}

// ExpectedResponse returns the reply prefix implied by sending cmd. Quit has
// no reply; unknown commands fall back to DefaultResponse.
func ExpectedResponse(cmd string) string {
	k := Parse(cmd).Kind
	if tag, ok := responseTags[k]; ok {
		return tag
	}
	return DefaultResponse
}

// Reply prefixes.
const (
	OKPrefix   = "OK"
	FailPrefix = "FAIL"
	InfoPrefix = "INFO:"
)

// Fixed replies and greetings.
const (
	Hello = "OK:HELLO"
	Bye   = "OK:BYE"
)

// OK formats OK:<tag>(<detail>).
func OK(tag, detail string) string {
	return fmt.Sprintf("OK:%s(%s)", tag, detail)
}

// Fail formats FAIL(<reason>).
func Fail(reason string) string {
	return fmt.Sprintf("FAIL(%s)", reason)
}

// Failf formats FAIL(<reason>) with printf arguments.
func Failf(format string, args ...any) string {
	return Fail(fmt.Sprintf(format, args...))
}

// NoSuchCommand formats the reply for an unrecognized message.
func NoSuchCommand(msg string) string {
	return Failf("no such command '%s'", msg)
}

// Info formats an out-of-band INFO:<key>:<value> message.
func Info(key, value string) string {
	return InfoPrefix + key + ":" + value
}

// IsInfo reports whether msg is an INFO message.
func IsInfo(msg string) bool {
	return strings.HasPrefix(msg, InfoPrefix)
}

// ParseInfo splits INFO:<key>:<value>. The value may contain ':'.
func ParseInfo(msg string) (key, value string, ok bool) {
	rest, found := strings.CutPrefix(msg, InfoPrefix)
	if !found {
		return "", "", false
	}
	key, value, ok = strings.Cut(rest, ":")
	if !ok || key == "" {
		return "", "", false
	}
	return key, value, true
}

// IsFail reports whether msg is a failure reply.
func IsFail(msg string) bool {
	return strings.HasPrefix(msg, FailPrefix)
}

// Retval formats the reply of a completed run command.
func Retval(code int, output, cmd string) string {
	return fmt.Sprintf("OK:RETVAL(%d):OUTPUT(%s):COMMAND(%s)", code, output, cmd)
}

var retvalRe = regexp.MustCompile(`^OK:RETVAL\((-?\d+)\)`)

// ParseRetval extracts the exit code from an OK:RETVAL(n) reply.
func ParseRetval(msg string) (int, bool) {
	m := retvalRe.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// StatePrefix opens a state hand-off message: STATE(<n>):<base64 blob>.
const StatePrefix = "STATE("

// State formats a state hand-off message.
func State(n int, encoded string) string {
	return fmt.Sprintf("STATE(%d):%s", n, encoded)
}

// ParseState splits a state hand-off message.
func ParseState(msg string) (n int, encoded string, ok bool) {
	rest, found := strings.CutPrefix(msg, StatePrefix)
	if !found {
		return 0, "", false
	}
	num, encoded, found := strings.Cut(rest, "):")
	if !found {
		return 0, "", false
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0, "", false
	}
	return n, encoded, true
}
