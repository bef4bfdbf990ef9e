package worker

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pithecene-io/swarm/types"
)

// Variable names with meaning to the dispatcher.
const (
	VarBucket          = "bucket"
	VarRegion          = "region"
	VarInKey           = "inkey"
	VarTargFile        = "targfile"
	VarOutKey          = "outkey"
	VarFromFile        = "fromfile"
	VarNonblock        = "nonblock"
	VarBgSilent        = "bg_silent"
	VarExpectStatefile = "expect_statefile"
	VarSendStatefile   = "send_statefile"
	VarRunIter         = "run_iter"

	// Overrides for the launch payload's command template inputs.
	VarCmdVars    = "cmdvars"
	VarCmdArgs    = "cmdargs"
	VarCmdQuality = "cmdquality"
	VarCmdInFile  = "cmdinfile"
	VarCmdOutFile = "cmdoutfile"
)

// Vars is the worker's variable table, written by set/seti and read by
// every command that takes its parameters from variables.
type Vars map[string]string

// newVars seeds the table from the launch payload.
func newVars(ev types.WorkerEvent) Vars {
	v := Vars{
		VarRunIter:         "0",
		VarNonblock:        boolVar(ev.Nonblock),
		VarBgSilent:        boolVar(ev.BgSilent),
		VarExpectStatefile: boolVar(ev.ExpectStatefile),
	}
	if ev.Bucket != "" {
		v[VarBucket] = ev.Bucket
	}
	if ev.Region != "" {
		v[VarRegion] = ev.Region
	}
	return v
}

func boolVar(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Bool reports whether name holds a true value: a non-zero integer, or
// "true".
func (v Vars) Bool(name string) bool {
	s := strings.TrimSpace(v[name])
	if n, err := strconv.Atoi(s); err == nil {
		return n != 0
	}
	return strings.EqualFold(s, "true")
}

// Int returns name as an integer, or 0.
func (v Vars) Int(name string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(v[name]))
	return n
}

// JSON renders the table. encoding/json sorts map keys.
func (v Vars) JSON() string {
	b, err := json.Marshal(map[string]string(v))
	if err != nil {
		return "{}"
	}
	return string(b)
}
