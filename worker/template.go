package worker

import (
	"fmt"
	"strings"

	"github.com/pithecene-io/swarm/types"
)

// Placeholders substituted in run: commands.
const (
	PlaceholderQuality       = "##QUALITY##"
	PlaceholderInFile        = "##INFILE##"
	PlaceholderOutFile       = "##OUTFILE##"
	PlaceholderInStateWait   = "##INSTATEWAIT##"
	PlaceholderInStateSwitch = "##INSTATESWITCH##"
	PlaceholderTmpDir        = "##TMPDIR##"
)

// StateFile returns the path of the n-th received state blob.
func StateFile(tmpdir string, n int) string {
	return fmt.Sprintf("%s/%d.state", tmpdir, n)
}

// FinalStateFile is the path a run command writes its outgoing state to.
func FinalStateFile(tmpdir string) string {
	return tmpdir + "/final.state"
}

// ExpandCommand builds the shell command for run:<msg>. An empty msg runs
// the launch payload's default command. Environment assignments are
// prepended, arguments appended, then placeholders substituted;
// ##TMPDIR## goes last because the other values may contain it.
func ExpandCommand(msg string, v Vars, ev types.WorkerEvent, tmpdir string) string {
	cmd := msg
	if cmd == "" {
		cmd = ev.Command
	}

	lookup := func(name, fallback string) string {
		if s, ok := v[name]; ok {
			return s
		}
		return fallback
	}

	if env := lookup(VarCmdVars, strings.Join(ev.Vars, " ")); env != "" {
		cmd = env + " " + cmd
	}
	if args := lookup(VarCmdArgs, strings.Join(ev.Args, " ")); args != "" {
		cmd += " " + args
	}
	if q := lookup(VarCmdQuality, ev.Quality); q != "" {
		cmd = strings.ReplaceAll(cmd, PlaceholderQuality, q)
	}
	if in := lookup(VarCmdInFile, ev.InFile); in != "" {
		cmd = strings.ReplaceAll(cmd, PlaceholderInFile, in)
	}
	if out := lookup(VarCmdOutFile, ev.OutFile); out != "" {
		cmd = strings.ReplaceAll(cmd, PlaceholderOutFile, out)
	}

	var wait, sw string
	if iter := v.Int(VarRunIter); iter != 0 && v.Bool(VarExpectStatefile) {
		in := StateFile(PlaceholderTmpDir, iter-1)
		wait = fmt.Sprintf(`while [ ! -f "%s" ]; do sleep 1; done; `, in)
		sw = fmt.Sprintf(`-I "%s"`, in)
	}
	cmd = strings.ReplaceAll(cmd, PlaceholderInStateWait, wait)
	cmd = strings.ReplaceAll(cmd, PlaceholderInStateSwitch, sw)

	return strings.ReplaceAll(cmd, PlaceholderTmpDir, tmpdir)
}

// expandPath substitutes ##TMPDIR## in a file parameter.
func expandPath(p, tmpdir string) string {
	return strings.ReplaceAll(p, PlaceholderTmpDir, tmpdir)
}
