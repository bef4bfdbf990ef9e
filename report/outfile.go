// Package report persists the outcome of a coordinator run: the plain-text
// out file with per-actor timestamps and a lode dataset of run and actor
// records for later analysis.
package report

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/swarm/iox"
	"github.com/pithecene-io/swarm/reactor"
)

// WriteOutFile writes one "<actor-num>:[t1, t2, ...]" line per actor that
// finished normally, in slot order, with timestamps in seconds since the
// run started. When any actor failed, a final "ERR:[i, j, ...]" line lists
// the failing slot indices.
func WriteOutFile(w io.Writer, res *reactor.Result) error {
	for _, a := range res.Actors {
		if a.Status.Failed() {
			continue
		}
		if _, err := fmt.Fprintf(w, "%d:%s\n", a.Num, formatSeconds(a.Timestamps)); err != nil {
			return err
		}
	}
	if len(res.Failed) > 0 {
		if _, err := fmt.Fprintf(w, "ERR:%s\n", formatInts(res.Failed)); err != nil {
			return err
		}
	}
	return nil
}

// SaveOutFile writes the out file to path atomically.
func SaveOutFile(path string, res *reactor.Result) error {
	var buf bytes.Buffer
	if err := WriteOutFile(&buf, res); err != nil {
		return err
	}
	if err := iox.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write out file: %w", err)
	}
	return nil
}

func formatSeconds(ds []time.Duration) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		s := strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		parts[i] = s
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
