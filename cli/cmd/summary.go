package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/pithecene-io/swarm/reactor"
	"github.com/pithecene-io/swarm/types"
)

// RunSummary is the rendered result of swarm serve.
type RunSummary struct {
	RunID      string              `json:"run_id"`
	Pipeline   string              `json:"pipeline"`
	Attempt    int                 `json:"attempt"`
	Outcome    types.OutcomeStatus `json:"outcome"`
	Message    string              `json:"message"`
	DurationMs int64               `json:"duration_ms"`
	Failed     []int               `json:"failed_actors,omitempty"`
	Actors     []ActorSummary      `json:"actors"`
}

// ActorSummary is one slot of a RunSummary.
type ActorSummary struct {
	Index      int     `json:"index"`
	Num        int     `json:"num"`
	Status     string  `json:"status"`
	State      string  `json:"state"`
	Error      string  `json:"error,omitempty"`
	Timestamps []int64 `json:"timestamps_ms"`
}

func newRunSummary(meta *types.RunMeta, res *reactor.Result) RunSummary {
	outcome := res.Outcome()
	s := RunSummary{
		RunID:      meta.RunID,
		Pipeline:   meta.Pipeline,
		Attempt:    meta.Attempt,
		Outcome:    outcome.Status,
		Message:    outcome.Message,
		DurationMs: res.Duration.Milliseconds(),
		Failed:     outcome.FailedActors,
		Actors:     make([]ActorSummary, 0, len(res.Actors)),
	}
	for _, a := range res.Actors {
		ts := make([]int64, len(a.Timestamps))
		for i, t := range a.Timestamps {
			ts[i] = t.Milliseconds()
		}
		s.Actors = append(s.Actors, ActorSummary{
			Index:      a.Index,
			Num:        a.Num,
			Status:     string(a.Status),
			State:      a.State,
			Error:      a.Err,
			Timestamps: ts,
		})
	}
	return s
}

// Table implements render.Tabular with one row per actor.
func (s RunSummary) Table() ([]string, [][]string) {
	headers := []string{"actor", "slot", "status", "state", "last", "error"}
	rows := make([][]string, 0, len(s.Actors))
	for _, a := range s.Actors {
		last := ""
		if n := len(a.Timestamps); n > 0 {
			last = (time.Duration(a.Timestamps[n-1]) * time.Millisecond).String()
		}
		rows = append(rows, []string{
			fmt.Sprint(a.Num),
			fmt.Sprint(a.Index),
			a.Status,
			a.State,
			last,
			truncate(a.Error, 60),
		})
	}
	return headers, rows
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
