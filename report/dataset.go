package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/swarm/metrics"
	"github.com/pithecene-io/swarm/reactor"
	"github.com/pithecene-io/swarm/types"
)

// DatasetID is the lode dataset holding run reports.
const DatasetID = "swarm"

// Record kinds, also the last partition key.
const (
	RecordKindRun   = "run"
	RecordKindActor = "actor"
)

// ErrNoRunFound is returned when no run record matches a query.
var ErrNoRunFound = errors.New("no run record found")

// DeriveDay computes the partition day from the run start time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(start time.Time) string {
	return start.UTC().Format("2006-01-02")
}

// NewDataset opens the report dataset over factory. Reads and writes share
// this layout.
func NewDataset(factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(DatasetID),
		factory,
		lode.WithHiveLayout("pipeline", "day", "run_id", "record_kind"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// DatasetWriter appends one snapshot per finished run.
type DatasetWriter struct {
	dataset lode.Dataset
	meta    types.RunMeta
}

// NewDatasetWriter creates a writer for the run described by meta.
func NewDatasetWriter(meta *types.RunMeta, factory lode.StoreFactory) (*DatasetWriter, error) {
	if meta == nil {
		return nil, errors.New("dataset writer requires run metadata")
	}
	ds, err := NewDataset(factory)
	if err != nil {
		return nil, err
	}
	return &DatasetWriter{dataset: ds, meta: *meta}, nil
}

// Write stores one run record and one record per actor slot.
func (w *DatasetWriter) Write(ctx context.Context, res *reactor.Result, snap metrics.Snapshot) error {
	day := DeriveDay(res.Start)
	records := make([]any, 0, len(res.Actors)+1)
	records = append(records, w.runRecord(res, snap, day))
	for _, a := range res.Actors {
		records = append(records, w.actorRecord(a, day))
	}
	if _, err := w.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return fmt.Errorf("write run report: %w", err)
	}
	return nil
}

func (w *DatasetWriter) partition(kind, day string) map[string]any {
	return map[string]any{
		"record_kind": kind,
		"pipeline":    w.meta.Pipeline,
		"day":         day,
		"run_id":      w.meta.RunID,
	}
}

func (w *DatasetWriter) runRecord(res *reactor.Result, snap metrics.Snapshot, day string) map[string]any {
	outcome := res.Outcome()
	r := w.partition(RecordKindRun, day)
	r["attempt"] = w.meta.Attempt
	r["outcome"] = string(outcome.Status)
	r["message"] = outcome.Message
	r["num_parts"] = len(res.Actors)
	r["failed_actors"] = res.Failed
	r["started_at"] = res.Start.UTC().Format(time.RFC3339Nano)
	r["duration_ms"] = res.Duration.Milliseconds()
	r["actors_accepted"] = snap.ActorsAccepted
	r["actors_completed"] = snap.ActorsCompleted
	r["actors_errored"] = snap.ActorsErrored
	r["handshake_failures"] = snap.HandshakeFailures
	r["frame_errors"] = snap.FrameErrors
	r["messages_in"] = snap.MessagesIn
	r["messages_out"] = snap.MessagesOut
	r["launch_success"] = snap.LaunchSuccess
	r["launch_failure"] = snap.LaunchFailure
	r["storage_op_success"] = snap.StorageOpSuccess
	r["storage_op_failure"] = snap.StorageOpFailure
	r["errors_by_kind"] = snap.ErrorsByKind
	if w.meta.ParentRunID != nil {
		r["parent_run_id"] = *w.meta.ParentRunID
	}
	return r
}

func (w *DatasetWriter) actorRecord(a reactor.ActorReport, day string) map[string]any {
	ts := make([]int64, len(a.Timestamps))
	for i, d := range a.Timestamps {
		ts[i] = d.Milliseconds()
	}
	r := w.partition(RecordKindActor, day)
	r["index"] = a.Index
	r["actor_num"] = a.Num
	r["status"] = string(a.Status)
	r["state"] = a.State
	r["error"] = a.Err
	r["timestamps_ms"] = ts
	r["trail"] = a.Trail
	r["info"] = a.Info
	return r
}

// QueryLatestRun returns the newest run record, filtered by runID when
// non-empty, or ErrNoRunFound.
func QueryLatestRun(ctx context.Context, ds lode.Dataset, runID string) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotHas(snap, "record_kind", RecordKindRun) {
			continue
		}
		if runID != "" && !snapshotHas(snap, "run_id", runID) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, fmt.Errorf("read snapshot %s: %w", snap.ID, err)
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindRun {
				continue
			}
			if runID != "" && record["run_id"] != runID {
				continue
			}
			return record, nil
		}
	}
	return nil, ErrNoRunFound
}

// snapshotHas reports whether any file of snap sits under the exact
// key=value partition segment.
func snapshotHas(snap *lode.DatasetSnapshot, key, value string) bool {
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		for _, part := range strings.Split(f.Path, "/") {
			if part == segment {
				return true
			}
		}
	}
	return false
}
