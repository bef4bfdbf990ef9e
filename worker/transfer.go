package worker

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/swarm/command"
	"github.com/pithecene-io/swarm/objstore"
)

// Storage is the object-store surface used by retrieve, upload, emit and
// collect. *objstore.Client implements it.
type Storage interface {
	Download(ctx context.Context, bucket, key, filename string) error
	Upload(ctx context.Context, bucket, key, filename string) error
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

var _ Storage = (*objstore.Client)(nil)

const errNoStorage = "no object storage configured"

// DefaultTransferLimit bounds concurrent object transfers per command.
const DefaultTransferLimit = 8

// transfer is one file moving between a local path and bucket/key.
type transfer struct {
	local string
	key   string
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// uploadAll uploads every transfer with at most limit in flight. The first
// failure cancels the rest.
func uploadAll(ctx context.Context, s Storage, bucket string, xs []transfer, limit int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, x := range xs {
		g.Go(func() error {
			if err := s.Upload(ctx, bucket, x.key, x.local); err != nil {
				return fmt.Errorf("%s->%s/%s: %w", x.local, bucket, x.key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func downloadAll(ctx context.Context, s Storage, bucket string, xs []transfer, limit int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, x := range xs {
		g.Go(func() error {
			if err := s.Download(ctx, bucket, x.key, x.local); err != nil {
				return fmt.Errorf("s3://%s/%s->%s: %w", bucket, x.key, x.local, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// emit handles "<local_dir> <uri>": every regular file in the directory is
// uploaded under the uri's prefix.
func (w *Worker) emit(ctx context.Context, arg string) string {
	if w.storage == nil {
		return command.Fail(errNoStorage)
	}
	dir, uri, ok := strings.Cut(arg, " ")
	if !ok {
		return "FAIL(invalid syntax for EMIT)"
	}
	dir = strings.TrimRight(expandPath(dir, w.tmpdir), "/")
	bucket, prefix, err := objstore.ParseURI(uri)
	if err != nil {
		return failReply(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return failReply(err)
	}
	var xs []transfer
	for _, e := range entries {
		if e.Type().IsRegular() {
			xs = append(xs, transfer{local: filepath.Join(dir, e.Name()), key: joinKey(prefix, e.Name())})
		}
	}
	if err := uploadAll(ctx, w.storage, bucket, xs, w.transferLimit); err != nil {
		return failReply(fmt.Errorf("emit %s: %w", dir, err))
	}
	return fmt.Sprintf("OK:EMIT(%s->%s)", dir, uri)
}

// collect handles "<uri> <local_dir>": every object under the prefix is
// downloaded into the directory by base name.
func (w *Worker) collect(ctx context.Context, arg string) string {
	if w.storage == nil {
		return command.Fail(errNoStorage)
	}
	uri, dir, ok := strings.Cut(arg, " ")
	if !ok {
		return "FAIL(invalid syntax for COLLECT)"
	}
	dir = strings.TrimRight(expandPath(dir, w.tmpdir), "/")
	bucket, prefix, err := objstore.ParseURI(uri)
	if err != nil {
		return failReply(err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return failReply(err)
	}
	keys, err := w.storage.List(ctx, bucket, prefix)
	if err != nil {
		return failReply(err)
	}
	xs := make([]transfer, 0, len(keys))
	for _, k := range keys {
		xs = append(xs, transfer{local: filepath.Join(dir, path.Base(k)), key: k})
	}
	if err := downloadAll(ctx, w.storage, bucket, xs, w.transferLimit); err != nil {
		return failReply(fmt.Errorf("collect %s: %w", uri, err))
	}
	return fmt.Sprintf("OK:COLLECT(%s->%s):%d", uri, dir, len(xs))
}

// emitList handles "<uri> <file>...": the named local files are uploaded
// under the uri's prefix by base name.
func (w *Worker) emitList(ctx context.Context, arg string) string {
	if w.storage == nil {
		return command.Fail(errNoStorage)
	}
	fields := strings.Fields(arg)
	if len(fields) < 2 {
		return "FAIL(invalid syntax for EMIT_LIST)"
	}
	bucket, prefix, err := objstore.ParseURI(fields[0])
	if err != nil {
		return failReply(err)
	}
	xs := make([]transfer, 0, len(fields)-1)
	for _, f := range fields[1:] {
		local := expandPath(f, w.tmpdir)
		xs = append(xs, transfer{local: local, key: joinKey(prefix, filepath.Base(local))})
	}
	if err := uploadAll(ctx, w.storage, bucket, xs, w.transferLimit); err != nil {
		return failReply(fmt.Errorf("emit_list: %w", err))
	}
	return fmt.Sprintf("OK:EMIT_LIST(%s):%d", fields[0], len(xs))
}

// collectList handles "<uri> <local_dir> <name>...": the named objects under
// the uri's prefix are downloaded into the directory.
func (w *Worker) collectList(ctx context.Context, arg string) string {
	if w.storage == nil {
		return command.Fail(errNoStorage)
	}
	fields := strings.Fields(arg)
	if len(fields) < 3 {
		return "FAIL(invalid syntax for COLLECT_LIST)"
	}
	bucket, prefix, err := objstore.ParseURI(fields[0])
	if err != nil {
		return failReply(err)
	}
	dir := strings.TrimRight(expandPath(fields[1], w.tmpdir), "/")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return failReply(err)
	}
	xs := make([]transfer, 0, len(fields)-2)
	for _, name := range fields[2:] {
		xs = append(xs, transfer{local: filepath.Join(dir, name), key: joinKey(prefix, name)})
	}
	if err := downloadAll(ctx, w.storage, bucket, xs, w.transferLimit); err != nil {
		return failReply(fmt.Errorf("collect_list: %w", err))
	}
	return fmt.Sprintf("OK:COLLECT_LIST(%s->%s):%d", fields[0], dir, len(xs))
}
