package worker

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/pithecene-io/swarm/command"
	"github.com/pithecene-io/swarm/iox"
)

// ErrMalformedState is returned for peer messages that are not STATE(n):blob.
var ErrMalformedState = errors.New("malformed state message")

// EncodeState packs a codec state blob as STATE(n):base64(zlib(blob)).
func EncodeState(n int, blob []byte) (string, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(blob); err != nil {
		return "", fmt.Errorf("compress state: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress state: %w", err)
	}
	return command.State(n, base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}

// DecodeState reverses EncodeState.
func DecodeState(msg string) (int, []byte, error) {
	n, enc, ok := command.ParseState(msg)
	if !ok {
		return 0, nil, ErrMalformedState
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	defer func() { _ = zr.Close() }()
	blob, err := io.ReadAll(zr)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	return n, blob, nil
}

func writeState(path string, blob []byte) error {
	return iox.WriteFileAtomic(path, blob, 0o644)
}
