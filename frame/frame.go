// Package frame implements the wire framing shared by coordinator, worker and relay.
//
// Every message is a fixed-width decimal length header followed by the payload:
//
//	<12-digit zero-padded length><space><payload bytes>
//
// The payload is opaque. There is no escaping, so NUL and control bytes pass
// through untouched. A message is delivered only once every payload byte has
// arrived.
package frame

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	// HeaderDigits is the width of the decimal length field.
	HeaderDigits = 12
	// HeaderLen is the full header size: digits plus one separating space.
	HeaderLen = HeaderDigits + 1
	// MaxPayloadSize bounds a single payload (1 GiB). State blobs and
	// dump_vals replies are the largest messages seen in practice.
	MaxPayloadSize = 1 << 30
)

// ErrorKind classifies framing errors.
type ErrorKind int

const (
	// ErrorBadHeader indicates header bytes that do not parse as a length.
	ErrorBadHeader ErrorKind = iota
	// ErrorTooLarge indicates a declared length above MaxPayloadSize.
	ErrorTooLarge
	// ErrorPartial indicates the stream ended inside a frame.
	ErrorPartial
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorBadHeader:
		return "bad_header"
	case ErrorTooLarge:
		return "too_large"
	case ErrorPartial:
		return "partial"
	default:
		return "unknown"
	}
}

// Error represents a framing error. All kinds are fatal to the connection
// that produced them and to nothing else.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsFatal returns true if this error must close the connection.
func (e *Error) IsFatal() bool {
	return true
}

// IsFrameError returns true if err is or wraps a *Error.
func IsFrameError(err error) bool {
	var fe *Error
	return errors.As(err, &fe)
}

// Encode returns payload wrapped in a frame header.
func Encode(payload []byte) []byte {
	return AppendFrame(make([]byte, 0, HeaderLen+len(payload)), payload)
}

// AppendFrame appends the framed payload to dst and returns the extended slice.
func AppendFrame(dst, payload []byte) []byte {
	dst = fmt.Appendf(dst, "%0*d ", HeaderDigits, len(payload))
	return append(dst, payload...)
}

// parseHeader validates a HeaderLen-byte header and returns the payload length.
func parseHeader(h []byte) (int, error) {
	for i := range HeaderDigits {
		if h[i] < '0' || h[i] > '9' {
			return 0, &Error{
				Kind: ErrorBadHeader,
				Msg:  fmt.Sprintf("invalid header %q", h[:HeaderLen]),
			}
		}
	}
	if h[HeaderDigits] != ' ' {
		return 0, &Error{
			Kind: ErrorBadHeader,
			Msg:  fmt.Sprintf("invalid header separator %q", h[HeaderDigits]),
		}
	}
	n, err := strconv.ParseUint(string(h[:HeaderDigits]), 10, 64)
	if err != nil {
		return 0, &Error{Kind: ErrorBadHeader, Msg: "invalid header length", Err: err}
	}
	if n > MaxPayloadSize {
		return 0, &Error{
			Kind: ErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", n, MaxPayloadSize),
		}
	}
	return int(n), nil
}

// Decoder slices complete frames out of an arbitrarily chunked byte stream.
// Not safe for concurrent use.
type Decoder struct {
	buf []byte
	err error
}

// NewDecoder creates an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends p to the receive buffer and returns every payload that is now
// complete, in stream order. Returned slices are owned by the caller.
//
// After a framing error the decoder is poisoned: the error is returned again
// on every subsequent call.
func (d *Decoder) Feed(p []byte) ([][]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.buf = append(d.buf, p...)

	var out [][]byte
	off := 0
	for len(d.buf)-off >= HeaderLen {
		n, err := parseHeader(d.buf[off : off+HeaderLen])
		if err != nil {
			d.err = err
			d.buf = nil
			return out, err
		}
		end := off + HeaderLen + n
		if len(d.buf) < end {
			break
		}
		msg := make([]byte, n)
		copy(msg, d.buf[off+HeaderLen:end])
		out = append(out, msg)
		off = end
	}

	if off > 0 {
		rest := copy(d.buf, d.buf[off:])
		d.buf = d.buf[:rest]
	}
	return out, nil
}

// Buffered returns the number of bytes held that do not yet form a frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reader reads frames from a blocking stream.
type Reader struct {
	r io.Reader
}

// NewReader creates a new frame reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFrame reads a single frame from the stream.
//
// Errors:
//   - io.EOF: stream ended cleanly between frames
//   - *Error with Kind=ErrorPartial: stream ended inside a frame
//   - *Error with Kind=ErrorBadHeader or ErrorTooLarge
func (r *Reader) ReadFrame() ([]byte, error) {
	var header [HeaderLen]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &Error{Kind: ErrorPartial, Msg: "failed to read header", Err: err}
	}

	n, err := parseHeader(header[:])
	if err != nil {
		return nil, err
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, &Error{Kind: ErrorPartial, Msg: "failed to read payload", Err: err}
	}
	return payload, nil
}

// Writer writes frames to a blocking stream.
type Writer struct {
	w io.Writer
}

// NewWriter creates a new frame writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame writes payload as one frame with a single Write call.
func (w *Writer) WriteFrame(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return &Error{
			Kind: ErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}
	_, err := w.w.Write(Encode(payload))
	return err
}
