package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// HelloStatePrefix opens every relay connection.
const HelloStatePrefix = "HELLO_STATE"

// RendezvousKey identifies one half of a state-exchange pairing.
// An actor knows its own generation and its partner's, never the partner's address.
type RendezvousKey struct {
	// RunID scopes keys to one coordinator run.
	RunID string
	// Generation is this actor's position in the pipeline.
	Generation int
	// Partner is the generation this actor sends its state to.
	Partner int
}

// ID returns the relay-side identifier of this half.
func (k RendezvousKey) ID() string {
	return fmt.Sprintf("%s_%d", k.RunID, k.Generation)
}

// PartnerID returns the relay-side identifier of the partner half.
func (k RendezvousKey) PartnerID() string {
	return fmt.Sprintf("%s_%d", k.RunID, k.Partner)
}

// Hello formats the first message a relay client sends.
func (k RendezvousKey) Hello() string {
	return fmt.Sprintf("%s:%s:%d:%d", HelloStatePrefix, k.RunID, k.Generation, k.Partner)
}

// ErrMalformedHello is returned when a relay hello cannot be parsed.
var ErrMalformedHello = errors.New("malformed HELLO_STATE message")

// ParseHello parses HELLO_STATE:<run-id>:<generation>:<partner-generation>.
func ParseHello(msg string) (RendezvousKey, error) {
	parts := strings.SplitN(msg, ":", 4)
	if len(parts) != 4 || parts[0] != HelloStatePrefix || parts[1] == "" {
		return RendezvousKey{}, ErrMalformedHello
	}
	gen, err := strconv.Atoi(parts[2])
	if err != nil {
		return RendezvousKey{}, fmt.Errorf("%w: generation %q", ErrMalformedHello, parts[2])
	}
	partner, err := strconv.Atoi(parts[3])
	if err != nil {
		return RendezvousKey{}, fmt.Errorf("%w: partner %q", ErrMalformedHello, parts[3])
	}
	return RendezvousKey{RunID: parts[1], Generation: gen, Partner: partner}, nil
}
