package relay

import (
	"context"
	"sync"
	"time"
)

// Tombstone holds the messages a departed sender left for a partner that
// had not yet arrived.
type Tombstone struct {
	// Recipient is the partner id the messages are addressed to.
	Recipient string `msgpack:"recipient"`
	// From is the id of the sender that departed.
	From string `msgpack:"from"`
	// Messages are delivered in order.
	Messages []string `msgpack:"messages"`
	// BuriedAt is when the sender departed.
	BuriedAt time.Time `msgpack:"buried_at"`
}

// TombstoneStore keeps tombstones until their recipient says hello or they
// expire. Take must return each tombstone at most once.
type TombstoneStore interface {
	// Put stores ts under ts.Recipient.
	Put(ctx context.Context, ts Tombstone) error
	// Take removes and returns every tombstone for recipient, oldest first.
	Take(ctx context.Context, recipient string) ([]Tombstone, error)
	// Expire removes tombstones buried before cutoff and returns how many.
	Expire(ctx context.Context, cutoff time.Time) (int, error)
	// Close releases the store.
	Close() error
}

// MemoryTombstones is an in-process TombstoneStore.
type MemoryTombstones struct {
	mu   sync.Mutex
	byID map[string][]Tombstone
}

// NewMemoryTombstones creates an empty in-process store.
func NewMemoryTombstones() *MemoryTombstones {
	return &MemoryTombstones{byID: make(map[string][]Tombstone)}
}

// Put implements TombstoneStore.
func (m *MemoryTombstones) Put(_ context.Context, ts Tombstone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[ts.Recipient] = append(m.byID[ts.Recipient], ts)
	return nil
}

// Take implements TombstoneStore.
func (m *MemoryTombstones) Take(_ context.Context, recipient string) ([]Tombstone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.byID[recipient]
	delete(m.byID, recipient)
	return ts, nil
}

// Expire implements TombstoneStore.
func (m *MemoryTombstones) Expire(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, list := range m.byID {
		kept := list[:0]
		for _, ts := range list {
			if ts.BuriedAt.Before(cutoff) {
				n++
				continue
			}
			kept = append(kept, ts)
		}
		if len(kept) == 0 {
			delete(m.byID, id)
		} else {
			m.byID[id] = kept
		}
	}
	return n, nil
}

// Len returns the number of stored tombstones.
func (m *MemoryTombstones) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, list := range m.byID {
		n += len(list)
	}
	return n
}

// Close implements TombstoneStore.
func (m *MemoryTombstones) Close() error { return nil }

// Verify MemoryTombstones implements TombstoneStore.
var _ TombstoneStore = (*MemoryTombstones)(nil)
