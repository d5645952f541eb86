package messaging

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/glimte/mmate-relay/contracts"
)

// Entry is a request that was forwarded to the server and is awaiting its response
type Entry struct {
	Tag        contracts.Tag
	Client     int
	RecordedAt time.Time
}

// CorrelationTable maps in-flight tags to the client that originated them.
// A tag is present from the moment its request is forwarded until its
// response is resolved or the entry expires. It is safe for concurrent use.
type CorrelationTable struct {
	entries map[contracts.Tag]Entry
	mu      sync.Mutex
	now     func() time.Time
}

// CorrelationTableOption configures the table
type CorrelationTableOption func(*CorrelationTable)

// WithClock sets the time source used to stamp entries
func WithClock(now func() time.Time) CorrelationTableOption {
	return func(t *CorrelationTable) {
		t.now = now
	}
}

// NewCorrelationTable creates an empty table
func NewCorrelationTable(options ...CorrelationTableOption) *CorrelationTable {
	t := &CorrelationTable{
		entries: make(map[contracts.Tag]Entry),
		now:     time.Now,
	}

	for _, opt := range options {
		opt(t)
	}

	return t
}

// Record inserts a mapping. An existing mapping is never overwritten.
func (t *CorrelationTable) Record(tag contracts.Tag, client int) error {
	return t.RecordForwarded(tag, client, nil)
}

// RecordForwarded calls forward and records the mapping once forward succeeds.
// Both happen under the table lock, so a Resolve for tag cannot run before the
// entry exists. A duplicate tag is rejected before forward is called.
func (t *CorrelationTable) RecordForwarded(tag contracts.Tag, client int, forward func() error) error {
	if client < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidClient, client)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[tag]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateTag, tag)
	}

	if forward != nil {
		if err := forward(); err != nil {
			return err
		}
	}

	t.entries[tag] = Entry{
		Tag:        tag,
		Client:     client,
		RecordedAt: t.now(),
	}
	return nil
}

// Resolve removes the mapping for tag and returns the originating client
func (t *CorrelationTable) Resolve(tag contracts.Tag) (int, error) {
	entry, err := t.ResolveEntry(tag)
	if err != nil {
		return -1, err
	}
	return entry.Client, nil
}

// ResolveEntry removes and returns the entry for tag
func (t *CorrelationTable) ResolveEntry(tag contracts.Tag) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.entries[tag]
	if !exists {
		return Entry{}, fmt.Errorf("%w: %d", ErrTagNotFound, tag)
	}

	delete(t.entries, tag)
	return entry, nil
}

// Contains reports whether tag is in flight
func (t *CorrelationTable) Contains(tag contracts.Tag) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, exists := t.entries[tag]
	return exists
}

// Len returns the number of in-flight entries
func (t *CorrelationTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Entries returns a snapshot of all in-flight entries, oldest first
func (t *CorrelationTable) Entries() []Entry {
	t.mu.Lock()
	out := make([]Entry, 0, len(t.entries))
	for _, entry := range t.entries {
		out = append(out, entry)
	}
	t.mu.Unlock()

	sortEntries(out)
	return out
}

// Expire removes entries recorded more than ttl ago and returns them, oldest first.
// A non-positive ttl disables expiry.
func (t *CorrelationTable) Expire(ttl time.Duration) []Entry {
	if ttl <= 0 {
		return nil
	}

	t.mu.Lock()
	cutoff := t.now().Add(-ttl)
	var expired []Entry
	for tag, entry := range t.entries {
		if entry.RecordedAt.Before(cutoff) {
			expired = append(expired, entry)
			delete(t.entries, tag)
		}
	}
	t.mu.Unlock()

	sortEntries(expired)
	return expired
}

func sortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := a.RecordedAt.Compare(b.RecordedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Tag, b.Tag)
	})
}
