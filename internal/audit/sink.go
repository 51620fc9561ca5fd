package audit

import (
	"context"
	"log/slog"
	"sync"
)

// Sink receives sealed-or-unsealed audit entries from the gateway. The
// sink owns Seq assignment and chain sealing; the store's sink does
// both inside the mutation's transaction.
type Sink interface {
	Append(ctx context.Context, e *Entry) error
}

// MemSink keeps the chain in memory. Used by tests and by the harness
// when running scenarios without a database.
type MemSink struct {
	mu      sync.Mutex
	entries []Entry
}

// Append seals the entry against the current chain head and stores it.
func (m *MemSink) Append(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := GenesisHash
	if n := len(m.entries); n > 0 {
		prev = m.entries[n-1].Hash
	}
	e.Seq = int64(len(m.entries) + 1)
	if err := Seal(e, prev); err != nil {
		return err
	}
	m.entries = append(m.entries, *e)
	return nil
}

// Entries returns a copy of the chain in append order.
func (m *MemSink) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// SlogSink mirrors every appended entry to a structured logger, in
// front of another sink. Useful for operator tailing without a second
// read path.
type SlogSink struct {
	Next Sink
	Log  *slog.Logger
}

func (s *SlogSink) Append(ctx context.Context, e *Entry) error {
	if err := s.Next.Append(ctx, e); err != nil {
		return err
	}
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("audit entry",
		"seq", e.Seq,
		"id", e.ID,
		"action", string(e.Action),
		"actor", e.Actor.ID,
		"role", string(e.Actor.Role),
		"sheet", string(e.Sheet),
		"row", int64(e.Row),
		"col", string(e.Col),
		"pass", e.PassToken,
	)
	return nil
}
