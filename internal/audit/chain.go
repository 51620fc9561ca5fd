package audit

import (
	"fmt"
	"time"

	"github.com/cascadehq/cascade/internal/value"
)

// GenesisHash anchors the chain: the PrevHash of the first entry.
const GenesisHash = ""

// EntryHash computes an entry's chain hash over its canonical JSON
// form, including the predecessor's hash. Seq and Hash itself are
// excluded (Seq is storage-assigned and would make re-sequencing after
// verification impossible to distinguish from tampering; the chain
// position is already bound by prev).
func EntryHash(e Entry, prev string) (string, error) {
	payload := map[string]any{
		"id":     e.ID,
		"time":   e.Time.UTC().Format(time.RFC3339Nano),
		"actor":  map[string]any{"id": e.Actor.ID, "name": e.Actor.Name, "role": string(e.Actor.Role)},
		"action": string(e.Action),
		"sheet":  string(e.Sheet),
		"row":    int64(e.Row),
		"col":    string(e.Col),
		"agg":    e.Aggregate,
		"before": canonicalValue(e.Before),
		"after":  canonicalValue(e.After),
		"pass":   e.PassToken,
		"prev":   prev,
	}
	return value.HashCanonical(value.DomainAudit, payload)
}

func canonicalValue(v value.Value) any {
	if v == nil {
		return nil
	}
	return v
}

// Seal fills PrevHash and Hash on an entry, linking it to prev.
func Seal(e *Entry, prev string) error {
	h, err := EntryHash(*e, prev)
	if err != nil {
		return fmt.Errorf("seal audit entry %s: %w", e.ID, err)
	}
	e.PrevHash = prev
	e.Hash = h
	return nil
}

// ChainError reports a hash-chain verification failure at one entry.
type ChainError struct {
	Seq      int64
	ID       string
	Expected string
	Actual   string
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at seq %d (entry %s): %s", e.Seq, e.ID, e.Reason)
}

// VerifyChain walks entries in order and recomputes every link.
// Entries must be supplied in ascending Seq order, starting from the
// first entry of the log. Returns nil for an empty log.
func VerifyChain(entries []Entry) error {
	prev := GenesisHash
	for _, e := range entries {
		if e.PrevHash != prev {
			return &ChainError{
				Seq: e.Seq, ID: e.ID,
				Expected: prev, Actual: e.PrevHash,
				Reason: "prev hash does not match preceding entry",
			}
		}
		h, err := EntryHash(e, prev)
		if err != nil {
			return fmt.Errorf("verify entry %s: %w", e.ID, err)
		}
		if h != e.Hash {
			return &ChainError{
				Seq: e.Seq, ID: e.ID,
				Expected: h, Actual: e.Hash,
				Reason: "entry hash does not match recomputed hash",
			}
		}
		prev = e.Hash
	}
	return nil
}
