package ledger

import (
	"errors"
	"fmt"
)

// ErrIntegrity marks a broken audit chain. It is fatal: nothing in the
// system repairs or rewrites a chain that fails verification.
var ErrIntegrity = errors.New("audit chain integrity violation")

// Report is the outcome of verifying one document's chain.
type Report struct {
	Valid   bool `json:"valid"`
	Entries int  `json:"entries"`

	// BrokenAt is the zero-based index of the first entry that fails
	// verification, or -1 when the chain is intact.
	BrokenAt int    `json:"broken_at"`
	Reason   string `json:"reason,omitempty"`
}

// Verify walks entries in commit order and recomputes every link. An empty
// chain is valid. The first failure stops the walk: once one entry is
// broken, every hash after it is meaningless.
func Verify(entries []Entry) Report {
	r := Report{Valid: true, Entries: len(entries), BrokenAt: -1}
	prev := ""
	for i, e := range entries {
		if e.PreviousHash != prev {
			r.Valid = false
			r.BrokenAt = i
			if i == 0 {
				r.Reason = "first entry must have an empty previous hash"
			} else {
				r.Reason = "previous hash does not match predecessor"
			}
			return r
		}
		if got := ComputeHash(e, prev); got != e.EntryHash {
			r.Valid = false
			r.BrokenAt = i
			r.Reason = "entry hash does not match recomputed value"
			return r
		}
		prev = e.EntryHash
	}
	return r
}

// Err converts a failed report into an ErrIntegrity error, or nil for a
// valid one.
func (r Report) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("%w: entry %d: %s", ErrIntegrity, r.BrokenAt, r.Reason)
}

// Tail returns the hash of the last entry, or empty for no entries.
func Tail(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	return entries[len(entries)-1].EntryHash
}
