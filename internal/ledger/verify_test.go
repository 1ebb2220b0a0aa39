package ledger

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// sealedChain builds a valid n-entry chain for one document.
func sealedChain(t *testing.T, n int) []Entry {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	entries := make([]Entry, 0, n)
	prev := ""
	for i := 0; i < n; i++ {
		e := Entry{
			ID:         fmt.Sprintf("e-%d", i),
			DocumentID: "d-1",
			Action:     ActionDocumentViewed,
			SignerID:   "s-1",
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		e.Seal(prev)
		prev = e.EntryHash
		entries = append(entries, e)
	}
	return entries
}

func TestVerifyEmptyChain(t *testing.T) {
	r := Verify(nil)
	if !r.Valid || r.BrokenAt != -1 || r.Entries != 0 {
		t.Fatalf("empty chain must verify: %+v", r)
	}
	if r.Err() != nil {
		t.Fatalf("valid report must yield nil error")
	}
}

func TestVerifyValidChain(t *testing.T) {
	entries := sealedChain(t, 6)
	r := Verify(entries)
	if !r.Valid {
		t.Fatalf("expected valid chain: %+v", r)
	}
	if r.Entries != 6 || r.BrokenAt != -1 {
		t.Fatalf("unexpected report: %+v", r)
	}
}

func TestVerifyDetectsTamperAtEveryField(t *testing.T) {
	mutations := map[string]func(*Entry){
		"id":            func(e *Entry) { e.ID = "forged" },
		"action":        func(e *Entry) { e.Action = ActionDocumentDownloaded },
		"signer_id":     func(e *Entry) { e.SignerID = "s-9" },
		"details":       func(e *Entry) { e.Details = `{"reason":"forged"}` },
		"created_at":    func(e *Entry) { e.CreatedAt = e.CreatedAt.Add(time.Minute) },
		"entry_hash":    func(e *Entry) { e.EntryHash = HashHex([]byte("forged")) },
		"previous_hash": func(e *Entry) { e.PreviousHash = HashHex([]byte("forged")) },
	}
	for name, mutate := range mutations {
		entries := sealedChain(t, 5)
		mutate(&entries[2])
		r := Verify(entries)
		if r.Valid {
			t.Fatalf("tampering with %s must break verification", name)
		}
		if r.BrokenAt != 2 {
			t.Fatalf("tampering with %s: expected break at 2, got %d (%s)", name, r.BrokenAt, r.Reason)
		}
	}
}

func TestVerifyDetectsReorder(t *testing.T) {
	entries := sealedChain(t, 4)
	entries[1], entries[2] = entries[2], entries[1]
	r := Verify(entries)
	if r.Valid || r.BrokenAt != 1 {
		t.Fatalf("reordered chain must break at first displaced entry: %+v", r)
	}
}

func TestVerifyDetectsDeletion(t *testing.T) {
	entries := sealedChain(t, 4)
	cut := append(entries[:1:1], entries[2:]...)
	r := Verify(cut)
	if r.Valid || r.BrokenAt != 1 {
		t.Fatalf("chain with a deleted entry must break at the gap: %+v", r)
	}
}

func TestVerifyFirstEntryMustHaveEmptyPrevious(t *testing.T) {
	entries := sealedChain(t, 1)
	entries[0].PreviousHash = HashHex([]byte("phantom"))
	r := Verify(entries)
	if r.Valid || r.BrokenAt != 0 {
		t.Fatalf("non-empty genesis previous hash must fail at 0: %+v", r)
	}
}

func TestReportErrWrapsIntegrity(t *testing.T) {
	entries := sealedChain(t, 3)
	entries[1].Details = "forged"
	err := Verify(entries).Err()
	if err == nil {
		t.Fatalf("expected error for broken chain")
	}
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}

func TestTail(t *testing.T) {
	if Tail(nil) != "" {
		t.Fatalf("empty chain has empty tail")
	}
	entries := sealedChain(t, 3)
	if Tail(entries) != entries[2].EntryHash {
		t.Fatalf("tail must be the last entry hash")
	}
}
