package ledger

import (
	"crypto/sha512"
	"encoding/hex"
	"strings"
	"time"
)

// canonicalVersion prefixes every hashed serialization so the scheme can be
// revised without old chains becoming ambiguous.
const canonicalVersion = "esign.audit.v1"

// HashHex returns the lowercase hex SHA-512 of data. It is the one digest
// used across the system: entry hashes, content fingerprints, signature
// hashes, and certificate hashes.
func HashHex(data []byte) string {
	sum := sha512.Sum512(data)
	return hex.EncodeToString(sum[:])
}

// Canonical renders the hash input for an entry: a versioned, pipe-delimited
// serialization of every field except the two hash fields, in fixed order.
// Absent optional fields contribute an empty segment. Timestamps are UTC
// RFC3339 with nanoseconds.
func Canonical(e Entry) string {
	var b strings.Builder
	b.Grow(160 + len(e.Details))
	b.WriteString(canonicalVersion)
	b.WriteByte('|')
	b.WriteString(e.ID)
	b.WriteByte('|')
	b.WriteString(e.DocumentID)
	b.WriteByte('|')
	b.WriteString(string(e.Action))
	b.WriteByte('|')
	b.WriteString(e.SignerID)
	b.WriteByte('|')
	b.WriteString(e.UserID)
	b.WriteByte('|')
	b.WriteString(e.IPAddress)
	b.WriteByte('|')
	b.WriteString(e.UserAgent)
	b.WriteByte('|')
	b.WriteString(e.Details)
	b.WriteByte('|')
	b.WriteString(e.CreatedAt.UTC().Format(time.RFC3339Nano))
	return b.String()
}

// ComputeHash derives the entry hash given its predecessor's hash. The
// previous hash is concatenated after the canonical form so that relinking
// an entry to a different predecessor always changes its hash.
func ComputeHash(e Entry, previousHash string) string {
	return HashHex([]byte(Canonical(e) + "|" + previousHash))
}

// Seal fixes the entry's position in the chain. previousHash is empty only
// for a document's first entry.
func (e *Entry) Seal(previousHash string) {
	e.PreviousHash = previousHash
	e.EntryHash = ComputeHash(*e, previousHash)
}
