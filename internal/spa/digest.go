package spa

import "crypto/sha256"

// Digest is the canonical SPA digest: a fixed-width content hash of the
// ciphertext, computed before any decryption attempt so that an
// undecryptable replay is still suppressed.
type Digest [sha256.Size]byte

// ComputeDigest hashes the untouched, post-classification base64 body.
// Both client and server must agree on this algorithm; SHA-256 is the
// implementer's choice permitted by §4.2.
func ComputeDigest(body []byte) Digest {
	return sha256.Sum256(body)
}

// ReplayStore is C2's persistent digest set. Implementations MUST
// serialize concurrent Insert calls against the same digest and MUST
// make an accepted Insert durable before the caller is allowed to act
// on it, so a crash between grant and durability cannot admit a replay.
//
// internal/replaystore provides the on-disk implementation; NullStore
// below satisfies the "MAY be disabled by configuration" allowance.
type ReplayStore interface {
	// Contains reports whether digest has already been recorded.
	Contains(d Digest) (bool, error)

	// Insert records digest if absent. It reports true when the
	// digest was newly inserted and false when it was already
	// present (a replay).
	Insert(d Digest) (bool, error)

	// Flush forces any buffered state to durable storage.
	Flush() error
}

// NullStore is a ReplayStore that never remembers anything: Contains
// always reports false and Insert is a no-op that always reports
// "newly inserted". It backs the configuration option to disable
// digest persistence entirely.
type NullStore struct{}

var _ ReplayStore = NullStore{}

func (NullStore) Contains(Digest) (bool, error)     { return false, nil }
func (NullStore) Insert(Digest) (bool, error)        { return true, nil }
func (NullStore) Flush() error                       { return nil }
