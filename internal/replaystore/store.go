// Package replaystore implements a persistent, file-backed
// spa.ReplayStore using a single-file embedded key-value store so a
// restarted daemon does not forget digests it has already seen.
package replaystore

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.etcd.io/bbolt"

	"github.com/spad-project/gospad/internal/spa"
)

// dbBucketName is the single bucket holding every seen digest. One
// bucket is enough: digests carry no auxiliary data beyond "seen".
var dbBucketName = []byte("digests")

var (
	dbTimeout  = 500 * time.Millisecond
	dbOpenMode = os.FileMode(0o660)
)

// ErrLockFailed indicates the store file is held open by another
// process.
var ErrLockFailed = errors.New("replaystore: digest store is locked by another process")

// Store is a bbolt-backed spa.ReplayStore. Zero value is not usable;
// construct with Open.
type Store struct {
	db *bbolt.DB
}

var _ spa.ReplayStore = (*Store)(nil)

// Open opens (creating if necessary) the digest store at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, dbOpenMode, &bbolt.Options{Timeout: dbTimeout})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, ErrLockFailed
		}
		return nil, fmt.Errorf("replaystore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(dbBucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("replaystore: create bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Contains reports whether d has already been recorded.
func (s *Store) Contains(d spa.Digest) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(dbBucketName)
		found = b.Get(d[:]) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("replaystore: contains: %w", err)
	}
	return found, nil
}

// Insert records d, returning true if it was newly inserted and false
// if it was already present. Insertion and presence-check happen in a
// single transaction so concurrent callers cannot both observe "not
// present" for the same digest.
func (s *Store) Insert(d spa.Digest) (bool, error) {
	var inserted bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(dbBucketName)
		if b.Get(d[:]) != nil {
			inserted = false
			return nil
		}
		inserted = true
		return b.Put(d[:], []byte{1})
	})
	if err != nil {
		return false, fmt.Errorf("replaystore: insert: %w", err)
	}
	return inserted, nil
}

// Flush forces pending writes to stable storage. bbolt commits each
// Update transaction synchronously, so this only needs to confirm the
// file handle is still healthy.
func (s *Store) Flush() error {
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("replaystore: flush: %w", err)
	}
	return nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("replaystore: close: %w", err)
	}
	return nil
}

// Len returns the number of digests currently recorded, for admin
// introspection.
func (s *Store) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(dbBucketName)
		n = b.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("replaystore: len: %w", err)
	}
	return n, nil
}
