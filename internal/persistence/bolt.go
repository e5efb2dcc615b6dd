package persistence

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	stateBucket = "terminal"
	stateKey    = "queue_state"
)

// BoltBlob keeps the terminal's serialized queue state in a BoltDB file.
type BoltBlob struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the state file at path.
func OpenBolt(path string) (*BoltBlob, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("state path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(stateBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state bucket: %w", err)
	}
	return &BoltBlob{db: db}, nil
}

// Load returns the saved state, or nil when nothing was saved yet.
func (b *BoltBlob) Load() ([]byte, error) {
	if b == nil || b.db == nil {
		return nil, errors.New("state db is not open")
	}
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(stateBucket))
		if bucket == nil {
			return fmt.Errorf("state bucket is missing")
		}
		if v := bucket.Get([]byte(stateKey)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// Save replaces the saved state.
func (b *BoltBlob) Save(data []byte) error {
	if b == nil || b.db == nil {
		return errors.New("state db is not open")
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(stateBucket))
		if bucket == nil {
			return fmt.Errorf("state bucket is missing")
		}
		return bucket.Put([]byte(stateKey), data)
	})
}

// Ping checks that the file is readable.
func (b *BoltBlob) Ping() error {
	if b == nil || b.db == nil {
		return errors.New("state db is not open")
	}
	return b.db.View(func(*bbolt.Tx) error { return nil })
}

// Close closes the underlying database.
func (b *BoltBlob) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
