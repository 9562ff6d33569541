// Package state persists last-success timestamps across restarts so the
// scheduler does not refetch every source on startup when data is fresh.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jpalmerr/devpulse/source"
)

const (
	// DefaultFileMode is the mode of a newly created database file.
	DefaultFileMode = 0o600

	// DefaultOpenTimeout bounds waiting for the file lock on open.
	DefaultOpenTimeout = time.Second
)

var lastSuccessBucket = []byte("last_success")

// Store is a bbolt-backed record of last-success times, one key per source.
// It implements the coordinator's success recorder.
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := bolt.Open(path, DefaultFileMode, &bolt.Options{Timeout: DefaultOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open state %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(lastSuccessBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RecordSuccess stores at as the last success of src.
func (s *Store) RecordSuccess(src source.Source, at time.Time) error {
	value, err := at.UTC().MarshalText()
	if err != nil {
		return fmt.Errorf("encode time: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(lastSuccessBucket).Put([]byte(src.String()), value)
	})
}

// Load returns every stored last-success time. Keys that no longer name a
// source are skipped.
func (s *Store) Load() (map[source.Source]time.Time, error) {
	result := make(map[source.Source]time.Time)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(lastSuccessBucket).ForEach(func(k, v []byte) error {
			src, err := source.Parse(string(k))
			if err != nil {
				return nil
			}
			var at time.Time
			if err := at.UnmarshalText(v); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			result[src] = at
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return result, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
