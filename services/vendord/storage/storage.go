// Package storage persists engine state and the emitted event log in a
// single BoltDB file.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"tokenvendor/native/vendor"
)

var (
	bucketState  = []byte("state")
	bucketEvents = []byte("events")

	// ErrClosed is returned when the store is used after Close.
	ErrClosed = errors.New("storage: closed")
)

// Store is a BoltDB-backed key-value store. It satisfies both the engine's
// storage and event-sink interfaces.
type Store struct {
	db     *bolt.DB
	retain int
	now    func() time.Time
}

// Option tunes store construction.
type Option func(*Store)

// WithRetention bounds how many events the log keeps. Older entries are
// pruned as new ones arrive.
func WithRetention(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retain = n
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open initialises (and migrates) the BoltDB-backed store.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketState, bucketEvents} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	store := &Store{db: db, retain: 10_000, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// KVGet decodes the stored value for key into out. The boolean reports
// whether the key existed.
func (s *Store) KVGet(key []byte, out interface{}) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	var raw []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketState).Get(key)
		if value != nil {
			raw = append([]byte(nil), value...)
		}
		return nil
	}); err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVPut encodes value as JSON and stores it under key.
func (s *Store) KVPut(key []byte, value interface{}) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).Put(key, raw)
	})
}

// Event is a persisted engine event with an assigned identifier.
type Event struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	EmittedAt  time.Time         `json:"emittedAt"`
}

// AppendEvent records an engine event in the log, pruning beyond the
// retention bound. Append failures are dropped: event delivery is best
// effort and must never fail a completed operation.
func (s *Store) AppendEvent(evt *vendor.Event) {
	if s == nil || s.db == nil || evt == nil {
		return
	}
	_ = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketEvents)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		record := Event{
			ID:        uuid.NewString(),
			Sequence:  seq,
			Type:      evt.Type,
			EmittedAt: s.now().UTC(),
		}
		if len(evt.Attributes) > 0 {
			record.Attributes = make(map[string]string, len(evt.Attributes))
			for k, v := range evt.Attributes {
				record.Attributes[k] = v
			}
		}
		raw, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err := bucket.Put(sequenceKey(seq), raw); err != nil {
			return err
		}
		return pruneEvents(bucket, seq, s.retain)
	})
}

// Events returns up to limit events, newest first.
func (s *Store) Events(limit int) ([]Event, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 100
	}
	events := make([]Event, 0, limit)
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketEvents).Cursor()
		for key, value := cursor.Last(); key != nil && len(events) < limit; key, value = cursor.Prev() {
			var record Event
			if err := json.Unmarshal(value, &record); err != nil {
				return err
			}
			events = append(events, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// pruneEvents drops every entry at or below the retention cutoff. Sequence
// numbers are monotonic, so everything before seq-retain is expired.
func pruneEvents(bucket *bolt.Bucket, seq uint64, retain int) error {
	if retain <= 0 || seq <= uint64(retain) {
		return nil
	}
	cutoff := sequenceKey(seq - uint64(retain))
	cursor := bucket.Cursor()
	for key, _ := cursor.First(); key != nil && string(key) <= string(cutoff); key, _ = cursor.First() {
		if err := bucket.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
