// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package store persists the remote's state in a bbolt database.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Thermoquad/flowremote/internal/caltable"
)

// ErrNotFound is returned when a record has never been written
var ErrNotFound = errors.New("record not found")

// Buckets and keys
const (
	RemoteBucket  = "remote"
	HistoryBucket = "calibration_history"

	keyUpdateMode = "update_mode"
	keyCalData    = "caldata"
)

// Store is a bucket/key store over bbolt
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the database at path
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	s := &Store{db: db}
	for _, b := range []string{RemoteBucket, HistoryBucket} {
		if err := s.CreateBucket(b); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.db.Path()
}

// CreateBucket creates bucket if it does not exist
func (s *Store) CreateBucket(bucket string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		return nil
	})
}

// GetRaw returns a copy of the value stored under key
func (s *Store) GetRaw(bucket, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
		}
		v := b.Get([]byte(key))
		if v == nil {
			return fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// PutRaw stores value under key
func (s *Store) PutRaw(bucket, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucket, key, value)
	})
}

func put(tx *bolt.Tx, bucket, key string, value []byte) error {
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
	}
	return b.Put([]byte(key), value)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(bucket, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
		}
		return b.Delete([]byte(key))
	})
}

// Create stores the JSON encoding of fn(id) under a new sequential id
func (s *Store) Create(bucket string, fn func(id string) interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return create(tx, bucket, fn)
	})
}

func create(tx *bolt.Tx, bucket string, fn func(id string) interface{}) error {
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
	}
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	id := fmt.Sprintf("%08d", seq)
	data, err := json.Marshal(fn(id))
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}

// List calls fn for every record in bucket in key order
func (s *Store) List(bucket string, fn func(id string, v []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// LoadUpdateFlag reads the persisted Update-mode flag
func (s *Store) LoadUpdateFlag() (bool, error) {
	v, err := s.GetRaw(RemoteBucket, keyUpdateMode)
	if err != nil {
		return false, err
	}
	if len(v) != 1 {
		return false, fmt.Errorf("invalid update flag record size: %d", len(v))
	}
	return v[0] != 0, nil
}

// SaveUpdateFlag persists the Update-mode flag
func (s *Store) SaveUpdateFlag(on bool) error {
	v := []byte{0}
	if on {
		v[0] = 1
	}
	return s.PutRaw(RemoteBucket, keyUpdateMode, v)
}

// LoadTable reads the persisted calibration table
func (s *Store) LoadTable() (caltable.Table, error) {
	var t caltable.Table
	v, err := s.GetRaw(RemoteBucket, keyCalData)
	if err != nil {
		return t, err
	}
	if err := t.UnmarshalBinary(v); err != nil {
		return t, err
	}
	return t, nil
}

// SaveTable persists the calibration table and appends it to the history.
// Both writes share one transaction.
func (s *Store) SaveTable(t caltable.Table) error {
	data, err := t.MarshalBinary()
	if err != nil {
		return err
	}
	entry := HistoryEntry{Time: time.Now().Unix(), Table: t}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := put(tx, RemoteBucket, keyCalData, data); err != nil {
			return err
		}
		return create(tx, HistoryBucket, func(id string) interface{} {
			entry.ID = id
			return &entry
		})
	})
}

// DeleteTable removes the stored table; the next boot writes the default ramp
func (s *Store) DeleteTable() error {
	return s.Delete(RemoteBucket, keyCalData)
}

// HistoryEntry is one saved calibration
type HistoryEntry struct {
	ID    string         `json:"id"`
	Time  int64          `json:"ts"`
	Table caltable.Table `json:"table"`
}

// When returns the entry's save time
func (h HistoryEntry) When() time.Time {
	return time.Unix(h.Time, 0)
}

// History returns saved calibrations, oldest first
func (s *Store) History() ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := s.List(HistoryBucket, func(id string, v []byte) error {
		var e HistoryEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return fmt.Errorf("history %s: %w", id, err)
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// HistoryEntryByID returns one history entry
func (s *Store) HistoryEntryByID(id string) (HistoryEntry, error) {
	var e HistoryEntry
	if n, err := strconv.Atoi(id); err == nil {
		id = fmt.Sprintf("%08d", n)
	}
	v, err := s.GetRaw(HistoryBucket, id)
	if err != nil {
		return e, err
	}
	err = json.Unmarshal(v, &e)
	return e, err
}
