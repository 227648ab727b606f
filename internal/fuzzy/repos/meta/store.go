// Package meta persists worker counters across restarts: how many records
// the last snapshot held, how many syncs have run, and when the last one
// finished. It is purely informational; the snapshot file remains the
// source of truth for the records themselves.
package meta

import (
	"encoding/binary"
	"time"

	bbolt "go.etcd.io/bbolt"
)

// storeVersion identifies the state schema.
const storeVersion = 1

var bucketWorker = []byte("worker")

var (
	keyVersion  = []byte("version")
	keyRecords  = []byte("records")
	keySyncs    = []byte("syncs")
	keyLastSync = []byte("last_sync")
)

// State is the persisted counter set.
type State struct {
	Version      uint64
	Records      uint64
	Syncs        uint64
	LastSyncUnix int64
}

// Store abstracts the persistent worker state.
type Store interface {
	State() (State, error)
	RecordSync(records uint64, at int64) error
	Close() error
}

// boltStore implements Store using bbolt.
type boltStore struct {
	db *bbolt.DB
}

// New opens (or creates) a bolt database at path and ensures the worker
// bucket exists with a version marker.
func New(path string) (Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketWorker)
		if err != nil {
			return err
		}
		if b.Get(keyVersion) == nil {
			return b.Put(keyVersion, u64bytes(storeVersion))
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error { return s.db.Close() }

// State reads the persisted counters.
func (s *boltStore) State() (State, error) {
	var st State
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketWorker)
		if b == nil {
			return nil
		}
		if v := b.Get(keyVersion); len(v) == 8 {
			st.Version = binary.BigEndian.Uint64(v)
		}
		if v := b.Get(keyRecords); len(v) == 8 {
			st.Records = binary.BigEndian.Uint64(v)
		}
		if v := b.Get(keySyncs); len(v) == 8 {
			st.Syncs = binary.BigEndian.Uint64(v)
		}
		if v := b.Get(keyLastSync); len(v) == 8 {
			st.LastSyncUnix = int64(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	return st, err
}

// RecordSync stores the outcome of a completed snapshot: the number of
// records written and the completion time. The sync counter increments.
func (s *boltStore) RecordSync(records uint64, at int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketWorker)
		var syncs uint64
		if v := b.Get(keySyncs); len(v) == 8 {
			syncs = binary.BigEndian.Uint64(v)
		}
		if err := b.Put(keyRecords, u64bytes(records)); err != nil {
			return err
		}
		if err := b.Put(keySyncs, u64bytes(syncs+1)); err != nil {
			return err
		}
		return b.Put(keyLastSync, u64bytes(uint64(at)))
	})
}

func u64bytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// NopStore is a Store that remembers nothing. Used when no state file is
// configured.
type NopStore struct{}

func (NopStore) State() (State, error)          { return State{}, nil }
func (NopStore) RecordSync(uint64, int64) error { return nil }
func (NopStore) Close() error                   { return nil }
