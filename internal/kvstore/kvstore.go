// Package kvstore implements the PersistentStore contract on top of
// go.etcd.io/bbolt: a pure-Go, ACID, single-file embedded key/value store,
// the same reason the teacher lineage picked it for its local index.
//
// Every topic gets its own bucket, so "<topic>/<id>" and
// "<topic>/meta/<id>" keys collapse to a bucket lookup by topic and a plain
// byte-string key inside it, rather than a single flat namespace.
package kvstore

import (
	"strings"

	"go.etcd.io/bbolt"

	"github.com/sneh-joshi/epochbroker/internal/errkind"
)

// BoltStore is a msgstorage.PersistentStore backed by a bbolt database
// file, one bucket per topic.
type BoltStore struct {
	db *bbolt.DB
}

// Open opens (or creates) the bbolt database at path.
func Open(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: 0})
	if err != nil {
		return nil, errkind.Wrap(errkind.StorageFailure, err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// splitKey separates a "<topic>/<id>" or "<topic>/meta/<id>" key into its
// bucket name (the topic) and the remaining path used as the bucket key.
func splitKey(key string) (bucket, rest string, err error) {
	idx := strings.IndexByte(key, '/')
	if idx < 0 {
		return "", "", errkind.Newf(errkind.InvalidArgument, "kvstore: malformed key %q", key)
	}
	return key[:idx], key[idx+1:], nil
}

// Put writes value under key, creating the topic's bucket on first use.
func (s *BoltStore) Put(key string, value []byte) error {
	bucket, rest, err := splitKey(key)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(rest), value)
	})
	if err != nil {
		return errkind.Wrap(errkind.StorageFailure, err)
	}
	return nil
}

// Get reads the value stored under key. A missing bucket or key reports
// ok=false, not an error.
func (s *BoltStore) Get(key string) ([]byte, bool, error) {
	bucket, rest, err := splitKey(key)
	if err != nil {
		return nil, false, err
	}

	var value []byte
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(rest)); v != nil {
			value = append([]byte(nil), v...) // bbolt's slice is only valid within the transaction
		}
		return nil
	})
	if err != nil {
		return nil, false, errkind.Wrap(errkind.StorageFailure, err)
	}
	return value, value != nil, nil
}

// Del removes key. A missing bucket or key is a silent no-op.
func (s *BoltStore) Del(key string) error {
	bucket, rest, err := splitKey(key)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(rest))
	})
	if err != nil {
		return errkind.Wrap(errkind.StorageFailure, err)
	}
	return nil
}

// Range iterates every key/value pair in topic's bucket in key order,
// calling fn for each. Iteration stops early if fn returns false.
func (s *BoltStore) Range(topic string, fn func(key string, value []byte) bool) error {
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(topic))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if !fn(topic+"/"+string(k), v) {
				break
			}
		}
		return nil
	})
	if err != nil {
		return errkind.Wrap(errkind.StorageFailure, err)
	}
	return nil
}
