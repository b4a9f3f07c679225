// Package msgstorage is the buffered write-behind store for one topic's
// message payloads and metadata. Writes land in memory immediately; a
// coalesced, deferred flush drains them to a PersistentStore in chunks.
//
// The buffering design is grounded on the pack's write-buffer pattern
// (batch, linger, chunked flush) generalized from a segment-file append to
// a generic key/value PersistentStore, and simplified from per-write
// completion channels to the fire-and-forget, error-channel-reporting
// model the topic façade expects.
package msgstorage

import (
	"strconv"
	"sync"
	"time"

	"github.com/sneh-joshi/epochbroker/internal/types"
)

// PersistentStore is the subset of a key/value store MessageStorage needs.
// Keys are "<topic>/<id>" for payloads and "<topic>/meta/<id>" for
// metadata blocks, matching the wire contract.
type PersistentStore interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, bool, error)
	Del(key string) error
}

// Codec encodes and decodes payloads and metadata to the wire layout.
type Codec interface {
	EncodePayload(payload []byte) ([]byte, error)
	DecodePayload(data []byte) ([]byte, error)
	EncodeMetadata(meta *types.Metadata) ([]byte, error)
	DecodeMetadata(data []byte) (*types.Metadata, error)
}

// Store is the MessageStorage for one topic.
type Store struct {
	topic              string
	codec              Codec
	persistent         PersistentStore
	persist            bool
	persistThresholdMs int64
	chunkSize          int

	mu      sync.Mutex
	payload map[uint64][]byte
	meta    map[uint64][]byte
	dirty   map[uint64]bool
	timer   *time.Timer
	armed   bool

	errCh chan error
}

// New creates a Store. If persist is false, writes are never flushed to
// persistent storage (the in-memory buffer is the only copy) — useful for
// topics configured with persist=false.
func New(topic string, codec Codec, persistent PersistentStore, persist bool, persistThresholdMs int64, chunkSize int) *Store {
	if chunkSize <= 0 {
		chunkSize = 100
	}
	return &Store{
		topic:              topic,
		codec:              codec,
		persistent:         persistent,
		persist:            persist,
		persistThresholdMs: persistThresholdMs,
		chunkSize:          chunkSize,
		payload:            make(map[uint64][]byte),
		meta:               make(map[uint64][]byte),
		dirty:              make(map[uint64]bool),
		errCh:              make(chan error, 16),
	}
}

// Errors returns the channel storage-flush failures are reported on.
func (s *Store) Errors() <-chan error { return s.errCh }

// WriteAll encodes payload and meta, stores them in the in-memory buffer,
// and arms a deferred flush. Returns the number of entries currently
// buffered (not yet flushed).
func (s *Store) WriteAll(payload []byte, meta *types.Metadata) (int, error) {
	encPayload, err := s.codec.EncodePayload(payload)
	if err != nil {
		return 0, err
	}
	encMeta, err := s.codec.EncodeMetadata(meta)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.payload[meta.ID] = encPayload
	s.meta[meta.ID] = encMeta
	if s.persist {
		s.dirty[meta.ID] = true
	}
	count := len(s.dirty)
	s.armFlushLocked()
	s.mu.Unlock()

	return count, nil
}

// ReadAll returns the decoded payload and metadata for id, checking the
// in-memory buffer first and falling back to persistent storage.
func (s *Store) ReadAll(id uint64) ([]byte, *types.Metadata, bool) {
	payload, ok := s.ReadMessage(id)
	if !ok {
		return nil, nil, false
	}
	meta, ok := s.ReadMetadata(id)
	if !ok {
		return nil, nil, false
	}
	return payload, meta, true
}

// ReadMessage returns the decoded payload for id.
func (s *Store) ReadMessage(id uint64) ([]byte, bool) {
	enc, ok := s.lookupPayload(id)
	if !ok {
		return nil, false
	}
	payload, err := s.codec.DecodePayload(enc)
	if err != nil {
		return nil, false
	}
	return payload, true
}

// ReadMetadata returns the decoded metadata for id. Part of
// ackmgr.Storage.
func (s *Store) ReadMetadata(id uint64) (*types.Metadata, bool) {
	enc, ok := s.lookupMetadata(id)
	if !ok {
		return nil, false
	}
	meta, err := s.codec.DecodeMetadata(enc)
	if err != nil {
		return nil, false
	}
	return meta, true
}

func (s *Store) lookupPayload(id uint64) ([]byte, bool) {
	s.mu.Lock()
	if enc, ok := s.payload[id]; ok {
		s.mu.Unlock()
		return enc, true
	}
	s.mu.Unlock()

	if s.persistent == nil {
		return nil, false
	}
	enc, ok, err := s.persistent.Get(s.topic + "/" + strconv.FormatUint(id, 10))
	if err != nil || !ok {
		return nil, false
	}
	return enc, true
}

func (s *Store) lookupMetadata(id uint64) ([]byte, bool) {
	s.mu.Lock()
	if enc, ok := s.meta[id]; ok {
		s.mu.Unlock()
		return enc, true
	}
	s.mu.Unlock()

	if s.persistent == nil {
		return nil, false
	}
	enc, ok, err := s.persistent.Get(s.topic + "/meta/" + strconv.FormatUint(id, 10))
	if err != nil || !ok {
		return nil, false
	}
	return enc, true
}

// UpdateMetadata decodes id's current metadata, applies mutate, and
// re-encodes it atomically with respect to other updates to the same id.
// Part of ackmgr.Storage. Returns false if id is unknown.
func (s *Store) UpdateMetadata(id uint64, mutate func(*types.Metadata)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc, ok := s.meta[id]
	if !ok && s.persistent != nil {
		var err error
		enc, ok, err = s.persistent.Get(s.topic + "/meta/" + strconv.FormatUint(id, 10))
		ok = ok && err == nil
	}
	if !ok {
		return false
	}
	meta, err := s.codec.DecodeMetadata(enc)
	if err != nil {
		return false
	}
	mutate(meta)
	enc, err = s.codec.EncodeMetadata(meta)
	if err != nil {
		return false
	}

	s.meta[id] = enc
	if s.persist {
		s.dirty[id] = true
		s.armFlushLocked()
	}
	return true
}

// BufferedCount returns the number of entries awaiting flush.
func (s *Store) BufferedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty)
}

// armFlushLocked schedules a one-shot flush at persistThresholdMs if one
// is not already pending. Must be called with s.mu held.
func (s *Store) armFlushLocked() {
	if !s.persist || s.armed || len(s.dirty) == 0 {
		return
	}
	s.armed = true
	delay := time.Duration(s.persistThresholdMs) * time.Millisecond
	s.timer = time.AfterFunc(delay, s.flush)
}

// flush drains up to chunkSize dirty entries to persistent storage. Entries
// that fail to persist stay dirty and are retried on the next flush; flush
// reschedules itself while the buffer remains non-empty.
func (s *Store) flush() {
	s.mu.Lock()
	s.armed = false
	ids := make([]uint64, 0, s.chunkSize)
	for id := range s.dirty {
		ids = append(ids, id)
		if len(ids) >= s.chunkSize {
			break
		}
	}
	payload := make(map[uint64][]byte, len(ids))
	meta := make(map[uint64][]byte, len(ids))
	for _, id := range ids {
		payload[id] = s.payload[id]
		meta[id] = s.meta[id]
	}
	s.mu.Unlock()

	if s.persistent == nil {
		s.mu.Lock()
		for _, id := range ids {
			delete(s.dirty, id)
		}
		s.mu.Unlock()
		return
	}

	var succeeded []uint64
	for _, id := range ids {
		key := s.topic + "/" + strconv.FormatUint(id, 10)
		metaKey := s.topic + "/meta/" + strconv.FormatUint(id, 10)
		if err := s.persistent.Put(key, payload[id]); err != nil {
			s.reportError(err)
			continue
		}
		if err := s.persistent.Put(metaKey, meta[id]); err != nil {
			s.reportError(err)
			continue
		}
		succeeded = append(succeeded, id)
	}

	s.mu.Lock()
	for _, id := range succeeded {
		delete(s.dirty, id)
	}
	s.armFlushLocked()
	s.mu.Unlock()
}

func (s *Store) reportError(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}
