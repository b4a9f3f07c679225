package dlq

import (
	"errors"
	"testing"

	"github.com/sneh-joshi/epochbroker/internal/types"
)

type fakeStorage struct {
	data map[uint64]*types.Metadata
}

func (f *fakeStorage) ReadAll(id uint64) ([]byte, *types.Metadata, bool) {
	meta, ok := f.data[id]
	if !ok {
		return nil, nil, false
	}
	return []byte("payload"), meta, true
}

func TestPublishAndLen(t *testing.T) {
	m := NewManager(&fakeStorage{data: map[uint64]*types.Metadata{}})
	m.Publish(1, types.ReasonExpired)
	m.Publish(2, types.ReasonMaxAttempts)

	if got := m.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	if got := m.TotalMessagesProcessed(); got != 2 {
		t.Fatalf("TotalMessagesProcessed() = %d, want 2", got)
	}
}

func TestReaderSkipsUnreadableEntries(t *testing.T) {
	storage := &fakeStorage{data: map[uint64]*types.Metadata{
		1: {ID: 1},
	}}
	m := NewManager(storage)
	m.Publish(1, types.ReasonExpired)
	m.Publish(2, types.ReasonExpired) // id 2 has no storage entry

	reader := m.CreateReader("c1")
	entry, ok := reader.Next()
	if !ok || entry.Meta.ID != 1 {
		t.Fatalf("expected entry for id 1, got %+v ok=%v", entry, ok)
	}
	if _, ok := reader.Next(); ok {
		t.Fatalf("expected reader exhausted after skipping unreadable id 2")
	}
}

func TestReaderIsSingletonPerConsumer(t *testing.T) {
	storage := &fakeStorage{data: map[uint64]*types.Metadata{1: {ID: 1}}}
	m := NewManager(storage)
	m.Publish(1, types.ReasonExpired)

	r1 := m.CreateReader("c1")
	r1.Next() // advance the cursor past the only entry

	r2 := m.CreateReader("c1")
	if _, ok := r2.Next(); ok {
		t.Fatalf("second CreateReader for same consumer should share the exhausted cursor")
	}
}

func TestReplayMessagesRemovesOnSuccessOnly(t *testing.T) {
	storage := &fakeStorage{data: map[uint64]*types.Metadata{
		1: {ID: 1}, 2: {ID: 2},
	}}
	m := NewManager(storage)
	m.Publish(1, types.ReasonExpired)
	m.Publish(2, types.ReasonExpired)

	replayed := m.ReplayMessages("c1", nil, func(payload []byte, meta *types.Metadata) error {
		if meta.ID == 2 {
			return errors.New("downstream rejected")
		}
		return nil
	})

	if replayed != 1 {
		t.Fatalf("ReplayMessages() = %d, want 1", replayed)
	}
	if m.Contains(1) {
		t.Fatalf("successfully replayed entry should be removed")
	}
	if !m.Contains(2) {
		t.Fatalf("failed entry should remain in the DLQ")
	}
}

func TestReplayMessagesHonorsFilter(t *testing.T) {
	storage := &fakeStorage{data: map[uint64]*types.Metadata{
		1: {ID: 1}, 2: {ID: 2},
	}}
	m := NewManager(storage)
	m.Publish(1, types.ReasonExpired)
	m.Publish(2, types.ReasonMaxAttempts)

	replayed := m.ReplayMessages("c1", func(r types.DLQReason) bool {
		return r == types.ReasonMaxAttempts
	}, func([]byte, *types.Metadata) error { return nil })

	if replayed != 1 {
		t.Fatalf("ReplayMessages() = %d, want 1", replayed)
	}
	if !m.Contains(1) {
		t.Fatalf("filtered-out entry should remain")
	}
	if m.Contains(2) {
		t.Fatalf("matching entry should have been replayed and removed")
	}
}
