package logging_test

import (
	"sync"
	"testing"
	"time"

	"github.com/sneh-joshi/epochbroker/internal/logging"
)

type recordingSink struct {
	mu      sync.Mutex
	records []string
}

func (s *recordingSink) Log(level logging.Level, msg string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, msg)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func TestEmitIsBufferedNotImmediate(t *testing.T) {
	sink := &recordingSink{}
	c := logging.NewCollector(sink, 50, 10)
	c.Info("hello", nil)

	if sink.count() != 0 {
		t.Fatalf("expected record to be buffered, not flushed immediately")
	}
	if c.BufferedCount() != 1 {
		t.Fatalf("BufferedCount() = %d, want 1", c.BufferedCount())
	}
}

func TestFlushDeliversBufferedRecords(t *testing.T) {
	sink := &recordingSink{}
	c := logging.NewCollector(sink, 20, 10)
	c.Info("one", nil)
	c.Warn("two", nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sink.count() == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() != 2 {
		t.Fatalf("expected 2 records flushed, got %d", sink.count())
	}
	if c.BufferedCount() != 0 {
		t.Fatalf("expected buffer to be empty after flush, got %d", c.BufferedCount())
	}
}

func TestFlushIsChunkedAndReArmsForRemainder(t *testing.T) {
	sink := &recordingSink{}
	c := logging.NewCollector(sink, 20, 2)
	for i := 0; i < 5; i++ {
		c.Info("msg", nil)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sink.count() == 5 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() != 5 {
		t.Fatalf("expected all 5 records eventually flushed, got %d", sink.count())
	}
}

func TestMultipleEmitsWithinWindowStayBuffered(t *testing.T) {
	sink := &recordingSink{}
	c := logging.NewCollector(sink, 100, 10)
	for i := 0; i < 3; i++ {
		c.Debug("msg", nil)
	}
	if c.BufferedCount() != 3 {
		t.Fatalf("BufferedCount() = %d, want 3", c.BufferedCount())
	}
}
