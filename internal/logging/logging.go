// Package logging batches structured log records and flushes them
// asynchronously, so a topic handling many publishes/acks/nacks per second
// never blocks its hot path on a synchronous log write.
//
// The buffer-then-coalesced-flush mechanism is the same shape as
// msgstorage.Store's write-behind buffer: callers append to an in-memory
// slice, a one-shot timer arms on the first append, and flush drains a
// bounded chunk per tick, re-arming itself while work remains.
package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Level is a log severity, mirrored onto log/slog's levels by the default
// sink.
type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// record is one buffered log entry.
type record struct {
	level  Level
	msg    string
	fields map[string]any
}

// LogSink receives flushed log records. The default implementation writes
// through log/slog, matching the teacher lineage's own logging choice.
type LogSink interface {
	Log(level Level, msg string, fields map[string]any)
}

// slogSink is the default LogSink, backed by a *slog.Logger.
type slogSink struct {
	logger *slog.Logger
}

// NewSlogSink wraps logger (or slog.Default() if nil) as a LogSink.
func NewSlogSink(logger *slog.Logger) LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogSink{logger: logger}
}

func (s *slogSink) Log(level Level, msg string, fields map[string]any) {
	attrs := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	s.logger.Log(context.Background(), level.slogLevel(), msg, attrs...)
}

// Collector batches Emit calls and flushes them to a LogSink in chunks,
// deferred by flushThresholdMs and coalesced the same way MessageStorage
// coalesces its persistence flush.
type Collector struct {
	sink             LogSink
	flushThresholdMs int64
	chunkSize        int

	mu    sync.Mutex
	buf   []record
	timer *time.Timer
	armed bool
}

// NewCollector creates a Collector. chunkSize <= 0 defaults to 100.
func NewCollector(sink LogSink, flushThresholdMs int64, chunkSize int) *Collector {
	if chunkSize <= 0 {
		chunkSize = 100
	}
	return &Collector{sink: sink, flushThresholdMs: flushThresholdMs, chunkSize: chunkSize}
}

// Emit buffers a log record for asynchronous delivery to the sink.
func (c *Collector) Emit(level Level, msg string, fields map[string]any) {
	c.mu.Lock()
	c.buf = append(c.buf, record{level: level, msg: msg, fields: fields})
	c.armFlushLocked()
	c.mu.Unlock()
}

func (c *Collector) Debug(msg string, fields map[string]any) { c.Emit(LevelDebug, msg, fields) }
func (c *Collector) Info(msg string, fields map[string]any)  { c.Emit(LevelInfo, msg, fields) }
func (c *Collector) Warn(msg string, fields map[string]any)  { c.Emit(LevelWarn, msg, fields) }
func (c *Collector) Error(msg string, fields map[string]any) { c.Emit(LevelError, msg, fields) }

// armFlushLocked arms the deferred flush timer if one is not already
// pending. Must be called with c.mu held.
func (c *Collector) armFlushLocked() {
	if c.armed || len(c.buf) == 0 {
		return
	}
	c.armed = true
	delay := time.Duration(c.flushThresholdMs) * time.Millisecond
	c.timer = time.AfterFunc(delay, c.flush)
}

// flush drains up to chunkSize buffered records to the sink, re-arming
// itself if the buffer still holds more after this tick.
func (c *Collector) flush() {
	c.mu.Lock()
	n := c.chunkSize
	if n > len(c.buf) {
		n = len(c.buf)
	}
	batch := c.buf[:n]
	c.buf = c.buf[n:]
	c.armed = false
	remaining := len(c.buf) > 0
	c.mu.Unlock()

	for _, r := range batch {
		c.sink.Log(r.level, r.msg, r.fields)
	}

	if remaining {
		c.mu.Lock()
		c.armFlushLocked()
		c.mu.Unlock()
	}
}

// BufferedCount returns the number of records currently buffered and not
// yet flushed to the sink.
func (c *Collector) BufferedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}
