// Package memory is a goroutine-safe in-memory sink. It backs the unit
// tests and is handy for local debugging when no InfluxDB is around.
package memory

import (
	"context"
	"sync"
	"time"
)

// Entry is one recorded write.
type Entry struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]interface{}
	Time        time.Time
}

// Sink collects every write in order.
type Sink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

// NewSink returns a ready-to-use Sink instance.
func NewSink() *Sink {
	return &Sink{}
}

// FailWith makes every subsequent Write return err. Passing nil
// restores normal operation.
func (s *Sink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Write records one entry, or returns the configured failure.
func (s *Sink) Write(ctx context.Context, measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, Entry{
		Measurement: measurement,
		Tags:        tags,
		Fields:      fields,
		Time:        ts,
	})
	return nil
}

// Close is a no-op; the sink holds no external resources.
func (s *Sink) Close() error {
	return nil
}

// Entries returns a copy of everything written so far.
func (s *Sink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns how many writes succeeded.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
