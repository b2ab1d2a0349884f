// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

// Package audit provides the append-only decision log the engine writes to.
//
// The sink itself is a bounded in-memory log: the long-term audit store is an
// external collaborator, fed (optionally) through the Writer interface. The
// in-memory append is synchronous with respect to the decision returning;
// forwarding to a Writer happens on a single consumer goroutine so entries
// reach the external store in append order.
package audit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GeneralBots/botserver-sub008/internal/rbac/types"
)

// DefaultMaxEntries is the retained-entry cap when none is configured.
const DefaultMaxEntries = 10000

var (
	entriesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rbac_audit_entries",
		Help: "Current number of audit entries retained in memory",
	})

	evictedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rbac_audit_evicted_total",
		Help: "Total number of audit entries evicted by retention",
	})

	forwardDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rbac_audit_forward_dropped_total",
		Help: "Total number of audit entries dropped because the forward queue was full",
	})

	forwardFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rbac_audit_forward_failures_total",
		Help: "Total number of audit entries the forwarding writer failed to persist",
	})
)

// Writer persists audit entries to an external store.
type Writer interface {
	Write(ctx context.Context, entry types.AccessAuditEntry) error
	Close() error
}

// Option configures a Sink.
type Option func(*Sink)

// WithMaxEntries sets the retained-entry cap. Values below 1 fall back to
// the default.
func WithMaxEntries(n int) Option {
	return func(s *Sink) {
		if n >= 1 {
			s.max = n
		}
	}
}

// WithWriter attaches a forwarding writer. Entries are queued after the
// in-memory append and written by a background consumer in order.
func WithWriter(w Writer) Option {
	return func(s *Sink) {
		s.writer = w
	}
}

// Sink is the bounded, append-only decision log. Appends take the write lock
// only for the slice mutation; concurrent decisions are not serialized beyond
// that critical section.
type Sink struct {
	mu      sync.RWMutex
	entries []types.AccessAuditEntry
	max     int

	writer  Writer
	forward chan types.AccessAuditEntry
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewSink creates a Sink. Close must be called when a forwarding writer is
// attached, to drain and release the consumer goroutine.
func NewSink(opts ...Option) *Sink {
	s := &Sink{max: DefaultMaxEntries}
	for _, opt := range opts {
		opt(s)
	}

	if s.writer != nil {
		s.forward = make(chan types.AccessAuditEntry, 1000)
		s.stop = make(chan struct{})
		s.wg.Add(1)
		go s.forwardLoop()
	}
	return s
}

// Record appends one entry. When the retained count exceeds the cap, the
// oldest 10% are evicted in one batch to amortize the cost. The append is
// synchronous: once Record returns, the decision is recorded.
func (s *Sink) Record(entry types.AccessAuditEntry) {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	if len(s.entries) > s.max {
		n := s.max / 10
		if n < 1 {
			n = 1
		}
		// Copy into a fresh slice so the evicted prefix can be collected.
		remaining := make([]types.AccessAuditEntry, len(s.entries)-n)
		copy(remaining, s.entries[n:])
		s.entries = remaining
		evictedCounter.Add(float64(n))
	}
	size := len(s.entries)

	// Enqueue while still holding the lock so the archive sees entries in
	// append order. The send never blocks: a full queue drops the archive
	// copy, the in-memory record stands.
	if s.forward != nil {
		select {
		case s.forward <- entry:
		default:
			forwardDropped.Inc()
		}
	}
	s.mu.Unlock()

	entriesGauge.Set(float64(size))
}

// Len returns the number of retained entries.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns a copy of the retained entries, oldest first.
func (s *Sink) Entries() []types.AccessAuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]types.AccessAuditEntry, len(s.entries))
	copy(result, s.entries)
	return result
}

// Close drains the forward queue and shuts down the consumer goroutine and
// the attached writer, if any.
func (s *Sink) Close() error {
	if s.writer == nil {
		return nil
	}
	close(s.stop)
	s.wg.Wait()
	return s.writer.Close()
}

// forwardLoop ships queued entries to the writer, preserving append order.
func (s *Sink) forwardLoop() {
	defer s.wg.Done()

	for {
		select {
		case entry := <-s.forward:
			s.writeOne(entry)
		case <-s.stop:
			for {
				select {
				case entry := <-s.forward:
					s.writeOne(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) writeOne(entry types.AccessAuditEntry) {
	if err := s.writer.Write(context.Background(), entry); err != nil {
		slog.Error("audit forward failed",
			"error", err,
			"audit_id", entry.ID.String(),
			"user_id", entry.UserID.String(),
			"result", string(entry.Result))
		forwardFailures.Inc()
	}
}
