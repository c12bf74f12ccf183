package helper

import (
	"context"
	"errors"
	"sync"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

// ErrInjected is returned by a RecordingSink for the batch it was told to fail.
var ErrInjected = errors.New("injected sink failure")

// RecordingSink is an in-memory xapiload.Sink that records every written batch.
// It can fail one chosen batch and hold every write until released, to observe backpressure.
type RecordingSink struct {
	mu          sync.Mutex
	batches     []xapiload.Batch
	prepared    int
	dropped     bool
	closed      bool
	inFlight    int
	maxInFlight int

	failPhase xapiload.Phase
	failSeq   int
	gate      chan struct{}
}

// NewRecordingSink creates a RecordingSink that accepts every batch.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{failSeq: -1}
}

// FailOn makes WriteBatch return ErrInjected for the batch with the given phase and seq.
func (s *RecordingSink) FailOn(phase xapiload.Phase, seq int) *RecordingSink {
	s.failPhase, s.failSeq = phase, seq
	return s
}

// Hold makes every WriteBatch block until Release is called or its context ends.
func (s *RecordingSink) Hold() *RecordingSink {
	s.gate = make(chan struct{})
	return s
}

// Release unblocks held writes.
func (s *RecordingSink) Release() {
	close(s.gate)
}

func (s *RecordingSink) Prepare(_ context.Context, dropTablesFirst bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepared++
	s.dropped = dropTablesFirst

	return nil
}

func (s *RecordingSink) WriteBatch(ctx context.Context, batch xapiload.Batch) error {
	s.mu.Lock()
	s.inFlight++
	s.maxInFlight = max(s.maxInFlight, s.inFlight)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if batch.Phase == s.failPhase && batch.Seq == s.failSeq {
		return ErrInjected
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)

	return nil
}

func (s *RecordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true

	return nil
}

// Batches returns the successfully written batches in completion order.
func (s *RecordingSink) Batches() []xapiload.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	batches := make([]xapiload.Batch, len(s.batches))
	copy(batches, s.batches)

	return batches
}

// RowsByKind counts the written rows per kind.
func (s *RecordingSink) RowsByKind() map[xapiload.RowKind]int {
	counts := make(map[xapiload.RowKind]int)
	for _, batch := range s.Batches() {
		counts[batch.Kind] += batch.Len()
	}

	return counts
}

// Rows returns the written rows of one kind, in batch completion order.
func (s *RecordingSink) Rows(kind xapiload.RowKind) []xapiload.Row {
	var rows []xapiload.Row
	for _, batch := range s.Batches() {
		if batch.Kind == kind {
			rows = append(rows, batch.Rows...)
		}
	}

	return rows
}

// MaxInFlight returns the highest number of concurrent WriteBatch calls observed.
func (s *RecordingSink) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.maxInFlight
}

// InFlight returns the number of WriteBatch calls currently running.
func (s *RecordingSink) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inFlight
}

// Prepared reports how often Prepare ran and whether the last call dropped tables.
func (s *RecordingSink) Prepared() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.prepared, s.dropped
}

// Closed reports whether Close was called.
func (s *RecordingSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}
