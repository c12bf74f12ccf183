// Package batching groups emitted rows into homogeneous, bounded batches.
package batching

import (
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

// Dispatch receives every completed batch. A non-nil error stops the assembler.
type Dispatch func(batch xapiload.Batch) error

// Assembler buffers rows per kind and dispatches a batch whenever a buffer reaches the batch
// size. Seq numbers are assigned in dispatch order and are unique within the assembler's phase.
// An Assembler is not safe for concurrent use.
type Assembler struct {
	phase    xapiload.Phase
	size     int
	dispatch Dispatch

	buffers map[xapiload.RowKind][]xapiload.Row
	order   []xapiload.RowKind
	rows    map[xapiload.RowKind]int
	nextSeq int
}

// NewAssembler creates an Assembler for one phase. size must be at least 1.
func NewAssembler(phase xapiload.Phase, size int, dispatch Dispatch) (*Assembler, error) {
	if size < 1 {
		return nil, xapiload.ErrInvalidBatchSize
	}

	return &Assembler{
		phase:    phase,
		size:     size,
		dispatch: dispatch,
		buffers:  make(map[xapiload.RowKind][]xapiload.Row),
		rows:     make(map[xapiload.RowKind]int),
	}, nil
}

// Add buffers one row, dispatching the kind's batch when it is full.
// Add has the signature of a sequencer emit func.
func (a *Assembler) Add(kind xapiload.RowKind, row xapiload.Row) error {
	buffer, known := a.buffers[kind]
	if !known {
		a.order = append(a.order, kind)
	}

	buffer = append(buffer, row)
	a.rows[kind]++

	if len(buffer) < a.size {
		a.buffers[kind] = buffer
		return nil
	}

	a.buffers[kind] = nil

	return a.send(kind, buffer)
}

// Flush dispatches the partial batches of every kind, in the order the kinds first appeared.
func (a *Assembler) Flush() error {
	for _, kind := range a.order {
		buffer := a.buffers[kind]
		if len(buffer) == 0 {
			continue
		}

		a.buffers[kind] = nil
		if err := a.send(kind, buffer); err != nil {
			return err
		}
	}

	return nil
}

func (a *Assembler) send(kind xapiload.RowKind, rows []xapiload.Row) error {
	batch := xapiload.Batch{Phase: a.phase, Kind: kind, Seq: a.nextSeq, Rows: rows}
	a.nextSeq++

	return a.dispatch(batch)
}

// Rows returns how many rows of kind were added.
func (a *Assembler) Rows(kind xapiload.RowKind) int {
	return a.rows[kind]
}

// Batches returns how many batches were dispatched.
func (a *Assembler) Batches() int {
	return a.nextSeq
}
