package batching_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/batching"
)

func collecting(batches *[]xapiload.Batch) batching.Dispatch {
	return func(batch xapiload.Batch) error {
		*batches = append(*batches, batch)
		return nil
	}
}

func Test_Assembler_Splits_Into_Full_And_Trailing_Batches(t *testing.T) {
	// setup
	var batches []xapiload.Batch
	assembler, err := batching.NewAssembler(xapiload.PhaseEvents, 100, collecting(&batches))
	require.NoError(t, err)

	// act
	for i := range 250 {
		require.NoError(t, assembler.Add(xapiload.RowKindXAPIEvent, xapiload.Taxonomy{ID: int64(i)}))
	}
	require.NoError(t, assembler.Flush())

	// assert
	require.Len(t, batches, 3)
	assert.Equal(t, []int{100, 100, 50}, []int{batches[0].Len(), batches[1].Len(), batches[2].Len()})
	for i, batch := range batches {
		assert.Equal(t, i, batch.Seq)
		assert.Equal(t, xapiload.PhaseEvents, batch.Phase)
	}
	assert.Equal(t, 250, assembler.Rows(xapiload.RowKindXAPIEvent))
	assert.Equal(t, 3, assembler.Batches())
}

func Test_Assembler_Keeps_Batches_Homogeneous(t *testing.T) {
	// setup
	var batches []xapiload.Batch
	assembler, err := batching.NewAssembler(xapiload.PhaseSeed, 2, collecting(&batches))
	require.NoError(t, err)

	// act
	require.NoError(t, assembler.Add(xapiload.RowKindTaxonomy, xapiload.Taxonomy{ID: 1}))
	require.NoError(t, assembler.Add(xapiload.RowKindTag, xapiload.Tag{ID: 1}))
	require.NoError(t, assembler.Add(xapiload.RowKindTag, xapiload.Tag{ID: 2}))
	require.NoError(t, assembler.Add(xapiload.RowKindTag, xapiload.Tag{ID: 3}))
	require.NoError(t, assembler.Flush())

	// assert
	require.Len(t, batches, 3)
	assert.Equal(t, xapiload.RowKindTag, batches[0].Kind)
	assert.Equal(t, xapiload.RowKindTaxonomy, batches[1].Kind, "flush follows first appearance")
	assert.Equal(t, xapiload.RowKindTag, batches[2].Kind)
	assert.Equal(t, 1, batches[2].Len())
}

func Test_Assembler_When_DispatchFails(t *testing.T) {
	// setup
	failure := errors.New("queue closed")
	assembler, err := batching.NewAssembler(xapiload.PhaseEvents, 1, func(xapiload.Batch) error { return failure })
	require.NoError(t, err)

	// act
	err = assembler.Add(xapiload.RowKindXAPIEvent, xapiload.Taxonomy{})

	// assert
	assert.ErrorIs(t, err, failure)
}

func Test_NewAssembler_When_SizeIsInvalid(t *testing.T) {
	// act
	_, err := batching.NewAssembler(xapiload.PhaseEvents, 0, nil)

	// assert
	assert.ErrorIs(t, err, xapiload.ErrInvalidBatchSize)
}
