package xapiload

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration is the root of every ConfigurationError.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrSinkFailed is the root of every SinkError.
	ErrSinkFailed = errors.New("sink operation failed")

	// ErrGenerationInvariant is the root of every GenerationInvariantError.
	ErrGenerationInvariant = errors.New("generation invariant violated")

	ErrNilDatabaseConnection      = errors.New("database connection must not be nil")
	ErrNilSink                    = errors.New("sink must not be nil")
	ErrStagedRowCountMismatch     = errors.New("loaded row count differs from staged row count")
	ErrEmptyTableName             = errors.New("empty table name supplied")
	ErrEmptyDatabaseName          = errors.New("empty database name supplied")
	ErrUnknownBackend             = errors.New("unknown backend")
	ErrUnsupportedRowKind         = errors.New("unsupported row kind")
	ErrStagingNotSupported        = errors.New("backend does not support staged loading")
	ErrDistributionsNotSupported  = errors.New("backend does not support distribution reports")
	ErrNoStagedArtifacts          = errors.New("no staged artifacts found")
	ErrInvalidWorkerCount         = errors.New("worker count must be positive")
	ErrInvalidBatchSize           = errors.New("batch size must be positive")
	ErrUnexpectedHTTPStatus       = errors.New("unexpected http status")
	ErrMissingMetadataDestination = errors.New("metadata destination must not be nil")
)

// ConfigurationError reports an invalid or contradictory run parameter.
// It is always detected before any generation starts.
type ConfigurationError struct {
	Field   string
	Problem string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidConfiguration.Error(), e.Field, e.Problem)
}

func (e ConfigurationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// SinkError reports a failed sink call together with the phase and batch it belongs to.
// BatchSeq is negative for calls that are not tied to a batch (prepare, staged load, reports).
type SinkError struct {
	Phase    Phase
	Kind     RowKind
	BatchSeq int
	Err      error
}

func (e *SinkError) Error() string {
	if e.BatchSeq < 0 {
		return fmt.Sprintf("%s: phase %s: %v", ErrSinkFailed.Error(), e.Phase, e.Err)
	}

	return fmt.Sprintf("%s: phase %s, kind %s, batch %d: %v", ErrSinkFailed.Error(), e.Phase, e.Kind, e.BatchSeq, e.Err)
}

func (e *SinkError) Unwrap() []error {
	return []error{ErrSinkFailed, e.Err}
}

// GenerationInvariantError signals an internal bug: a generated reference could not be resolved
// or a generated total does not match the configured one.
type GenerationInvariantError struct {
	Entity  string
	Problem string
}

func (e GenerationInvariantError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrGenerationInvariant.Error(), e.Entity, e.Problem)
}

func (e GenerationInvariantError) Unwrap() error {
	return ErrGenerationInvariant
}
