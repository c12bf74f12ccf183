package mongosink

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

const (
	closeTimeout = 10 * time.Second

	fieldID    = "_id"
	fieldEvent = "event"

	logMsgCollectionDropped = "mongo: collection dropped"
	logMsgIndexesCreated    = "mongo: indexes created"
	logMsgBatchInserted     = "mongo: batch inserted"
	logMsgInsertFailed      = "mongo: insert failed"
	logAttrCollection       = "collection"
	logAttrSeq              = "seq"
	logAttrDocuments        = "documents"
	logAttrDurationMS       = "duration_ms"
	logAttrError            = "error"
)

// Sink writes every row as one document. Statement documents use the event id as _id and carry
// the parsed statement under "event", so that statement fields can be indexed and queried.
type Sink struct {
	store  store
	logger xapiload.Logger
}

// Option defines a functional option for configuring Sink.
type Option func(*Sink) error

// WithLogger sets the logger for the Sink.
func WithLogger(logger xapiload.Logger) Option {
	return func(s *Sink) error {
		s.logger = logger
		return nil
	}
}

// URI renders the db_* keys of cfg as a mongodb:// connection string. Credentials are optional.
func URI(cfg xapiload.Config) string {
	u := url.URL{
		Scheme: "mongodb",
		Host:   cfg.DBHost + ":" + strconv.Itoa(cfg.DBPort),
		Path:   "/" + cfg.DBName,
	}

	if cfg.DBUsername != "" {
		u.User = url.UserPassword(cfg.DBUsername, cfg.DBPassword)
	}

	return u.String()
}

// Connect opens a client with a pool sized for the configured worker count.
func Connect(ctx context.Context, cfg xapiload.Config) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(URI(cfg)).
		SetMaxPoolSize(uint64(cfg.NumWorkers+2)))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	return client, nil
}

// NewFromClient creates a Sink writing into the named database.
func NewFromClient(client *mongo.Client, database string, options ...Option) (*Sink, error) {
	if client == nil {
		return nil, xapiload.ErrNilDatabaseConnection
	}

	if database == "" {
		return nil, xapiload.ErrEmptyDatabaseName
	}

	return newSink(databaseStore{client: client, db: client.Database(database)}, options...)
}

func newSink(st store, options ...Option) (*Sink, error) {
	s := &Sink{store: st}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Prepare drops the collections when asked to and creates their indexes. Collections are created implicitly.
func (s *Sink) Prepare(ctx context.Context, dropTablesFirst bool) error {
	for _, collection := range Collections() {
		if dropTablesFirst {
			if err := s.store.Drop(ctx, collection); err != nil {
				return fmt.Errorf("dropping %s: %w", collection, err)
			}
			s.logDebug(logMsgCollectionDropped, logAttrCollection, collection)
		}

		if err := s.store.CreateIndexes(ctx, collection, indexes[collection]); err != nil {
			return fmt.Errorf("creating indexes on %s: %w", collection, err)
		}
		s.logDebug(logMsgIndexesCreated, logAttrCollection, collection)
	}

	return nil
}

// WriteBatch inserts the batch with one ordered InsertMany call.
func (s *Sink) WriteBatch(ctx context.Context, batch xapiload.Batch) error {
	collection := batch.Kind.Table()
	if collection == "" {
		return fmt.Errorf("%w: %q", xapiload.ErrUnsupportedRowKind, batch.Kind)
	}

	if batch.Len() == 0 {
		return nil
	}

	documents := make([]any, len(batch.Rows))
	for i, row := range batch.Rows {
		document, err := toDocument(row)
		if err != nil {
			return err
		}
		documents[i] = document
	}

	start := time.Now()
	if err := s.store.InsertMany(ctx, collection, documents); err != nil {
		s.logError(logMsgInsertFailed, err, logAttrCollection, collection, logAttrSeq, batch.Seq)
		return fmt.Errorf("inserting into %s: %w", collection, err)
	}

	s.logDebug(logMsgBatchInserted,
		logAttrCollection, collection,
		logAttrSeq, batch.Seq,
		logAttrDocuments, len(documents),
		logAttrDurationMS, time.Since(start).Milliseconds())

	return nil
}

// Close disconnects the client.
func (s *Sink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	return s.store.Close(ctx)
}

// toDocument maps a row's columns to document fields in column order.
func toDocument(row xapiload.Row) (bson.D, error) {
	columns := row.Columns()
	values := row.Values()

	document := make(bson.D, 0, len(columns)+1)

	event, isStatement := row.(xapiload.XAPIEvent)
	if isStatement {
		document = append(document, bson.E{Key: fieldID, Value: event.EventID.String()})
	}

	for i, column := range columns {
		value := values[i]

		if isStatement && column == fieldEvent {
			var statement bson.D
			if err := bson.UnmarshalExtJSON(event.Event, false, &statement); err != nil {
				return nil, fmt.Errorf("decoding statement %s: %w", event.EventID, err)
			}
			value = statement
		}

		document = append(document, bson.E{Key: column, Value: value})
	}

	return document, nil
}

func (s *Sink) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Sink) logError(msg string, err error, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, append([]any{logAttrError, err.Error()}, args...)...)
	}
}
