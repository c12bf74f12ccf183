package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/sinks/clickhousesink"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/sinks/csvsink"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/sinks/mongosink"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/sinks/postgressink"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/sinks/ralphsink"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/sinks/s3stagesink"
)

// OpenSink connects to the backend named by cfg.Backend and returns its sink.
// Connection failures are reported as a SinkError of the prepare phase.
func OpenSink(ctx context.Context, cfg xapiload.Config, logger xapiload.Logger) (xapiload.Sink, error) {
	sink, err := openSink(ctx, cfg, logger)
	if err != nil {
		return nil, &xapiload.SinkError{Phase: xapiload.PhasePrepare, BatchSeq: -1, Err: err}
	}

	return sink, nil
}

func openSink(ctx context.Context, cfg xapiload.Config, logger xapiload.Logger) (xapiload.Sink, error) {
	switch cfg.Backend {
	case xapiload.BackendClickHouse:
		return openClickHouse(ctx, cfg, logger)

	case xapiload.BackendCHDB:
		target, err := openClickHouse(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}

		return newStagingSink(ctx, cfg, target, logger)

	case xapiload.BackendCSV:
		return csvsink.New(cfg.CSVOutputDestination, csvsink.WithLogger(logger))

	case xapiload.BackendRalph:
		metadata, err := openClickHouse(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}

		return newRalphSink(cfg, metadata, logger)

	case xapiload.BackendMongo:
		client, err := mongosink.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}

		sink, err := mongosink.NewFromClient(client, cfg.DBName, mongosink.WithLogger(logger))
		if err != nil {
			return nil, errors.Join(err, client.Disconnect(ctx))
		}

		return sink, nil

	case xapiload.BackendPostgres, xapiload.BackendCitus:
		return openPostgres(ctx, cfg, logger)

	default:
		return nil, fmt.Errorf("%w: %q", xapiload.ErrUnknownBackend, cfg.Backend)
	}
}

// newStagingSink stages through S3 into target. target is closed when the sink cannot be built.
func newStagingSink(ctx context.Context, cfg xapiload.Config, target s3stagesink.Target, logger xapiload.Logger) (*s3stagesink.Sink, error) {
	settings := s3stagesink.SettingsFromConfig(cfg)

	client, err := s3stagesink.NewS3Client(ctx, settings)
	if err != nil {
		return nil, errors.Join(err, target.Close())
	}

	sink, err := s3stagesink.New(client, target, settings, s3stagesink.WithLogger(logger))
	if err != nil {
		return nil, errors.Join(err, target.Close())
	}

	return sink, nil
}

// newRalphSink posts statements to the LRS and everything else to metadata, which is closed when
// the sink cannot be built.
func newRalphSink(cfg xapiload.Config, metadata xapiload.Sink, logger xapiload.Logger) (*ralphsink.Sink, error) {
	sink, err := ralphsink.New(ralphsink.SettingsFromConfig(cfg), metadata, ralphsink.WithLogger(logger))
	if err != nil {
		return nil, errors.Join(err, metadata.Close())
	}

	return sink, nil
}

func openClickHouse(ctx context.Context, cfg xapiload.Config, logger xapiload.Logger) (*clickhousesink.Sink, error) {
	conn, err := clickhousesink.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return clickhousesink.NewFromConn(conn, cfg.DBName, clickhousesink.WithLogger(logger))
}

func openPostgres(ctx context.Context, cfg xapiload.Config, logger xapiload.Logger) (*postgressink.Sink, error) {
	options := []postgressink.Option{postgressink.WithLogger(logger)}
	if cfg.Backend == xapiload.BackendCitus {
		options = append(options, postgressink.WithCitus(cfg.StartDate.Time, cfg.EndDate.Time))
	}

	switch cfg.DBAdapter {
	case xapiload.DBAdapterSQL:
		db, err := postgressink.OpenSQLDB(ctx, cfg)
		if err != nil {
			return nil, err
		}

		sink, err := postgressink.NewFromSQLDB(db, options...)
		if err != nil {
			return nil, errors.Join(err, db.Close())
		}

		return sink, nil

	case xapiload.DBAdapterSQLX:
		db, err := postgressink.OpenSQLX(ctx, cfg)
		if err != nil {
			return nil, err
		}

		sink, err := postgressink.NewFromSQLX(db, options...)
		if err != nil {
			return nil, errors.Join(err, db.Close())
		}

		return sink, nil

	default:
		pool, err := postgressink.OpenPGXPool(ctx, cfg)
		if err != nil {
			return nil, err
		}

		sink, err := postgressink.NewFromPGXPool(pool, options...)
		if err != nil {
			pool.Close()
			return nil, err
		}

		return sink, nil
	}
}
