// Package xapiload provides the core abstractions for generating synthetic xAPI learning-activity
// datasets and loading them into interchangeable database backends.
//
// This package defines the run configuration, the row kinds and batch type that flow from the
// generator to a backend, the sink contract every backend implements, and the error and
// observability types shared by all subpackages.
//
// A run is split into sequential phases:
//   - seed: taxonomies, tags, course overviews, course blocks, object tags, external ids, enrollments
//   - profiles: per actor profile-change history
//   - events: the random xAPI event stream (num_xapi_batches x batch_size rows)
//   - staged_load: optional server-side load of staged object-storage artifacts
//   - distributions: optional distribution report queries
//
// Key types:
//   - Config: the immutable run configuration, loaded from YAML
//   - Row, RowKind, Batch: homogeneous units handed to a sink
//   - Sink, Stager, DistributionReporter: the backend contract
//
// Common usage pattern:
//
//	cfg, err := xapiload.LoadConfig("config.yaml")
//	if err != nil {
//		// handle error
//	}
//
//	sink, err := backends.Open(ctx, cfg)
//	if err != nil {
//		// handle error
//	}
//	defer sink.Close()
//
//	r, err := runner.New(cfg, sink, runner.WithLogger(logger))
//	report, err := r.Run(ctx)
package xapiload
