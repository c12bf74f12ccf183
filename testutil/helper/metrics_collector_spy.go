package helper

import (
	"maps"
	"sync"
	"time"
)

// MetricsCollectorSpy is a MetricsCollector that captures metric calls for testing.
type MetricsCollectorSpy struct {
	records     []SpyMetricRecord
	mu          sync.Mutex
	recordCalls bool
}

// SpyMetricKind tells which MetricsCollector method produced a record.
type SpyMetricKind int

const (
	SpyDuration SpyMetricKind = iota
	SpyCounter
	SpyValue
)

// SpyMetricRecord is one captured metric call.
type SpyMetricRecord struct {
	Kind     SpyMetricKind
	Metric   string
	Duration time.Duration
	Value    float64
	Labels   map[string]string
}

// NewMetricsCollectorSpy creates a MetricsCollectorSpy.
// Set recordCalls to true to capture all calls for inspection.
func NewMetricsCollectorSpy(recordCalls bool) *MetricsCollectorSpy {
	return &MetricsCollectorSpy{recordCalls: recordCalls}
}

// RecordDuration implements the MetricsCollector interface.
func (s *MetricsCollectorSpy) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	s.record(SpyMetricRecord{Kind: SpyDuration, Metric: metric, Duration: duration, Labels: labels})
}

// IncrementCounter implements the MetricsCollector interface.
func (s *MetricsCollectorSpy) IncrementCounter(metric string, labels map[string]string) {
	s.record(SpyMetricRecord{Kind: SpyCounter, Metric: metric, Value: 1, Labels: labels})
}

// AddCounter implements the MetricsCollector interface.
func (s *MetricsCollectorSpy) AddCounter(metric string, delta int64, labels map[string]string) {
	s.record(SpyMetricRecord{Kind: SpyCounter, Metric: metric, Value: float64(delta), Labels: labels})
}

// RecordValue implements the MetricsCollector interface.
func (s *MetricsCollectorSpy) RecordValue(metric string, value float64, labels map[string]string) {
	s.record(SpyMetricRecord{Kind: SpyValue, Metric: metric, Value: value, Labels: labels})
}

func (s *MetricsCollectorSpy) record(r SpyMetricRecord) {
	if !s.recordCalls {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// copy labels to avoid external modifications
	r.Labels = maps.Clone(r.Labels)
	s.records = append(s.records, r)
}

// Records returns a copy of all captured records.
func (s *MetricsCollectorSpy) Records() []SpyMetricRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]SpyMetricRecord, len(s.records))
	copy(records, s.records)

	return records
}

// Count counts the records of the given kind and metric whose labels contain all of labels.
func (s *MetricsCollectorSpy) Count(kind SpyMetricKind, metric string, labels map[string]string) int {
	count := 0
	for _, r := range s.Records() {
		if r.Kind != kind || r.Metric != metric {
			continue
		}

		matches := true
		for k, v := range labels {
			if r.Labels[k] != v {
				matches = false
				break
			}
		}
		if matches {
			count++
		}
	}

	return count
}

// Sum adds up the values of the given kind and metric.
func (s *MetricsCollectorSpy) Sum(kind SpyMetricKind, metric string) float64 {
	total := 0.0
	for _, r := range s.Records() {
		if r.Kind == kind && r.Metric == metric {
			total += r.Value
		}
	}

	return total
}

// MaxValue returns the largest recorded value of a value metric.
func (s *MetricsCollectorSpy) MaxValue(metric string) float64 {
	maxValue := 0.0
	for _, r := range s.Records() {
		if r.Kind == SpyValue && r.Metric == metric && r.Value > maxValue {
			maxValue = r.Value
		}
	}

	return maxValue
}
