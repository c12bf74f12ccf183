package helper

import (
	"context"
	"maps"
	"sync"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

// SpySpanContext records what a runner reports on an open span.
type SpySpanContext struct {
	mu         sync.Mutex
	status     string
	attributes map[string]string
}

// SetStatus implements the SpanContext interface.
func (c *SpySpanContext) SetStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

// AddAttribute implements the SpanContext interface.
func (c *SpySpanContext) AddAttribute(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attributes == nil {
		c.attributes = make(map[string]string)
	}
	c.attributes[key] = value
}

// Attributes returns a copy of the attributes added while the span was open.
func (c *SpySpanContext) Attributes() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return maps.Clone(c.attributes)
}

// SpySpanRecord is one span, from start to finish.
type SpySpanRecord struct {
	Name            string
	StartAttributes map[string]string
	Status          string
	EndAttributes   map[string]string
	Finished        bool
	SpanContext     *SpySpanContext
}

// TracingCollectorSpy is a TracingCollector that captures spans in start order.
type TracingCollectorSpy struct {
	mu      sync.Mutex
	records []SpySpanRecord
}

// NewTracingCollectorSpy creates a TracingCollectorSpy.
func NewTracingCollectorSpy() *TracingCollectorSpy {
	return &TracingCollectorSpy{}
}

// StartSpan implements the TracingCollector interface.
func (s *TracingCollectorSpy) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, xapiload.SpanContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spanCtx := &SpySpanContext{}
	s.records = append(s.records, SpySpanRecord{Name: name, StartAttributes: maps.Clone(attrs), SpanContext: spanCtx})

	return ctx, spanCtx
}

// FinishSpan implements the TracingCollector interface.
func (s *TracingCollectorSpy) FinishSpan(spanCtx xapiload.SpanContext, status string, attrs map[string]string) {
	spy, ok := spanCtx.(*SpySpanContext)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if s.records[i].SpanContext == spy {
			s.records[i].Status = status
			s.records[i].EndAttributes = maps.Clone(attrs)
			s.records[i].Finished = true
			return
		}
	}
}

// Records returns a copy of all captured spans.
func (s *TracingCollectorSpy) Records() []SpySpanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]SpySpanRecord, len(s.records))
	copy(records, s.records)

	return records
}

// Named returns the captured spans with the given name, in start order.
func (s *TracingCollectorSpy) Named(name string) []SpySpanRecord {
	var named []SpySpanRecord
	for _, record := range s.Records() {
		if record.Name == name {
			named = append(named, record)
		}
	}

	return named
}
