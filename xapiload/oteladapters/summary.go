package oteladapters

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// MetricSummary is one data point of a collected instrument. Count and Sum are set for
// histograms and counters, Value for gauges.
type MetricSummary struct {
	Name   string
	Labels string
	Count  uint64
	Sum    float64
	Value  float64
}

// Summarize collects reader and flattens every data point, ordered by name and labels.
func Summarize(ctx context.Context, reader *sdkmetric.ManualReader) ([]MetricSummary, error) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collecting metrics: %w", err)
	}

	var summaries []MetricSummary
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					summaries = append(summaries, MetricSummary{Name: m.Name, Labels: labelString(dp.Attributes), Count: dp.Count, Sum: dp.Sum})
				}
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					summaries = append(summaries, MetricSummary{Name: m.Name, Labels: labelString(dp.Attributes), Count: uint64(dp.Value), Sum: float64(dp.Value)})
				}
			case metricdata.Gauge[float64]:
				for _, dp := range data.DataPoints {
					summaries = append(summaries, MetricSummary{Name: m.Name, Labels: labelString(dp.Attributes), Value: dp.Value})
				}
			}
		}
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Name != summaries[j].Name {
			return summaries[i].Name < summaries[j].Name
		}
		return summaries[i].Labels < summaries[j].Labels
	})

	return summaries, nil
}

// labelString renders a set as key=value pairs; attribute sets are already sorted by key.
func labelString(set attribute.Set) string {
	var out string
	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		if out != "" {
			out += ","
		}
		out += string(kv.Key) + "=" + kv.Value.Emit()
	}

	return out
}
