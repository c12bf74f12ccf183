package s3stagesink

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pierrec/lz4/v4"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

const (
	artifactSuffix = ".jsonl.lz4"
	timeLayout     = "2006-01-02 15:04:05.000000"
)

var rowJSON = jsoniter.Config{EscapeHTML: false}.Froze()

// partition is the slice of a batch that ends up in one artifact.
type partition struct {
	year int
	rows []xapiload.Row
}

// partitionBatch splits statement rows by the UTC year of their emission time, in ascending year order.
// Rows of every other kind form a single partition with year zero.
func partitionBatch(batch xapiload.Batch) []partition {
	if !batch.Kind.IsStatement() {
		return []partition{{rows: batch.Rows}}
	}

	byYear := map[int][]xapiload.Row{}
	for _, row := range batch.Rows {
		year := row.(xapiload.XAPIEvent).EmissionTime.UTC().Year()
		byYear[year] = append(byYear[year], row)
	}

	years := make([]int, 0, len(byYear))
	for year := range byYear {
		years = append(years, year)
	}
	sort.Ints(years)

	partitions := make([]partition, len(years))
	for i, year := range years {
		partitions[i] = partition{year: year, rows: byYear[year]}
	}

	return partitions
}

// artifactKey names an artifact: {prefix}{kind}_{year}_{seq}.jsonl.lz4, or {prefix}{kind}_{seq}.jsonl.lz4
// for kinds that are not partitioned by year.
func artifactKey(prefix string, kind xapiload.RowKind, year, seq int) string {
	if year == 0 {
		return fmt.Sprintf("%s%s_%d%s", prefix, kind, seq, artifactSuffix)
	}

	return fmt.Sprintf("%s%s_%d_%d%s", prefix, kind, year, seq, artifactSuffix)
}

// parseArtifactKey recovers the row kind from a key produced by artifactKey.
func parseArtifactKey(prefix, key string) (xapiload.RowKind, bool) {
	name, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return "", false
	}

	name, ok = strings.CutSuffix(name, artifactSuffix)
	if !ok {
		return "", false
	}

	for _, kind := range xapiload.RowKinds() {
		rest, found := strings.CutPrefix(name, string(kind)+"_")
		if !found {
			continue
		}

		for _, part := range strings.Split(rest, "_") {
			if _, err := strconv.Atoi(part); err != nil {
				return "", false
			}
		}

		return kind, true
	}

	return "", false
}

// encodeRows renders rows as lz4-compressed JSONEachRow, one object per line with keys in column order.
func encodeRows(rows []xapiload.Row) ([]byte, error) {
	var compressed bytes.Buffer
	zw := lz4.NewWriter(&compressed)

	stream := rowJSON.BorrowStream(zw)
	defer rowJSON.ReturnStream(stream)

	for _, row := range rows {
		columns := row.Columns()
		values := row.Values()

		stream.WriteObjectStart()
		for i, column := range columns {
			if i > 0 {
				stream.WriteMore()
			}
			stream.WriteObjectField(column)
			writeValue(stream, values[i])
		}
		stream.WriteObjectEnd()
		stream.WriteRaw("\n")

		if err := stream.Flush(); err != nil {
			return nil, err
		}
	}

	if stream.Error != nil {
		return nil, stream.Error
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}

	return compressed.Bytes(), nil
}

func writeValue(stream *jsoniter.Stream, value any) {
	switch v := value.(type) {
	case time.Time:
		stream.WriteString(v.UTC().Format(timeLayout))
	default:
		stream.WriteVal(v)
	}
}
