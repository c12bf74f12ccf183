package postgressink

import (
	"fmt"
	"strings"
	"time"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

const (
	typeText        = "text NOT NULL"
	typeUUID        = "uuid NOT NULL"
	typeBigint      = "bigint NOT NULL"
	typeBool        = "boolean NOT NULL"
	typeTimestamp   = "timestamptz NOT NULL"
	typeJSONB       = "jsonb NOT NULL"
	partitionPeriod = "1 month"
)

type tableSchema struct {
	kind       xapiload.RowKind
	types      []string
	primaryKey []string
	indexes    [][]string
}

var schemas = map[string]tableSchema{
	xapiload.TableXAPIEvents: {
		kind: xapiload.RowKindXAPIEvent,
		types: []string{
			typeUUID, typeText, typeUUID, typeText, typeText, typeText, typeText,
			typeText, typeText, typeTimestamp, typeJSONB,
		},
		primaryKey: []string{"course_run_id", "event_id", "emission_time"},
		indexes:    [][]string{{"course_run_id", "verb"}, {"org"}, {"actor_id"}},
	},
	xapiload.TableCourseOverviews: {
		kind: xapiload.RowKindCourseOverview,
		types: []string{
			typeText, typeText, typeText, typeTimestamp, typeTimestamp, typeTimestamp,
			typeTimestamp, typeBool, typeJSONB, typeTimestamp, typeTimestamp, typeUUID, typeTimestamp,
		},
		primaryKey: []string{"course_key", "dump_id"},
	},
	xapiload.TableCourseBlocks: {
		kind: xapiload.RowKindCourseBlock,
		types: []string{
			typeText, typeText, typeText, typeText, typeJSONB, typeBigint, typeTimestamp, typeUUID, typeTimestamp,
		},
		primaryKey: []string{"location", "dump_id"},
		indexes:    [][]string{{"course_key"}},
	},
	xapiload.TableObjectTags: {
		kind:       xapiload.RowKindObjectTag,
		types:      []string{typeBigint, typeText, typeBigint, typeText, typeText, typeText, typeUUID, typeTimestamp},
		primaryKey: []string{"id"},
		indexes:    [][]string{{"object_id"}},
	},
	xapiload.TableTaxonomies: {
		kind:       xapiload.RowKindTaxonomy,
		types:      []string{typeBigint, typeText},
		primaryKey: []string{"id"},
	},
	xapiload.TableTags: {
		kind:       xapiload.RowKindTag,
		types:      []string{typeBigint, typeBigint, typeBigint, typeText, typeText, typeText},
		primaryKey: []string{"id"},
	},
	xapiload.TableExternalIDs: {
		kind:       xapiload.RowKindExternalID,
		types:      []string{typeUUID, typeText, typeText, typeBigint, typeUUID, typeTimestamp},
		primaryKey: []string{"external_user_id", "external_id_type"},
	},
	xapiload.TableUserProfiles: {
		kind: xapiload.RowKindUserProfile,
		types: []string{
			typeBigint, typeBigint, typeText, typeText, typeText, typeText, typeText, typeText, typeText,
			typeBigint, typeText, typeText, typeText, typeText, typeText, typeText,
			typeText, typeText, typeText, typeText, typeUUID, typeTimestamp,
		},
		primaryKey: []string{"user_id", "time_last_dumped"},
	},
}

// Tables lists the tables the sink creates, in a stable order.
func Tables() []string {
	return []string{
		xapiload.TableXAPIEvents,
		xapiload.TableCourseOverviews,
		xapiload.TableCourseBlocks,
		xapiload.TableObjectTags,
		xapiload.TableTaxonomies,
		xapiload.TableTags,
		xapiload.TableExternalIDs,
		xapiload.TableUserProfiles,
	}
}

func quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func quoteAll(identifiers []string) string {
	quoted := make([]string, len(identifiers))
	for i, identifier := range identifiers {
		quoted[i] = quote(identifier)
	}

	return strings.Join(quoted, ", ")
}

func dropTableQuery(table string) string {
	return "DROP TABLE IF EXISTS " + quote(table) + " CASCADE"
}

// createTableStatements returns the DDL for one table. With partitioned set the event table is
// range partitioned by emission_time; every other table ignores it.
func createTableStatements(table string, partitioned bool) ([]string, error) {
	schema, ok := schemas[table]
	if !ok {
		return nil, fmt.Errorf("%w: no table %q", xapiload.ErrUnsupportedRowKind, table)
	}

	columns := xapiload.ColumnsOf(schema.kind)
	definitions := make([]string, 0, len(columns)+1)
	for i, column := range columns {
		definitions = append(definitions, quote(column)+" "+schema.types[i])
	}
	definitions = append(definitions, "PRIMARY KEY ("+quoteAll(schema.primaryKey)+")")

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(table), strings.Join(definitions, ", "))
	if partitioned && table == xapiload.TableXAPIEvents {
		create += " PARTITION BY RANGE (" + quote("emission_time") + ")"
	}

	statements := []string{create}
	for _, index := range schema.indexes {
		name := table + "_" + strings.Join(index, "_") + "_idx"
		statements = append(statements,
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", quote(name), quote(table), quoteAll(index)))
	}

	return statements, nil
}

// citusStatements distributes the event table by course run and pre-creates monthly partitions
// covering the generated date range.
func citusStatements(start, end time.Time) []string {
	return []string{
		fmt.Sprintf("SELECT create_time_partitions(table_name := '%s', partition_interval := '%s', "+
			"start_from := '%s', end_at := '%s')",
			xapiload.TableXAPIEvents, partitionPeriod,
			start.UTC().Format(time.RFC3339), end.UTC().AddDate(0, 1, 0).Format(time.RFC3339)),
		fmt.Sprintf("SELECT create_distributed_table('%s', 'course_run_id')", xapiload.TableXAPIEvents),
	}
}
