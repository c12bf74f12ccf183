package clickhousesink

import (
	"fmt"
	"strings"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

// tableSchema lists the ClickHouse column types of one table, parallel to xapiload.ColumnsOf.
type tableSchema struct {
	kind    xapiload.RowKind
	types   []string
	orderBy string
}

const (
	typeString   = "String"
	typeUUID     = "UUID"
	typeInt64    = "Int64"
	typeBool     = "Bool"
	typeDateTime = "DateTime64(6)"
)

// schemas is keyed by table. Enrollment rows share the xAPI event table and its schema.
var schemas = map[string]tableSchema{
	xapiload.TableXAPIEvents: {
		kind: xapiload.RowKindXAPIEvent,
		types: []string{
			typeUUID, typeString, typeUUID, typeString, typeString, typeString, typeString,
			typeString, typeString, typeDateTime, typeString,
		},
		orderBy: "(emission_time, event_id)",
	},
	xapiload.TableCourseOverviews: {
		kind: xapiload.RowKindCourseOverview,
		types: []string{
			typeString, typeString, typeString, typeDateTime, typeDateTime, typeDateTime,
			typeDateTime, typeBool, typeString, typeDateTime, typeDateTime, typeUUID, typeDateTime,
		},
		orderBy: "(org, course_key, time_last_dumped)",
	},
	xapiload.TableCourseBlocks: {
		kind: xapiload.RowKindCourseBlock,
		types: []string{
			typeString, typeString, typeString, typeString, typeString, typeInt64, typeDateTime, typeUUID, typeDateTime,
		},
		orderBy: "(org, course_key, location, time_last_dumped)",
	},
	xapiload.TableObjectTags: {
		kind:    xapiload.RowKindObjectTag,
		types:   []string{typeInt64, typeString, typeInt64, typeString, typeString, typeString, typeUUID, typeDateTime},
		orderBy: "(object_id, id)",
	},
	xapiload.TableTaxonomies: {
		kind:    xapiload.RowKindTaxonomy,
		types:   []string{typeInt64, typeString},
		orderBy: "id",
	},
	xapiload.TableTags: {
		kind:    xapiload.RowKindTag,
		types:   []string{typeInt64, typeInt64, typeInt64, typeString, typeString, typeString},
		orderBy: "id",
	},
	xapiload.TableExternalIDs: {
		kind:    xapiload.RowKindExternalID,
		types:   []string{typeUUID, typeString, typeString, typeInt64, typeUUID, typeDateTime},
		orderBy: "(user_id, external_id_type)",
	},
	xapiload.TableUserProfiles: {
		kind: xapiload.RowKindUserProfile,
		types: []string{
			typeInt64, typeInt64, typeString, typeString, typeString, typeString, typeString, typeString, typeString,
			typeInt64, typeString, typeString, typeString, typeString, typeString, typeString,
			typeString, typeString, typeString, typeString, typeUUID, typeDateTime,
		},
		orderBy: "(user_id, time_last_dumped)",
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
	return "`" + strings.ReplaceAll(identifier, "`", "\\`") + "`"
}

func qualified(database, table string) string {
	return quote(database) + "." + quote(table)
}

// structure renders "name Type, ..." for a table, as used both in CREATE TABLE and in the
// structure argument of the s3 table function.
func structure(table string) (string, error) {
	schema, ok := schemas[table]
	if !ok {
		return "", fmt.Errorf("%w: no table %q", xapiload.ErrUnsupportedRowKind, table)
	}

	columns := xapiload.ColumnsOf(schema.kind)
	parts := make([]string, len(columns))
	for i, column := range columns {
		parts[i] = quote(column) + " " + schema.types[i]
	}

	return strings.Join(parts, ", "), nil
}

func columnList(kind xapiload.RowKind) string {
	columns := xapiload.ColumnsOf(kind)
	quoted := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = quote(column)
	}

	return strings.Join(quoted, ", ")
}

func createDatabaseQuery(database string) string {
	return "CREATE DATABASE IF NOT EXISTS " + quote(database)
}

func dropTableQuery(database, table string) string {
	return "DROP TABLE IF EXISTS " + qualified(database, table)
}

func createTableQuery(database, table string) (string, error) {
	columns, err := structure(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = MergeTree ORDER BY %s",
		qualified(database, table), columns, schemas[table].orderBy), nil
}

func insertQuery(database string, kind xapiload.RowKind) string {
	return fmt.Sprintf("INSERT INTO %s (%s)", qualified(database, kind.Table()), columnList(kind))
}
