package mongosink

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

// Collections lists the collections the sink writes, in a stable order.
func Collections() []string {
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

func ascending(name string, fields ...string) mongo.IndexModel {
	keys := make(bson.D, len(fields))
	for i, field := range fields {
		keys[i] = bson.E{Key: field, Value: 1}
	}

	return mongo.IndexModel{Keys: keys, Options: options.Index().SetName(name)}
}

var indexes = map[string][]mongo.IndexModel{
	xapiload.TableXAPIEvents: {
		ascending("course_verb", "course_run_id", "verb"),
		ascending("org", "org"),
		ascending("actor_id", "actor_id"),
		ascending("emission_time", "emission_time"),
	},
	xapiload.TableCourseOverviews: {ascending("course_dump", "course_key", "time_last_dumped")},
	xapiload.TableCourseBlocks:    {ascending("location_dump", "location", "time_last_dumped")},
	xapiload.TableObjectTags:      {ascending("object_id", "object_id")},
	xapiload.TableExternalIDs:     {ascending("user_id", "user_id")},
	xapiload.TableUserProfiles:    {ascending("user_dump", "user_id", "time_last_dumped")},
}
