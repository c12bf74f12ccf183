package corpus

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

type tagFixture struct {
	externalID string
	value      string
	parent     string
}

// musicTags is sorted parent first, so every parent is known before its children.
var musicTags = []tagFixture{
	{externalID: "ELECTRONIC", value: "Electronic"},
	{externalID: "AMBIENT", value: "Ambient", parent: "ELECTRONIC"},
	{externalID: "HOUSE", value: "House", parent: "ELECTRONIC"},
	{externalID: "DEEP-HOUSE", value: "Deep House", parent: "HOUSE"},
	{externalID: "TECHNO", value: "Techno", parent: "ELECTRONIC"},
	{externalID: "ROCK", value: "Rock"},
	{externalID: "PUNK", value: "Punk", parent: "ROCK"},
	{externalID: "METAL", value: "Metal", parent: "ROCK"},
	{externalID: "DOOM-METAL", value: "Doom Metal", parent: "METAL"},
	{externalID: "JAZZ", value: "Jazz"},
	{externalID: "BEBOP", value: "Bebop", parent: "JAZZ"},
	{externalID: "FUSION", value: "Fusion", parent: "JAZZ"},
	{externalID: "CLASSICAL", value: "Classical"},
	{externalID: "BAROQUE", value: "Baroque", parent: "CLASSICAL"},
	{externalID: "ROMANTIC", value: "Romantic", parent: "CLASSICAL"},
}

var lineageJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// generateTaxonomies returns the fixed taxonomies and their tags.
// A tag's Lineage is the JSON list of its ancestors' values, root first.
func generateTaxonomies() ([]xapiload.Taxonomy, []xapiload.Tag) {
	taxonomies := []xapiload.Taxonomy{{ID: 1, Name: "Music"}}
	tags := make([]xapiload.Tag, 0, len(musicTags))

	type known struct {
		id       int64
		ancestry []string
	}
	byExternalID := make(map[string]known, len(musicTags))

	for i, fixture := range musicTags {
		tag := xapiload.Tag{
			ID:         int64(i + 1),
			TaxonomyID: taxonomies[0].ID,
			Value:      fixture.value,
			ExternalID: fixture.externalID,
		}

		ancestry := []string{}
		if parent, ok := byExternalID[fixture.parent]; ok {
			tag.ParentID = parent.id
			ancestry = parent.ancestry
		}

		lineage, _ := lineageJSON.MarshalToString(ancestry)
		tag.Lineage = lineage
		tags = append(tags, tag)

		byExternalID[fixture.externalID] = known{
			id:       tag.ID,
			ancestry: append(append([]string{}, ancestry...), fixture.value),
		}
	}

	return taxonomies, tags
}
