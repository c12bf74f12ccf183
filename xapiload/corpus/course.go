package corpus

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
)

// BlockType names a structural element of a course.
type BlockType string

const (
	BlockCourse     BlockType = "course"
	BlockChapter    BlockType = "chapter"
	BlockSequential BlockType = "sequential"
	BlockVertical   BlockType = "vertical"
	BlockProblem    BlockType = "problem"
	BlockVideo      BlockType = "video"
)

const maxTagsPerBlock = 2

// Block is one element of the course structure, in structure order.
// Section, Subsection and Unit are the positions of the enclosing chapter, sequential and vertical.
type Block struct {
	Type        BlockType
	ID          string
	Location    string
	DisplayName string
	Order       int64
	Section     int
	Subsection  int
	Unit        int
	Tags        []int
}

// Course is one course run.
type Course struct {
	UUID      string
	Run       int
	ID        string
	URL       string
	Name      string
	Org       Organization
	Bucket    string
	Makeup    xapiload.CourseSizeMakeup
	Start     time.Time
	End       time.Time
	SelfPaced bool

	// Publishes holds strictly increasing publish times inside the course window.
	Publishes []time.Time

	// Structure starts with the course block, followed by every other block in display order.
	Structure []Block

	Chapters    []string
	Sequentials []string
	Verticals   []string
	Problems    []string
	Videos      []string
	ForumPosts  []string

	Enrollments []Enrollment

	publishCount int
}

type courseSpec struct {
	uuid      string
	run       int
	org       Organization
	bucket    string
	makeup    xapiload.CourseSizeMakeup
	start     time.Time
	end       time.Time
	publishes int
}

func newCourse(spec courseSpec) *Course {
	id := fmt.Sprintf("course-v1:%s+%s+%d", spec.org.ID, spec.uuid, spec.run)

	return &Course{
		UUID:   spec.uuid,
		Run:    spec.run,
		ID:     id,
		URL:    BaseURL + "/course/" + id,
		Name:   fmt.Sprintf("%s (%s)", spec.uuid, spec.bucket),
		Org:    spec.org,
		Bucket: spec.bucket,
		Makeup: spec.makeup,
		Start:  spec.start,
		End:    spec.end,

		publishCount: spec.publishes,
	}
}

// locationKey is the course id without its "course-v1:" prefix, as used inside block locations.
func (c *Course) locationKey() string {
	return strings.TrimPrefix(c.ID, "course-v1:")
}

func (c *Course) blockID(src *Source, blockType BlockType) string {
	return fmt.Sprintf("%s/xblock/block-v1:%s+type@%s+block@%s", BaseURL, c.locationKey(), blockType, src.ShortID(8))
}

// build draws the publish schedule, the block ids and the structure order.
func (c *Course) build(src *Source, tagCount int) {
	c.SelfPaced = src.IntN(2) == 1
	c.Publishes = c.drawPublishes(src, c.publishCount)

	c.Chapters = c.drawBlockIDs(src, BlockChapter, c.Makeup.Chapters)
	c.Sequentials = c.drawBlockIDs(src, BlockSequential, c.Makeup.Sequences)
	c.Verticals = c.drawBlockIDs(src, BlockVertical, c.Makeup.Verticals)
	c.Problems = c.drawBlockIDs(src, BlockProblem, c.Makeup.Problems)
	c.Videos = c.drawBlockIDs(src, BlockVideo, c.Makeup.Videos)

	c.ForumPosts = make([]string, c.Makeup.ForumPosts)
	for i := range c.ForumPosts {
		c.ForumPosts[i] = fmt.Sprintf("%s/api/discussion/v1/threads/%s", BaseURL, src.ShortID(8))
	}

	c.Structure = c.arrangeStructure(src)

	if tagCount > 0 {
		for i := range c.Structure {
			for range src.IntN(maxTagsPerBlock + 1) {
				c.Structure[i].Tags = append(c.Structure[i].Tags, src.IntN(tagCount))
			}
		}
	}
}

func (c *Course) drawBlockIDs(src *Source, blockType BlockType, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = c.blockID(src, blockType)
	}

	return ids
}

// drawPublishes splits the course window into n equal slots and draws one time per slot,
// which makes the sequence strictly increasing.
func (c *Course) drawPublishes(src *Source, n int) []time.Time {
	if n == 0 {
		return nil
	}

	slot := c.End.Sub(c.Start) / time.Duration(n)
	publishes := make([]time.Time, n)

	for i := range publishes {
		slotStart := c.Start.Add(time.Duration(i) * slot)
		publishes[i] = slotStart.Add(time.Duration(src.Int64N(max(int64(slot), 1))))
	}

	return publishes
}

// arrangeStructure orders the blocks the way the course outline shows them: the course block,
// chapters, sequentials placed after the first chapter, verticals likewise, and leaf blocks
// (videos, then problems) placed after the first vertical. Display counters run across all types.
func (c *Course) arrangeStructure(src *Source) []Block {
	counter := int64(0)
	next := func(blockType BlockType, id string) Block {
		counter++
		return Block{
			Type:        blockType,
			ID:          id,
			Location:    id[strings.Index(id, "/xblock/")+len("/xblock/"):],
			DisplayName: fmt.Sprintf("%s %d", titleOf(blockType), counter),
			Order:       counter,
		}
	}

	leaves := make([]Block, 0, len(c.Videos)+len(c.Problems))
	for _, id := range c.Videos {
		leaves = append(leaves, next(BlockVideo, id))
	}
	for _, id := range c.Problems {
		leaves = append(leaves, next(BlockProblem, id))
	}

	structure := []Block{{
		Type:        BlockCourse,
		ID:          c.URL,
		Location:    fmt.Sprintf("block-v1:%s+type@course+block@course", c.locationKey()),
		DisplayName: "Course " + c.UUID[:5],
		Order:       1,
	}}

	for _, id := range c.Chapters {
		structure = append(structure, next(BlockChapter, id))
	}
	for _, id := range c.Sequentials {
		structure = insertFrom(src, structure, 2, next(BlockSequential, id))
	}
	for _, id := range c.Verticals {
		structure = insertFrom(src, structure, 2, next(BlockVertical, id))
	}
	for _, leaf := range leaves {
		structure = insertFrom(src, structure, 4, leaf)
	}

	section, subsection, unit := 0, 0, 0
	for i := range structure {
		switch structure[i].Type {
		case BlockChapter:
			section++
			subsection, unit = 0, 0
		case BlockSequential:
			subsection++
			unit = 0
		case BlockVertical:
			unit++
		}

		structure[i].Section, structure[i].Subsection, structure[i].Unit = section, subsection, unit
	}

	return structure
}

// insertFrom inserts block at a uniformly drawn index in [lowest, len(blocks)].
func insertFrom(src *Source, blocks []Block, lowest int, block Block) []Block {
	lowest = min(lowest, len(blocks))
	at := lowest + src.IntN(len(blocks)-lowest+1)

	return slices.Insert(blocks, at, block)
}

func titleOf(blockType BlockType) string {
	name := string(blockType)
	return strings.ToUpper(name[:1]) + name[1:]
}

// enroll enrolls every actor of the pool at a time drawn from the course window.
func (c *Course) enroll(src *Source, pool []*Actor) {
	c.Enrollments = make([]Enrollment, len(pool))
	for i, actor := range pool {
		c.Enrollments[i] = Enrollment{Actor: actor, Time: src.TimeBetween(c.Start, c.End)}
	}
}

// PublishesBefore counts the publishes at or before t.
func (c *Course) PublishesBefore(t time.Time) int {
	n, _ := slices.BinarySearchFunc(c.Publishes, t, func(p, target time.Time) int {
		if p.After(target) {
			return 1
		}
		return -1
	})

	return n
}

// Visible returns the prefix of ids that is published at time t. With P publishes, the structure
// before the first publish shows 1/(P+1) of each list and every publish unlocks another share,
// so the last publish reveals everything. A course without publishes is fully visible.
func (c *Course) Visible(ids []string, t time.Time) []string {
	total := len(c.Publishes)
	if total == 0 || len(ids) == 0 {
		return ids
	}

	shares := 1 + c.PublishesBefore(t)
	n := (len(ids)*shares + total) / (total + 1)

	return ids[:max(n, 1)]
}

// NavItems is the number of navigable items used for navigation start and end points.
func (c *Course) NavItems() int {
	m := c.Makeup
	return m.Videos + m.Problems + m.Verticals + m.Sequences + m.Chapters + m.ForumPosts
}

// StructureOf returns the blocks of the given type in structure order.
func (c *Course) StructureOf(blockType BlockType) []Block {
	var blocks []Block
	for _, block := range c.Structure {
		if block.Type == blockType {
			blocks = append(blocks, block)
		}
	}

	return blocks
}
