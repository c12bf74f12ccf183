package sequencer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/corpus"
)

const externalIDTypeXAPI = "xapi"

// Seed emits the metadata of the corpus followed by one registration statement per enrollment.
// Rows are emitted kind by kind: taxonomies, tags, course overviews, course blocks, object tags,
// external ids and enrollments.
func (s *Sequencer) Seed(emit Emit) error {
	src := corpus.NewSource(s.cfg.Seed, corpus.StreamSeed)

	for _, taxonomy := range s.corpus.Taxonomies {
		if err := emit(xapiload.RowKindTaxonomy, taxonomy); err != nil {
			return err
		}
	}

	for _, tag := range s.corpus.Tags {
		if err := emit(xapiload.RowKindTag, tag); err != nil {
			return err
		}
	}

	dumps := s.planDumps(src)

	for _, d := range dumps {
		overview, err := courseOverview(d)
		if err != nil {
			return err
		}
		if err := emit(xapiload.RowKindCourseOverview, overview); err != nil {
			return err
		}
	}

	for _, d := range dumps {
		for _, block := range d.blocks {
			row, err := courseBlock(d, block)
			if err != nil {
				return err
			}
			if err := emit(xapiload.RowKindCourseBlock, row); err != nil {
				return err
			}
		}
	}

	objectTagID := int64(0)
	for _, d := range dumps {
		for _, block := range d.blocks {
			for _, tagIndex := range block.Tags {
				tag := s.corpus.Tags[tagIndex]
				objectTagID++
				row := xapiload.ObjectTag{
					ID:         objectTagID,
					ObjectID:   block.Location,
					TaxonomyID: tag.TaxonomyID,
					Value:      tag.Value,
					ExportID:   tag.ExternalID,
					Lineage:    tag.Lineage,
					DumpID:     d.id,
					DumpTime:   d.at,
				}
				if err := emit(xapiload.RowKindObjectTag, row); err != nil {
					return err
				}
			}
		}
	}

	for _, actor := range s.corpus.Actors {
		row := xapiload.ExternalID{
			ExternalUserID: actor.ID,
			Type:           externalIDTypeXAPI,
			Username:       actor.Username,
			UserID:         actor.UserID,
			DumpID:         src.UUID(),
			DumpTime:       s.cfg.StartDate.Time,
		}
		if err := emit(xapiload.RowKindExternalID, row); err != nil {
			return err
		}
	}

	for _, course := range s.corpus.Courses {
		for _, enrollment := range course.Enrollments {
			row, err := buildEnrollment(src, course, enrollment)
			if err != nil {
				return err
			}
			if err := emit(xapiload.RowKindEnrollment, row); err != nil {
				return err
			}
		}
	}

	return nil
}

// dump is one published snapshot of a course and the blocks visible in it.
type dump struct {
	course *corpus.Course
	id     uuid.UUID
	at     time.Time
	blocks []corpus.Block
}

// planDumps returns one snapshot per publish, or a single snapshot at course start for a course
// that is never published. Each snapshot holds the blocks published by then.
func (s *Sequencer) planDumps(src *corpus.Source) []dump {
	var dumps []dump

	for _, course := range s.corpus.Courses {
		times := course.Publishes
		if len(times) == 0 {
			times = []time.Time{course.Start}
		}

		for _, at := range times {
			dumps = append(dumps, dump{
				course: course,
				id:     src.UUID(),
				at:     at,
				blocks: visibleBlocks(course, at),
			})
		}
	}

	return dumps
}

func visibleBlocks(course *corpus.Course, at time.Time) []corpus.Block {
	visible := make(map[string]struct{})
	for _, ids := range [][]string{course.Chapters, course.Sequentials, course.Verticals, course.Problems, course.Videos} {
		for _, id := range course.Visible(ids, at) {
			visible[id] = struct{}{}
		}
	}

	blocks := make([]corpus.Block, 0, len(course.Structure))
	for _, block := range course.Structure {
		if _, ok := visible[block.ID]; ok || block.Type == corpus.BlockCourse {
			blocks = append(blocks, block)
		}
	}

	return blocks
}

func courseOverview(d dump) (xapiload.CourseOverview, error) {
	course := d.course
	data, err := statementJSON.MarshalToString(map[string]any{
		"bucket":     course.Bucket,
		"org":        course.Org.ID,
		"run":        course.Run,
		"self_paced": course.SelfPaced,
		"uuid":       course.UUID,
	})
	if err != nil {
		return xapiload.CourseOverview{}, fmt.Errorf("encoding course data of %s: %w", course.ID, err)
	}

	return xapiload.CourseOverview{
		Org:             course.Org.ID,
		CourseKey:       course.ID,
		DisplayName:     course.Name,
		CourseStart:     course.Start,
		CourseEnd:       course.End,
		EnrollmentStart: course.Start,
		EnrollmentEnd:   course.End,
		SelfPaced:       course.SelfPaced,
		CourseDataJSON:  data,
		Created:         course.Start,
		Modified:        d.at,
		DumpID:          d.id,
		DumpTime:        d.at,
	}, nil
}

func courseBlock(d dump, block corpus.Block) (xapiload.CourseBlock, error) {
	data, err := statementJSON.MarshalToString(map[string]any{
		"block_type": string(block.Type),
		"section":    block.Section,
		"subsection": block.Subsection,
		"unit":       block.Unit,
	})
	if err != nil {
		return xapiload.CourseBlock{}, fmt.Errorf("encoding block data of %s: %w", block.Location, err)
	}

	return xapiload.CourseBlock{
		Org:            d.course.Org.ID,
		CourseKey:      d.course.ID,
		Location:       block.Location,
		DisplayName:    block.DisplayName,
		XBlockDataJSON: data,
		Order:          block.Order,
		EditedOn:       d.at,
		DumpID:         d.id,
		DumpTime:       d.at,
	}, nil
}
