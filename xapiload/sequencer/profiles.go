package sequencer

import (
	"time"

	"github.com/AntonStoeckl/xapi-db-load-go/xapiload"
	"github.com/AntonStoeckl/xapi-db-load-go/xapiload/corpus"
)

var (
	profileGenders           = []string{"", "m", "f", "o"}
	profileLevelsOfEducation = []string{"", "p", "m", "b", "none", "other"}
	profileCountries         = []string{"", "US", "CO", "AU", "IN", "PK"}
)

// Profiles emits num_actor_profile_changes snapshots per actor. The configured date range is cut
// into one slot per change and every snapshot lands at a random offset inside its slot, so the
// timestamps of one actor strictly increase. Snapshots are emitted round by round.
func (s *Sequencer) Profiles(emit Emit) error {
	src := corpus.NewSource(s.cfg.Seed, corpus.StreamProfiles)
	faker := src.Faker()

	changes := s.cfg.NumActorProfileChanges
	if changes == 0 || len(s.corpus.Actors) == 0 {
		return nil
	}

	start := s.cfg.StartDate.Time
	slot := s.cfg.EndDate.Sub(start) / time.Duration(changes)
	id := int64(0)

	for round := range changes {
		slotStart := start.Add(time.Duration(round) * slot)

		for _, actor := range s.corpus.Actors {
			id++
			at := slotStart.Add(time.Duration(src.Int64N(max(int64(slot), 1))))

			profile := xapiload.UserProfile{
				ID:                     id,
				UserID:                 actor.UserID,
				Name:                   actor.Name,
				Username:               actor.Username,
				Email:                  actor.Email,
				Meta:                   "{}",
				Courseware:             "course.xml",
				Language:               faker.LanguageAbbreviation(),
				Location:               faker.City(),
				YearOfBirth:            actor.YearOfBirth,
				Gender:                 corpus.Pick(src, profileGenders),
				LevelOfEducation:       corpus.Pick(src, profileLevelsOfEducation),
				MailingAddress:         faker.Street(),
				City:                   faker.City(),
				Country:                corpus.Pick(src, profileCountries),
				State:                  faker.State(),
				Goals:                  faker.Sentence(6),
				Bio:                    faker.Sentence(12),
				ProfileImageUploadedAt: "",
				PhoneNumber:            faker.Phone(),
				DumpID:                 src.UUID(),
				DumpTime:               at,
			}

			if err := emit(xapiload.RowKindUserProfile, profile); err != nil {
				return err
			}
		}
	}

	return nil
}
