package corpus

import (
	"encoding/binary"
	"math/rand/v2"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
)

// Stream separates the independent random streams derived from one seed, so that each phase
// draws the same values no matter which phases ran before it.
type Stream uint64

const (
	StreamCorpus Stream = iota
	StreamSeed
	StreamProfiles
	StreamEvents
)

// Source is a seeded ChaCha8 stream used both for math/rand draws and as the uuid entropy reader.
// A Source is not safe for concurrent use.
type Source struct {
	*rand.Rand
	chacha *rand.ChaCha8
}

// NewSource derives the given stream of the run seed.
func NewSource(seed uint64, stream Stream) *Source {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[0:8], seed)
	binary.LittleEndian.PutUint64(key[8:16], uint64(stream))

	chacha := rand.NewChaCha8(key)

	return &Source{Rand: rand.New(chacha), chacha: chacha}
}

// UUID draws a version 4 UUID from the stream.
func (s *Source) UUID() uuid.UUID {
	return uuid.Must(uuid.NewRandomFromReader(s.chacha))
}

// ShortID returns the first n characters of a drawn UUID.
func (s *Source) ShortID(n int) string {
	return s.UUID().String()[:n]
}

// Faker returns a gofakeit faker seeded from the stream. gofakeit treats seed 0 as "seed from
// crypto/rand", so the derived seed is forced to be odd.
func (s *Source) Faker() *gofakeit.Faker {
	return gofakeit.New(int64(s.Uint64()>>1) | 1)
}

// TimeBetween returns a second-aligned offset uniformly drawn from [start, end).
// It returns start when the range is shorter than one second.
func (s *Source) TimeBetween(start, end time.Time) time.Time {
	seconds := int64(end.Sub(start) / time.Second)
	if seconds <= 0 {
		return start
	}

	return start.Add(time.Duration(s.Int64N(seconds)) * time.Second)
}

// Pick returns a uniformly chosen element of values.
func Pick[T any](s *Source, values []T) T {
	return values[s.IntN(len(values))]
}
