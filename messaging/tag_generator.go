package messaging

import (
	"math/rand/v2"
	"sync/atomic"

	"github.com/glimte/mmate-relay/contracts"
)

// DefaultTagLimit is the exclusive upper bound of RandomTagGenerator
const DefaultTagLimit = 100_000_000

// TagGenerator produces correlation tags for outgoing requests
type TagGenerator interface {
	NextTag() contracts.Tag
}

// TagGeneratorFunc is a function adapter for TagGenerator
type TagGeneratorFunc func() contracts.Tag

// NextTag implements TagGenerator
func (f TagGeneratorFunc) NextTag() contracts.Tag {
	return f()
}

// SequentialTagGenerator hands out tags from a monotonic counter starting at 1.
// Tags never repeat within the lifetime of the generator.
type SequentialTagGenerator struct {
	next atomic.Int64
}

// NewSequentialTagGenerator creates a sequential generator
func NewSequentialTagGenerator() *SequentialTagGenerator {
	return &SequentialTagGenerator{}
}

// NextTag implements TagGenerator
func (g *SequentialTagGenerator) NextTag() contracts.Tag {
	return contracts.Tag(g.next.Add(1))
}

// RandomTagGenerator draws tags uniformly from [0, limit).
// Collisions with in-flight tags are possible and are rejected by the
// correlation table.
type RandomTagGenerator struct {
	limit int64
}

// NewRandomTagGenerator creates a random generator over [0, limit).
// A non-positive limit selects DefaultTagLimit.
func NewRandomTagGenerator(limit int64) *RandomTagGenerator {
	if limit <= 0 {
		limit = DefaultTagLimit
	}
	return &RandomTagGenerator{limit: limit}
}

// NextTag implements TagGenerator
func (g *RandomTagGenerator) NextTag() contracts.Tag {
	return contracts.Tag(rand.Int64N(g.limit))
}
