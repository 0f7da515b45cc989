package comfy

import "math/rand/v2"

// Sampler seeds are drawn uniformly from [MinSeed, MaxSeed].
const (
	MinSeed int64 = 1
	MaxSeed int64 = 1_000_000_000
)

// SeedSource supplies the sampler seed for each workflow.
type SeedSource interface {
	Seed() int64
}

// RandomSeeds draws seeds from a *rand.Rand. It is not safe for concurrent use.
type RandomSeeds struct {
	r *rand.Rand
}

var _ SeedSource = (*RandomSeeds)(nil)

// NewRandomSeeds returns a seed source backed by r, or by a randomly seeded PCG if r is nil.
func NewRandomSeeds(r *rand.Rand) *RandomSeeds {
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &RandomSeeds{r: r}
}

func (s *RandomSeeds) Seed() int64 {
	return MinSeed + s.r.Int64N(MaxSeed-MinSeed+1)
}

// FixedSeed always returns the same seed.
type FixedSeed int64

func (f FixedSeed) Seed() int64 {
	return int64(f)
}
