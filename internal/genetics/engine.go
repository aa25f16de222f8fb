package genetics

import (
	"math/rand/v2"

	"dragonfarm/pkg/domain"
)

// Breed performs an independent per-trait cross. For each trait, in ascending
// trait id order, the offspring's A allele is drawn uniformly from parent a's
// pair and its B allele uniformly from parent b's pair. The same inputs and
// seed always produce the same offspring.
func Breed(a, b domain.Genotype, seed int64) (domain.Genotype, error) {
	if err := sameTraits(a, b); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(uint64(seed), 0))
	out := make(domain.Genotype, len(a))
	for _, id := range a.TraitIDs() {
		out[id] = domain.AllelePair{
			A: pick(rng, a[id]),
			B: pick(rng, b[id]),
		}
	}
	return out, nil
}

func pick(rng *rand.Rand, pair domain.AllelePair) domain.Allele {
	if rng.IntN(2) == 0 {
		return pair.A
	}
	return pair.B
}

func sameTraits(a, b domain.Genotype) error {
	var onlyA, onlyB []int
	for _, id := range a.TraitIDs() {
		if _, ok := b[id]; !ok {
			onlyA = append(onlyA, id)
		}
	}
	for _, id := range b.TraitIDs() {
		if _, ok := a[id]; !ok {
			onlyB = append(onlyB, id)
		}
	}
	if len(onlyA) > 0 || len(onlyB) > 0 {
		return domain.GenotypeMismatchError{OnlyInA: onlyA, OnlyInB: onlyB}
	}
	return nil
}

// OffspringSex draws the offspring's sex from a stream independent of the
// allele draws so adding traits never changes the outcome.
func OffspringSex(seed int64) domain.Sex {
	rng := rand.New(rand.NewPCG(uint64(seed), 1))
	if rng.IntN(2) == 0 {
		return domain.SexMale
	}
	return domain.SexFemale
}
