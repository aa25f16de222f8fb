package genetics

import (
	"fmt"

	"dragonfarm/pkg/domain"
)

// DefaultRarityWeight is the per-trait contribution of a recessive-homozygous pair.
const DefaultRarityWeight = 1.0

// Scorer computes rarity scores. The zero value is not usable; build one with NewScorer.
type Scorer struct {
	registry *Registry
	weight   float64
}

// NewScorer returns a scorer bound to registry. A non-positive weight falls back
// to DefaultRarityWeight.
func NewScorer(registry *Registry, weight float64) (*Scorer, error) {
	if registry == nil {
		return nil, fmt.Errorf("scorer requires a trait registry")
	}
	if weight <= 0 {
		weight = DefaultRarityWeight
	}
	return &Scorer{registry: registry, weight: weight}, nil
}

// Weight returns the configured per-trait weight.
func (s *Scorer) Weight() float64 { return s.weight }

// Score sums the weight of every recessive-homozygous trait in g and divides
// by the number of traits in g. An empty genotype scores 0.
func (s *Scorer) Score(g domain.Genotype) (float64, error) {
	if len(g) == 0 {
		return 0, nil
	}
	var total float64
	for _, id := range g.TraitIDs() {
		t, err := s.registry.Trait(id)
		if err != nil {
			return 0, err
		}
		pair := g[id]
		if pair.Homozygous() && pair.A == t.RecessiveAllele {
			total += s.weight
		}
	}
	return total / float64(len(g)), nil
}
