package breeding

import (
	"context"
	"errors"
	"fmt"

	"dragonfarm/internal/core"
	"dragonfarm/internal/genetics"
	"dragonfarm/pkg/domain"
)

// ErrIncompatibleParents is returned by PreviewCross when the parents are not one male and one female.
var ErrIncompatibleParents = errors.New("parents must be one male and one female")

// Preview is the offspring a cross would produce. Nothing is persisted.
type Preview struct {
	ParentAID   string           `json:"parent_a_id"`
	ParentBID   string           `json:"parent_b_id"`
	Seed        int64            `json:"seed"`
	Sex         domain.Sex       `json:"sex"`
	Genotype    domain.Genotype  `json:"genotype"`
	Phenotype   domain.Phenotype `json:"phenotype"`
	RarityScore float64          `json:"rarity_score"`
}

// PreviewCross replays a cross with the same rules the coordinator applies, so
// a completed request can be reproduced from its parents and seed.
func PreviewCross(ctx context.Context, svc *core.Service, parentAID, parentBID string, seed int64) (Preview, error) {
	a, err := svc.GetDragon(ctx, parentAID)
	if err != nil {
		return Preview{}, err
	}
	b, err := svc.GetDragon(ctx, parentBID)
	if err != nil {
		return Preview{}, err
	}
	if parentAID == parentBID || a.Dragon.Sex == b.Dragon.Sex {
		return Preview{}, fmt.Errorf("%w: %s and %s", ErrIncompatibleParents, parentAID, parentBID)
	}
	genotype, err := genetics.Breed(a.Genotype, b.Genotype, seed)
	if err != nil {
		return Preview{}, err
	}
	phenotype, err := svc.Registry().Phenotype(genotype)
	if err != nil {
		return Preview{}, err
	}
	score, err := svc.Scorer().Score(genotype)
	if err != nil {
		return Preview{}, err
	}
	return Preview{
		ParentAID:   parentAID,
		ParentBID:   parentBID,
		Seed:        seed,
		Sex:         genetics.OffspringSex(seed),
		Genotype:    genotype,
		Phenotype:   phenotype,
		RarityScore: score,
	}, nil
}
