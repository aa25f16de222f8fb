package core

import (
	"context"
	"fmt"

	"dragonfarm/internal/genetics"
	"dragonfarm/pkg/domain"
)

// GenotypeCoverageRule blocks commits that would leave a dragon without a
// complete, valid genotype, or a genotype without its dragon.
func GenotypeCoverageRule(registry *genetics.Registry) domain.Rule {
	return genotypeCoverageRule{registry: registry}
}

type genotypeCoverageRule struct {
	registry *genetics.Registry
}

func (genotypeCoverageRule) Name() string { return "genotype_coverage" }

func (r genotypeCoverageRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Action != domain.ActionCreate {
			continue
		}
		switch change.Entity {
		case domain.EntityDragon:
			dragon, ok := change.After.(domain.Dragon)
			if !ok {
				continue
			}
			if _, ok := view.FindGenotype(dragon.ID); !ok {
				res.Violations = append(res.Violations, coverageViolation(domain.EntityDragon, dragon.ID,
					fmt.Sprintf("dragon %s committed without a genotype", dragon.ID)))
			}
		case domain.EntityGenotype:
			record, ok := change.After.(domain.GenotypeRecord)
			if !ok {
				continue
			}
			if _, ok := view.FindDragon(record.DragonID); !ok {
				res.Violations = append(res.Violations, coverageViolation(domain.EntityGenotype, record.DragonID,
					fmt.Sprintf("genotype references missing dragon %s", record.DragonID)))
				continue
			}
			if r.registry == nil {
				continue
			}
			if err := r.registry.ValidateGenotype(record.DragonID, record.Genotype); err != nil {
				res.Violations = append(res.Violations, coverageViolation(domain.EntityGenotype, record.DragonID, err.Error()))
			}
		}
	}
	return res, nil
}

func coverageViolation(entity domain.EntityType, id, message string) domain.Violation {
	return domain.Violation{
		Rule:     "genotype_coverage",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   entity,
		EntityID: id,
	}
}
