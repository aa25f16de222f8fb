package core

import (
	"context"
	"fmt"

	"dragonfarm/pkg/domain"
)

// LineageIntegrityRule enforces parent/offspring constraints on dragons.
func LineageIntegrityRule() domain.Rule {
	return lineageIntegrityRule{}
}

type lineageIntegrityRule struct{}

func (lineageIntegrityRule) Name() string { return "lineage_integrity" }

func (lineageIntegrityRule) Evaluate(_ context.Context, view domain.TransactionView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}

	dragons := view.ListDragons()
	index := make(map[string]domain.Dragon, len(dragons))
	for _, d := range dragons {
		index[d.ID] = d
	}

	for _, child := range dragons {
		if len(child.ParentIDs) == 0 {
			continue
		}
		if len(child.ParentIDs) > 2 {
			res.Violations = append(res.Violations, lineageViolation(child.ID, fmt.Sprintf("dragon %s lists %d parents", child.ID, len(child.ParentIDs))))
			continue
		}
		seen := make(map[string]struct{}, len(child.ParentIDs))
		sexes := make(map[domain.Sex]int, 2)
		for _, parentID := range child.ParentIDs {
			if parentID == child.ID {
				res.Violations = append(res.Violations, lineageViolation(child.ID, fmt.Sprintf("dragon %s references itself as a parent", child.ID)))
				continue
			}
			if _, dup := seen[parentID]; dup {
				res.Violations = append(res.Violations, lineageViolation(child.ID, fmt.Sprintf("dragon %s lists parent %s multiple times", child.ID, parentID)))
				continue
			}
			seen[parentID] = struct{}{}

			parent, ok := index[parentID]
			if !ok {
				res.Violations = append(res.Violations, lineageViolation(child.ID, fmt.Sprintf("dragon %s references missing parent %s", child.ID, parentID)))
				continue
			}
			if !parent.HatchedAt.Before(child.HatchedAt) {
				res.Violations = append(res.Violations, lineageViolation(child.ID, fmt.Sprintf("dragon %s hatched before parent %s", child.ID, parentID)))
			}
			sexes[parent.Sex]++
		}
		if sexes[domain.SexMale] > 1 || sexes[domain.SexFemale] > 1 {
			res.Violations = append(res.Violations, lineageViolation(child.ID, fmt.Sprintf("dragon %s has parents of the same sex", child.ID)))
		}
	}
	return res, nil
}

func lineageViolation(entityID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "lineage_integrity",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityDragon,
		EntityID: entityID,
	}
}
