package core

import (
	"context"
	"fmt"

	"dragonfarm/pkg/domain"
)

// RequestLifecycleRule blocks illegal breeding request transitions and
// incomplete terminal records.
func RequestLifecycleRule() domain.Rule {
	return requestLifecycleRule{}
}

type requestLifecycleRule struct{}

func (requestLifecycleRule) Name() string { return "request_lifecycle" }

func (requestLifecycleRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityBreedingRequest {
			continue
		}
		after, ok := change.After.(domain.BreedingRequest)
		if !ok {
			continue
		}
		if !after.Status.Valid() {
			res.Violations = append(res.Violations, lifecycleViolation(after.ID, fmt.Sprintf("breeding request %s is set to invalid state %s", after.ID, after.Status)))
			continue
		}

		switch change.Action {
		case domain.ActionCreate:
			if after.Status != domain.RequestQueued {
				res.Violations = append(res.Violations, lifecycleViolation(after.ID, fmt.Sprintf("breeding request %s must start queued, got %s", after.ID, after.Status)))
			}
		case domain.ActionUpdate:
			before, ok := change.Before.(domain.BreedingRequest)
			if !ok {
				continue
			}
			if before.Status.Terminal() {
				res.Violations = append(res.Violations, lifecycleViolation(after.ID, fmt.Sprintf("breeding request %s is terminal (%s) and cannot change", after.ID, before.Status)))
				continue
			}
			if before.Status != after.Status && !before.Status.CanTransition(after.Status) {
				res.Violations = append(res.Violations, lifecycleViolation(after.ID, fmt.Sprintf("cannot move breeding request %s from %s to %s", after.ID, before.Status, after.Status)))
				continue
			}
		}

		switch after.Status {
		case domain.RequestCompleted:
			if after.OffspringID == nil {
				res.Violations = append(res.Violations, lifecycleViolation(after.ID, fmt.Sprintf("completed breeding request %s has no offspring", after.ID)))
			} else if _, ok := view.FindDragon(*after.OffspringID); !ok {
				res.Violations = append(res.Violations, lifecycleViolation(after.ID, fmt.Sprintf("completed breeding request %s references missing offspring %s", after.ID, *after.OffspringID)))
			}
		case domain.RequestFailed:
			if after.FailureReason == "" {
				res.Violations = append(res.Violations, lifecycleViolation(after.ID, fmt.Sprintf("failed breeding request %s has no reason", after.ID)))
			}
		}
	}
	return res, nil
}

func lifecycleViolation(id, message string) domain.Violation {
	return domain.Violation{
		Rule:     "request_lifecycle",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityBreedingRequest,
		EntityID: id,
	}
}
