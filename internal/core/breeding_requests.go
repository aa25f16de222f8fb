package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dragonfarm/pkg/domain"
)

var (
	// ErrRequestNotFound is returned when a breeding request id does not resolve.
	ErrRequestNotFound = errors.New("breeding request not found")
	// ErrInvalidRequest wraps caller mistakes: missing parent ids or an unknown status filter.
	ErrInvalidRequest = errors.New("invalid breeding request")
)

// Transition describes a lifecycle move other than completion. When From is
// set the move only applies if the request is currently in that state.
type Transition struct {
	From   domain.RequestStatus
	To     domain.RequestStatus
	Reason domain.FailureReason
	Detail string
}

// Offspring describes the dragon produced by a successful cross.
type Offspring struct {
	Name     string
	Sex      domain.Sex
	Genotype domain.Genotype
}

// CreateBreedingRequest persists a new request in the Queued state.
func (s *Service) CreateBreedingRequest(ctx context.Context, req domain.BreedingRequest) (domain.BreedingRequest, error) {
	var created domain.BreedingRequest
	err := s.run(ctx, "create_breeding_request", func(ctx context.Context) (string, error) {
		if strings.TrimSpace(req.ParentAID) == "" || strings.TrimSpace(req.ParentBID) == "" {
			return req.ID, fmt.Errorf("%w: both parent ids are required", ErrInvalidRequest)
		}
		req.Status = domain.RequestQueued
		req.FailureReason = ""
		req.FailureDetail = ""
		req.OffspringID = nil
		req.CompletedAt = nil
		if req.RequestedAt.IsZero() {
			req.RequestedAt = s.clock.Now()
		}
		if req.RequestedBy == "" {
			req.RequestedBy = ActorFromContext(ctx)
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateBreedingRequest(req)
			return err
		})
		return created.ID, err
	})
	return created, err
}

// TransitionBreedingRequest moves a request along its lifecycle. Completion
// goes through CompleteBreedingRequest so the offspring commits atomically.
func (s *Service) TransitionBreedingRequest(ctx context.Context, id string, t Transition) (domain.BreedingRequest, error) {
	var updated domain.BreedingRequest
	err := s.run(ctx, "transition_breeding_request", func(ctx context.Context) (string, error) {
		if t.To == domain.RequestCompleted {
			return id, fmt.Errorf("use CompleteBreedingRequest to complete request %s", id)
		}
		if t.To == domain.RequestFailed && t.Reason == "" {
			return id, fmt.Errorf("failing request %s requires a reason", id)
		}
		now := s.clock.Now()
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if _, ok := tx.FindBreedingRequest(id); !ok {
				return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
			}
			var err error
			updated, err = tx.UpdateBreedingRequest(id, func(r *domain.BreedingRequest) error {
				if t.From != "" && r.Status != t.From {
					return domain.InvalidTransitionError{RequestID: id, From: r.Status, To: t.To}
				}
				if !r.Status.CanTransition(t.To) {
					return domain.InvalidTransitionError{RequestID: id, From: r.Status, To: t.To}
				}
				r.Status = t.To
				if t.To == domain.RequestFailed {
					r.FailureReason = t.Reason
					r.FailureDetail = t.Detail
					r.CompletedAt = &now
				}
				return nil
			})
			return err
		})
		return id, err
	})
	return updated, err
}

// CompleteBreedingRequest hatches the offspring, stores its genotype and marks
// the request Completed in a single transaction. Nothing is visible unless all
// three writes commit.
func (s *Service) CompleteBreedingRequest(ctx context.Context, id string, offspring Offspring) (domain.BreedingRequest, domain.DragonProfile, error) {
	var updated domain.BreedingRequest
	var profile domain.DragonProfile
	err := s.run(ctx, "complete_breeding_request", func(ctx context.Context) (string, error) {
		now := s.clock.Now()
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			req, ok := tx.FindBreedingRequest(id)
			if !ok {
				return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
			}
			if !req.Status.CanTransition(domain.RequestCompleted) {
				return domain.InvalidTransitionError{RequestID: id, From: req.Status, To: domain.RequestCompleted}
			}
			var err error
			profile, err = s.hatch(tx, DragonIntake{
				Name:      offspring.Name,
				Sex:       offspring.Sex,
				HatchedAt: now,
				ParentIDs: req.ParentIDs(),
				Genotype:  offspring.Genotype,
			})
			if err != nil {
				return err
			}
			offspringID := profile.Dragon.ID
			updated, err = tx.UpdateBreedingRequest(id, func(r *domain.BreedingRequest) error {
				r.Status = domain.RequestCompleted
				r.OffspringID = &offspringID
				r.CompletedAt = &now
				return nil
			})
			return err
		})
		return id, err
	})
	return updated, profile, err
}

// GetBreedingRequest loads a request by id.
func (s *Service) GetBreedingRequest(ctx context.Context, id string) (domain.BreedingRequest, error) {
	var out domain.BreedingRequest
	err := s.run(ctx, "get_breeding_request", func(context.Context) (string, error) {
		req, ok := s.store.GetBreedingRequest(id)
		if !ok {
			return id, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
		}
		out = req
		return id, nil
	})
	return out, err
}

// ListBreedingRequests returns requests ordered by submission time, optionally
// restricted to the given statuses.
func (s *Service) ListBreedingRequests(ctx context.Context, statuses ...domain.RequestStatus) ([]domain.BreedingRequest, error) {
	var out []domain.BreedingRequest
	err := s.run(ctx, "list_breeding_requests", func(context.Context) (string, error) {
		all := s.store.ListBreedingRequests()
		if len(statuses) == 0 {
			out = all
			return "", nil
		}
		want := make(map[domain.RequestStatus]struct{}, len(statuses))
		for _, st := range statuses {
			if !st.Valid() {
				return "", fmt.Errorf("%w: unknown request status %q", ErrInvalidRequest, st)
			}
			want[st] = struct{}{}
		}
		out = make([]domain.BreedingRequest, 0, len(all))
		for _, req := range all {
			if _, ok := want[req.Status]; ok {
				out = append(out, req)
			}
		}
		return "", nil
	})
	return out, err
}
