package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dragonfarm/internal/genetics"
	"dragonfarm/internal/infra/persistence/memory"
	"dragonfarm/pkg/domain"
)

// Service exposes the transactional operations of the breeding subsystem:
// dragon intake and reads, and the persistence side of the breeding request
// lifecycle. Every operation is logged, traced, timed and audited.
type Service struct {
	store     domain.PersistentStore
	registry  *genetics.Registry
	scorer    *genetics.Scorer
	genotypes *GenotypeStore
	profiles  *profileCache

	logger  Logger
	clock   Clock
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
}

// NewService constructs a service backed by the supplied store and trait registry.
func NewService(store domain.PersistentStore, registry *genetics.Registry, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if registry == nil {
		registry, _ = genetics.NewRegistry(nil)
	}
	scorer, _ := genetics.NewScorer(registry, o.rarityWeight)
	return &Service{
		store:     store,
		registry:  registry,
		scorer:    scorer,
		genotypes: NewGenotypeStore(store, registry),
		profiles:  newProfileCache(o.cacheTTL),
		logger:    o.logger,
		clock:     o.clock,
		audit:     o.audit,
		metrics:   o.metrics,
		tracer:    o.tracer,
	}
}

// NewInMemoryService creates a service over a fresh in-memory store using the default rules.
func NewInMemoryService(registry *genetics.Registry, opts ...ServiceOption) *Service {
	store := memory.NewStore(NewDefaultRulesEngine(registry))
	return NewService(store, registry, opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Registry returns the trait registry.
func (s *Service) Registry() *genetics.Registry { return s.registry }

// Scorer returns the rarity scorer.
func (s *Service) Scorer() *genetics.Scorer { return s.scorer }

// Genotypes returns the genotype store.
func (s *Service) Genotypes() *GenotypeStore { return s.genotypes }

// Logger returns the configured logger.
func (s *Service) Logger() Logger { return s.logger }

// Clock returns the configured clock.
func (s *Service) Clock() Clock { return s.clock }

// Traits returns the registered traits ordered by id.
func (s *Service) Traits() []domain.Trait { return s.registry.AllTraits() }

// DragonIntake describes a dragon entering the farm with its genotype.
type DragonIntake struct {
	ID        string
	Name      string
	Sex       domain.Sex
	HatchedAt time.Time
	ParentIDs []string
	Genotype  domain.Genotype
}

// RegisterDragon creates a dragon and its genotype in one transaction. The
// rarity score is always computed from the genotype.
func (s *Service) RegisterDragon(ctx context.Context, intake DragonIntake) (domain.DragonProfile, domain.Result, error) {
	var profile domain.DragonProfile
	var res domain.Result
	err := s.run(ctx, "register_dragon", func(ctx context.Context) (string, error) {
		if strings.TrimSpace(intake.Name) == "" {
			return intake.ID, fmt.Errorf("dragon name is required")
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			profile, err = s.hatch(tx, intake)
			return err
		})
		return profile.Dragon.ID, err
	})
	return profile, res, err
}

// hatch creates the dragon and stores its genotype inside tx.
func (s *Service) hatch(tx domain.Transaction, intake DragonIntake) (domain.DragonProfile, error) {
	if err := s.registry.ValidateGenotype(intake.ID, intake.Genotype); err != nil {
		return domain.DragonProfile{}, err
	}
	score, err := s.scorer.Score(intake.Genotype)
	if err != nil {
		return domain.DragonProfile{}, err
	}
	dragon, err := tx.CreateDragon(domain.Dragon{
		Base:        domain.Base{ID: intake.ID},
		Name:        intake.Name,
		Sex:         intake.Sex,
		HatchedAt:   intake.HatchedAt,
		RarityScore: score,
		ParentIDs:   intake.ParentIDs,
	})
	if err != nil {
		return domain.DragonProfile{}, err
	}
	if err := s.genotypes.Put(tx, dragon.ID, intake.Genotype); err != nil {
		return domain.DragonProfile{}, err
	}
	phenotype, err := s.registry.Phenotype(intake.Genotype)
	if err != nil {
		return domain.DragonProfile{}, err
	}
	return domain.DragonProfile{Dragon: dragon, Genotype: intake.Genotype.Clone(), Phenotype: phenotype}, nil
}

// GetDragon returns a dragon joined with its genotype and phenotype.
func (s *Service) GetDragon(ctx context.Context, id string) (domain.DragonProfile, error) {
	var profile domain.DragonProfile
	err := s.run(ctx, "get_dragon", func(ctx context.Context) (string, error) {
		if cached, ok := s.profiles.get(id); ok {
			profile = cached
			return id, nil
		}
		dragon, ok := s.store.GetDragon(id)
		if !ok {
			return id, domain.DragonNotFoundError{DragonID: id}
		}
		genotype, err := s.genotypes.Get(ctx, id)
		if err != nil {
			return id, err
		}
		phenotype, err := s.registry.Phenotype(genotype)
		if err != nil {
			return id, err
		}
		if dragon.RarityScore, err = s.scorer.Score(genotype); err != nil {
			return id, err
		}
		profile = domain.DragonProfile{Dragon: dragon, Genotype: genotype, Phenotype: phenotype}
		s.profiles.put(profile)
		return id, nil
	})
	return profile, err
}

// ListDragons returns every dragon ordered by hatch time, then id.
func (s *Service) ListDragons(ctx context.Context) ([]domain.Dragon, error) {
	var out []domain.Dragon
	err := s.run(ctx, "list_dragons", func(ctx context.Context) (string, error) {
		return "", s.store.View(ctx, func(view domain.TransactionView) error {
			out = view.ListDragons()
			for i := range out {
				genotype, ok := view.FindGenotype(out[i].ID)
				if !ok {
					return domain.DragonNotFoundError{DragonID: out[i].ID}
				}
				score, err := s.scorer.Score(genotype)
				if err != nil {
					return err
				}
				out[i].RarityScore = score
			}
			return nil
		})
	})
	return out, err
}

// Phenotype derives the expressed traits of a dragon.
func (s *Service) Phenotype(ctx context.Context, id string) (domain.Phenotype, error) {
	profile, err := s.GetDragon(ctx, id)
	if err != nil {
		return nil, err
	}
	return profile.Phenotype, nil
}

type operationMeta struct {
	entity domain.EntityType
	action domain.Action
}

// Only mutating operations are audited.
var auditedOperations = map[string]operationMeta{
	"register_dragon":             {entity: domain.EntityDragon, action: domain.ActionCreate},
	"create_breeding_request":     {entity: domain.EntityBreedingRequest, action: domain.ActionCreate},
	"transition_breeding_request": {entity: domain.EntityBreedingRequest, action: domain.ActionUpdate},
	"complete_breeding_request":   {entity: domain.EntityBreedingRequest, action: domain.ActionUpdate},
}

func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (string, error)) error {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	entityID, err := fn(ctx)
	duration := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		level := s.logger.Warn
		var violation domain.RuleViolationError
		if domain.IsDataIntegrity(err) && !errors.As(err, &violation) {
			level = s.logger.Error
		}
		level("operation failed", "operation", op, "entity_id", entityID, "error", err)
		s.recordAuditError(ctx, op, entityID, duration, err)
		return err
	}
	s.logger.Debug("operation completed", "operation", op, "entity_id", entityID, "duration", duration)
	s.recordAuditSuccess(ctx, op, entityID, duration)
	return nil
}

func (s *Service) recordAuditSuccess(ctx context.Context, op, entityID string, duration time.Duration) {
	s.recordAudit(ctx, op, entityID, duration, AuditStatusSuccess, "")
}

func (s *Service) recordAuditError(ctx context.Context, op, entityID string, duration time.Duration, err error) {
	s.recordAudit(ctx, op, entityID, duration, AuditStatusError, err.Error())
}

func (s *Service) recordAudit(ctx context.Context, op, entityID string, duration time.Duration, status AuditStatus, errMsg string) {
	meta, ok := auditedOperations[op]
	if !ok {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Actor:     ActorFromContext(ctx),
		Status:    status,
		Error:     errMsg,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	})
}

type actorKey struct{}

// WithActor returns a context carrying the identity performing an operation.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext extracts the actor set by WithActor, or "".
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}
