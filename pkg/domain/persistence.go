package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateDragon(Dragon) (Dragon, error)
	FindDragon(id string) (Dragon, bool)
	// CreateGenotype stores the genotype of dragonID. Implementations reject a
	// second write for the same dragon with DuplicateGenotypeError.
	CreateGenotype(dragonID string, genotype Genotype) error
	FindGenotype(dragonID string) (Genotype, bool)
	CreateBreedingRequest(BreedingRequest) (BreedingRequest, error)
	UpdateBreedingRequest(id string, mutator func(*BreedingRequest) error) (BreedingRequest, error)
	FindBreedingRequest(id string) (BreedingRequest, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListDragons() []Dragon
	FindDragon(id string) (Dragon, bool)
	FindGenotype(dragonID string) (Genotype, bool)
	ListBreedingRequests() []BreedingRequest
	FindBreedingRequest(id string) (BreedingRequest, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetDragon(id string) (Dragon, bool)
	ListDragons() []Dragon
	GetGenotype(dragonID string) (Genotype, bool)
	GetBreedingRequest(id string) (BreedingRequest, bool)
	ListBreedingRequests() []BreedingRequest
}
