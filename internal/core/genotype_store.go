package core

import (
	"context"

	"dragonfarm/internal/genetics"
	"dragonfarm/pkg/domain"
)

// GenotypeStore is the sole owner of genotype records. Reads go through the
// committed store state; writes happen inside the transaction that creates
// the dragon, and are validated against the trait registry first.
type GenotypeStore struct {
	store    domain.PersistentStore
	registry *genetics.Registry
}

// NewGenotypeStore binds a genotype store to a persistence backend and registry.
func NewGenotypeStore(store domain.PersistentStore, registry *genetics.Registry) *GenotypeStore {
	return &GenotypeStore{store: store, registry: registry}
}

// Get loads the genotype of dragonID, failing with DragonNotFoundError when absent.
func (g *GenotypeStore) Get(ctx context.Context, dragonID string) (domain.Genotype, error) {
	var out domain.Genotype
	err := g.store.View(ctx, func(view domain.TransactionView) error {
		genotype, ok := view.FindGenotype(dragonID)
		if !ok {
			return domain.DragonNotFoundError{DragonID: dragonID}
		}
		out = genotype
		return nil
	})
	return out, err
}

// Put writes the genotype of dragonID within tx. It is write-once: a second
// write fails with DuplicateGenotypeError and leaves the original untouched.
func (g *GenotypeStore) Put(tx domain.Transaction, dragonID string, genotype domain.Genotype) error {
	if _, exists := tx.FindGenotype(dragonID); exists {
		return domain.DuplicateGenotypeError{DragonID: dragonID}
	}
	if err := g.registry.ValidateGenotype(dragonID, genotype); err != nil {
		return err
	}
	return tx.CreateGenotype(dragonID, genotype)
}
