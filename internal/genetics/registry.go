// Package genetics implements the pure parts of the breeding subsystem: the
// immutable trait registry, single-locus Mendelian crosses, phenotype
// derivation and rarity scoring. Nothing here performs I/O or holds mutable
// state, so every function is safe for concurrent use.
package genetics

import (
	"fmt"
	"sort"
	"strings"

	"dragonfarm/pkg/domain"
)

// Registry is the immutable catalog of trait definitions.
type Registry struct {
	traits []domain.Trait
	byID   map[int]domain.Trait
}

// NewRegistry validates and indexes the provided traits.
func NewRegistry(traits []domain.Trait) (*Registry, error) {
	r := &Registry{
		traits: make([]domain.Trait, 0, len(traits)),
		byID:   make(map[int]domain.Trait, len(traits)),
	}
	names := make(map[string]int, len(traits))
	for _, t := range traits {
		if strings.TrimSpace(t.Name) == "" {
			return nil, fmt.Errorf("trait %d: name is required", t.ID)
		}
		if t.DominantAllele == "" || t.RecessiveAllele == "" {
			return nil, fmt.Errorf("trait %s: both allele symbols are required", t.Name)
		}
		if t.DominantAllele == t.RecessiveAllele {
			return nil, fmt.Errorf("trait %s: dominant and recessive symbols must differ", t.Name)
		}
		if _, dup := r.byID[t.ID]; dup {
			return nil, fmt.Errorf("trait id %d registered twice", t.ID)
		}
		key := strings.ToLower(t.Name)
		if other, dup := names[key]; dup {
			return nil, fmt.Errorf("trait name %q used by traits %d and %d", t.Name, other, t.ID)
		}
		names[key] = t.ID
		r.byID[t.ID] = t
		r.traits = append(r.traits, t)
	}
	sort.Slice(r.traits, func(i, j int) bool { return r.traits[i].ID < r.traits[j].ID })
	return r, nil
}

// AllTraits returns the registered traits ordered by id.
func (r *Registry) AllTraits() []domain.Trait {
	return append([]domain.Trait(nil), r.traits...)
}

// Len returns the number of registered traits.
func (r *Registry) Len() int { return len(r.traits) }

// Trait looks up a trait by id.
func (r *Registry) Trait(id int) (domain.Trait, error) {
	t, ok := r.byID[id]
	if !ok {
		return domain.Trait{}, domain.UnknownTraitError{TraitID: id}
	}
	return t, nil
}

// IsValidAllele reports whether symbol is the dominant or recessive symbol of the trait.
func (r *Registry) IsValidAllele(traitID int, symbol domain.Allele) (bool, error) {
	t, err := r.Trait(traitID)
	if err != nil {
		return false, err
	}
	return symbol == t.DominantAllele || symbol == t.RecessiveAllele, nil
}

// ValidateGenotype checks that g covers every registered trait exactly once
// with valid allele symbols. dragonID is only used to annotate errors.
func (r *Registry) ValidateGenotype(dragonID string, g domain.Genotype) error {
	for _, id := range g.TraitIDs() {
		if _, ok := r.byID[id]; !ok {
			return domain.UnknownTraitError{TraitID: id}
		}
	}
	var missing []int
	for _, t := range r.traits {
		if _, ok := g[t.ID]; !ok {
			missing = append(missing, t.ID)
		}
	}
	if len(missing) > 0 {
		return domain.IncompleteGenotypeError{DragonID: dragonID, Missing: missing}
	}
	for _, t := range r.traits {
		pair := g[t.ID]
		for _, symbol := range []domain.Allele{pair.A, pair.B} {
			if symbol != t.DominantAllele && symbol != t.RecessiveAllele {
				return domain.InvalidAlleleError{TraitID: t.ID, Allele: symbol}
			}
		}
	}
	return nil
}

// Phenotype derives the expressed form of every trait in g. A trait is
// dominant when either allele equals the dominant symbol.
func (r *Registry) Phenotype(g domain.Genotype) (domain.Phenotype, error) {
	out := make(domain.Phenotype, len(g))
	for _, id := range g.TraitIDs() {
		t, err := r.Trait(id)
		if err != nil {
			return nil, err
		}
		if g[id].Contains(t.DominantAllele) {
			out[id] = domain.ExpressionDominant
		} else {
			out[id] = domain.ExpressionRecessive
		}
	}
	return out, nil
}
