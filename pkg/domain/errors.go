package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// dataIntegrity marks errors that indicate a seeding or programming defect.
// Retrying the same inputs reproduces them.
type dataIntegrity interface {
	error
	dataIntegrity()
}

// IsDataIntegrity reports whether err (or anything it wraps) is a data integrity error.
func IsDataIntegrity(err error) bool {
	var target dataIntegrity
	return errors.As(err, &target)
}

// UnknownTraitError is returned when a trait id is not present in the registry.
type UnknownTraitError struct {
	TraitID int
}

func (e UnknownTraitError) Error() string {
	return fmt.Sprintf("unknown trait %d", e.TraitID)
}

func (UnknownTraitError) dataIntegrity() {}

// DragonNotFoundError is returned when a dragon or its genotype cannot be loaded.
type DragonNotFoundError struct {
	DragonID string
}

func (e DragonNotFoundError) Error() string {
	return fmt.Sprintf("dragon %s not found", e.DragonID)
}

// DuplicateGenotypeError is returned on a second genotype write for the same dragon.
type DuplicateGenotypeError struct {
	DragonID string
}

func (e DuplicateGenotypeError) Error() string {
	return fmt.Sprintf("dragon %s already has a genotype", e.DragonID)
}

func (DuplicateGenotypeError) dataIntegrity() {}

// IncompleteGenotypeError is returned when a genotype does not cover every
// registry trait exactly once.
type IncompleteGenotypeError struct {
	DragonID string
	Missing  []int
}

func (e IncompleteGenotypeError) Error() string {
	missing := make([]string, 0, len(e.Missing))
	for _, id := range e.Missing {
		missing = append(missing, strconv.Itoa(id))
	}
	return fmt.Sprintf("incomplete genotype for dragon %s: missing traits %s", e.DragonID, strings.Join(missing, ","))
}

func (IncompleteGenotypeError) dataIntegrity() {}

// InvalidAlleleError is returned when an allele symbol is neither the dominant
// nor the recessive symbol of its trait.
type InvalidAlleleError struct {
	TraitID int
	Allele  Allele
}

func (e InvalidAlleleError) Error() string {
	return fmt.Sprintf("allele %q is not valid for trait %d", e.Allele, e.TraitID)
}

func (InvalidAlleleError) dataIntegrity() {}

// InvalidTransitionError is returned when a breeding request is asked to move
// along an edge its lifecycle does not allow.
type InvalidTransitionError struct {
	RequestID string
	From      RequestStatus
	To        RequestStatus
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("breeding request %s cannot move from %s to %s", e.RequestID, e.From, e.To)
}

func (InvalidTransitionError) dataIntegrity() {}

// GenotypeMismatchError is returned when two parent genotypes cover different trait sets.
type GenotypeMismatchError struct {
	OnlyInA []int
	OnlyInB []int
}

func (e GenotypeMismatchError) Error() string {
	return fmt.Sprintf("parent genotypes cover different traits (only in A: %v, only in B: %v)", e.OnlyInA, e.OnlyInB)
}

func (GenotypeMismatchError) dataIntegrity() {}
