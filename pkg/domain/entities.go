// Package domain defines the persistent entities, value types, and rule
// evaluation primitives shared by the dragon farm breeding engine.
package domain

import (
	"sort"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityDragon identifies an individual dragon record.
	EntityDragon EntityType = "dragon"
	// EntityGenotype identifies the write-once genotype owned by a dragon.
	EntityGenotype EntityType = "genotype"
	// EntityBreedingRequest identifies a breeding request audit record.
	EntityBreedingRequest EntityType = "breeding_request"
)

// Allele is the symbol of one variant of a trait (for example "R" or "r").
type Allele string

// Trait describes a single-locus characteristic with a dominant and a recessive allele.
type Trait struct {
	ID              int    `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	DominantAllele  Allele `json:"dominant_allele" yaml:"dominant"`
	RecessiveAllele Allele `json:"recessive_allele" yaml:"recessive"`
}

// AllelePair is the unordered pair of alleles a dragon carries for one trait.
type AllelePair struct {
	A Allele `json:"a" yaml:"a"`
	B Allele `json:"b" yaml:"b"`
}

// Homozygous reports whether both alleles are identical.
func (p AllelePair) Homozygous() bool { return p.A == p.B }

// Contains reports whether either allele equals symbol.
func (p AllelePair) Contains(symbol Allele) bool { return p.A == symbol || p.B == symbol }

// Genotype maps trait ids to the allele pair carried for that trait.
type Genotype map[int]AllelePair

// TraitIDs returns the trait ids covered by the genotype in ascending order.
func (g Genotype) TraitIDs() []int {
	ids := make([]int, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Clone returns an independent copy of the genotype.
func (g Genotype) Clone() Genotype {
	if g == nil {
		return nil
	}
	out := make(Genotype, len(g))
	for id, pair := range g {
		out[id] = pair
	}
	return out
}

// GenotypeRecord is the payload recorded in Change entries for genotype writes.
type GenotypeRecord struct {
	DragonID string   `json:"dragon_id"`
	Genotype Genotype `json:"genotype"`
}

// Sex is the biological sex of a dragon.
type Sex string

// Supported dragon sexes; breeding requires one of each.
const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
)

// Valid reports whether s is a recognised sex.
func (s Sex) Valid() bool { return s == SexMale || s == SexFemale }

// Base contains common fields for persisted records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Dragon is an individual animal on the farm. RarityScore is derived from the
// genotype held by the genotype store and is never set from caller input.
type Dragon struct {
	Base
	Name        string    `json:"name"`
	Sex         Sex       `json:"sex"`
	HatchedAt   time.Time `json:"hatched_at"`
	RarityScore float64   `json:"rarity_score"`
	ParentIDs   []string  `json:"parent_ids,omitempty"`
}

// Expression is the expressed (phenotypic) form of a trait.
type Expression string

// Trait expressions derived by the dominance rule.
const (
	ExpressionDominant  Expression = "dominant"
	ExpressionRecessive Expression = "recessive"
)

// Phenotype maps trait ids to their expressed form.
type Phenotype map[int]Expression

// DragonProfile joins a dragon with the genotype owned by the genotype store
// and its derived phenotype.
type DragonProfile struct {
	Dragon    Dragon    `json:"dragon"`
	Genotype  Genotype  `json:"genotype"`
	Phenotype Phenotype `json:"phenotype"`
}

// RequestStatus is the lifecycle state of a breeding request.
type RequestStatus string

// Breeding request lifecycle states.
const (
	RequestQueued     RequestStatus = "queued"
	RequestValidating RequestStatus = "validating"
	RequestBreeding   RequestStatus = "breeding"
	RequestCompleted  RequestStatus = "completed"
	RequestFailed     RequestStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestFailed
}

// InFlight reports whether a request in state s holds parent reservations.
func (s RequestStatus) InFlight() bool {
	return s == RequestValidating || s == RequestBreeding
}

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestQueued:     {RequestValidating, RequestFailed},
	RequestValidating: {RequestBreeding, RequestFailed},
	RequestBreeding:   {RequestCompleted, RequestFailed},
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	for _, allowed := range requestTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known lifecycle state.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestQueued, RequestValidating, RequestBreeding, RequestCompleted, RequestFailed:
		return true
	}
	return false
}

// FailureReason explains why a breeding request ended in RequestFailed.
type FailureReason string

// Failure reasons recorded on failed breeding requests.
const (
	FailureParentNotFound   FailureReason = "parent_not_found"
	FailureIncompatibleSex  FailureReason = "incompatible_sex"
	FailureParentBusy       FailureReason = "parent_busy"
	FailureInternalError    FailureReason = "internal_error"
	FailurePersistenceError FailureReason = "persistence_error"
	FailureCancelled        FailureReason = "cancelled"
)

// BreedingRequest tracks one attempt to combine two parents into an offspring.
// Once terminal the record is immutable and retained for audit.
type BreedingRequest struct {
	Base
	ParentAID     string        `json:"parent_a_id"`
	ParentBID     string        `json:"parent_b_id"`
	OffspringName string        `json:"offspring_name,omitempty"`
	RequestedAt   time.Time     `json:"requested_at"`
	RequestedBy   string        `json:"requested_by,omitempty"`
	Seed          int64         `json:"seed"`
	Status        RequestStatus `json:"status"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	FailureDetail string        `json:"failure_detail,omitempty"`
	OffspringID   *string       `json:"offspring_id,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// ParentIDs returns both parent ids in submission order.
func (r BreedingRequest) ParentIDs() []string {
	return []string{r.ParentAID, r.ParentBID}
}

// References reports whether dragonID is one of the request's parents.
func (r BreedingRequest) References(dragonID string) bool {
	return r.ParentAID == dragonID || r.ParentBID == dragonID
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions captured in the audit trail. Dragons and genotypes are
// immutable, so only requests ever produce ActionUpdate.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)
