// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments. The durable backends embed
// it and persist through a commit hook.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dragonfarm/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Dragon aliases domain.Dragon for in-memory persistence operations.
	Dragon = domain.Dragon
	// Genotype aliases domain.Genotype.
	Genotype = domain.Genotype
	// BreedingRequest aliases domain.BreedingRequest.
	BreedingRequest = domain.BreedingRequest
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	dragons   map[string]Dragon
	genotypes map[string]Genotype
	requests  map[string]BreedingRequest
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Dragons   map[string]Dragon          `json:"dragons"`
	Genotypes map[string]Genotype        `json:"genotypes"`
	Requests  map[string]BreedingRequest `json:"breeding_requests"`
}

func newMemoryState() memoryState {
	return memoryState{
		dragons:   make(map[string]Dragon),
		genotypes: make(map[string]Genotype),
		requests:  make(map[string]BreedingRequest),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Dragons:   make(map[string]Dragon, len(state.dragons)),
		Genotypes: make(map[string]Genotype, len(state.genotypes)),
		Requests:  make(map[string]BreedingRequest, len(state.requests)),
	}
	for k, v := range state.dragons {
		s.Dragons[k] = cloneDragon(v)
	}
	for k, v := range state.genotypes {
		s.Genotypes[k] = v.Clone()
	}
	for k, v := range state.requests {
		s.Requests[k] = cloneRequest(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Dragons {
		state.dragons[k] = cloneDragon(v)
	}
	for k, v := range s.Genotypes {
		state.genotypes[k] = v.Clone()
	}
	for k, v := range s.Requests {
		state.requests[k] = cloneRequest(v)
	}
	return state
}

func (s memoryState) clone() memoryState {
	return memoryStateFromSnapshot(snapshotFromMemoryState(s))
}

func cloneDragon(d Dragon) Dragon {
	if d.ParentIDs != nil {
		d.ParentIDs = append([]string(nil), d.ParentIDs...)
	}
	return d
}

func cloneRequest(r BreedingRequest) BreedingRequest {
	if r.OffspringID != nil {
		id := *r.OffspringID
		r.OffspringID = &id
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		r.CompletedAt = &at
	}
	return r
}

func sortDragons(out []Dragon) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].HatchedAt.Equal(out[j].HatchedAt) {
			return out[i].HatchedAt.Before(out[j].HatchedAt)
		}
		return out[i].ID < out[j].ID
	})
}

func sortRequests(out []BreedingRequest) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ID < out[j].ID
	})
}

// CommitHook runs with the candidate state after rules pass and before the
// store swaps it in. A hook error aborts the transaction with no state change.
type CommitHook func(ctx context.Context, next Snapshot) error

// Option configures a Store.
type Option func(*Store)

// WithCommitHook installs a hook invoked before each commit.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) {
		s.hook = hook
	}
}

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	hook   CommitHook
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) ListDragons() []Dragon {
	out := make([]Dragon, 0, len(v.state.dragons))
	for _, d := range v.state.dragons {
		out = append(out, cloneDragon(d))
	}
	sortDragons(out)
	return out
}

func (v transactionView) FindDragon(id string) (Dragon, bool) {
	d, ok := v.state.dragons[id]
	if !ok {
		return Dragon{}, false
	}
	return cloneDragon(d), true
}

func (v transactionView) FindGenotype(dragonID string) (Genotype, bool) {
	g, ok := v.state.genotypes[dragonID]
	if !ok {
		return nil, false
	}
	return g.Clone(), true
}

func (v transactionView) ListBreedingRequests() []BreedingRequest {
	out := make([]BreedingRequest, 0, len(v.state.requests))
	for _, r := range v.state.requests {
		out = append(out, cloneRequest(r))
	}
	sortRequests(out)
	return out
}

func (v transactionView) FindBreedingRequest(id string) (BreedingRequest, bool) {
	r, ok := v.state.requests[id]
	if !ok {
		return BreedingRequest{}, false
	}
	return cloneRequest(r), true
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Rules are evaluated against the candidate state, then the commit hook runs,
// and only then is the candidate state swapped in.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if s.hook != nil && len(tx.changes) > 0 {
		if err := s.hook(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return result, err
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindDragon exposes dragon lookup within the transaction scope.
func (tx *transaction) FindDragon(id string) (Dragon, bool) {
	return newTransactionView(&tx.state).FindDragon(id)
}

// FindGenotype exposes genotype lookup within the transaction scope.
func (tx *transaction) FindGenotype(dragonID string) (Genotype, bool) {
	return newTransactionView(&tx.state).FindGenotype(dragonID)
}

// FindBreedingRequest exposes request lookup within the transaction scope.
func (tx *transaction) FindBreedingRequest(id string) (BreedingRequest, bool) {
	return newTransactionView(&tx.state).FindBreedingRequest(id)
}

// CreateDragon stores a new dragon within the transaction.
func (tx *transaction) CreateDragon(d Dragon) (Dragon, error) {
	if d.ID == "" {
		d.ID = tx.store.newID()
	}
	if _, exists := tx.state.dragons[d.ID]; exists {
		return Dragon{}, fmt.Errorf("dragon %q already exists", d.ID)
	}
	if !d.Sex.Valid() {
		return Dragon{}, fmt.Errorf("dragon %q has invalid sex %q", d.ID, d.Sex)
	}
	d.CreatedAt = tx.now
	d.UpdatedAt = tx.now
	if d.HatchedAt.IsZero() {
		d.HatchedAt = tx.now
	}
	tx.state.dragons[d.ID] = cloneDragon(d)
	tx.recordChange(Change{Entity: domain.EntityDragon, Action: domain.ActionCreate, After: cloneDragon(d)})
	return cloneDragon(d), nil
}

// CreateGenotype stores the write-once genotype for an existing dragon.
func (tx *transaction) CreateGenotype(dragonID string, g Genotype) error {
	if _, ok := tx.state.dragons[dragonID]; !ok {
		return domain.DragonNotFoundError{DragonID: dragonID}
	}
	if _, exists := tx.state.genotypes[dragonID]; exists {
		return domain.DuplicateGenotypeError{DragonID: dragonID}
	}
	tx.state.genotypes[dragonID] = g.Clone()
	tx.recordChange(Change{
		Entity: domain.EntityGenotype,
		Action: domain.ActionCreate,
		After:  domain.GenotypeRecord{DragonID: dragonID, Genotype: g.Clone()},
	})
	return nil
}

// CreateBreedingRequest stores a new breeding request.
func (tx *transaction) CreateBreedingRequest(r BreedingRequest) (BreedingRequest, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.requests[r.ID]; exists {
		return BreedingRequest{}, fmt.Errorf("breeding request %q already exists", r.ID)
	}
	if r.Status == "" {
		r.Status = domain.RequestQueued
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = tx.now
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.requests[r.ID] = cloneRequest(r)
	tx.recordChange(Change{Entity: domain.EntityBreedingRequest, Action: domain.ActionCreate, After: cloneRequest(r)})
	return cloneRequest(r), nil
}

// UpdateBreedingRequest mutates a breeding request using the provided mutator function.
func (tx *transaction) UpdateBreedingRequest(id string, mutator func(*BreedingRequest) error) (BreedingRequest, error) {
	current, ok := tx.state.requests[id]
	if !ok {
		return BreedingRequest{}, fmt.Errorf("breeding request %q not found", id)
	}
	before := cloneRequest(current)
	if err := mutator(&current); err != nil {
		return BreedingRequest{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.requests[id] = cloneRequest(current)
	tx.recordChange(Change{Entity: domain.EntityBreedingRequest, Action: domain.ActionUpdate, Before: before, After: cloneRequest(current)})
	return cloneRequest(current), nil
}

// Read helpers ---------------------------------------------------------------

// GetDragon retrieves a dragon by ID from committed state.
func (s *Store) GetDragon(id string) (Dragon, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindDragon(id)
}

// ListDragons returns all dragons from committed state ordered by hatch time.
func (s *Store) ListDragons() []Dragon {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListDragons()
}

// GetGenotype retrieves the genotype of a dragon from committed state.
func (s *Store) GetGenotype(dragonID string) (Genotype, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindGenotype(dragonID)
}

// GetBreedingRequest retrieves a breeding request by ID.
func (s *Store) GetBreedingRequest(id string) (BreedingRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindBreedingRequest(id)
}

// ListBreedingRequests returns all breeding requests ordered by submission time.
func (s *Store) ListBreedingRequests() []BreedingRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListBreedingRequests()
}
