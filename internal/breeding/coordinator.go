// Package breeding runs breeding requests through their lifecycle:
// validate, reserve parents, cross genotypes, commit the offspring and archive
// its certificate.
package breeding

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"dragonfarm/internal/blob"
	"dragonfarm/internal/core"
	"dragonfarm/internal/genetics"
	"dragonfarm/pkg/domain"
)

var (
	// ErrQueueFull is returned by Submit when the work queue has no capacity.
	ErrQueueFull = errors.New("breeding queue full")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("breeding coordinator stopped")
	// ErrNotCancellable is returned when cancelling a request that left Queued.
	ErrNotCancellable = errors.New("breeding request is not cancellable")
	// ErrRequestNotFound is returned when a request id does not resolve.
	ErrRequestNotFound = core.ErrRequestNotFound
	// ErrInvalidRequest is returned for submissions or filters that can never succeed.
	ErrInvalidRequest = core.ErrInvalidRequest
)

// Submission is a request to cross two parents. A nil Seed draws a random one,
// which is recorded on the request so the cross can be replayed.
type Submission struct {
	ParentAID     string
	ParentBID     string
	OffspringName string
	Seed          *int64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWorkers sets the number of concurrent request processors.
func WithWorkers(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithQueueSize sets the capacity of the pending request queue.
func WithQueueSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithCommitRetry bounds the retries of the commit step after transient failures.
func WithCommitRetry(attempts int, interval time.Duration) Option {
	return func(c *Coordinator) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if interval >= 0 {
			c.interval = interval
		}
	}
}

// WithArchive stores a hatch certificate for every completed request.
func WithArchive(store blob.Store) Option {
	return func(c *Coordinator) { c.archive = store }
}

// WithLogger sets the coordinator logger.
func WithLogger(logger core.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSeedSource overrides how seeds are drawn for submissions without one.
func WithSeedSource(fn func() int64) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.seeds = fn
		}
	}
}

// openRequest is the coordinator's view of a non-terminal request.
type openRequest struct {
	req         domain.BreedingRequest
	seq         uint64
	claimed     bool
	preemptedBy string
	// viable caches whether the parents exist and can be crossed.
	viable *bool
}

// sharedParent returns a parent of o that other also references, or "".
func (o *openRequest) sharedParent(other *openRequest) string {
	for _, p := range o.req.ParentIDs() {
		if other.req.References(p) {
			return p
		}
	}
	return ""
}

func (o *openRequest) shares(other *openRequest) bool {
	return o.sharedParent(other) != ""
}

// Coordinator processes breeding requests on a worker pool. Requests sharing
// a parent are serialized through the reservation map.
type Coordinator struct {
	svc          *core.Service
	reservations *Reservations
	archive      blob.Store
	logger       core.Logger
	seeds        func() int64

	workers   int
	queueSize int
	attempts  int
	interval  time.Duration

	mu      sync.Mutex
	open    map[string]*openRequest
	seq     uint64
	stopped bool

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator constructs a coordinator over svc. Call Start to begin processing.
func NewCoordinator(svc *core.Service, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		svc:          svc,
		reservations: NewReservations(),
		logger:       svc.Logger(),
		seeds:        rand.Int64,
		workers:      4,
		queueSize:    64,
		attempts:     3,
		interval:     50 * time.Millisecond,
		open:         make(map[string]*openRequest),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.queue = make(chan string, c.queueSize)
	return c
}

// Reservations exposes the reservation map.
func (c *Coordinator) Reservations() *Reservations { return c.reservations }

// Start launches the worker pool.
func (c *Coordinator) Start() {
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.loop()
	}
}

// Stop halts intake and waits for workers to finish their current request.
// Requests still queued stay Queued in the store and are picked up by Recover.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case id := <-c.queue:
			// In-flight requests run to a terminal state even while stopping.
			c.process(context.WithoutCancel(c.ctx), id)
		}
	}
}

// Submit persists a Queued request and schedules it.
func (c *Coordinator) Submit(ctx context.Context, sub Submission) (domain.BreedingRequest, error) {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return domain.BreedingRequest{}, ErrStopped
	}

	seed := c.seeds()
	if sub.Seed != nil {
		seed = *sub.Seed
	}
	req, err := c.svc.CreateBreedingRequest(ctx, domain.BreedingRequest{
		ParentAID:     strings.TrimSpace(sub.ParentAID),
		ParentBID:     strings.TrimSpace(sub.ParentBID),
		OffspringName: strings.TrimSpace(sub.OffspringName),
		Seed:          seed,
	})
	if err != nil {
		return domain.BreedingRequest{}, err
	}
	c.track(req)

	select {
	case c.queue <- req.ID:
		c.logger.Info("breeding request queued", "request_id", req.ID, "parent_a", req.ParentAID, "parent_b", req.ParentBID)
		return req, nil
	default:
		c.fail(ctx, req.ID, domain.FailureInternalError, ErrQueueFull.Error())
		c.finish(req.ID)
		return domain.BreedingRequest{}, ErrQueueFull
	}
}

// Recover re-queues requests left Queued by a previous process and fails the
// ones it left in flight, since their reservations did not survive. Enqueueing
// blocks while the queue is full, so a backlog larger than the queue needs the
// workers running: call Start first.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	pending, err := c.svc.ListBreedingRequests(ctx, domain.RequestQueued, domain.RequestValidating, domain.RequestBreeding)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, req := range pending {
		if req.Status.InFlight() {
			c.fail(ctx, req.ID, domain.FailureInternalError, "interrupted by restart")
			continue
		}
		c.mu.Lock()
		_, known := c.open[req.ID]
		c.mu.Unlock()
		if known {
			continue
		}
		c.track(req)
		select {
		case c.queue <- req.ID:
			requeued++
		case <-c.ctx.Done():
			c.finish(req.ID)
			return requeued, ErrStopped
		case <-ctx.Done():
			c.finish(req.ID)
			return requeued, ctx.Err()
		}
	}
	return requeued, nil
}

// Cancel fails a Queued request with reason Cancelled.
func (c *Coordinator) Cancel(ctx context.Context, id string) (domain.BreedingRequest, error) {
	req, err := c.svc.TransitionBreedingRequest(ctx, id, core.Transition{
		From:   domain.RequestQueued,
		To:     domain.RequestFailed,
		Reason: domain.FailureCancelled,
	})
	if err != nil {
		var invalid domain.InvalidTransitionError
		if errors.As(err, &invalid) {
			return domain.BreedingRequest{}, fmt.Errorf("%w: %s is %s", ErrNotCancellable, id, invalid.From)
		}
		return domain.BreedingRequest{}, err
	}
	c.finish(id)
	return req, nil
}

// Get returns the current state of a request.
func (c *Coordinator) Get(ctx context.Context, id string) (domain.BreedingRequest, error) {
	return c.svc.GetBreedingRequest(ctx, id)
}

// List returns requests, optionally filtered by status.
func (c *Coordinator) List(ctx context.Context, statuses ...domain.RequestStatus) ([]domain.BreedingRequest, error) {
	return c.svc.ListBreedingRequests(ctx, statuses...)
}

func (c *Coordinator) track(req domain.BreedingRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.open[req.ID] = &openRequest{req: req, seq: c.seq}
}

// finish forgets a request and releases its reservations. It runs only after
// the terminal state has been persisted.
func (c *Coordinator) finish(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.open, id)
	c.reservations.Release(id)
}

// claim decides whether id may reserve its parents. A request is busy when a
// parent is already reserved, when it was preempted while waiting, or when an
// earlier open request sharing a parent would itself win its claim. Earlier
// requests whose parents cannot be crossed never block, so the outcome does
// not depend on which worker picks up which request first.
func (c *Coordinator) claim(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	self, ok := c.open[id]
	if !ok {
		return fmt.Errorf("breeding request %s is not tracked", id)
	}
	viable := true
	self.viable = &viable
	parents := self.req.ParentIDs()
	if self.preemptedBy != "" {
		return ParentBusyError{DragonID: strings.Join(parents, ","), RequestID: self.preemptedBy}
	}
	for _, p := range parents {
		if holder, held := c.reservations.Holder(p); held && holder != id {
			return ParentBusyError{DragonID: p, RequestID: holder}
		}
	}
	if blocker := c.blocker(ctx, self); blocker != nil {
		return ParentBusyError{DragonID: self.sharedParent(blocker), RequestID: blocker.req.ID}
	}
	if err := c.reservations.Acquire(id, parents...); err != nil {
		return err
	}
	self.claimed = true
	for _, other := range c.open {
		if other != self && self.shares(other) && other.preemptedBy == "" {
			other.preemptedBy = id
		}
	}
	return nil
}

// blocker returns the open request that keeps o from claiming: one sharing a
// parent that is in flight, or that was submitted earlier and would win.
// Callers hold c.mu. Recursion only descends to lower sequence numbers.
func (c *Coordinator) blocker(ctx context.Context, o *openRequest) *openRequest {
	var found *openRequest
	for _, other := range c.open {
		if other == o || !o.shares(other) {
			continue
		}
		if other.claimed {
			return other
		}
		if other.seq < o.seq && (found == nil || other.seq < found.seq) && c.wouldWin(ctx, other) {
			found = other
		}
	}
	return found
}

func (c *Coordinator) wouldWin(ctx context.Context, o *openRequest) bool {
	if o.preemptedBy != "" || !c.viable(ctx, o) {
		return false
	}
	return c.blocker(ctx, o) == nil
}

// viable reports whether o's parents can be crossed. Lookups that fail for
// reasons other than a missing parent count as viable and are not cached.
func (c *Coordinator) viable(ctx context.Context, o *openRequest) bool {
	if o.viable != nil {
		return *o.viable
	}
	reason, _ := c.checkParents(ctx, o.req)
	if reason == domain.FailureInternalError {
		return true
	}
	ok := reason == ""
	o.viable = &ok
	return ok
}

func (c *Coordinator) process(ctx context.Context, id string) {
	defer c.finish(id)
	if !c.start(ctx, id) {
		return
	}

	req, err := c.svc.GetBreedingRequest(ctx, id)
	if err != nil {
		c.fail(ctx, id, domain.FailureInternalError, err.Error())
		return
	}
	if reason, detail := c.validate(ctx, req); reason != "" {
		c.fail(ctx, id, reason, detail)
		return
	}
	if _, err := c.svc.TransitionBreedingRequest(ctx, id, core.Transition{From: domain.RequestValidating, To: domain.RequestBreeding}); err != nil {
		c.fail(ctx, id, domain.FailureInternalError, err.Error())
		return
	}

	offspring, err := c.cross(ctx, req)
	if err != nil {
		c.logger.Error("breeding cross failed", "request_id", id, "error", err)
		c.fail(ctx, id, domain.FailureInternalError, err.Error())
		return
	}

	done, profile, err := c.commit(ctx, id, offspring)
	if err != nil {
		reason := domain.FailurePersistenceError
		if permanentFailure(err) {
			reason = domain.FailureInternalError
			c.logger.Error("breeding commit rejected", "request_id", id, "error", err)
		}
		c.fail(ctx, id, reason, err.Error())
		return
	}
	c.logger.Info("breeding request completed", "request_id", id, "offspring_id", profile.Dragon.ID, "rarity", profile.Dragon.RarityScore)
	c.archiveCertificate(ctx, done, profile)
}

// start moves id from Queued to Validating, retrying transient store errors.
// A request that left Queued in the meantime (cancelled) is skipped; one that
// cannot be started is failed so it never stays Queued without a worker.
func (c *Coordinator) start(ctx context.Context, id string) bool {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (domain.BreedingRequest, error) {
		attempt++
		req, err := c.svc.TransitionBreedingRequest(ctx, id, core.Transition{From: domain.RequestQueued, To: domain.RequestValidating})
		var invalid domain.InvalidTransitionError
		if err != nil && (errors.As(err, &invalid) || permanentFailure(err)) {
			return req, backoff.Permanent(err)
		}
		return req, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.interval)),
		backoff.WithMaxTries(uint(c.attempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("breeding request start failed, retrying", "request_id", id, "attempt", attempt, "wait", wait, "error", err)
		}),
	)
	if err == nil {
		return true
	}
	var invalid domain.InvalidTransitionError
	if errors.As(err, &invalid) || errors.Is(err, core.ErrRequestNotFound) {
		return false
	}
	c.logger.Error("breeding request could not start", "request_id", id, "error", err)
	reason := domain.FailurePersistenceError
	if permanentFailure(err) {
		reason = domain.FailureInternalError
	}
	c.fail(ctx, id, reason, err.Error())
	return false
}

func (c *Coordinator) validate(ctx context.Context, req domain.BreedingRequest) (domain.FailureReason, string) {
	if reason, detail := c.checkParents(ctx, req); reason != "" {
		return reason, detail
	}
	if err := c.claim(ctx, req.ID); err != nil {
		var busy ParentBusyError
		if errors.As(err, &busy) {
			return domain.FailureParentBusy, err.Error()
		}
		return domain.FailureInternalError, err.Error()
	}
	return "", ""
}

// checkParents reports why req's parents cannot be crossed, or "" when they can.
func (c *Coordinator) checkParents(ctx context.Context, req domain.BreedingRequest) (domain.FailureReason, string) {
	parents := make([]domain.DragonProfile, 0, 2)
	for _, pid := range req.ParentIDs() {
		profile, err := c.svc.GetDragon(ctx, pid)
		if err != nil {
			var nf domain.DragonNotFoundError
			if errors.As(err, &nf) {
				return domain.FailureParentNotFound, err.Error()
			}
			return domain.FailureInternalError, err.Error()
		}
		parents = append(parents, profile)
	}
	if req.ParentAID == req.ParentBID || parents[0].Dragon.Sex == parents[1].Dragon.Sex {
		return domain.FailureIncompatibleSex, fmt.Sprintf("parents %s and %s are both %s", req.ParentAID, req.ParentBID, parents[0].Dragon.Sex)
	}
	return "", ""
}

func (c *Coordinator) cross(ctx context.Context, req domain.BreedingRequest) (core.Offspring, error) {
	a, err := c.svc.Genotypes().Get(ctx, req.ParentAID)
	if err != nil {
		return core.Offspring{}, err
	}
	b, err := c.svc.Genotypes().Get(ctx, req.ParentBID)
	if err != nil {
		return core.Offspring{}, err
	}
	genotype, err := genetics.Breed(a, b, req.Seed)
	if err != nil {
		return core.Offspring{}, err
	}
	name := req.OffspringName
	if name == "" {
		name = DefaultOffspringName(req.ID)
	}
	return core.Offspring{Name: name, Sex: genetics.OffspringSex(req.Seed), Genotype: genotype}, nil
}

// DefaultOffspringName names an offspring after its request.
func DefaultOffspringName(requestID string) string {
	short := requestID
	if len(short) > 8 {
		short = short[:8]
	}
	return "Hatchling-" + short
}

// commit retries transient failures; reservations stay held throughout.
func (c *Coordinator) commit(ctx context.Context, id string, offspring core.Offspring) (domain.BreedingRequest, domain.DragonProfile, error) {
	type result struct {
		req     domain.BreedingRequest
		profile domain.DragonProfile
	}
	attempt := 0
	res, err := backoff.Retry(ctx, func() (result, error) {
		attempt++
		req, profile, err := c.svc.CompleteBreedingRequest(ctx, id, offspring)
		if err != nil {
			if permanentFailure(err) {
				return result{}, backoff.Permanent(err)
			}
			return result{}, err
		}
		return result{req: req, profile: profile}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.interval)),
		backoff.WithMaxTries(uint(c.attempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("breeding commit failed, retrying", "request_id", id, "attempt", attempt, "wait", wait, "error", err)
		}),
	)
	return res.req, res.profile, err
}

func permanentFailure(err error) bool {
	return domain.IsDataIntegrity(err) || errors.Is(err, core.ErrRequestNotFound)
}

// fail records a terminal failure, retrying transient store errors.
func (c *Coordinator) fail(ctx context.Context, id string, reason domain.FailureReason, detail string) {
	_, err := backoff.Retry(ctx, func() (domain.BreedingRequest, error) {
		req, err := c.svc.TransitionBreedingRequest(ctx, id, core.Transition{To: domain.RequestFailed, Reason: reason, Detail: detail})
		if err != nil && permanentFailure(err) {
			return req, backoff.Permanent(err)
		}
		return req, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.interval)),
		backoff.WithMaxTries(uint(c.attempts)),
	)
	if err != nil {
		c.logger.Error("breeding request failure not recorded", "request_id", id, "reason", reason, "error", err)
		return
	}
	c.logger.Info("breeding request failed", "request_id", id, "reason", reason, "detail", detail)
}

func (c *Coordinator) archiveCertificate(ctx context.Context, req domain.BreedingRequest, profile domain.DragonProfile) {
	if c.archive == nil {
		return
	}
	cert := NewCertificate(req, profile, c.svc.Clock().Now())
	if _, err := ArchiveCertificate(ctx, c.archive, cert); err != nil {
		c.logger.Warn("hatch certificate not archived", "request_id", req.ID, "dragon_id", profile.Dragon.ID, "error", err)
	}
}
