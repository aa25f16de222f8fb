package breeding

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dragonfarm/internal/core"
	"dragonfarm/internal/genetics"
	memoryblob "dragonfarm/internal/infra/blob/memory"
	"dragonfarm/internal/infra/persistence/memory"
	"dragonfarm/pkg/domain"
)

func anyCompleted(s memory.Snapshot) bool {
	for _, req := range s.Requests {
		if req.Status == domain.RequestCompleted {
			return true
		}
	}
	return false
}

func TestCoordinatorCompletesCross(t *testing.T) {
	f := newFarm(t, nil)
	archive := memoryblob.New()
	c := NewCoordinator(f.svc, WithArchive(archive), WithWorkers(2))
	c.Start()
	t.Cleanup(func() { stopCoordinator(t, c) })

	ctx := core.WithActor(context.Background(), "manager@farm")
	req, err := c.Submit(ctx, Submission{ParentAID: pyroID, ParentBID: astraID, Seed: seed(42), OffspringName: "Ember"})
	require.NoError(t, err)
	require.Equal(t, domain.RequestQueued, req.Status)
	require.Equal(t, int64(42), req.Seed)
	require.Equal(t, "manager@farm", req.RequestedBy)

	done := waitTerminal(t, c, req.ID)[req.ID]
	require.Equal(t, domain.RequestCompleted, done.Status)
	require.NotNil(t, done.OffspringID)
	require.NotNil(t, done.CompletedAt)

	profile, err := f.svc.GetDragon(ctx, *done.OffspringID)
	require.NoError(t, err)
	pyro, err := f.svc.Genotypes().Get(ctx, pyroID)
	require.NoError(t, err)
	astra, err := f.svc.Genotypes().Get(ctx, astraID)
	require.NoError(t, err)
	expected, err := genetics.Breed(pyro, astra, 42)
	require.NoError(t, err)
	require.Equal(t, expected, profile.Genotype)
	require.Equal(t, genetics.OffspringSex(42), profile.Dragon.Sex)
	require.Equal(t, "Ember", profile.Dragon.Name)
	require.Equal(t, []string{pyroID, astraID}, profile.Dragon.ParentIDs)
	require.True(t, profile.Dragon.HatchedAt.Equal(completion))

	require.Equal(t, []domain.RequestStatus{
		domain.RequestQueued, domain.RequestValidating, domain.RequestBreeding, domain.RequestCompleted,
	}, f.log.history(req.ID))

	require.Eventually(t, func() bool {
		cert, err := LoadCertificate(ctx, archive, profile.Dragon.ID)
		return err == nil && cert.RequestID == req.ID && cert.Seed == 42
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return c.Reservations().Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestMaleCrossNeverReachesBreeding(t *testing.T) {
	f := newFarm(t, nil)
	c := NewCoordinator(f.svc)
	ctx := context.Background()

	for _, parents := range [][2]string{{pyroID, blazeID}, {pyroID, pyroID}} {
		req, err := c.Submit(ctx, Submission{ParentAID: parents[0], ParentBID: parents[1], Seed: seed(1)})
		require.NoError(t, err)
		c.process(ctx, req.ID)

		got, err := c.Get(ctx, req.ID)
		require.NoError(t, err)
		require.Equal(t, domain.RequestFailed, got.Status)
		require.Equal(t, domain.FailureIncompatibleSex, got.FailureReason)
		require.Nil(t, got.OffspringID)
		require.NotContains(t, f.log.history(req.ID), domain.RequestBreeding)
	}
	require.Zero(t, c.Reservations().Len())

	dragons, err := f.svc.ListDragons(ctx)
	require.NoError(t, err)
	require.Len(t, dragons, 4)
}

func anyStatus(status domain.RequestStatus) func(memory.Snapshot) bool {
	return func(s memory.Snapshot) bool {
		for _, req := range s.Requests {
			if req.Status == status {
				return true
			}
		}
		return false
	}
}

func TestStartRetriesTransientFailures(t *testing.T) {
	remaining := 1
	validating := anyStatus(domain.RequestValidating)
	f := newFarm(t, func(s memory.Snapshot) bool {
		if remaining > 0 && validating(s) {
			remaining--
			return true
		}
		return false
	})
	c := NewCoordinator(f.svc, WithCommitRetry(3, 0))
	ctx := context.Background()

	req, err := c.Submit(ctx, Submission{ParentAID: pyroID, ParentBID: astraID, Seed: seed(21)})
	require.NoError(t, err)
	c.process(ctx, req.ID)

	got, err := c.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestCompleted, got.Status)
	require.Equal(t, 1, f.log.failureCount())
}

func TestStartExhaustionFailsRequest(t *testing.T) {
	f := newFarm(t, anyStatus(domain.RequestValidating))
	c := NewCoordinator(f.svc, WithCommitRetry(3, 0))
	ctx := context.Background()

	req, err := c.Submit(ctx, Submission{ParentAID: pyroID, ParentBID: astraID, Seed: seed(22)})
	require.NoError(t, err)
	c.process(ctx, req.ID)

	got, err := c.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestFailed, got.Status, "a request that cannot start must not stay queued")
	require.Equal(t, domain.FailurePersistenceError, got.FailureReason)
	require.Equal(t, []domain.RequestStatus{domain.RequestQueued, domain.RequestFailed}, f.log.history(req.ID))
	require.Equal(t, 3, f.log.failureCount())
	require.Zero(t, c.Reservations().Len())
	c.mu.Lock()
	require.Empty(t, c.open)
	c.mu.Unlock()
}

func TestMissingParentFails(t *testing.T) {
	f := newFarm(t, nil)
	c := NewCoordinator(f.svc)
	ctx := context.Background()

	req, err := c.Submit(ctx, Submission{ParentAID: pyroID, ParentBID: "ghost"})
	require.NoError(t, err)
	c.process(ctx, req.ID)

	got, err := c.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.FailureParentNotFound, got.FailureReason)
	require.Contains(t, got.FailureDetail, "ghost")
}

func TestSharedParentEarlierRequestWins(t *testing.T) {
	for _, order := range []string{"later first", "earlier first"} {
		t.Run(order, func(t *testing.T) {
			f := newFarm(t, nil)
			c := NewCoordinator(f.svc)
			ctx := context.Background()

			first, err := c.Submit(ctx, Submission{ParentAID: pyroID, ParentBID: astraID, Seed: seed(3)})
			require.NoError(t, err)
			second, err := c.Submit(ctx, Submission{ParentAID: lunaID, ParentBID: pyroID, Seed: seed(4)})
			require.NoError(t, err)

			if order == "later first" {
				c.process(ctx, second.ID)
				c.process(ctx, first.ID)
			} else {
				c.process(ctx, first.ID)
				c.process(ctx, second.ID)
			}

			a, err := c.Get(ctx, first.ID)
			require.NoError(t, err)
			b, err := c.Get(ctx, second.ID)
			require.NoError(t, err)
			require.Equal(t, domain.RequestCompleted, a.Status)
			require.Equal(t, domain.RequestFailed, b.Status)
			require.Equal(t, domain.FailureParentBusy, b.FailureReason)
			require.NotContains(t, f.log.history(second.ID), domain.RequestBreeding)
			require.Zero(t, c.Reservations().Len())
		})
	}
}

func TestInvalidEarlierRequestDoesNotBlock(t *testing.T) {
	for _, order := range []string{"later first", "earlier first"} {
		t.Run(order, func(t *testing.T) {
			f := newFarm(t, nil)
			c := NewCoordinator(f.svc)
			ctx := context.Background()

			males, err := c.Submit(ctx, Submission{ParentAID: pyroID, ParentBID: blazeID, Seed: seed(31)})
			require.NoError(t, err)
			mates, err := c.Submit(ctx, Submission{ParentAID: pyroID, ParentBID: astraID, Seed: seed(32)})
			require.NoError(t, err)

			if order == "later first" {
				c.process(ctx, mates.ID)
				c.process(ctx, males.ID)
			} else {
				c.process(ctx, males.ID)
				c.process(ctx, mates.ID)
			}

			a, err := c.Get(ctx, males.ID)
			require.NoError(t, err)
			b, err := c.Get(ctx, mates.ID)
			require.NoError(t, err)
			require.Equal(t, domain.FailureIncompatibleSex, a.FailureReason)
			require.Equal(t, domain.RequestCompleted, b.Status)
		})
	}
}

func TestOverlappingChainIsOrderIndependent(t *testing.T) {
	// pyro-astra, astra-blaze and blaze-luna: the middle request loses to the
	// first, which leaves the last free to run.
	orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, order := range orders {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			f := newFarm(t, nil)
			c := NewCoordinator(f.svc)
			ctx := context.Background()

			var ids []string
			for i, pair := range [][2]string{{pyroID, astraID}, {blazeID, astraID}, {blazeID, lunaID}} {
				req, err := c.Submit(ctx, Submission{ParentAID: pair[0], ParentBID: pair[1], Seed: seed(int64(40 + i))})
				require.NoError(t, err)
				ids = append(ids, req.ID)
			}
			for _, i := range order {
				c.process(ctx, ids[i])
			}

			want := []domain.RequestStatus{domain.RequestCompleted, domain.RequestFailed, domain.RequestCompleted}
			for i, id := range ids {
				got, err := c.Get(ctx, id)
				require.NoError(t, err)
				require.Equal(t, want[i], got.Status, "request %d", i)
			}
			middle, err := c.Get(ctx, ids[1])
			require.NoError(t, err)
			require.Equal(t, domain.FailureParentBusy, middle.FailureReason)
			require.Zero(t, c.Reservations().Len())
		})
	}
}

func TestConcurrentRequestsSharingParent(t *testing.T) {
	f := newFarm(t, nil)
	c := NewCoordinator(f.svc, WithWorkers(4))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 6; i++ {
		mate := astraID
		if i%2 == 1 {
			mate = lunaID
		}
		req, err := c.Submit(ctx, Submission{ParentAID: pyroID, ParentBID: mate, Seed: seed(int64(i))})
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}
	c.Start()
	t.Cleanup(func() { stopCoordinator(t, c) })

	results := waitTerminal(t, c, ids...)
	completed := 0
	for _, id := range ids {
		switch results[id].Status {
		case domain.RequestCompleted:
			completed++
		default:
			require.Equal(t, domain.FailureParentBusy, results[id].FailureReason)
		}
	}
	require.Equal(t, 1, completed)
	require.Equal(t, domain.RequestCompleted, results[ids[0]].Status)
	require.Eventually(t, func() bool { return c.Reservations().Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestDisjointPairsRunConcurrently(t *testing.T) {
	f := newFarm(t, nil)
	c := NewCoordinator(f.svc, WithWorkers(2))
	ctx := context.Background()
	a, err := c.Submit(ctx, Submission{ParentAID: pyroID, ParentBID: astraID, Seed: seed(5)})
	require.NoError(t, err)
	b, err := c.Submit(ctx, Submission{ParentAID: blazeID, ParentBID: lunaID, Seed: seed(6)})
	require.NoError(t, err)
	c.Start()
	t.Cleanup(func() { stopCoordinator(t, c) })

	results := waitTerminal(t, c, a.ID, b.ID)
	require.Equal(t, domain.RequestCompleted, results[a.ID].Status)
	require.Equal(t, domain.RequestCompleted, results[b.ID].Status)

	// Blaze RR/ww/SS x Luna rr/WW/ss always yields Rr/Ww/Ss.
	offspring, err := f.svc.GetDragon(ctx, *results[b.ID].OffspringID)
	require.NoError(t, err)
	for _, id := range []int{1, 2, 3} {
		require.Equal(t, domain.ExpressionDominant, offspring.Phenotype[id])
		require.False(t, offspring.Genotype[id].Homozygous())
	}
	require.Zero(t, offspring.Dragon.RarityScore)
}

func TestCancelQueuedRequest(t *testing.T) {
	f := newFarm(t, nil)
	c := NewCoordinator(f.svc)
	ctx := context.Background()

	req, err := c.Submit(ctx, Submission{ParentAID: pyroID, ParentBID: astraID})
	require.NoError(t, err)
	cancelled, err := c.Cancel(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestFailed, cancelled.Status)
	require.Equal(t, domain.FailureCancelled, cancelled.FailureReason)

	_, err = c.Cancel(ctx, req.ID)
	require.ErrorIs(t, err, ErrNotCancellable)

	c.process(ctx, req.ID)
	got, err := c.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.FailureCancelled, got.FailureReason)

	inflight, err := c.Submit(ctx, Submission{ParentAID: pyroID, ParentBID: astraID})
	require.NoError(t, err)
	_, err = f.svc.TransitionBreedingRequest(ctx, inflight.ID, core.Transition{To: domain.RequestValidating})
	require.NoError(t, err)
	_, err = c.Cancel(ctx, inflight.ID)
	require.ErrorIs(t, err, ErrNotCancellable)

	_, err = c.Cancel(ctx, "missing")
	require.ErrorIs(t, err, ErrRequestNotFound)
}

func TestCommitRetriesTransientFailures(t *testing.T) {
	remaining := 2
	f := newFarm(t, func(s memory.Snapshot) bool {
		if remaining > 0 && anyCompleted(s) {
			remaining--
			return true
		}
		return false
	})
	c := NewCoordinator(f.svc, WithCommitRetry(3, 0))
	ctx := context.Background()

	req, err := c.Submit(ctx, Submission{ParentAID: pyroID, ParentBID: astraID, Seed: seed(8)})
	require.NoError(t, err)
	c.process(ctx, req.ID)

	got, err := c.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestCompleted, got.Status)
	require.Equal(t, 2, f.log.failureCount())

	dragons, err := f.svc.ListDragons(ctx)
	require.NoError(t, err)
	require.Len(t, dragons, 5)
}

func TestCommitExhaustionFailsWithoutPartialWrites(t *testing.T) {
	f := newFarm(t, anyCompleted)
	c := NewCoordinator(f.svc, WithCommitRetry(3, 0))
	ctx := context.Background()

	req, err := c.Submit(ctx, Submission{ParentAID: pyroID, ParentBID: astraID, Seed: seed(9)})
	require.NoError(t, err)
	c.process(ctx, req.ID)

	got, err := c.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestFailed, got.Status)
	require.Equal(t, domain.FailurePersistenceError, got.FailureReason)
	require.Nil(t, got.OffspringID)
	require.Equal(t, 3, f.log.failureCount())
	require.Zero(t, c.Reservations().Len())

	dragons, err := f.svc.ListDragons(ctx)
	require.NoError(t, err)
	require.Len(t, dragons, 4)
}

func TestRuleRejectionIsNotRetried(t *testing.T) {
	// Offspring hatched at the parents' hatch time break lineage ordering.
	f := newFarmAt(t, hatchDay, nil)
	c := NewCoordinator(f.svc, WithCommitRetry(5, 0))
	ctx := context.Background()

	req, err := c.Submit(ctx, Submission{ParentAID: pyroID, ParentBID: astraID, Seed: seed(10)})
	require.NoError(t, err)
	c.process(ctx, req.ID)

	got, err := c.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.FailureInternalError, got.FailureReason)
	require.Contains(t, got.FailureDetail, "lineage_integrity")
}

func TestQueueFull(t *testing.T) {
	f := newFarm(t, nil)
	c := NewCoordinator(f.svc, WithQueueSize(1))
	ctx := context.Background()

	_, err := c.Submit(ctx, Submission{ParentAID: pyroID, ParentBID: astraID})
	require.NoError(t, err)
	_, err = c.Submit(ctx, Submission{ParentAID: blazeID, ParentBID: lunaID})
	require.ErrorIs(t, err, ErrQueueFull)

	failed, err := c.List(ctx, domain.RequestFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, domain.FailureInternalError, failed[0].FailureReason)
}

func TestRecoverRequeuesAndFailsStale(t *testing.T) {
	f := newFarm(t, nil)
	ctx := context.Background()

	queued, err := f.svc.CreateBreedingRequest(ctx, domain.BreedingRequest{ParentAID: pyroID, ParentBID: astraID, Seed: 11})
	require.NoError(t, err)
	stale, err := f.svc.CreateBreedingRequest(ctx, domain.BreedingRequest{ParentAID: blazeID, ParentBID: lunaID, Seed: 12})
	require.NoError(t, err)
	_, err = f.svc.TransitionBreedingRequest(ctx, stale.ID, core.Transition{To: domain.RequestValidating})
	require.NoError(t, err)

	c := NewCoordinator(f.svc)
	n, err := c.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := c.Get(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, domain.FailureInternalError, got.FailureReason)

	c.Start()
	t.Cleanup(func() { stopCoordinator(t, c) })
	results := waitTerminal(t, c, queued.ID)
	require.Equal(t, domain.RequestCompleted, results[queued.ID].Status)
}

func TestRecoverBacklogLargerThanQueue(t *testing.T) {
	f := newFarm(t, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 6; i++ {
		a, b := pyroID, astraID
		if i%2 == 1 {
			a, b = blazeID, lunaID
		}
		req, err := f.svc.CreateBreedingRequest(ctx, domain.BreedingRequest{ParentAID: a, ParentBID: b, Seed: int64(50 + i)})
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}

	c := NewCoordinator(f.svc, WithWorkers(1), WithQueueSize(1))
	c.Start()
	t.Cleanup(func() { stopCoordinator(t, c) })
	n, err := c.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, len(ids), n)
	waitTerminal(t, c, ids...)

	queued, err := c.List(ctx, domain.RequestQueued)
	require.NoError(t, err)
	require.Empty(t, queued)
}

func TestRecoverStopsWithCoordinator(t *testing.T) {
	f := newFarm(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateBreedingRequest(ctx, domain.BreedingRequest{ParentAID: pyroID, ParentBID: astraID, Seed: int64(60 + i)})
		require.NoError(t, err)
	}

	c := NewCoordinator(f.svc, WithQueueSize(1))
	stopCoordinator(t, c)
	n, err := c.Recover(ctx)
	require.ErrorIs(t, err, ErrStopped)
	require.LessOrEqual(t, n, 1)
}

func TestSubmitDefaultsAndStop(t *testing.T) {
	f := newFarm(t, nil)
	c := NewCoordinator(f.svc, WithSeedSource(func() int64 { return 99 }))
	ctx := context.Background()

	req, err := c.Submit(ctx, Submission{ParentAID: pyroID, ParentBID: astraID})
	require.NoError(t, err)
	require.Equal(t, int64(99), req.Seed)
	c.process(ctx, req.ID)

	got, err := c.Get(ctx, req.ID)
	require.NoError(t, err)
	offspring, err := f.svc.GetDragon(ctx, *got.OffspringID)
	require.NoError(t, err)
	require.Equal(t, DefaultOffspringName(req.ID), offspring.Dragon.Name)
	require.Equal(t, "Hatchling-"+req.ID[:8], offspring.Dragon.Name)

	_, err = c.Submit(ctx, Submission{ParentAID: pyroID})
	require.Error(t, err)

	c.Start()
	stopCoordinator(t, c)
	_, err = c.Submit(ctx, Submission{ParentAID: pyroID, ParentBID: astraID})
	require.True(t, errors.Is(err, ErrStopped))
}
