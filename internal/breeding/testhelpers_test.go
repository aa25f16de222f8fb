package breeding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dragonfarm/internal/core"
	"dragonfarm/internal/genetics"
	"dragonfarm/internal/infra/persistence/memory"
	"dragonfarm/pkg/domain"
)

const (
	pyroID  = "11111111-1111-1111-1111-111111111111"
	astraID = "22222222-2222-2222-2222-222222222222"
	blazeID = "33333333-3333-3333-3333-333333333333"
	lunaID  = "44444444-4444-4444-4444-444444444444"
)

var (
	hatchDay   = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	completion = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
)

var farmTraits = []domain.Trait{
	{ID: 1, Name: "Color", DominantAllele: "R", RecessiveAllele: "r"},
	{ID: 2, Name: "WingSpan", DominantAllele: "W", RecessiveAllele: "w"},
	{ID: 3, Name: "Claw", DominantAllele: "S", RecessiveAllele: "s"},
}

// commitLog records every committed request status and can inject commit failures.
type commitLog struct {
	mu       sync.Mutex
	statuses map[string][]domain.RequestStatus
	failures int
	failWhen func(memory.Snapshot) bool
}

func (l *commitLog) hook(_ context.Context, snap memory.Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWhen != nil && l.failWhen(snap) {
		l.failures++
		return errors.New("storage unavailable")
	}
	for id, req := range snap.Requests {
		seen := l.statuses[id]
		if len(seen) == 0 || seen[len(seen)-1] != req.Status {
			l.statuses[id] = append(seen, req.Status)
		}
	}
	return nil
}

func (l *commitLog) history(id string) []domain.RequestStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.RequestStatus(nil), l.statuses[id]...)
}

func (l *commitLog) failureCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}

type farm struct {
	svc *core.Service
	log *commitLog
}

func newFarm(t *testing.T, failWhen func(memory.Snapshot) bool) farm {
	t.Helper()
	return newFarmAt(t, completion, failWhen)
}

func newFarmAt(t *testing.T, now time.Time, failWhen func(memory.Snapshot) bool) farm {
	t.Helper()
	reg, err := genetics.NewRegistry(farmTraits)
	require.NoError(t, err)
	log := &commitLog{statuses: make(map[string][]domain.RequestStatus), failWhen: failWhen}
	store := memory.NewStore(core.NewDefaultRulesEngine(reg), memory.WithCommitHook(log.hook))
	svc := core.NewService(store, reg, core.WithClock(core.ClockFunc(func() time.Time { return now })))

	for _, intake := range []core.DragonIntake{
		{ID: pyroID, Name: "Pyro", Sex: domain.SexMale, HatchedAt: hatchDay,
			Genotype: domain.Genotype{1: {A: "R", B: "r"}, 2: {A: "W", B: "w"}, 3: {A: "s", B: "s"}}},
		{ID: astraID, Name: "Astra", Sex: domain.SexFemale, HatchedAt: hatchDay,
			Genotype: domain.Genotype{1: {A: "r", B: "r"}, 2: {A: "w", B: "w"}, 3: {A: "S", B: "s"}}},
		{ID: blazeID, Name: "Blaze", Sex: domain.SexMale, HatchedAt: hatchDay,
			Genotype: domain.Genotype{1: {A: "R", B: "R"}, 2: {A: "w", B: "w"}, 3: {A: "S", B: "S"}}},
		{ID: lunaID, Name: "Luna", Sex: domain.SexFemale, HatchedAt: hatchDay,
			Genotype: domain.Genotype{1: {A: "r", B: "r"}, 2: {A: "W", B: "W"}, 3: {A: "s", B: "s"}}},
	} {
		_, _, err := svc.RegisterDragon(context.Background(), intake)
		require.NoError(t, err)
	}
	return farm{svc: svc, log: log}
}

func seed(v int64) *int64 { return &v }

func waitTerminal(t *testing.T, c *Coordinator, ids ...string) map[string]domain.BreedingRequest {
	t.Helper()
	out := make(map[string]domain.BreedingRequest, len(ids))
	require.Eventually(t, func() bool {
		for _, id := range ids {
			req, err := c.Get(context.Background(), id)
			if err != nil || !req.Status.Terminal() {
				return false
			}
			out[id] = req
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return out
}

func stopCoordinator(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
}
