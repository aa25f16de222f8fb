// Package integration exercises the breeding pipeline end to end across the
// in-process storage and blob adapters.
package integration

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dragonfarm/internal/blob"
	"dragonfarm/internal/breeding"
	"dragonfarm/internal/catalog"
	"dragonfarm/internal/core"
	"dragonfarm/pkg/domain"
)

const (
	pyroID  = "11111111-1111-1111-1111-111111111111"
	astraID = "22222222-2222-2222-2222-222222222222"
)

var clock = core.ClockFunc(func() time.Time { return time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC) })

func openService(t *testing.T, cfg core.StorageConfig, opts ...core.ServiceOption) (*core.Service, domain.PersistentStore) {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	reg, err := cat.Registry()
	require.NoError(t, err)
	store, err := core.OpenPersistentStore(cfg, core.NewDefaultRulesEngine(reg))
	require.NoError(t, err)
	svc := core.NewService(store, reg, append([]core.ServiceOption{core.WithClock(clock)}, opts...)...)
	_, err = catalog.Seed(context.Background(), svc, cat)
	require.NoError(t, err)
	return svc, store
}

func closeStore(t *testing.T, store domain.PersistentStore) {
	t.Helper()
	if c, ok := store.(io.Closer); ok {
		require.NoError(t, c.Close())
	}
}

func waitTerminal(t *testing.T, c *breeding.Coordinator, id string) domain.BreedingRequest {
	t.Helper()
	var out domain.BreedingRequest
	require.Eventually(t, func() bool {
		req, err := c.Get(context.Background(), id)
		if err != nil || !req.Status.Terminal() {
			return false
		}
		out = req
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return out
}

func stop(t *testing.T, c *breeding.Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
}

// TestIntegrationSmoke completes one cross for every storage and blob adapter
// pairing and checks the archived certificate.
func TestIntegrationSmoke(t *testing.T) {
	storageVariants := []struct {
		name string
		cfg  func(t *testing.T) core.StorageConfig
	}{
		{"memory", func(*testing.T) core.StorageConfig { return core.StorageConfig{Driver: core.StorageMemory} }},
		{"sqlite", func(t *testing.T) core.StorageConfig {
			return core.StorageConfig{Driver: core.StorageSQLite, SQLitePath: filepath.Join(t.TempDir(), "farm.db")}
		}},
	}
	blobVariants := []struct {
		name string
		cfg  func(t *testing.T) blob.Config
	}{
		{"memory", func(*testing.T) blob.Config { return blob.Config{Driver: blob.DriverMemory} }},
		{"fs", func(t *testing.T) blob.Config { return blob.Config{Driver: blob.DriverFilesystem, FSRoot: t.TempDir()} }},
	}

	for _, sv := range storageVariants {
		for _, bv := range blobVariants {
			t.Run(sv.name+"/"+bv.name, func(t *testing.T) {
				ctx := context.Background()
				svc, store := openService(t, sv.cfg(t))
				t.Cleanup(func() { closeStore(t, store) })
				archive, err := blob.Open(ctx, bv.cfg(t))
				require.NoError(t, err)

				c := breeding.NewCoordinator(svc, breeding.WithArchive(archive))
				c.Start()
				t.Cleanup(func() { stop(t, c) })

				req, err := c.Submit(ctx, breeding.Submission{ParentAID: pyroID, ParentBID: astraID, Seed: ptr(int64(7))})
				require.NoError(t, err)
				done := waitTerminal(t, c, req.ID)
				require.Equal(t, domain.RequestCompleted, done.Status)

				var cert breeding.Certificate
				require.Eventually(t, func() bool {
					cert, err = breeding.LoadCertificate(ctx, archive, *done.OffspringID)
					return err == nil
				}, 5*time.Second, 10*time.Millisecond)
				require.Equal(t, req.ID, cert.RequestID)
				require.Equal(t, int64(7), cert.Seed)
			})
		}
	}
}

// TestRestartRecoversQueuedRequests leaves a request queued in sqlite, reopens
// the store and lets a fresh coordinator finish it.
func TestRestartRecoversQueuedRequests(t *testing.T) {
	ctx := context.Background()
	cfg := core.StorageConfig{Driver: core.StorageSQLite, SQLitePath: filepath.Join(t.TempDir(), "farm.db")}

	svc, store := openService(t, cfg)
	first := breeding.NewCoordinator(svc)
	req, err := first.Submit(ctx, breeding.Submission{ParentAID: pyroID, ParentBID: astraID, Seed: ptr(int64(11))})
	require.NoError(t, err)
	stop(t, first)
	closeStore(t, store)

	svc, store = openService(t, cfg)
	t.Cleanup(func() { closeStore(t, store) })
	queued, err := svc.GetBreedingRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestQueued, queued.Status)

	second := breeding.NewCoordinator(svc)
	second.Start()
	t.Cleanup(func() { stop(t, second) })
	requeued, err := second.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, requeued)

	done := waitTerminal(t, second, req.ID)
	require.Equal(t, domain.RequestCompleted, done.Status)

	dragons, err := svc.ListDragons(ctx)
	require.NoError(t, err)
	require.Len(t, dragons, 3)
}

// TestRarityFollowsWeightAcrossRestart reopens the store with a new rarity
// weight; stored dragons are scored with the weight now in force.
func TestRarityFollowsWeightAcrossRestart(t *testing.T) {
	ctx := context.Background()
	cfg := core.StorageConfig{Driver: core.StorageSQLite, SQLitePath: filepath.Join(t.TempDir(), "farm.db")}

	svc, store := openService(t, cfg)
	astra, err := svc.GetDragon(ctx, astraID)
	require.NoError(t, err)
	require.InDelta(t, 2.0/3.0, astra.Dragon.RarityScore, 1e-9)
	closeStore(t, store)

	svc, store = openService(t, cfg, core.WithRarityWeight(3))
	t.Cleanup(func() { closeStore(t, store) })
	astra, err = svc.GetDragon(ctx, astraID)
	require.NoError(t, err)
	require.InDelta(t, 2.0, astra.Dragon.RarityScore, 1e-9)

	dragons, err := svc.ListDragons(ctx)
	require.NoError(t, err)
	for _, d := range dragons {
		if d.ID == astraID {
			require.InDelta(t, 2.0, d.RarityScore, 1e-9)
		}
	}
}

func ptr[T any](v T) *T { return &v }
