package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NethermindEth/chaoschain-persona/contentstore"
	"github.com/NethermindEth/chaoschain-persona/core"
	"github.com/NethermindEth/chaoschain-persona/crypto"
	"github.com/NethermindEth/chaoschain-persona/storage"
)

type recordingPurger struct {
	mu     sync.Mutex
	owners []string
}

func (p *recordingPurger) Purge(_ context.Context, owner, typ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owners = append(p.owners, owner+"/"+typ)
	return nil
}

func newRepository(t *testing.T) *storage.ProfileRepository {
	t.Helper()
	db, err := storage.Open(storage.InMemoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewProfileRepository(db, storage.NewProfileCache(16, time.Minute))
}

func newTestService(t *testing.T, client contentstore.Client, sealer *crypto.Sealer, purger IndexPurger) (*Service, *storage.ProfileRepository) {
	t.Helper()
	repo := newRepository(t)
	cfg := DefaultConfig()
	cfg.Pool.BaseDelay = time.Millisecond
	svc := NewService(cfg, Deps{Store: repo, Client: client, Sealer: sealer, Purger: purger}, nil)
	require.NoError(t, svc.Start())
	t.Cleanup(func() {
		if svc.Pool().IsRunning() {
			_ = svc.Stop()
		}
	})
	return svc, repo
}

func TestServiceIngestUploadsAndRestores(t *testing.T) {
	remote := contentstore.NewMemoryStore(0)
	signer := crypto.GenerateSigner()
	sealer := testSealer(t, signer)

	svc, repo := newTestService(t, remote, sealer, nil)
	ctx := context.Background()

	var last core.PersonaProfile
	for i := 0; i < 3; i++ {
		ts := t0.Add(time.Duration(i) * time.Hour)
		res := svc.Ingest(ctx, "alice", estimate(ts, 0.8, 25), source(ts))
		require.True(t, res.OK(), "%v", res.Err)
		last = res.Value
	}
	assert.Equal(t, uint64(75), last.SampleCount)

	stored, err := repo.Get("alice")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, last.SampleCount, stored.SampleCount)

	require.NoError(t, svc.Stop())
	state := svc.State()
	assert.Equal(t, 3, state.SucceededCount)
	assert.Equal(t, PhaseSuccess, state.Phase)

	entries, err := remote.QueryIndex(ctx, "alice", contentstore.TypePersonaProfile, 30)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// a fresh install with the same keys recovers the newest snapshot
	fresh, freshRepo := newTestService(t, remote, sealer, nil)
	res := fresh.Restore(ctx, "alice")
	require.True(t, res.OK(), "%v", res.Err)
	assert.True(t, res.Value.Restored)
	assert.Equal(t, entries[0].ContentID, res.Value.ContentID)
	assert.Equal(t, 1, res.Value.Examined)

	restored, err := freshRepo.Get("alice")
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, last.SampleCount, restored.SampleCount)
	assert.InDelta(t, last.OCEAN.Openness.Alpha, restored.OCEAN.Openness.Alpha, 1e-9)
	assert.Len(t, restored.Evidence, len(last.Evidence))

	// restore again is a no-op
	res = fresh.Restore(ctx, "alice")
	require.True(t, res.OK())
	assert.True(t, res.Value.Skipped)
}

func TestServiceIngestRejectsInvalidInput(t *testing.T) {
	client := newScriptedClient(nil)
	svc, repo := newTestService(t, client, testSealer(t, nil), nil)
	ctx := context.Background()

	bad := estimate(t0, 1.5, 10)
	res := svc.Ingest(ctx, "alice", bad, source(t0))
	require.False(t, res.OK())
	assert.Equal(t, KindValidation, res.Err.Kind)
	assert.True(t, core.IsValidationError(res.Err))

	res = svc.Ingest(ctx, "", estimate(t0, 0.5, 10), source(t0))
	require.False(t, res.OK())
	assert.Equal(t, KindValidation, res.Err.Kind)

	res = svc.Ingest(ctx, "alice", estimate(t0, 0.5, 10), core.EvidenceSource{Type: "gossip"})
	require.False(t, res.OK())
	assert.Equal(t, KindValidation, res.Err.Kind)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	res = svc.Ingest(cancelled, "alice", estimate(t0, 0.5, 10), source(t0))
	require.False(t, res.OK())
	assert.Equal(t, KindCancelled, res.Err.Kind)

	p, err := repo.Get("alice")
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, svc.Stop())
	assert.Equal(t, 0, client.attemptsFor("alice"))
	assert.Equal(t, PhaseIdle, svc.State().Phase)
}

func TestServiceUploadFailureDoesNotFailIngest(t *testing.T) {
	client := newScriptedClient(nil)
	client.on("alice", func(int) error { return errFlaky })
	svc, repo := newTestService(t, client, testSealer(t, nil), nil)

	res := svc.Ingest(context.Background(), "alice", estimate(t0, 0.7, 12), source(t0))
	require.True(t, res.OK())
	require.NoError(t, svc.Stop())

	p, err := repo.Get("alice")
	require.NoError(t, err)
	require.NotNil(t, p)

	state := svc.State()
	assert.Equal(t, 1, state.FailedCount)
	assert.Equal(t, PhaseError, state.Phase)
	assert.Equal(t, DefaultPoolConfig().MaxAttempts(), client.attemptsFor("alice"))
}

func TestServiceResync(t *testing.T) {
	client := newScriptedClient(nil)
	client.hold = make(chan struct{})
	svc, _ := newTestService(t, client, testSealer(t, nil), nil)

	res := svc.Resync("alice")
	require.True(t, res.OK())
	assert.False(t, res.Value)

	require.True(t, svc.Ingest(context.Background(), "alice", estimate(t0, 0.5, 10), source(t0)).OK())

	// the ingested snapshot is already queued
	res = svc.Resync("alice")
	require.True(t, res.OK())
	assert.False(t, res.Value)

	close(client.hold)
	require.NoError(t, svc.Stop())
	assert.Equal(t, 1, client.attemptsFor("alice"))

	res = svc.Resync("alice")
	require.False(t, res.OK())
	assert.ErrorIs(t, res.Err, ErrPoolClosed)
}

func TestServiceView(t *testing.T) {
	svc, _ := newTestService(t, newScriptedClient(nil), testSealer(t, nil), nil)

	v, err := svc.View("alice")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.True(t, svc.Ingest(context.Background(), "alice", estimate(t0, 0.9, 25), source(t0)).OK())
	v, err = svc.View("alice")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, uint64(25), v.SampleCount)
}

func TestServiceWipe(t *testing.T) {
	client := newScriptedClient(nil)
	client.hold = make(chan struct{})
	purger := &recordingPurger{}
	events := &eventLog{}

	repo := newRepository(t)
	cfg := DefaultConfig()
	cfg.Pool.Workers = 1
	svc := NewService(cfg, Deps{
		Store:    repo,
		Client:   client,
		Sealer:   testSealer(t, nil),
		Purger:   purger,
		Notifier: NewNotifier(nil, events, nil),
	}, nil)
	require.NoError(t, svc.Start())
	defer svc.Stop()

	ctx := context.Background()
	require.True(t, svc.Ingest(ctx, "alice", estimate(t0, 0.5, 10), source(t0)).OK())
	require.True(t, svc.Ingest(ctx, "alice", estimate(t0.Add(time.Hour), 0.6, 10), source(t0)).OK())
	require.Eventually(t, func() bool { return svc.State().ActiveCount == 1 }, time.Second, time.Millisecond)

	res := svc.Wipe(ctx, "alice")
	require.True(t, res.OK(), "%v", res.Err)
	assert.Equal(t, 2, res.Value.PurgedTasks)
	assert.True(t, res.Value.LocalDeleted)
	assert.True(t, res.Value.IndexPurged)
	assert.Equal(t, []string{"alice/" + contentstore.TypePersonaProfile}, purger.owners)

	p, err := repo.Get("alice")
	require.NoError(t, err)
	assert.Nil(t, p)

	state := svc.State()
	assert.Equal(t, 2, state.PurgedCount)
	assert.Equal(t, 0, state.ActiveCount)
	assert.Equal(t, 0, state.PendingCount)

	res = svc.Wipe(ctx, "alice")
	require.True(t, res.OK())
	assert.False(t, res.Value.LocalDeleted)
	assert.Equal(t, 0, res.Value.PurgedTasks)
}

func TestServiceBusyAndOwners(t *testing.T) {
	client := newScriptedClient(nil)
	client.hold = make(chan struct{})

	cfg := DefaultConfig()
	cfg.Pool.BaseDelay = time.Millisecond
	svc := NewService(cfg, Deps{
		Store:  newRepository(t),
		Client: client,
		Sealer: testSealer(t, nil),
	}, nil)
	require.NoError(t, svc.Start())

	ctx := context.Background()
	require.True(t, svc.Ingest(ctx, "alice", estimate(t0, 0.5, 10), source(t0)).OK())
	require.Eventually(t, func() bool { return svc.State().ActiveCount == 1 }, time.Second, time.Millisecond)
	assert.True(t, svc.Busy("alice"))
	assert.False(t, svc.Busy("bob"))

	owners, err := svc.Owners()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, owners)

	close(client.hold)
	require.NoError(t, svc.Stop())
	assert.False(t, svc.Busy("alice"))
}
