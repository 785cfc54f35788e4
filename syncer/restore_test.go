package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NethermindEth/chaoschain-persona/contentstore"
	"github.com/NethermindEth/chaoschain-persona/core"
	"github.com/NethermindEth/chaoschain-persona/crypto"
)

type restoreFixture struct {
	store   *contentstore.Store
	client  *scriptedClient
	sealer  *crypto.Sealer
	signer  *crypto.Signer
	local   *memStore
	guard   *Guard
	state   *StateHolder
	events  *eventLog
	restore *Restorer
}

func newRestoreFixture(t *testing.T, cfg RestoreConfig) *restoreFixture {
	t.Helper()
	f := &restoreFixture{
		store:  contentstore.NewMemoryStore(0),
		signer: crypto.GenerateSigner(),
		local:  newMemStore(),
		guard:  NewGuard(),
		state:  NewStateHolder(),
		events: &eventLog{},
	}
	f.client = newScriptedClient(f.store)
	f.sealer = testSealer(t, f.signer)
	f.restore = NewRestorer(cfg, f.client, f.local, f.sealer, f.guard, f.state, nil, NewNotifier(nil, f.events, nil), nil)
	return f
}

// put uploads data sealed by sealer straight into the store, bypassing the
// scripted client so only restore traffic is counted.
func (f *restoreFixture) put(t *testing.T, sealer *crypto.Sealer, owner string, data []byte, ts time.Time) string {
	t.Helper()
	ctx := context.Background()
	blob, err := sealer.Seal(ctx, owner, data)
	require.NoError(t, err)
	id, err := f.store.Upload(ctx, blob, contentstore.ProfileTags(owner, core.SchemaVersion, ts))
	require.NoError(t, err)
	return id
}

func (f *restoreFixture) putProfile(t *testing.T, sealer *crypto.Sealer, owner string, p core.PersonaProfile) string {
	t.Helper()
	data, err := core.MarshalProfile(p)
	require.NoError(t, err)
	return f.put(t, sealer, owner, data, p.UpdatedAt)
}

func TestRestoreSkipsUnusableCandidates(t *testing.T) {
	f := newRestoreFixture(t, DefaultRestoreConfig())
	foreign := testSealer(t, f.signer)

	// ids[0] is the oldest; the index returns newest first.
	ids := make([]string, 5)
	profiles := make([]core.PersonaProfile, 5)
	for i := range ids {
		ts := t0.Add(time.Duration(i) * time.Minute)
		profiles[i] = profileAt(ts, 0.2+0.1*float64(i), 10)
		sealer := f.sealer
		if i >= 2 {
			sealer = foreign
		}
		ids[i] = f.putProfile(t, sealer, "alice", profiles[i])
	}

	res := f.restore.Restore(context.Background(), "alice")
	require.True(t, res.OK(), "%v", res.Err)
	out := res.Value
	assert.True(t, out.Restored)
	assert.Equal(t, ids[1], out.ContentID)
	assert.Equal(t, 4, out.Examined)
	assert.Equal(t, core.SchemaVersion, out.SchemaVersion)

	assert.Equal(t, []string{ids[4], ids[3], ids[2], ids[1]}, f.client.downloaded())
	assert.NotContains(t, f.client.downloaded(), ids[0])

	stored, err := f.local.Get("alice")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, profiles[1].SampleCount, stored.SampleCount)
	assert.InDelta(t, profiles[1].OCEAN.Openness.Alpha, stored.OCEAN.Openness.Alpha, 1e-9)

	state := f.state.Snapshot()
	assert.Equal(t, PhaseSuccess, state.Phase)
	assert.Equal(t, 0, state.Restoring)
}

func TestRestoreNoopWhenLocalExists(t *testing.T) {
	f := newRestoreFixture(t, DefaultRestoreConfig())
	f.putProfile(t, f.sealer, "alice", profileAt(t0, 0.9, 20))

	local := profileAt(t0.Add(time.Hour), 0.1, 5)
	require.NoError(t, f.local.Put("alice", local))

	res := f.restore.Restore(context.Background(), "alice")
	require.True(t, res.OK())
	assert.True(t, res.Value.Skipped)
	assert.False(t, res.Value.Restored)
	assert.Equal(t, int32(0), f.client.queries.Load())
	assert.Empty(t, f.client.downloaded())

	stored, _ := f.local.Get("alice")
	assert.Equal(t, local.UpdatedAt, stored.UpdatedAt)
	assert.Equal(t, PhaseIdle, f.state.Snapshot().Phase)
}

func TestRestoreExhausted(t *testing.T) {
	t.Run("empty index", func(t *testing.T) {
		f := newRestoreFixture(t, DefaultRestoreConfig())
		res := f.restore.Restore(context.Background(), "alice")
		require.False(t, res.OK())
		assert.Equal(t, KindRestoreExhausted, res.Err.Kind)
		assert.Equal(t, 0, res.Value.Examined)
		assert.Equal(t, PhaseError, f.state.Snapshot().Phase)
	})

	t.Run("every candidate bad", func(t *testing.T) {
		f := newRestoreFixture(t, DefaultRestoreConfig())
		f.put(t, f.sealer, "alice", []byte(`{"schemaVersion": 9}`), t0)
		f.put(t, f.sealer, "alice", []byte(`not json`), t0.Add(time.Minute))
		invalid := profileAt(t0.Add(2*time.Minute), 0.5, 10)
		invalid.SampleCount = 0
		f.putProfile(t, f.sealer, "alice", invalid)

		res := f.restore.Restore(context.Background(), "alice")
		require.False(t, res.OK())
		assert.Equal(t, KindRestoreExhausted, res.Err.Kind)
		assert.Equal(t, 3, res.Value.Examined)
		assert.Len(t, f.client.downloaded(), 3)

		p, _ := f.local.Get("alice")
		assert.Nil(t, p)

		evs := f.events.events
		require.NotEmpty(t, evs)
		ev, ok := evs[len(evs)-1].(RestoreEvent)
		require.True(t, ok)
		assert.Equal(t, KindRestoreExhausted.String(), ev.Outcome)
	})

	t.Run("signed by someone else", func(t *testing.T) {
		f := newRestoreFixture(t, DefaultRestoreConfig())
		impostor := testSealer(t, crypto.GenerateSigner())
		f.putProfile(t, impostor, "alice", profileAt(t0, 0.5, 10))

		res := f.restore.Restore(context.Background(), "alice")
		require.False(t, res.OK())
		assert.Equal(t, KindRestoreExhausted, res.Err.Kind)
		assert.Equal(t, 1, res.Value.Examined)
	})
}

func TestRestoreWindowIsBounded(t *testing.T) {
	f := newRestoreFixture(t, DefaultRestoreConfig())
	for i := 0; i < DefaultRestoreWindow+5; i++ {
		f.put(t, f.sealer, "alice", []byte(fmt.Sprintf("garbage-%d", i)), t0.Add(time.Duration(i)*time.Second))
	}

	res := f.restore.Restore(context.Background(), "alice")
	require.False(t, res.OK())
	assert.Equal(t, KindRestoreExhausted, res.Err.Kind)
	assert.Equal(t, DefaultRestoreWindow, res.Value.Examined)
	assert.Len(t, f.client.downloaded(), DefaultRestoreWindow)
}

func TestRestoreLegacyCandidate(t *testing.T) {
	f := newRestoreFixture(t, DefaultRestoreConfig())
	legacy := `{
		"version": 1,
		"traits": {
			"openness": {"a": 5, "b": 2},
			"conscientiousness": {"a": 2, "b": 3},
			"extraversion": {"a": 1, "b": 1},
			"agreeableness": {"a": 4, "b": 4},
			"neuroticism": {"a": 1.5, "b": 6}
		},
		"samples": 12,
		"updated": 1767268800000
	}`
	id := f.put(t, f.sealer, "alice", []byte(legacy), t0)

	res := f.restore.Restore(context.Background(), "alice")
	require.True(t, res.OK(), "%v", res.Err)
	assert.Equal(t, id, res.Value.ContentID)
	assert.Equal(t, core.LegacySchemaVersion, res.Value.SchemaVersion)

	p, _ := f.local.Get("alice")
	require.NotNil(t, p)
	assert.Equal(t, 5.0, p.OCEAN.Openness.Alpha)
	assert.Equal(t, uint64(12), p.SampleCount)
}

func TestRestoreIgnoresOtherOwners(t *testing.T) {
	f := newRestoreFixture(t, DefaultRestoreConfig())
	f.putProfile(t, f.sealer, "bob", profileAt(t0.Add(time.Hour), 0.9, 20))
	want := f.putProfile(t, f.sealer, "alice", profileAt(t0, 0.3, 10))

	res := f.restore.Restore(context.Background(), "alice")
	require.True(t, res.OK())
	assert.Equal(t, want, res.Value.ContentID)
	assert.Equal(t, 1, res.Value.Examined)
}

func TestRestoreBusy(t *testing.T) {
	f := newRestoreFixture(t, DefaultRestoreConfig())
	f.putProfile(t, f.sealer, "alice", profileAt(t0, 0.5, 10))

	release, ok := f.guard.TryAcquire("alice")
	require.True(t, ok)

	res := f.restore.Restore(context.Background(), "alice")
	require.False(t, res.OK())
	assert.Equal(t, KindBusy, res.Err.Kind)
	assert.Equal(t, int32(0), f.client.queries.Load())

	release()
	res = f.restore.Restore(context.Background(), "alice")
	assert.True(t, res.OK())
	assert.False(t, f.guard.Busy("alice"))
}

type failingIndex struct{ err error }

func (f failingIndex) Append(context.Context, contentstore.IndexEntry) error { return f.err }

func (f failingIndex) Query(context.Context, string, string, int) ([]contentstore.IndexEntry, error) {
	return nil, f.err
}

func TestRestoreIndexErrors(t *testing.T) {
	store := contentstore.NewStore(contentstore.NewMemoryBlobStore(), failingIndex{err: errors.New("gateway timeout")})
	r := NewRestorer(DefaultRestoreConfig(), store, newMemStore(), testSealer(t, nil), nil, nil, nil, nil, nil)

	res := r.Restore(context.Background(), "alice")
	require.False(t, res.OK())
	assert.Equal(t, KindTransient, res.Err.Kind)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res = r.Restore(ctx, "alice")
	require.False(t, res.OK())
	assert.Equal(t, KindCancelled, res.Err.Kind)
}

func TestRestoreSeesLaggingIndex(t *testing.T) {
	blobs := contentstore.NewMemoryBlobStore()
	index := contentstore.NewMemoryIndex(time.Minute)
	now := t0
	index.Now = func() time.Time { return now }
	store := contentstore.NewStore(blobs, index)

	sealer := testSealer(t, nil)
	local := newMemStore()
	r := NewRestorer(DefaultRestoreConfig(), store, local, sealer, nil, nil, nil, nil, nil)

	data, err := core.MarshalProfile(profileAt(t0, 0.4, 10))
	require.NoError(t, err)
	blob, err := sealer.Seal(context.Background(), "alice", data)
	require.NoError(t, err)
	_, err = store.Upload(context.Background(), blob, contentstore.ProfileTags("alice", core.SchemaVersion, t0))
	require.NoError(t, err)

	res := r.Restore(context.Background(), "alice")
	require.False(t, res.OK())
	assert.Equal(t, KindRestoreExhausted, res.Err.Kind)

	now = t0.Add(2 * time.Minute)
	res = r.Restore(context.Background(), "alice")
	require.True(t, res.OK(), "%v", res.Err)
	assert.True(t, res.Value.Restored)
}
