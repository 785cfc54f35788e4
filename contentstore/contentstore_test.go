package contentstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileTags(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tags := ProfileTags("alice", 2, ts)

	assert.Equal(t, TypePersonaProfile, tags[TagType])
	assert.Equal(t, "alice", tags[TagOwner])
	assert.Equal(t, "2", tags[TagSchemaVersion])
	assert.True(t, ts.Equal(tags.Timestamp()))
	assert.True(t, Tags{}.Timestamp().IsZero())
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)

	id, err := store.Upload(ctx, []byte("blob"), ProfileTags("alice", 2, time.Now()))
	require.NoError(t, err)

	data, err := store.Download(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "blob", string(data))

	_, err = store.Download(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Upload(ctx, nil, Tags{})
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestMemoryIndexNewestFirstAndFiltered(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, owner := range []string{"alice", "bob", "alice", "alice"} {
		_, err := store.Upload(ctx, []byte{byte(i + 1)}, ProfileTags(owner, 2, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	other := ProfileTags("alice", 2, base.Add(time.Hour))
	other[TagType] = "SomethingElse"
	_, err := store.Upload(ctx, []byte("x"), other)
	require.NoError(t, err)

	entries, err := store.QueryIndex(ctx, "alice", TypePersonaProfile, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].Timestamp.After(entries[1].Timestamp))
	assert.True(t, entries[1].Timestamp.After(entries[2].Timestamp))

	entries, err = store.QueryIndex(ctx, "alice", TypePersonaProfile, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestMemoryIndexLag(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	index := NewMemoryIndex(time.Minute)
	index.Now = func() time.Time { return now }
	store := NewStore(NewMemoryBlobStore(), index)

	_, err := store.Upload(ctx, []byte("blob"), ProfileTags("alice", 2, now))
	require.NoError(t, err)

	entries, err := store.QueryIndex(ctx, "alice", TypePersonaProfile, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	now = now.Add(2 * time.Minute)
	entries, err = store.QueryIndex(ctx, "alice", TypePersonaProfile, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemoryStoreHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemoryStore(0)

	_, err := store.Upload(ctx, []byte("blob"), Tags{})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.QueryIndex(ctx, "alice", TypePersonaProfile, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
