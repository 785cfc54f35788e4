package storage

import (
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NethermindEth/chaoschain-persona/core"
)

func openTestDB(t *testing.T) *DBStorage {
	t.Helper()
	db, err := Open(InMemoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testProfile(sampleSize uint32) core.PersonaProfile {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return core.UpdateProfile(nil, core.PointEstimate{
		Openness: 0.8, Conscientiousness: 0.3, Extraversion: 0.5,
		Agreeableness: 0.7, Neuroticism: 0.2,
		SampleSize: sampleSize, Timestamp: ts,
	}, core.EvidenceSource{Type: core.SourceOnboarding, CreatedAt: ts})
}

func TestDBStorageBasics(t *testing.T) {
	db := openTestDB(t)

	v, err := db.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, db.Put("a:1", []byte("one")))
	require.NoError(t, db.Put("a:2", []byte("two")))
	require.NoError(t, db.Put("b:1", []byte("three")))

	v, err = db.Get("a:1")
	require.NoError(t, err)
	assert.Equal(t, "one", string(v))

	all, err := db.GetByPrefix("a:")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, db.DeleteByPrefix("a:"))
	all, err = db.GetByPrefix("a:")
	require.NoError(t, err)
	assert.Empty(t, all)

	v, err = db.Get("b:1")
	require.NoError(t, err)
	assert.Equal(t, "three", string(v))
}

func TestDBStoragePutIfAbsent(t *testing.T) {
	db := openTestDB(t)

	stored, err := db.PutIfAbsent("k", []byte("first"))
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = db.PutIfAbsent("k", []byte("second"))
	require.NoError(t, err)
	assert.False(t, stored)

	v, err := db.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "first", string(v))
}

func TestDBStorageMetrics(t *testing.T) {
	db := openTestDB(t)
	reg := prometheus.NewRegistry()
	require.NoError(t, db.RegisterMetrics(reg))

	require.NoError(t, db.Put("k", []byte("v")))
	_, err := db.Get("k")
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "persona_store_puts_total", "persona_store_gets_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(1), db.metrics.PutCount.Load())
	assert.Equal(t, int64(1), db.metrics.GetCount.Load())
}

func TestOpenRequiresDataDir(t *testing.T) {
	_, err := Open(DefaultConfig(""), nil)
	require.Error(t, err)
}

func TestOpenOnDisk(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.DisableLogging = true
	cfg.GCInterval = 10 * time.Millisecond

	db, err := Open(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, db.Put("k", []byte("v")))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	reopened, err := Open(cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()
	v, err := reopened.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}

func TestProfileRepository(t *testing.T) {
	for name, cache := range map[string]*ProfileCache{
		"uncached": nil,
		"cached":   NewProfileCache(8, time.Minute),
	} {
		t.Run(name, func(t *testing.T) {
			repo := NewProfileRepository(openTestDB(t), cache)

			got, err := repo.Get("alice")
			require.NoError(t, err)
			assert.Nil(t, got)

			p := testProfile(12)
			require.NoError(t, repo.Put("alice", p))

			got, err = repo.Get("alice")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, p.SampleCount, got.SampleCount)
			assert.Len(t, got.Evidence, len(p.Evidence))

			stored, err := repo.PutIfAbsent("alice", testProfile(99))
			require.NoError(t, err)
			assert.False(t, stored)

			got, err = repo.Get("alice")
			require.NoError(t, err)
			assert.Equal(t, uint64(12), got.SampleCount)

			stored, err = repo.PutIfAbsent("bob", testProfile(3))
			require.NoError(t, err)
			assert.True(t, stored)

			owners, err := repo.Owners()
			require.NoError(t, err)
			sort.Strings(owners)
			assert.Equal(t, []string{"alice", "bob"}, owners)

			require.NoError(t, repo.Delete("alice"))
			require.NoError(t, repo.Delete("alice"))
			got, err = repo.Get("alice")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestProfileRepositoryRejectsCorruptRecord(t *testing.T) {
	db := openTestDB(t)
	repo := NewProfileRepository(db, nil)
	require.NoError(t, db.Put(profileKey("alice"), []byte("{garbage")))

	_, err := repo.Get("alice")
	require.Error(t, err)
}

func TestProfileCacheDoesNotAlias(t *testing.T) {
	c := NewProfileCache(2, time.Minute)
	p := testProfile(5)
	c.Add("alice", p)

	got, ok := c.Get("alice")
	require.True(t, ok)
	got.Evidence[0].Summary = "mutated"

	again, ok := c.Get("alice")
	require.True(t, ok)
	assert.NotEqual(t, "mutated", again.Evidence[0].Summary)

	c.Add("bob", p)
	c.Add("carol", p)
	assert.Equal(t, 2, c.Len())
	_, ok = c.Get("alice")
	assert.False(t, ok)

	var nilCache *ProfileCache
	nilCache.Add("x", p)
	_, ok = nilCache.Get("x")
	assert.False(t, ok)
}
