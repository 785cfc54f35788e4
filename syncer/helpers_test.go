package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NethermindEth/chaoschain-persona/contentstore"
	"github.com/NethermindEth/chaoschain-persona/core"
	"github.com/NethermindEth/chaoschain-persona/crypto"
)

var errFlaky = errors.New("503 service unavailable")

// scriptedClient fails uploads according to a per-owner script and counts
// every call.
type scriptedClient struct {
	contentstore.Client

	mu       sync.Mutex
	script   map[string]func(attempt int) error
	attempts map[string]int
	hold     chan struct{}

	active  atomic.Int32
	peak    atomic.Int32
	queries atomic.Int32

	downloadMu sync.Mutex
	downloads  []string
}

func newScriptedClient(inner contentstore.Client) *scriptedClient {
	return &scriptedClient{
		Client:   inner,
		script:   map[string]func(int) error{},
		attempts: map[string]int{},
	}
}

func (c *scriptedClient) on(owner string, fn func(attempt int) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script[owner] = fn
}

func (c *scriptedClient) attemptsFor(owner string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[owner]
}

func (c *scriptedClient) Upload(ctx context.Context, data []byte, tags contentstore.Tags) (string, error) {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}

	owner := tags[contentstore.TagOwner]
	c.mu.Lock()
	c.attempts[owner]++
	attempt := c.attempts[owner]
	fn := c.script[owner]
	hold := c.hold
	c.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fn != nil {
		if err := fn(attempt); err != nil {
			return "", err
		}
	}
	if c.Client == nil {
		return "id-" + owner, nil
	}
	return c.Client.Upload(ctx, data, tags)
}

func (c *scriptedClient) Download(ctx context.Context, id string) ([]byte, error) {
	c.downloadMu.Lock()
	c.downloads = append(c.downloads, id)
	c.downloadMu.Unlock()
	return c.Client.Download(ctx, id)
}

func (c *scriptedClient) QueryIndex(ctx context.Context, owner, typ string, limit int) ([]contentstore.IndexEntry, error) {
	c.queries.Add(1)
	return c.Client.QueryIndex(ctx, owner, typ, limit)
}

func (c *scriptedClient) downloaded() []string {
	c.downloadMu.Lock()
	defer c.downloadMu.Unlock()
	return append([]string(nil), c.downloads...)
}

// memStore is a ProfileStore over a map.
type memStore struct {
	mu       sync.Mutex
	profiles map[string]core.PersonaProfile
}

func newMemStore() *memStore {
	return &memStore{profiles: map[string]core.PersonaProfile{}}
}

func (s *memStore) Get(owner string) (*core.PersonaProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[owner]
	if !ok {
		return nil, nil
	}
	c := p.Clone()
	return &c, nil
}

func (s *memStore) Put(owner string, p core.PersonaProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[owner] = p.Clone()
	return nil
}

func (s *memStore) PutIfAbsent(owner string, p core.PersonaProfile) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[owner]; ok {
		return false, nil
	}
	s.profiles[owner] = p.Clone()
	return true, nil
}

func (s *memStore) Delete(owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, owner)
	return nil
}

// recordingSleep records backoff delays without sleeping.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleep) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// eventLog captures broadcast events.
type eventLog struct {
	mu     sync.Mutex
	events []any
}

func (l *eventLog) BroadcastEvent(eventType string, payload interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, payload)
}

func (l *eventLog) taskEvents(taskID string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if ev, ok := e.(Event); ok && ev.TaskID == taskID {
			out = append(out, ev)
		}
	}
	return out
}

func testSealer(t *testing.T, signer *crypto.Signer) *crypto.Sealer {
	t.Helper()
	key, err := crypto.GenerateSecretBoxKey()
	require.NoError(t, err)
	box, err := crypto.NewSecretBox(key)
	require.NoError(t, err)
	return crypto.NewSealer(box, signer)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func estimate(ts time.Time, score float64, size uint32) core.PointEstimate {
	return core.PointEstimate{
		Openness: score, Conscientiousness: score, Extraversion: score,
		Agreeableness: score, Neuroticism: score,
		SampleSize: size, Timestamp: ts,
	}
}

func source(ts time.Time) core.EvidenceSource {
	return core.EvidenceSource{Type: core.SourceConversationAnalysis, ID: "batch", CreatedAt: ts}
}

func profileAt(ts time.Time, score float64, size uint32) core.PersonaProfile {
	return core.UpdateProfile(nil, estimate(ts, score, size), source(ts))
}

func task(id, owner string) UploadTask {
	return UploadTask{
		ID:      id,
		Owner:   owner,
		Tags:    contentstore.ProfileTags(owner, core.SchemaVersion, t0),
		Payload: func(context.Context) ([]byte, error) { return []byte("payload-" + id), nil },
	}
}
