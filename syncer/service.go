package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	tmlog "github.com/cometbft/cometbft/libs/log"

	"github.com/NethermindEth/chaoschain-persona/contentstore"
	"github.com/NethermindEth/chaoschain-persona/core"
)

// Sealer encrypts outgoing snapshots and opens downloaded ones.
// *crypto.Sealer satisfies it.
type Sealer interface {
	Opener
	Seal(ctx context.Context, owner string, plaintext []byte) ([]byte, error)
}

// IndexPurger removes an owner's remote listing. Optional.
type IndexPurger interface {
	Purge(ctx context.Context, owner, typ string) error
}

// Config groups the sync settings.
type Config struct {
	Pool                 PoolConfig
	Restore              RestoreConfig
	ReliabilityThreshold float64
}

func DefaultConfig() Config {
	return Config{
		Pool:                 DefaultPoolConfig(),
		Restore:              DefaultRestoreConfig(),
		ReliabilityThreshold: core.DefaultReliabilityThreshold,
	}
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store    ProfileStore
	Client   contentstore.Client
	Sealer   Sealer
	Purger   IndexPurger
	Metrics  *Metrics
	Notifier *Notifier
}

// Service ties the engine, the local store, the upload pool and the
// restore protocol together.
type Service struct {
	cfg      Config
	store    ProfileStore
	sealer   Sealer
	purger   IndexPurger
	pool     *Pool
	restorer *Restorer
	guard    *Guard
	state    *StateHolder
	notifier *Notifier
	logger   tmlog.Logger

	// ingestion is single-writer so read-compute-swap never interleaves
	mu sync.Mutex
}

func NewService(cfg Config, deps Deps, logger tmlog.Logger, poolOpts ...PoolOption) *Service {
	if logger == nil {
		logger = tmlog.NewNopLogger()
	}
	if cfg.ReliabilityThreshold <= 0 {
		cfg.ReliabilityThreshold = core.DefaultReliabilityThreshold
	}

	state := NewStateHolder()
	guard := NewGuard()
	if deps.Notifier != nil {
		state.Observe(deps.Notifier.State)
	}

	opts := append([]PoolOption{
		WithGuard(guard),
		WithStateHolder(state),
		WithMetrics(deps.Metrics),
		WithNotifier(deps.Notifier),
	}, poolOpts...)

	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		sealer:   deps.Sealer,
		purger:   deps.Purger,
		pool:     NewPool(cfg.Pool, deps.Client, logger, opts...),
		restorer: NewRestorer(cfg.Restore, deps.Client, deps.Store, deps.Sealer, guard, state, deps.Metrics, deps.Notifier, logger),
		guard:    guard,
		state:    state,
		notifier: deps.Notifier,
		logger:   logger.With("module", "sync"),
	}
}

// Start starts the upload workers.
func (s *Service) Start() error {
	return s.pool.Start()
}

// Stop stops accepting uploads and waits for queued ones to drain.
func (s *Service) Stop() error {
	return s.pool.Stop()
}

// Pool exposes the upload pool.
func (s *Service) Pool() *Pool { return s.pool }

// States exposes the state holder for subscriptions.
func (s *Service) States() *StateHolder { return s.state }

// State returns the current sync snapshot.
func (s *Service) State() SyncState { return s.state.Snapshot() }

// ReliabilityThreshold is the confidence a trait needs to count as reliable.
func (s *Service) ReliabilityThreshold() float64 { return s.cfg.ReliabilityThreshold }

// Ingest validates est, folds it into the owner's profile, persists the
// result and queues it for upload. Upload problems never fail Ingest; they
// show up in SyncState and events.
func (s *Service) Ingest(ctx context.Context, owner string, est core.PointEstimate, src core.EvidenceSource) Result[core.PersonaProfile] {
	if owner == "" {
		return fail[core.PersonaProfile](KindValidation, "ingest", &core.ValidationError{Field: "owner", Reason: "required"})
	}
	if err := ctx.Err(); err != nil {
		return fail[core.PersonaProfile](KindCancelled, "ingest", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.Get(owner)
	if err != nil {
		return fail[core.PersonaProfile](KindTransient, "ingest", fmt.Errorf("failed to read profile: %w", err))
	}

	next, err := core.ApplyEstimate(existing, est, src)
	if err != nil {
		return fail[core.PersonaProfile](KindValidation, "ingest", err)
	}

	if err := s.store.Put(owner, next); err != nil {
		return fail[core.PersonaProfile](KindTransient, "ingest", fmt.Errorf("failed to store profile: %w", err))
	}

	if _, err := s.enqueue(owner, next); err != nil {
		s.logger.Error("Failed to queue profile upload", "owner", owner, "err", err)
	}
	return ok(next)
}

// Resync queues the current local profile for upload again. It reports
// false when there is nothing to upload or the snapshot is already queued
// or uploaded.
func (s *Service) Resync(owner string) Result[bool] {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.store.Get(owner)
	if err != nil {
		return fail[bool](KindTransient, "resync", err)
	}
	if p == nil {
		return ok(false)
	}
	queued, err := s.enqueue(owner, *p)
	if err != nil {
		return fail[bool](KindOf(err), "resync", err)
	}
	return ok(queued)
}

func (s *Service) enqueue(owner string, p core.PersonaProfile) (bool, error) {
	snapshot, err := core.MarshalProfile(p)
	if err != nil {
		return false, err
	}
	sealer := s.sealer
	return s.pool.Enqueue(UploadTask{
		ID:    TaskID(owner, snapshot),
		Owner: owner,
		Tags:  contentstore.ProfileTags(owner, core.SchemaVersion, p.UpdatedAt),
		Payload: func(ctx context.Context) ([]byte, error) {
			return sealer.Seal(ctx, owner, snapshot)
		},
	})
}

// Restore rebuilds the owner's profile from the content store when no
// local profile exists.
func (s *Service) Restore(ctx context.Context, owner string) Result[RestoreOutcome] {
	if owner == "" {
		return fail[RestoreOutcome](KindValidation, "restore", &core.ValidationError{Field: "owner", Reason: "required"})
	}
	return s.restorer.Restore(ctx, owner)
}

// Profile returns the owner's profile, or nil.
func (s *Service) Profile(owner string) (*core.PersonaProfile, error) {
	return s.store.Get(owner)
}

// View returns the read model of the owner's profile, or nil.
func (s *Service) View(owner string) (*core.ProfileView, error) {
	p, err := s.store.Get(owner)
	if err != nil || p == nil {
		return nil, err
	}
	v := p.View(s.cfg.ReliabilityThreshold)
	return &v, nil
}

// OwnerLister is implemented by stores that can enumerate their owners.
type OwnerLister interface {
	Owners() ([]string, error)
}

// Owners lists, sorted, every owner with a local profile.
func (s *Service) Owners() ([]string, error) {
	lister, ok := s.store.(OwnerLister)
	if !ok {
		return nil, errors.New("profile store cannot list owners")
	}
	owners, err := lister.Owners()
	if err != nil {
		return nil, err
	}
	sort.Strings(owners)
	return owners, nil
}

// Busy reports whether an upload, restore or wipe currently holds the owner.
func (s *Service) Busy(owner string) bool {
	return s.guard.Busy(owner)
}

// WipeOutcome reports what a privacy wipe removed.
type WipeOutcome struct {
	PurgedTasks  int  `json:"purgedTasks"`
	IndexPurged  bool `json:"indexPurged"`
	LocalDeleted bool `json:"localDeleted"`
}

// Wipe deletes the owner's local profile and drops every queued or
// in-flight upload. Remote blobs are immutable; the remote listing is
// purged when the index supports it.
func (s *Service) Wipe(ctx context.Context, owner string) Result[WipeOutcome] {
	if owner == "" {
		return fail[WipeOutcome](KindValidation, "wipe", &core.ValidationError{Field: "owner", Reason: "required"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out WipeOutcome
	out.PurgedTasks = s.pool.Purge(owner)

	// wait for a cancelled upload or a running restore to let go
	release, err := s.guard.Acquire(ctx, owner)
	if err != nil {
		return Result[WipeOutcome]{Value: out, Err: newError(KindCancelled, "wipe", err)}
	}
	defer release()

	existing, err := s.store.Get(owner)
	if err != nil {
		s.logger.Error("Failed to read profile before wipe", "owner", owner, "err", err)
	}
	if err := s.store.Delete(owner); err != nil {
		return Result[WipeOutcome]{Value: out, Err: newError(KindTransient, "wipe", err)}
	}
	out.LocalDeleted = existing != nil

	if s.purger != nil {
		if err := s.purger.Purge(ctx, owner, contentstore.TypePersonaProfile); err != nil {
			s.logger.Error("Failed to purge remote index", "owner", owner, "err", err)
		} else {
			out.IndexPurged = true
		}
	}

	s.notifier.wiped(owner)
	s.logger.Info("Profile wiped", "owner", owner, "purged_tasks", out.PurgedTasks)
	return ok(out)
}
