package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	tmlog "github.com/cometbft/cometbft/libs/log"

	"github.com/NethermindEth/chaoschain-persona/contentstore"
	"github.com/NethermindEth/chaoschain-persona/core"
)

// DefaultRestoreWindow bounds how many index entries a restore examines.
const DefaultRestoreWindow = 30

// ProfileStore is the local persistence the sync core needs. Get returns
// nil when the owner has no profile.
type ProfileStore interface {
	Get(owner string) (*core.PersonaProfile, error)
	Put(owner string, p core.PersonaProfile) error
	PutIfAbsent(owner string, p core.PersonaProfile) (bool, error)
	Delete(owner string) error
}

// Opener verifies and decrypts a downloaded blob. *crypto.Sealer
// satisfies it.
type Opener interface {
	Open(ctx context.Context, owner string, blob []byte) ([]byte, error)
}

// RestoreOutcome describes a successful restore run.
type RestoreOutcome struct {
	// Restored is true when a remote candidate was committed locally.
	Restored bool `json:"restored"`
	// Skipped is true when a local profile already existed.
	Skipped       bool                 `json:"skipped"`
	ContentID     string               `json:"contentId,omitempty"`
	SchemaVersion int                  `json:"schemaVersion,omitempty"`
	Examined      int                  `json:"examined"`
	Profile       *core.PersonaProfile `json:"-"`
}

// RestoreConfig holds the restore bounds.
type RestoreConfig struct {
	Window       int
	QueryTimeout time.Duration
	FetchTimeout time.Duration
}

func DefaultRestoreConfig() RestoreConfig {
	return RestoreConfig{
		Window:       DefaultRestoreWindow,
		QueryTimeout: 30 * time.Second,
		FetchTimeout: 30 * time.Second,
	}
}

// Restorer rebuilds a missing local profile from the newest remote
// snapshot that can be fetched, opened, parsed and validated.
type Restorer struct {
	cfg      RestoreConfig
	client   contentstore.Client
	store    ProfileStore
	opener   Opener
	guard    *Guard
	state    *StateHolder
	metrics  *Metrics
	notifier *Notifier
	logger   tmlog.Logger
	now      func() time.Time
}

func NewRestorer(cfg RestoreConfig, client contentstore.Client, store ProfileStore, opener Opener,
	guard *Guard, state *StateHolder, metrics *Metrics, notifier *Notifier, logger tmlog.Logger) *Restorer {
	def := DefaultRestoreConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = def.QueryTimeout
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if guard == nil {
		guard = NewGuard()
	}
	if state == nil {
		state = NewStateHolder()
	}
	if logger == nil {
		logger = tmlog.NewNopLogger()
	}
	return &Restorer{
		cfg:      cfg,
		client:   client,
		store:    store,
		opener:   opener,
		guard:    guard,
		state:    state,
		metrics:  metrics,
		notifier: notifier,
		logger:   logger.With("module", "restore"),
		now:      time.Now,
	}
}

// Restore runs the restore protocol for owner. It never queries the index
// when a local profile exists, fails with KindBusy while another operation
// for the owner is in flight, and commits at most one candidate.
func (r *Restorer) Restore(ctx context.Context, owner string) Result[RestoreOutcome] {
	existing, err := r.store.Get(owner)
	if err != nil {
		return fail[RestoreOutcome](KindTransient, "restore", fmt.Errorf("failed to read local profile: %w", err))
	}
	if existing != nil {
		r.metrics.restore("skipped")
		return ok(RestoreOutcome{Skipped: true, Profile: existing})
	}

	release, acquired := r.guard.TryAcquire(owner)
	if !acquired {
		return fail[RestoreOutcome](KindBusy, "restore", errors.New("another sync operation is in progress"))
	}
	defer release()

	r.state.restoreStarted()
	res := r.restore(ctx, owner)

	ev := RestoreEvent{Owner: owner, Examined: res.Value.Examined, ContentID: res.Value.ContentID, At: r.now().UTC()}
	var stateErr error
	switch {
	case res.Err != nil:
		ev.Outcome = res.Err.Kind.String()
		ev.Error = res.Err.Error()
		stateErr = res.Err
	case res.Value.Skipped:
		ev.Outcome = "skipped"
	default:
		ev.Outcome = "restored"
	}
	r.state.restoreFinished(stateErr)
	r.metrics.restore(ev.Outcome)
	r.notifier.restore(ev)
	return res
}

func (r *Restorer) restore(ctx context.Context, owner string) Result[RestoreOutcome] {
	qctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	entries, err := r.client.QueryIndex(qctx, owner, contentstore.TypePersonaProfile, r.cfg.Window)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return fail[RestoreOutcome](KindCancelled, "restore", ctx.Err())
		}
		return fail[RestoreOutcome](KindTransient, "restore", fmt.Errorf("failed to query index: %w", err))
	}

	candidates := r.candidates(owner, entries)
	r.logger.Info("Restoring profile", "owner", owner, "candidates", len(candidates))

	var out RestoreOutcome
	var lastErr error
	for _, entry := range candidates {
		if err := ctx.Err(); err != nil {
			return Result[RestoreOutcome]{Value: out, Err: newError(KindCancelled, "restore", err)}
		}
		out.Examined++

		profile, version, err := r.tryCandidate(ctx, owner, entry)
		if err != nil {
			if ctx.Err() != nil {
				return Result[RestoreOutcome]{Value: out, Err: newError(KindCancelled, "restore", ctx.Err())}
			}
			lastErr = newError(KindRestoreCandidate, "restore", fmt.Errorf("candidate %s: %w", entry.ContentID, err))
			r.metrics.candidate("rejected")
			r.logger.Info("Restore candidate rejected", "owner", owner, "content_id", entry.ContentID, "err", err)
			continue
		}
		r.metrics.candidate("accepted")

		stored, err := r.store.PutIfAbsent(owner, profile)
		if err != nil {
			return Result[RestoreOutcome]{Value: out, Err: newError(KindTransient, "restore", fmt.Errorf("failed to commit restored profile: %w", err))}
		}
		if !stored {
			// A local write won the race; it is newer than anything remote.
			current, err := r.store.Get(owner)
			if err != nil {
				return Result[RestoreOutcome]{Value: out, Err: newError(KindTransient, "restore", err)}
			}
			out.Skipped = true
			out.Profile = current
			return ok(out)
		}

		out.Restored = true
		out.ContentID = entry.ContentID
		out.SchemaVersion = version
		out.Profile = &profile
		r.logger.Info("Profile restored", "owner", owner, "content_id", entry.ContentID, "schema", version, "examined", out.Examined)
		return ok(out)
	}

	cause := fmt.Errorf("no usable snapshot among %d candidates", out.Examined)
	if lastErr != nil {
		cause = fmt.Errorf("%w, last: %v", cause, lastErr)
	}
	return Result[RestoreOutcome]{Value: out, Err: newError(KindRestoreExhausted, "restore", cause)}
}

// candidates drops entries that do not belong to owner, then re-sorts and
// re-caps the listing because the index is advisory.
func (r *Restorer) candidates(owner string, entries []contentstore.IndexEntry) []contentstore.IndexEntry {
	out := make([]contentstore.IndexEntry, 0, len(entries))
	for _, e := range entries {
		if e.ContentID == "" {
			continue
		}
		if t, ok := e.Tags[contentstore.TagType]; ok && t != contentstore.TypePersonaProfile {
			continue
		}
		if o, ok := e.Tags[contentstore.TagOwner]; ok && o != owner {
			continue
		}
		out = append(out, e)
	}
	contentstore.SortNewestFirst(out)
	if len(out) > r.cfg.Window {
		out = out[:r.cfg.Window]
	}
	return out
}

func (r *Restorer) tryCandidate(ctx context.Context, owner string, entry contentstore.IndexEntry) (core.PersonaProfile, int, error) {
	fctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	blob, err := r.client.Download(fctx, entry.ContentID)
	if err != nil {
		return core.PersonaProfile{}, 0, fmt.Errorf("download: %w", err)
	}
	plaintext, err := r.opener.Open(fctx, owner, blob)
	if err != nil {
		return core.PersonaProfile{}, 0, fmt.Errorf("open: %w", err)
	}
	profile, version, err := core.ParseProfile(plaintext)
	if err != nil {
		return core.PersonaProfile{}, 0, fmt.Errorf("parse: %w", err)
	}
	if err := core.ValidateProfile(profile); err != nil {
		return core.PersonaProfile{}, 0, fmt.Errorf("validate: %w", err)
	}
	return profile, version, nil
}
