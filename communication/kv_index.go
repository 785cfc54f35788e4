package communication

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	tmlog "github.com/cometbft/cometbft/libs/log"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/NethermindEth/chaoschain-persona/contentstore"
)

const (
	DefaultIndexBucket = "persona-index"

	// kvHistory is the JetStream KV per-key history ceiling.
	kvHistory = 64
)

// KVIndex is a remote index kept in a JetStream key-value bucket. Each
// (type, owner) pair is one key; the key history is the upload listing.
// Older revisions fall off once the history limit is reached.
type KVIndex struct {
	kv     jetstream.KeyValue
	logger tmlog.Logger
}

var _ contentstore.Index = (*KVIndex)(nil)

// NewKVIndex binds to bucket, creating it when missing.
func NewKVIndex(ctx context.Context, m *Messenger, bucket string, logger tmlog.Logger) (*KVIndex, error) {
	if logger == nil {
		logger = tmlog.NewNopLogger()
	}
	if bucket == "" {
		bucket = DefaultIndexBucket
	}

	js, err := jetstream.New(m.NC)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "persona profile upload index",
			History:     kvHistory,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index bucket %s: %w", bucket, err)
	}

	return &KVIndex{kv: kv, logger: logger.With("module", "kv_index")}, nil
}

func indexKey(owner, typ string) string {
	// owners are arbitrary strings; KV keys are not
	return typ + "." + hex.EncodeToString([]byte(owner))
}

func (x *KVIndex) Append(ctx context.Context, entry contentstore.IndexEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal index entry: %w", err)
	}
	key := indexKey(entry.Tags[contentstore.TagOwner], entry.Tags[contentstore.TagType])
	if _, err := x.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to append index entry: %w", err)
	}
	return nil
}

func (x *KVIndex) Query(ctx context.Context, owner, typ string, limit int) ([]contentstore.IndexEntry, error) {
	history, err := x.kv.History(ctx, indexKey(owner, typ))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return []contentstore.IndexEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}

	entries := make([]contentstore.IndexEntry, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		rev := history[i]
		if rev.Operation() != jetstream.KeyValuePut {
			continue
		}
		var e contentstore.IndexEntry
		if err := json.Unmarshal(rev.Value(), &e); err != nil {
			x.logger.Error("Skipping unreadable index entry", "key", rev.Key(), "revision", rev.Revision(), "err", err)
			continue
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = rev.Created()
		}
		entries = append(entries, e)
	}

	contentstore.SortNewestFirst(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Purge drops the listing for one owner and type.
func (x *KVIndex) Purge(ctx context.Context, owner, typ string) error {
	if err := x.kv.Purge(ctx, indexKey(owner, typ)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to purge index: %w", err)
	}
	return nil
}
