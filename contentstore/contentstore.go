// Package contentstore describes the immutable, content-addressed network
// store profiles are synced to, and the advisory index used to find them.
package contentstore

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"
)

// Tag names attached to every upload. Readers ignore tags they do not know.
const (
	TagType          = "type"
	TagOwner         = "owner"
	TagSchemaVersion = "schemaVersion"
	TagTimestamp     = "timestamp"

	TypePersonaProfile = "PersonaProfile"
)

var (
	// ErrPrecondition means the store refused the upload for a reason retrying
	// cannot fix (payment, quota, authorization).
	ErrPrecondition = errors.New("content store precondition failed")

	// ErrMalformedPayload means the store rejected the bytes themselves.
	ErrMalformedPayload = errors.New("content store rejected payload")

	// ErrNotFound means no content exists under the id.
	ErrNotFound = errors.New("content not found")
)

// Tags are the metadata written alongside an upload.
type Tags map[string]string

// ProfileTags builds the tag set for a profile upload.
func ProfileTags(owner string, schemaVersion int, ts time.Time) Tags {
	return Tags{
		TagType:          TypePersonaProfile,
		TagOwner:         owner,
		TagSchemaVersion: strconv.Itoa(schemaVersion),
		TagTimestamp:     strconv.FormatInt(ts.UnixMilli(), 10),
	}
}

// Timestamp parses the timestamp tag, zero when missing or invalid.
func (t Tags) Timestamp() time.Time {
	ms, err := strconv.ParseInt(t[TagTimestamp], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (t Tags) clone() Tags {
	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// IndexEntry is one listing row of the remote index.
type IndexEntry struct {
	ContentID string    `json:"contentId"`
	Tags      Tags      `json:"tags"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is what the sync core talks to. QueryIndex returns newest first,
// but the listing is advisory: it may lag and may contain garbage.
type Client interface {
	Upload(ctx context.Context, data []byte, tags Tags) (string, error)
	Download(ctx context.Context, contentID string) ([]byte, error)
	QueryIndex(ctx context.Context, owner, typ string, limit int) ([]IndexEntry, error)
}

// BlobStore stores and fetches immutable blobs.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, contentID string) ([]byte, error)
}

// Index records uploads and lists them by owner and type.
type Index interface {
	Append(ctx context.Context, entry IndexEntry) error
	Query(ctx context.Context, owner, typ string, limit int) ([]IndexEntry, error)
}

// Store composes a blob store and an index into a Client.
type Store struct {
	Blobs BlobStore
	Index Index
	Now   func() time.Time
}

func NewStore(blobs BlobStore, index Index) *Store {
	return &Store{Blobs: blobs, Index: index, Now: time.Now}
}

// Upload puts the blob, then records it in the index. An index failure
// after a successful put is returned; the blob stays orphaned, which is
// harmless for an immutable store.
func (s *Store) Upload(ctx context.Context, data []byte, tags Tags) (string, error) {
	id, err := s.Blobs.Put(ctx, data)
	if err != nil {
		return "", err
	}

	ts := tags.Timestamp()
	if ts.IsZero() {
		ts = s.Now().UTC()
	}
	if err := s.Index.Append(ctx, IndexEntry{ContentID: id, Tags: tags.clone(), Timestamp: ts}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Download(ctx context.Context, contentID string) ([]byte, error) {
	return s.Blobs.Get(ctx, contentID)
}

func (s *Store) QueryIndex(ctx context.Context, owner, typ string, limit int) ([]IndexEntry, error) {
	return s.Index.Query(ctx, owner, typ, limit)
}

// SortNewestFirst orders entries by timestamp descending, keeping the
// relative order of ties.
func SortNewestFirst(entries []IndexEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}
