package da

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/Layr-Labs/eigenda/encoding/utils/codec"
	tmlog "github.com/cometbft/cometbft/libs/log"

	"github.com/NethermindEth/chaoschain-persona/contentstore"
)

// BlobStore keeps sealed profiles in EigenDA. Content ids are the hex
// encoded disperser request ids.
type BlobStore struct {
	cfg    Config
	client disperser
	logger tmlog.Logger
}

var _ contentstore.BlobStore = (*BlobStore)(nil)

func newBlobStore(cfg Config, client disperser, logger tmlog.Logger) *BlobStore {
	if logger == nil {
		logger = tmlog.NewNopLogger()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = EIGENDA_POLL_INTERVAL
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = EIGENDA_MAX_WAIT_TIME
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = EIGENDA_REQUEST_TIMEOUT
	}
	return &BlobStore{cfg: cfg, client: client, logger: logger.With("module", "eigenda")}
}

// Put disperses data and waits until the blob is confirmed. It makes a
// single attempt; retrying is the caller's business.
func (s *BlobStore) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty blob", contentstore.ErrMalformedPayload)
	}

	// Encode data to be compatible with bn254 field element constraints
	encoded := codec.ConvertByPaddingEmptyByte(data)

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	requestID, err := s.client.DisperseBlob(reqCtx, encoded)
	cancel()
	if err != nil {
		return "", classify("error dispersing blob", err)
	}

	id := hex.EncodeToString(requestID)
	status, err := s.waitForBlobStatus(ctx, requestID)
	if err != nil {
		return "", fmt.Errorf("blob %s dispersed but status tracking failed: %w", id, err)
	}

	s.logger.Debug("Blob dispersed", "id", id, "status", status, "size", len(data))
	return id, nil
}

// Get fetches a blob by content id and strips the field element padding.
func (s *BlobStore) Get(ctx context.Context, contentID string) ([]byte, error) {
	requestID, err := hex.DecodeString(contentID)
	if err != nil || len(requestID) == 0 {
		return nil, fmt.Errorf("%w: invalid content id %q", contentstore.ErrNotFound, contentID)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	// First, get the blob status to get the batch information needed for retrieval
	status, err := s.client.GetBlobStatus(ctx, requestID)
	if err != nil {
		return nil, classify("failed to get blob status for retrieval", err)
	}
	if !status.HasProof {
		return nil, fmt.Errorf("%w: blob %s has no verification proof (status %s)", contentstore.ErrNotFound, contentID, status.Status)
	}

	s.logger.Debug("Retrieving blob", "batch_header_hash", fmt.Sprintf("%x", status.BatchHeaderHash), "blob_index", status.BlobIndex)

	raw, err := s.client.RetrieveBlob(ctx, status.BatchHeaderHash, status.BlobIndex)
	if err != nil {
		return nil, classify("failed to retrieve blob", err)
	}

	data := removeNullBytesPadding(codec.RemoveEmptyByteFromPaddedBytes(raw))
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: retrieved blob %s is empty", contentstore.ErrMalformedPayload, contentID)
	}
	return data, nil
}

// waitForBlobStatus polls the blob status until it's confirmed or failed
func (s *BlobStore) waitForBlobStatus(ctx context.Context, requestID []byte) (string, error) {
	statusOverallCtx, statusOverallCancel := context.WithTimeout(ctx, s.cfg.MaxWait)
	defer statusOverallCancel()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			statusCtx, statusCancel := context.WithTimeout(statusOverallCtx, s.cfg.RequestTimeout)
			reply, err := s.client.GetBlobStatus(statusCtx, requestID)
			statusCancel()
			if err != nil {
				return "", classify("error getting blob status", err)
			}

			switch reply.Status {
			case statusConfirmed, statusFinalized:
				return reply.Status, nil
			case statusFailed:
				return reply.Status, errors.New("blob dispersal failed")
			}
			s.logger.Debug("Blob pending", "status", reply.Status)

		case <-statusOverallCtx.Done():
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", errors.New("timed out waiting for blob to confirm")
		}
	}
}
