package da

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Layr-Labs/eigenda/api/clients"
	"github.com/Layr-Labs/eigenda/core/auth"
	tmlog "github.com/cometbft/cometbft/libs/log"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// NewBlobStore connects to the EigenDA disperser described by cfg.
func NewBlobStore(cfg Config, logger tmlog.Logger) (*BlobStore, error) {
	authKey, err := normalizeAuthKey(cfg.AuthKey)
	if err != nil {
		return nil, err
	}

	// Set up authentication with private key using decoded bytes
	signer := auth.NewLocalBlobRequestSigner("0x" + authKey)

	client, err := clients.NewDisperserClient(&clients.Config{
		Hostname:          cfg.Host,
		Port:              cfg.Port,
		Timeout:           cfg.RequestTimeout,
		UseSecureGrpcFlag: cfg.UseSecureGrpc,
	}, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create disperser client: %w", err)
	}

	return newBlobStore(cfg, eigendaDisperser{client: client}, logger), nil
}

// normalizeAuthKey validates the key length and removes an optional '0x' prefix.
func normalizeAuthKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("EigenDA auth key is not set")
	}
	key = strings.TrimPrefix(key, "0x")
	if len(key) < 64 {
		key = strings.Repeat("0", 64-len(key)) + key
	} else if len(key) > 64 {
		return "", fmt.Errorf("invalid EigenDA auth key length: got %d, expected 64 hex characters", len(key))
	}

	if _, err := hex.DecodeString(key); err != nil {
		return "", fmt.Errorf("invalid EigenDA auth key: hex decoding failed: %w", err)
	}
	if _, err := ethcrypto.HexToECDSA(key); err != nil {
		return "", fmt.Errorf("invalid EigenDA auth key: %w", err)
	}
	return key, nil
}

type eigendaDisperser struct {
	client clients.DisperserClient
}

func (d eigendaDisperser) DisperseBlob(ctx context.Context, data []byte) ([]byte, error) {
	// Custom quorums (none for now, means we're dispersing to the default quorums)
	_, requestID, err := d.client.DisperseBlob(ctx, data, []uint8{})
	return requestID, err
}

func (d eigendaDisperser) GetBlobStatus(ctx context.Context, requestID []byte) (blobStatus, error) {
	reply, err := d.client.GetBlobStatus(ctx, requestID)
	if err != nil {
		return blobStatus{}, err
	}

	st := blobStatus{Status: reply.Status.String()}
	if reply.Info != nil && reply.Info.BlobVerificationProof != nil && reply.Info.BlobVerificationProof.BatchMetadata != nil {
		st.HasProof = true
		st.BatchHeaderHash = reply.Info.BlobVerificationProof.BatchMetadata.BatchHeaderHash
		st.BlobIndex = reply.Info.BlobVerificationProof.BlobIndex
	}
	return st, nil
}

func (d eigendaDisperser) RetrieveBlob(ctx context.Context, batchHeaderHash []byte, blobIndex uint32) ([]byte, error) {
	return d.client.RetrieveBlob(ctx, batchHeaderHash, blobIndex)
}
