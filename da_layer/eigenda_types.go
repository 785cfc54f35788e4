package da

import (
	"context"
	"time"
)

const (
	// EigenDA configuration
	EIGENDA_HOST            = "disperser-holesky.eigenda.xyz"
	EIGENDA_PORT            = "443"
	EIGENDA_REQUEST_TIMEOUT = 30 * time.Second
	EIGENDA_POLL_INTERVAL   = 5 * time.Second
	EIGENDA_MAX_WAIT_TIME   = 30 * time.Minute
)

// Blob status names reported by the disperser.
const (
	statusConfirmed = "CONFIRMED"
	statusFinalized = "FINALIZED"
	statusFailed    = "FAILED"
)

// Config holds the disperser connection settings.
type Config struct {
	Host           string
	Port           string
	AuthKey        string
	RequestTimeout time.Duration
	PollInterval   time.Duration
	MaxWait        time.Duration
	UseSecureGrpc  bool
}

func DefaultConfig() Config {
	return Config{
		Host:           EIGENDA_HOST,
		Port:           EIGENDA_PORT,
		RequestTimeout: EIGENDA_REQUEST_TIMEOUT,
		PollInterval:   EIGENDA_POLL_INTERVAL,
		MaxWait:        EIGENDA_MAX_WAIT_TIME,
		UseSecureGrpc:  true,
	}
}

// blobStatus is the part of a status reply the store needs.
type blobStatus struct {
	Status          string
	BatchHeaderHash []byte
	BlobIndex       uint32
	HasProof        bool
}

// disperser is the subset of the EigenDA disperser client used here.
type disperser interface {
	DisperseBlob(ctx context.Context, data []byte) ([]byte, error)
	GetBlobStatus(ctx context.Context, requestID []byte) (blobStatus, error)
	RetrieveBlob(ctx context.Context, batchHeaderHash []byte, blobIndex uint32) ([]byte, error)
}
