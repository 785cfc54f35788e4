package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	tmlog "github.com/cometbft/cometbft/libs/log"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/NethermindEth/chaoschain-persona/communication"
	"github.com/NethermindEth/chaoschain-persona/config"
	"github.com/NethermindEth/chaoschain-persona/contentstore"
	"github.com/NethermindEth/chaoschain-persona/crypto"
	da "github.com/NethermindEth/chaoschain-persona/da_layer"
	"github.com/NethermindEth/chaoschain-persona/storage"
	"github.com/NethermindEth/chaoschain-persona/syncer"
)

// node holds the wired components of one daemon process.
type node struct {
	service  *syncer.Service
	ws       *communication.WebSocketManager
	registry *prometheus.Registry

	closers []func()
	logger  tmlog.Logger
}

// Close releases everything in reverse construction order.
func (n *node) Close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		n.closers[i]()
	}
}

func buildNode(ctx context.Context, cfg config.Config, logger tmlog.Logger) (_ *node, err error) {
	n := &node{
		ws:       communication.NewWebSocketManager(logger),
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}
	defer func() {
		if err != nil {
			n.Close()
		}
	}()

	n.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Local store
	dbCfg := storage.DefaultConfig(cfg.DataDir)
	if cfg.InMemory {
		dbCfg = storage.InMemoryConfig()
	}
	dbCfg.GCInterval = cfg.GCInterval
	db, err := storage.Open(dbCfg, logger)
	if err != nil {
		return nil, err
	}
	n.closers = append(n.closers, func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close profile store", "err", err)
		}
	})
	if err := db.RegisterMetrics(n.registry); err != nil {
		return nil, fmt.Errorf("failed to register storage metrics: %w", err)
	}
	repo := storage.NewProfileRepository(db, storage.NewProfileCache(cfg.CacheSize, cfg.CacheTTL))

	// Messaging and the shared index
	natsURL := cfg.NATSURL
	if cfg.EmbeddedNATS {
		ns, err := startEmbeddedNATS(natsURL, cfg.EmbeddedNATSDir)
		if err != nil {
			return nil, err
		}
		n.closers = append(n.closers, ns.Shutdown)
		natsURL = ns.ClientURL()
		logger.Info("Embedded NATS server started", "url", natsURL)
	}

	var (
		pub    syncer.Publisher
		purger syncer.IndexPurger
		index  contentstore.Index
	)
	if natsURL != "" {
		messenger, err := communication.NewMessenger(natsURL, logger)
		if err != nil {
			return nil, err
		}
		n.closers = append(n.closers, messenger.Close)
		pub = messenger

		kv, err := communication.NewKVIndex(ctx, messenger, cfg.IndexBucket, logger)
		if err != nil {
			return nil, err
		}
		index, purger = kv, kv
	} else {
		logger.Info("NATS not configured, using a process-local index")
		index = contentstore.NewMemoryIndex(0)
	}

	// Blob store
	var blobs contentstore.BlobStore
	switch cfg.ContentStore {
	case config.StoreEigenDA:
		daCfg := da.DefaultConfig()
		daCfg.AuthKey = cfg.EigenDAAuthKey
		if cfg.EigenDAHost != "" {
			daCfg.Host = cfg.EigenDAHost
		}
		if cfg.EigenDAPort != "" {
			daCfg.Port = cfg.EigenDAPort
		}
		store, err := da.NewBlobStore(daCfg, logger)
		if err != nil {
			return nil, err
		}
		blobs = store
	default:
		logger.Info("Using the in-memory blob store; uploads do not survive a restart")
		blobs = contentstore.NewMemoryBlobStore()
	}

	sealer, err := buildSealer(cfg, logger)
	if err != nil {
		return nil, err
	}

	metrics, err := syncer.NewMetrics(n.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register sync metrics: %w", err)
	}

	backoff := syncer.BackoffLinear
	if cfg.SyncBackoff == string(syncer.BackoffExponential) {
		backoff = syncer.BackoffExponential
	}
	svcCfg := syncer.DefaultConfig()
	svcCfg.Pool = syncer.PoolConfig{
		Workers:        cfg.SyncWorkers,
		MaxRetries:     cfg.SyncMaxRetries,
		BaseDelay:      cfg.SyncBaseDelay,
		Backoff:        backoff,
		AttemptTimeout: cfg.AttemptTimeout,
	}
	svcCfg.Restore.Window = cfg.RestoreWindow
	svcCfg.ReliabilityThreshold = cfg.ReliabilityThreshold

	n.service = syncer.NewService(svcCfg, syncer.Deps{
		Store:    repo,
		Client:   contentstore.NewStore(blobs, index),
		Sealer:   sealer,
		Purger:   purger,
		Metrics:  metrics,
		Notifier: syncer.NewNotifier(pub, n.ws, logger),
	}, logger)
	return n, nil
}

// startEmbeddedNATS listens on the host and port of natsURL, or on a random
// local port when natsURL is empty.
func startEmbeddedNATS(natsURL, storeDir string) (*server.Server, error) {
	host, port := "127.0.0.1", -1
	if natsURL != "" {
		u, err := url.Parse(natsURL)
		if err != nil {
			return nil, fmt.Errorf("invalid NATS URL %q: %w", natsURL, err)
		}
		if u.Hostname() != "" {
			host = u.Hostname()
		}
		if p, err := strconv.Atoi(u.Port()); err == nil {
			port = p
		}
	}
	ns, err := communication.RunEmbeddedServer(host, port, storeDir)
	if err != nil {
		return nil, fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	return ns, nil
}

// buildSealer loads the snapshot keys. Missing keys are generated for the
// life of the process, which makes uploads unrecoverable after a restart.
func buildSealer(cfg config.Config, logger tmlog.Logger) (*crypto.Sealer, error) {
	var box *crypto.SecretBox
	if cfg.SecretBoxKey != "" {
		b, err := crypto.NewSecretBoxFromHex(cfg.SecretBoxKey)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", config.KeySecretBoxKey, err)
		}
		box = b
	} else {
		key, err := crypto.GenerateSecretBoxKey()
		if err != nil {
			return nil, err
		}
		if box, err = crypto.NewSecretBox(key); err != nil {
			return nil, err
		}
		logger.Error("No snapshot key configured, using an ephemeral one", "env", config.KeySecretBoxKey)
	}

	var signer *crypto.Signer
	if cfg.SigningKey != "" {
		s, err := crypto.NewSignerFromHex(cfg.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", config.KeySigningKey, err)
		}
		signer = s
	} else {
		signer = crypto.GenerateSigner()
		logger.Error("No signing key configured, using an ephemeral one", "env", config.KeySigningKey)
	}
	return crypto.NewSealer(box, signer), nil
}
