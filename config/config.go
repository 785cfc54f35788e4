package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Environment keys.
const (
	KeyDataDir         = "PERSONA_DATA_DIR"
	KeyInMemory        = "PERSONA_IN_MEMORY"
	KeyNATSURL         = "NATS_URL"
	KeyEmbeddedNATS    = "NATS_EMBEDDED"
	KeyIndexBucket     = "PERSONA_INDEX_BUCKET"
	KeyContentStore    = "CONTENT_STORE"
	KeyEigenDAHost     = "EIGENDA_HOST"
	KeyEigenDAPort     = "EIGENDA_PORT"
	KeyEigenDAAuthKey  = "EIGENDA_AUTH_PK"
	KeySecretBoxKey    = "PERSONA_SECRETBOX_KEY"
	KeySigningKey      = "PERSONA_SIGNING_KEY"
	KeySyncWorkers     = "SYNC_WORKERS"
	KeySyncMaxRetries  = "SYNC_MAX_RETRIES"
	KeySyncBaseDelay   = "SYNC_BASE_DELAY"
	KeySyncBackoff     = "SYNC_BACKOFF"
	KeyRestoreWindow   = "RESTORE_WINDOW"
	KeyAPIPort         = "API_PORT"
	KeyLogLevel        = "LOG_LEVEL"
	KeyCacheSize       = "PERSONA_CACHE_SIZE"
	KeyCacheTTL        = "PERSONA_CACHE_TTL"
	KeyReliability     = "PERSONA_RELIABILITY_THRESHOLD"
	KeyAttemptTimeout  = "SYNC_ATTEMPT_TIMEOUT"
	KeyGCInterval      = "PERSONA_GC_INTERVAL"
	KeyEmbeddedNATSDir = "NATS_STORE_DIR"
)

// Content store backends.
const (
	StoreEigenDA = "eigenda"
	StoreMemory  = "memory"
)

// Config is the daemon configuration.
type Config struct {
	DataDir    string
	InMemory   bool
	GCInterval time.Duration
	CacheSize  int
	CacheTTL   time.Duration

	// NATSURL empty disables events and the shared index unless
	// EmbeddedNATS is set.
	NATSURL         string
	EmbeddedNATS    bool
	EmbeddedNATSDir string
	IndexBucket     string

	ContentStore   string
	EigenDAHost    string
	EigenDAPort    string
	EigenDAAuthKey string

	SecretBoxKey string
	SigningKey   string

	SyncWorkers    int
	SyncMaxRetries int
	SyncBaseDelay  time.Duration
	SyncBackoff    string
	AttemptTimeout time.Duration
	RestoreWindow  int

	ReliabilityThreshold float64

	APIPort  int
	LogLevel string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyDataDir, "./data")
	v.SetDefault(KeyInMemory, false)
	v.SetDefault(KeyGCInterval, time.Hour)
	v.SetDefault(KeyCacheSize, 256)
	v.SetDefault(KeyCacheTTL, 10*time.Minute)
	v.SetDefault(KeyNATSURL, "")
	v.SetDefault(KeyEmbeddedNATS, false)
	v.SetDefault(KeyEmbeddedNATSDir, "")
	v.SetDefault(KeyIndexBucket, "persona-index")
	v.SetDefault(KeyContentStore, StoreMemory)
	v.SetDefault(KeyEigenDAHost, "")
	v.SetDefault(KeyEigenDAPort, "")
	v.SetDefault(KeyEigenDAAuthKey, "")
	v.SetDefault(KeySecretBoxKey, "")
	v.SetDefault(KeySigningKey, "")
	v.SetDefault(KeySyncWorkers, 3)
	v.SetDefault(KeySyncMaxRetries, 3)
	v.SetDefault(KeySyncBaseDelay, 2*time.Second)
	v.SetDefault(KeySyncBackoff, "linear")
	v.SetDefault(KeyAttemptTimeout, 30*time.Second)
	v.SetDefault(KeyRestoreWindow, 30)
	v.SetDefault(KeyReliability, 0.5)
	v.SetDefault(KeyAPIPort, 3000)
	v.SetDefault(KeyLogLevel, "info")
}

// Load reads an optional .env file, then the environment, then any flags
// registered with BindFlags that were set on the command line.
func Load(flags *pflag.FlagSet, envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key, ok := flagKeys[f.Name]
			if !ok || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return Config{}, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	cfg := Config{
		DataDir:              v.GetString(KeyDataDir),
		InMemory:             v.GetBool(KeyInMemory),
		GCInterval:           v.GetDuration(KeyGCInterval),
		CacheSize:            v.GetInt(KeyCacheSize),
		CacheTTL:             v.GetDuration(KeyCacheTTL),
		NATSURL:              v.GetString(KeyNATSURL),
		EmbeddedNATS:         v.GetBool(KeyEmbeddedNATS),
		EmbeddedNATSDir:      v.GetString(KeyEmbeddedNATSDir),
		IndexBucket:          v.GetString(KeyIndexBucket),
		ContentStore:         strings.ToLower(v.GetString(KeyContentStore)),
		EigenDAHost:          v.GetString(KeyEigenDAHost),
		EigenDAPort:          v.GetString(KeyEigenDAPort),
		EigenDAAuthKey:       v.GetString(KeyEigenDAAuthKey),
		SecretBoxKey:         v.GetString(KeySecretBoxKey),
		SigningKey:           v.GetString(KeySigningKey),
		SyncWorkers:          v.GetInt(KeySyncWorkers),
		SyncMaxRetries:       v.GetInt(KeySyncMaxRetries),
		SyncBaseDelay:        v.GetDuration(KeySyncBaseDelay),
		SyncBackoff:          strings.ToLower(v.GetString(KeySyncBackoff)),
		AttemptTimeout:       v.GetDuration(KeyAttemptTimeout),
		RestoreWindow:        v.GetInt(KeyRestoreWindow),
		ReliabilityThreshold: v.GetFloat64(KeyReliability),
		APIPort:              v.GetInt(KeyAPIPort),
		LogLevel:             strings.ToLower(v.GetString(KeyLogLevel)),
	}
	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case !c.InMemory && c.DataDir == "":
		return fmt.Errorf("%s is required unless %s is set", KeyDataDir, KeyInMemory)
	case c.ContentStore != StoreEigenDA && c.ContentStore != StoreMemory:
		return fmt.Errorf("%s must be %q or %q, got %q", KeyContentStore, StoreEigenDA, StoreMemory, c.ContentStore)
	case c.ContentStore == StoreEigenDA && c.EigenDAAuthKey == "":
		return fmt.Errorf("%s is required for the eigenda content store", KeyEigenDAAuthKey)
	case c.SyncWorkers < 1:
		return fmt.Errorf("%s must be at least 1", KeySyncWorkers)
	case c.SyncMaxRetries < 0:
		return fmt.Errorf("%s must not be negative", KeySyncMaxRetries)
	case c.SyncBaseDelay < 0:
		return fmt.Errorf("%s must not be negative", KeySyncBaseDelay)
	case c.SyncBackoff != "linear" && c.SyncBackoff != "exponential":
		return fmt.Errorf("%s must be linear or exponential, got %q", KeySyncBackoff, c.SyncBackoff)
	case c.RestoreWindow < 1:
		return fmt.Errorf("%s must be at least 1", KeyRestoreWindow)
	case c.ReliabilityThreshold <= 0 || c.ReliabilityThreshold > 1:
		return fmt.Errorf("%s must be in (0, 1]", KeyReliability)
	case c.APIPort < 0 || c.APIPort > 65535:
		return fmt.Errorf("%s out of range: %d", KeyAPIPort, c.APIPort)
	}
	switch c.LogLevel {
	case "debug", "info", "error", "none":
	default:
		return fmt.Errorf("%s must be one of debug, info, error, none", KeyLogLevel)
	}
	return nil
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"data-dir":       KeyDataDir,
	"in-memory":      KeyInMemory,
	"nats":           KeyNATSURL,
	"embedded-nats":  KeyEmbeddedNATS,
	"index-bucket":   KeyIndexBucket,
	"content-store":  KeyContentStore,
	"eigenda-host":   KeyEigenDAHost,
	"eigenda-port":   KeyEigenDAPort,
	"workers":        KeySyncWorkers,
	"max-retries":    KeySyncMaxRetries,
	"base-delay":     KeySyncBaseDelay,
	"backoff":        KeySyncBackoff,
	"restore-window": KeyRestoreWindow,
	"api-port":       KeyAPIPort,
	"log-level":      KeyLogLevel,
}

// BindFlags registers the command line overrides.
func BindFlags(flags *pflag.FlagSet) {
	flags.String("data-dir", "", "Directory holding the local profile store")
	flags.Bool("in-memory", false, "Keep profiles in memory only")
	flags.String("nats", "", "NATS URL")
	flags.Bool("embedded-nats", false, "Run an embedded NATS server with JetStream")
	flags.String("index-bucket", "", "JetStream KV bucket for the remote index")
	flags.String("content-store", "", "Content store backend (eigenda or memory)")
	flags.String("eigenda-host", "", "EigenDA disperser host")
	flags.String("eigenda-port", "", "EigenDA disperser port")
	flags.Int("workers", 0, "Upload workers")
	flags.Int("max-retries", 0, "Retries after the first upload attempt")
	flags.Duration("base-delay", 0, "Base backoff delay")
	flags.String("backoff", "", "Backoff policy (linear or exponential)")
	flags.Int("restore-window", 0, "Index entries examined by a restore")
	flags.Int("api-port", 0, "HTTP API port")
	flags.String("log-level", "", "Log level (debug, info, error, none)")
}
