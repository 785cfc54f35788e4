package storage

import "time"

type BadgerDBConfig struct {
	DataDir        string
	DisableLogging bool
	InMemory       bool
	SyncWrites     bool
	GCInterval     time.Duration // 0 to disable
}

func DefaultConfig(dataDir string) BadgerDBConfig {
	return BadgerDBConfig{
		DataDir:        dataDir,
		DisableLogging: false,
		InMemory:       false,
		SyncWrites:     true,
		GCInterval:     time.Hour,
	}
}

// InMemoryConfig is used by tests and by the daemon when no data dir is set.
func InMemoryConfig() BadgerDBConfig {
	return BadgerDBConfig{
		DisableLogging: true,
		InMemory:       true,
	}
}
