package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tmlog "github.com/cometbft/cometbft/libs/log"
	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// DBMetrics counts store operations.
type DBMetrics struct {
	PutCount         atomic.Int64
	GetCount         atomic.Int64
	DeleteCount      atomic.Int64
	GetByPrefixCount atomic.Int64
	Errors           atomic.Int64
}

// DBStorage represents a persistent storage using BadgerDB
type DBStorage struct {
	db      *badger.DB
	config  BadgerDBConfig
	logger  tmlog.Logger
	metrics DBMetrics

	stopGC    chan struct{}
	closeOnce sync.Once
	gcDone    sync.WaitGroup
}

// Open opens the BadgerDB at config.DataDir/badgerdb, or an in-memory
// instance, and starts the value log GC loop when an interval is set.
func Open(config BadgerDBConfig, logger tmlog.Logger) (*DBStorage, error) {
	if logger == nil {
		logger = tmlog.NewNopLogger()
	}
	logger = logger.With("module", "storage")

	dbPath := ""
	if !config.InMemory {
		if config.DataDir == "" {
			return nil, errors.New("data dir is required for a persistent store")
		}
		dbPath = filepath.Join(config.DataDir, "badgerdb")
	}

	opts := badger.DefaultOptions(dbPath).
		WithInMemory(config.InMemory).
		WithSyncWrites(config.SyncWrites)
	if config.DisableLogging {
		opts = opts.WithLogger(nil)
	} else {
		opts = opts.WithLogger(badgerLogger{logger})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	s := &DBStorage{
		db:     db,
		config: config,
		logger: logger,
		stopGC: make(chan struct{}),
	}

	// Value log GC is a no-op for in-memory stores.
	if config.GCInterval > 0 && !config.InMemory {
		s.gcDone.Add(1)
		go s.startGCRoutine(config.GCInterval)
	}
	return s, nil
}

func (s *DBStorage) startGCRoutine(interval time.Duration) {
	defer s.gcDone.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			if err := s.RunGC(); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Error("BadgerDB GC failed", "err", err)
			}
		}
	}
}

// Close stops the GC loop and closes the database.
func (s *DBStorage) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopGC)
		s.gcDone.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *DBStorage) logOperation(op string, key string, err error) {
	if err != nil {
		s.logger.Error("BadgerDB operation failed", "op", op, "key", key, "err", err)
		s.metrics.Errors.Add(1)
	}
}

// Put stores a key-value pair in the database
func (s *DBStorage) Put(key string, value []byte) error {
	s.metrics.PutCount.Add(1)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	s.logOperation("put", key, err)
	return err
}

// Get retrieves a value by key. A missing key yields a nil value and no error.
func (s *DBStorage) Get(key string) ([]byte, error) {
	s.metrics.GetCount.Add(1)

	var valCopy []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		valCopy, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		s.logOperation("get", key, err)
		return nil, fmt.Errorf("failed to get value: %w", err)
	}
	return valCopy, nil
}

// PutIfAbsent stores value only when key does not exist yet. The check and
// the write share one transaction; a concurrent writer makes the commit
// fail with badger.ErrConflict.
func (s *DBStorage) PutIfAbsent(key string, value []byte) (bool, error) {
	s.metrics.PutCount.Add(1)

	stored := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		stored = true
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		s.logOperation("put_if_absent", key, err)
		return false, err
	}
	return stored, nil
}

// Delete removes a key-value pair from the database
func (s *DBStorage) Delete(key string) error {
	s.metrics.DeleteCount.Add(1)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	s.logOperation("delete", key, err)
	return err
}

// GetByPrefix retrieves all key-value pairs with a given prefix
func (s *DBStorage) GetByPrefix(prefix string) (map[string][]byte, error) {
	s.metrics.GetByPrefixCount.Add(1)

	result := make(map[string][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result[string(item.KeyCopy(nil))] = val
		}
		return nil
	})
	if err != nil {
		s.logOperation("get_by_prefix", prefix, err)
		return nil, fmt.Errorf("failed to get values by prefix: %w", err)
	}
	return result, nil
}

// DeleteByPrefix deletes all key-value pairs with a given prefix
func (s *DBStorage) DeleteByPrefix(prefix string) error {
	keysToDelete := [][]byte{}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			keysToDelete = append(keysToDelete, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		s.logOperation("delete_by_prefix", prefix, err)
		return fmt.Errorf("failed to collect keys for deletion: %w", err)
	}

	s.metrics.DeleteCount.Add(int64(len(keysToDelete)))
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keysToDelete {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("failed to delete key: %w", err)
			}
		}
		return nil
	})
	s.logOperation("delete_by_prefix", prefix, err)
	return err
}

// RunGC runs garbage collection on the database
func (s *DBStorage) RunGC() error {
	return s.db.RunValueLogGC(0.5) // Clean up if at least 50% can be discarded
}

// RegisterMetrics exposes the operation counters on reg.
func (s *DBStorage) RegisterMetrics(reg prometheus.Registerer) error {
	counters := []struct {
		name string
		help string
		v    *atomic.Int64
	}{
		{"persona_store_puts_total", "Local store writes.", &s.metrics.PutCount},
		{"persona_store_gets_total", "Local store reads.", &s.metrics.GetCount},
		{"persona_store_deletes_total", "Local store deletes.", &s.metrics.DeleteCount},
		{"persona_store_prefix_scans_total", "Local store prefix scans.", &s.metrics.GetByPrefixCount},
		{"persona_store_errors_total", "Failed local store operations.", &s.metrics.Errors},
	}
	for _, c := range counters {
		v := c.v
		fn := prometheus.NewCounterFunc(prometheus.CounterOpts{Name: c.name, Help: c.help}, func() float64 {
			return float64(v.Load())
		})
		if err := reg.Register(fn); err != nil {
			return fmt.Errorf("failed to register %s: %w", c.name, err)
		}
	}
	return nil
}

// badgerLogger routes badger's printf logging into the structured logger.
type badgerLogger struct {
	l tmlog.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
