package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/khinsider-dl/pkg/log"
	"github.com/Sriram-PR/khinsider-dl/pkg/models"
	"github.com/Sriram-PR/khinsider-dl/pkg/utils"
)

const (
	runKeyPrefix   = "run:"       // run:<started>:<id> -> RunRecord JSON, sorts by start time
	runIDKeyPrefix = "runid:"     // runid:<id> -> run key
	historyDBDir   = "history_db" // Subdirectory name within stateDir for Badger DB files
	runKeyTimeFmt  = "20060102T150405.000000000Z"
)

// BadgerStore implements HistoryStore using BadgerDB
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	ctx      context.Context // Parent context
	keyCount atomic.Int64    // Cached run count for O(1) RunCount
}

// NewBadgerStore opens (or creates) the history database under stateDir
func NewBadgerStore(ctx context.Context, stateDir string, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{
		log: logger,
		ctx: ctx,
	}

	dbPath := filepath.Join(stateDir, historyDBDir)
	logger.Debugf("Opening run history database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger)).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	count, err := store.countRuns()
	if err != nil {
		logger.Warnf("Failed to count existing runs: %v", err)
	} else {
		store.keyCount.Store(int64(count))
	}

	logger.Debugf("Run history database ready (%d runs)", count)
	return store, nil
}

// countRuns performs a one-time key scan at open
func (s *BadgerStore) countRuns() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(runIDKeyPrefix)
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Conflicts resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

func runKey(rec *models.RunRecord) []byte {
	return []byte(runKeyPrefix + rec.StartedAt.UTC().Format(runKeyTimeFmt) + ":" + rec.ID)
}

// SaveRun implements the RunLedger interface
func (s *BadgerStore) SaveRun(rec *models.RunRecord) error {
	if s.db == nil {
		return fmt.Errorf("%w: history DB not initialized", utils.ErrDatabase)
	}
	if rec.ID == "" {
		return fmt.Errorf("%w: run record without ID", utils.ErrDatabase)
	}

	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal run '%s': %w", utils.ErrParsing, rec.ID, err)
	}
	key := runKey(rec)
	idKey := []byte(runIDKeyPrefix + rec.ID)

	isNew := false
	err = s.dbUpdate(func(txn *badger.Txn) error {
		item, errGet := txn.Get(idKey)
		switch {
		case errors.Is(errGet, badger.ErrKeyNotFound):
			isNew = true
		case errGet != nil:
			return errGet
		default:
			// Same ID saved before; drop the old entry if its start time moved
			oldKey, errVal := item.ValueCopy(nil)
			if errVal != nil {
				return errVal
			}
			if string(oldKey) != string(key) {
				if errDel := txn.Delete(oldKey); errDel != nil {
					return errDel
				}
			}
		}
		if errSet := txn.SetEntry(badger.NewEntry(key, val)); errSet != nil {
			return errSet
		}
		return txn.SetEntry(badger.NewEntry(idKey, key))
	})
	if err != nil {
		s.log.WithField("run_id", rec.ID).Errorf("DB Update error in SaveRun: %v", err)
		return fmt.Errorf("%w: saving run '%s': %w", utils.ErrDatabase, rec.ID, err)
	}
	if isNew {
		s.keyCount.Add(1)
	}
	s.log.WithField("run_id", rec.ID).Debugf("Saved run (phase %s)", rec.Phase)
	return nil
}

// GetRun implements the RunLedger interface
func (s *BadgerStore) GetRun(id string) (*models.RunRecord, error) {
	var rec *models.RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		idItem, errGet := txn.Get([]byte(runIDKeyPrefix + id))
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return ErrRunNotFound
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting run id '%s': %w", utils.ErrDatabase, id, errGet)
		}
		key, errVal := idItem.ValueCopy(nil)
		if errVal != nil {
			return fmt.Errorf("%w: %w", utils.ErrDatabase, errVal)
		}

		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			s.log.Warnf("Run index points at missing key '%s'", string(key))
			return ErrRunNotFound
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting run key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded models.RunRecord
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				return fmt.Errorf("%w: failed to unmarshal run '%s': %w", utils.ErrParsing, id, errJSON)
			}
			rec = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListRuns implements the RunLedger interface
func (s *BadgerStore) ListRuns(limit int) ([]models.RunRecord, error) {
	var runs []models.RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(runKeyPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode Seek lands on the last key <= the seek key
		for it.Seek(append(prefix, 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			item := it.Item()
			errVal := item.Value(func(val []byte) error {
				var rec models.RunRecord
				if errJSON := json.Unmarshal(val, &rec); errJSON != nil {
					s.log.Warnf("Failed to unmarshal run for key '%s': %v. Skipping.", string(item.Key()), errJSON)
					return nil
				}
				runs = append(runs, rec)
				return nil
			})
			if errVal != nil {
				return fmt.Errorf("%w: %w", utils.ErrDatabase, errVal)
			}
		}
		return nil
	})
	return runs, err
}

// RunCount implements the StoreAdmin interface.
// Returns the cached count maintained by atomic increments on writes.
func (s *BadgerStore) RunCount() int {
	return int(s.keyCount.Load())
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Debug("DB GC: Database is nil or closed, skipping GC cycle.")
				continue
			}

			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for {
				err = s.db.RunValueLogGC(0.5)
				if err != nil {
					break
				}
				s.log.Debug("BadgerDB GC cycle completed.")
			}

			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection goroutine: %v", ctx.Err())
			return
		}
	}
}

// WriteHistoryLog implements the StoreAdmin interface.
// Columns: id, started_at, phase, completed/total, failed, bytes, album URL.
func (s *BadgerStore) WriteHistoryLog(filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		s.log.Errorf("Failed create history log '%s': %v", filePath, err)
		return fmt.Errorf("%w: create history log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	var firstErr error
	writtenCount := 0

	iterErr := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(runKeyPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-s.ctx.Done():
				s.log.Warnf("WriteHistoryLog interrupted by context cancellation: %v", s.ctx.Err())
				return s.ctx.Err()
			default:
			}

			var rec models.RunRecord
			if errVal := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); errVal != nil {
				s.log.Warnf("Skipping unreadable run '%s': %v", string(it.Item().Key()), errVal)
				continue
			}

			line := fmt.Sprintf("%s\t%s\t%s\t%d/%d\t%d\t%d\t%s\n",
				rec.ID, rec.StartedAt.UTC().Format(time.RFC3339), rec.Phase,
				rec.Completed, rec.Total, rec.Failed, rec.Bytes, rec.Album.URL)
			if _, writeErr := writer.WriteString(line); writeErr != nil && firstErr == nil {
				firstErr = writeErr
			}
			writtenCount++
			if writtenCount%5000 == 0 {
				if flushErr := writer.Flush(); flushErr != nil && firstErr == nil {
					firstErr = flushErr
				}
			}
		}
		return nil
	})

	if iterErr != nil && firstErr == nil {
		firstErr = iterErr
	}
	if flushErr := writer.Flush(); flushErr != nil && firstErr == nil {
		firstErr = flushErr
	}
	if syncErr := file.Sync(); syncErr != nil && firstErr == nil {
		firstErr = syncErr
	}

	if firstErr == nil {
		s.log.Infof("Wrote %d runs to history log: %s", writtenCount, filePath)
	} else {
		s.log.Warnf("Finished writing history log with errors. Wrote ~%d runs to %s", writtenCount, filePath)
	}
	return firstErr
}

// Close implements the StoreAdmin interface
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Debug("Closing history DB...")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing history DB: %v", err)
			return err
		}
		return nil
	}
	return nil
}
