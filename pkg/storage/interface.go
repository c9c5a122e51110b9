package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Sriram-PR/khinsider-dl/pkg/models"
)

// ErrRunNotFound is returned by GetRun for an unknown run ID
var ErrRunNotFound = errors.New("run not found")

// RunLedger records finished runs
type RunLedger interface {
	// SaveRun stores a run record, replacing any earlier record with the same ID
	SaveRun(rec *models.RunRecord) error

	// GetRun returns one run by ID, or ErrRunNotFound
	GetRun(id string) (*models.RunRecord, error)

	// ListRuns returns up to limit runs, newest first. limit <= 0 means all runs
	ListRuns(limit int) ([]models.RunRecord, error)
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// RunCount returns the number of stored runs
	RunCount() int

	// WriteHistoryLog writes one tab-separated line per run to the specified file path
	WriteHistoryLog(filePath string) error

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// HistoryStore combines all store interfaces for components that need full access
type HistoryStore interface {
	RunLedger
	StoreAdmin
}
