// Package store persists programs, report events, and the featured
// selection in a single BoltDB file. Documents are JSON; each program
// document embeds its key sub-records, each report is its own document.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/keywatch/internal/lifecycle"
	"github.com/foxzi/keywatch/internal/report"
	"github.com/foxzi/keywatch/internal/rotation"
)

var (
	bucketPrograms    = []byte("programs")
	bucketReports     = []byte("reports")
	bucketReportIndex = []byte("report_index")
	bucketFeatured    = []byte("featured")
)

// Store is the persistence surface consumed by the engine.
type Store interface {
	// Programs
	Program(ctx context.Context, slug string) (*lifecycle.Program, error)
	Programs(ctx context.Context) ([]*lifecycle.Program, error)
	SaveProgram(ctx context.Context, p *lifecycle.Program) error
	UpdateKeyStatus(ctx context.Context, slug, keyHash string, status lifecycle.Status) (*lifecycle.KeyRecord, error)

	// Reports
	InsertReport(ctx context.Context, ev *report.Event) (*report.Event, error)
	ReclassifyReport(ctx context.Context, id string, t report.EventType, at time.Time) (*report.Event, error)
	GetReport(ctx context.Context, id string) (*report.Event, error)
	FindReport(ctx context.Context, programSlug, keyHash, reporterHash string) (*report.Event, error)
	ReportsByProgram(ctx context.Context, programSlug string, since time.Time) ([]report.Event, error)
	CleanupReports(ctx context.Context, maxAge time.Duration) (int, error)

	// Featured selection
	FeaturedState(ctx context.Context) (*rotation.State, error)
	SaveFeaturedState(ctx context.Context, st *rotation.State) error

	Close() error
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketPrograms, bucketReports, bucketReportIndex, bucketFeatured} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying bolt.DB instance.
func (s *BoltStore) DB() *bolt.DB {
	return s.db
}
