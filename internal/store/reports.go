package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/keywatch/internal/report"
)

// indexKey builds the dedupe index key for a report triple.
func indexKey(programSlug, keyHash, reporterHash string) []byte {
	return []byte(programSlug + "|" + keyHash + "|" + reporterHash)
}

// InsertReport stores ev unless a live report already exists for the
// same (program, key hash, reporter). The index lookup and the write
// share one transaction, so the duplicate check is race-free.
func (s *BoltStore) InsertReport(ctx context.Context, ev *report.Event) (*report.Event, error) {
	var duplicate *report.Event

	err := s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketReportIndex)
		reports := tx.Bucket(bucketReports)

		key := indexKey(ev.ProgramSlug, ev.KeyHash, ev.ReporterHash)
		if existingID := idx.Get(key); existingID != nil {
			data := reports.Get(existingID)
			if data != nil {
				duplicate = &report.Event{}
				if err := json.Unmarshal(data, duplicate); err != nil {
					return fmt.Errorf("failed to unmarshal existing report: %w", err)
				}
				return nil
			}
			// Stale index entry; fall through and overwrite it.
		}

		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		if err := reports.Put([]byte(ev.ID), data); err != nil {
			return fmt.Errorf("failed to store report: %w", err)
		}
		return idx.Put(key, []byte(ev.ID))
	})
	if err != nil {
		return nil, err
	}
	return duplicate, nil
}

// ReclassifyReport overwrites type and timestamp of an existing report
// in place. The dedupe index is untouched: the triple does not change.
func (s *BoltStore) ReclassifyReport(ctx context.Context, id string, t report.EventType, at time.Time) (*report.Event, error) {
	var updated *report.Event

	err := s.db.Update(func(tx *bolt.Tx) error {
		reports := tx.Bucket(bucketReports)
		data := reports.Get([]byte(id))
		if data == nil {
			return report.ErrReportNotFound
		}

		var ev report.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("failed to unmarshal report: %w", err)
		}

		ev.Type = t
		ev.CreatedAt = at

		out, err := json.Marshal(&ev)
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		if err := reports.Put([]byte(id), out); err != nil {
			return fmt.Errorf("failed to update report: %w", err)
		}

		updated = &ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetReport returns a report by id, or nil when absent.
func (s *BoltStore) GetReport(ctx context.Context, id string) (*report.Event, error) {
	var ev *report.Event

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketReports).Get([]byte(id))
		if data == nil {
			return nil
		}
		ev = &report.Event{}
		return json.Unmarshal(data, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read report %s: %w", id, err)
	}
	return ev, nil
}

// FindReport returns the live report for the triple, or nil.
func (s *BoltStore) FindReport(ctx context.Context, programSlug, keyHash, reporterHash string) (*report.Event, error) {
	var ev *report.Event

	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketReportIndex).Get(indexKey(programSlug, keyHash, reporterHash))
		if id == nil {
			return nil
		}
		data := tx.Bucket(bucketReports).Get(id)
		if data == nil {
			return nil
		}
		ev = &report.Event{}
		return json.Unmarshal(data, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find report: %w", err)
	}
	return ev, nil
}

// ReportsByProgram returns all reports for a program created at or
// after since. A zero since returns the full log.
func (s *BoltStore) ReportsByProgram(ctx context.Context, programSlug string, since time.Time) ([]report.Event, error) {
	var events []report.Event

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketReports).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var ev report.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				continue
			}
			if ev.ProgramSlug != programSlug {
				continue
			}
			if !since.IsZero() && ev.CreatedAt.Before(since) {
				continue
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return events, nil
}

// CleanupReports deletes reports older than maxAge along with their
// index entries. Returns the number deleted.
func (s *BoltStore) CleanupReports(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		reports := tx.Bucket(bucketReports)
		idx := tx.Bucket(bucketReportIndex)

		var toDelete []report.Event
		c := reports.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var ev report.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				continue
			}
			if ev.CreatedAt.Before(cutoff) {
				toDelete = append(toDelete, ev)
			}
		}

		for _, ev := range toDelete {
			if err := reports.Delete([]byte(ev.ID)); err != nil {
				return err
			}
			if err := idx.Delete(indexKey(ev.ProgramSlug, ev.KeyHash, ev.ReporterHash)); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})

	return deleted, err
}
