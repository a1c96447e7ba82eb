package store

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/keywatch/internal/lifecycle"
)

// ErrKeyNotFound is returned when a key hash resolves to no record.
var ErrKeyNotFound = fmt.Errorf("key record not found")

// Program returns the program document for slug, or nil when absent.
func (s *BoltStore) Program(ctx context.Context, slug string) (*lifecycle.Program, error) {
	var p *lifecycle.Program

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPrograms).Get([]byte(slug))
		if data == nil {
			return nil
		}
		p = &lifecycle.Program{}
		return json.Unmarshal(data, p)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read program %s: %w", slug, err)
	}
	return p, nil
}

// Programs returns all program documents ordered by slug.
func (s *BoltStore) Programs(ctx context.Context) ([]*lifecycle.Program, error) {
	var programs []*lifecycle.Program

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPrograms).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var p lifecycle.Program
			if err := json.Unmarshal(v, &p); err != nil {
				continue
			}
			programs = append(programs, &p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list programs: %w", err)
	}
	return programs, nil
}

// SaveProgram writes a program document keyed by its slug.
func (s *BoltStore) SaveProgram(ctx context.Context, p *lifecycle.Program) error {
	if p.Slug == "" {
		return fmt.Errorf("program slug is required")
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal program: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPrograms).Put([]byte(p.Slug), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store program %s: %w", p.Slug, err)
	}
	return nil
}

// UpdateKeyStatus sets the status of one key record inside a program
// document. This is the admin override path: any status, any direction.
func (s *BoltStore) UpdateKeyStatus(ctx context.Context, slug, keyHash string, status lifecycle.Status) (*lifecycle.KeyRecord, error) {
	var updated *lifecycle.KeyRecord

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketPrograms)
		data := bucket.Get([]byte(slug))
		if data == nil {
			return fmt.Errorf("program not found: %s", slug)
		}

		var p lifecycle.Program
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("failed to unmarshal program: %w", err)
		}

		for i := range p.Keys {
			if p.Keys[i].KeyHash == keyHash {
				p.Keys[i].Status = status
				updated = &p.Keys[i]
				break
			}
		}
		if updated == nil {
			return ErrKeyNotFound
		}

		out, err := json.Marshal(&p)
		if err != nil {
			return fmt.Errorf("failed to marshal program: %w", err)
		}
		return bucket.Put([]byte(slug), out)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
