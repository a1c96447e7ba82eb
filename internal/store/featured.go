package store

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/keywatch/internal/rotation"
)

var featuredStateKey = []byte("state")

// FeaturedState returns the singleton selection state, or nil when
// nothing has been persisted yet.
func (s *BoltStore) FeaturedState(ctx context.Context) (*rotation.State, error) {
	var st *rotation.State

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFeatured).Get(featuredStateKey)
		if data == nil {
			return nil
		}
		st = &rotation.State{}
		return json.Unmarshal(data, st)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read featured state: %w", err)
	}
	return st, nil
}

// SaveFeaturedState overwrites the singleton selection state.
func (s *BoltStore) SaveFeaturedState(ctx context.Context, st *rotation.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal featured state: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFeatured).Put(featuredStateKey, data)
	})
	if err != nil {
		return fmt.Errorf("failed to store featured state: %w", err)
	}
	return nil
}
