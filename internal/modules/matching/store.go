// README: Driver pool backed by a Redis hash, refreshed externally by the admin API.
package matching

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"

	"ridebook/internal/types"
)

const driverHashKey = "matching:drivers"

var ErrInvalidDriver = errors.New("invalid driver")

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) Upsert(ctx context.Context, d Driver) error {
	if d.ID == "" || d.Name == "" {
		return ErrInvalidDriver
	}
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return s.redis.HSet(ctx, driverHashKey, string(d.ID), b).Err()
}

func (s *Store) Remove(ctx context.Context, id types.ID) error {
	return s.redis.HDel(ctx, driverHashKey, string(id)).Err()
}

// Available returns every registered driver ordered by id.
func (s *Store) Available(ctx context.Context) ([]Driver, error) {
	vals, err := s.redis.HGetAll(ctx, driverHashKey).Result()
	if err != nil {
		return nil, err
	}
	drivers := make([]Driver, 0, len(vals))
	for _, raw := range vals {
		var d Driver
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			continue
		}
		drivers = append(drivers, d)
	}
	sort.Slice(drivers, func(i, j int) bool { return drivers[i].ID < drivers[j].ID })
	return drivers, nil
}

// Seed loads drivers into an empty hash. Existing entries are left alone.
func (s *Store) Seed(ctx context.Context, drivers []Driver) error {
	n, err := s.redis.HLen(ctx, driverHashKey).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, d := range drivers {
		if err := s.Upsert(ctx, d); err != nil {
			return err
		}
	}
	return nil
}
