// Package cache is the shared KV cache used for pre-calculated metrics,
// tenant configurations and generated SQL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ekaya-inc/ekaya-finsight/pkg/apperrors"
)

// Store is the KV cache contract. Get returns apperrors.ErrCacheMiss for absent keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetEX(ctx context.Context, key string, ttl time.Duration, value []byte) error
	Exists(ctx context.Context, key string) (bool, error)
	// Scan iterates keys matching a glob pattern. A returned cursor of 0 ends the iteration.
	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)
	Delete(ctx context.Context, keys ...string) error
}

// GetJSON reads key and unmarshals it into dest.
func GetJSON(ctx context.Context, s Store, key string, dest any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals value and stores it under key with ttl.
func SetJSON(ctx context.Context, s Store, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data, ttl)
}

// ScanAll walks every key matching pattern.
func ScanAll(ctx context.Context, s Store, match string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	seen := make(map[string]struct{})
	for {
		batch, next, err := s.Scan(ctx, cursor, match, 500)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", match, err)
		}
		for _, k := range batch {
			// SCAN may return a key more than once.
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// IsMiss reports whether err is a cache miss.
func IsMiss(err error) bool {
	return errors.Is(err, apperrors.ErrCacheMiss)
}
