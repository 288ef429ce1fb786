package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"shifumi-server/internal/storage"
)

// maxCASAttempts bounds the optimistic retry loop when WATCH detects a
// concurrent modification. The version check inside the transaction decides
// winners; retries only absorb transient interleaving.
const maxCASAttempts = 3

// Storage is a Redis-backed implementation of the match store
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Storage{
		client: client,
		cfg:    cfg,
	}, nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.MatchStore = (*Storage)(nil)

func (s *Storage) GetMatch(ctx context.Context, id string) (*storage.MatchState, error) {
	data, err := s.client.Get(ctx, matchKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrMatchNotFound
		}
		return nil, err
	}

	var state storage.MatchState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// PutIfNewer writes the state iff no stored document carries an equal or
// higher version. The read-check-write runs under WATCH/MULTI so the whole
// comparison is one conditional update: of two writers racing the same
// version, exactly one commits and the other sees applied == false.
func (s *Storage) PutIfNewer(ctx context.Context, state storage.MatchState) (bool, error) {
	key := matchKey(state.ID)

	data, err := json.Marshal(state)
	if err != nil {
		return false, err
	}

	applied := false
	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var existing storage.MatchState
			if err := json.Unmarshal(current, &existing); err != nil {
				return err
			}
			if existing.Version >= state.Version {
				// A newer write already landed; this writer lost.
				return nil
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.cfg.MatchTTL)
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return applied, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			// Key changed between WATCH and EXEC; re-read and re-compare.
			continue
		}
		return false, err
	}
	return false, nil
}

func (s *Storage) DeleteMatch(ctx context.Context, id string) error {
	return s.client.Del(ctx, matchKey(id)).Err()
}
