package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/StreetsDigital/aip-coordinator/internal/ledger"
	"github.com/StreetsDigital/aip-coordinator/internal/weave"
)

// RedisOptions configures the redis backend
type RedisOptions struct {
	URL    string
	Prefix string
}

// RedisStore persists records as JSON values in Redis. Per-record atomicity
// comes from WATCH-based optimistic transactions on the record key.
type RedisStore struct {
	client *redis.Client
	prefix string
}

const redisUpdateRetries = 8

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("redis backend requires url option")
	}
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(parsed)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := strings.TrimSuffix(opts.Prefix, ":")
	if prefix == "" {
		prefix = "aip:ledger"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) recordKey(serveToken string) string {
	return s.prefix + ":record:" + serveToken
}

func (s *RedisStore) recommendationKey(sessionID, messageID string) string {
	return s.prefix + ":rec:" + sessionID + ":" + messageID
}

// CreateRecord inserts a ledger record with SETNX semantics
func (s *RedisStore) CreateRecord(ctx context.Context, rec *ledger.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.recordKey(rec.ServeToken), b, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return ledger.ErrAlreadyExists
	}
	return nil
}

// GetRecord loads the record for a serve token
func (s *RedisStore) GetRecord(ctx context.Context, serveToken string) (*ledger.Record, error) {
	raw, err := s.client.Get(ctx, s.recordKey(serveToken)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var rec ledger.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("redis record decode: %w", err)
	}
	return &rec, nil
}

// UpdateRecord runs mutate inside a WATCH transaction, retrying on conflicts
func (s *RedisStore) UpdateRecord(ctx context.Context, serveToken string, mutate func(*ledger.Record) error) (*ledger.Record, error) {
	key := s.recordKey(serveToken)
	var updated *ledger.Record

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ledger.ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec ledger.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if err := mutate(&rec); err != nil {
			return err
		}
		b, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			return nil
		})
		if err == nil {
			updated = &rec
		}
		return err
	}

	for i := 0; i < redisUpdateRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("redis update of %s: too many conflicts", serveToken)
}

// ListRecords scans and loads all ledger records under the prefix
func (s *RedisStore) ListRecords(ctx context.Context) ([]*ledger.Record, error) {
	pattern := s.recordKey("*")
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	out := make([]*ledger.Record, 0, len(values))
	for _, value := range values {
		str, ok := value.(string)
		if !ok {
			continue
		}
		var rec ledger.Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("redis record decode: %w", err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

// CreateRecommendation is a conditional insert backed by SETNX
func (s *RedisStore) CreateRecommendation(ctx context.Context, rec *weave.Recommendation) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.recommendationKey(rec.SessionID, rec.MessageID), b, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return weave.ErrAlreadyExists
	}
	return nil
}

// GetRecommendation loads the recommendation for a (session, message) key
func (s *RedisStore) GetRecommendation(ctx context.Context, sessionID, messageID string) (*weave.Recommendation, error) {
	raw, err := s.client.Get(ctx, s.recommendationKey(sessionID, messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, weave.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var rec weave.Recommendation
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("redis recommendation decode: %w", err)
	}
	return &rec, nil
}

// UpdateRecommendation runs mutate inside a WATCH transaction
func (s *RedisStore) UpdateRecommendation(ctx context.Context, sessionID, messageID string, mutate func(*weave.Recommendation) error) (*weave.Recommendation, error) {
	key := s.recommendationKey(sessionID, messageID)
	var updated *weave.Recommendation

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return weave.ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec weave.Recommendation
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if err := mutate(&rec); err != nil {
			return err
		}
		b, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			return nil
		})
		if err == nil {
			updated = &rec
		}
		return err
	}

	for i := 0; i < redisUpdateRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("redis update of %s/%s: too many conflicts", sessionID, messageID)
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
