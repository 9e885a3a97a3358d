package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"maixu-system/models"
)

// Score range bounds for ZCOUNT / ZRANGEBYSCORE calls.
const (
	ScoreMin  = "-inf"
	ScoreMax  = "+inf"
	ScoreZero = "0"
)

// WindowStore is the keyed ordered-set adapter over Redis sorted sets.
// Entries travel as "member:label[:state]" packed fields; the encoding
// never leaks past this package. Every call maps to one native command,
// so per-call atomicity is the store's, and sequences of calls are not
// transactional (the documented last-write-wins trade-off).
type WindowStore struct {
	rdb *redis.Client
}

func NewWindowStore(rdb *redis.Client) *WindowStore {
	return &WindowStore{rdb: rdb}
}

func EncodeEntry(e models.Entry) string {
	if e.State == models.StateActive {
		return e.Member + ":" + e.Label
	}
	return e.Member + ":" + e.Label + ":" + e.State
}

func DecodeEntry(raw string, score float64) models.Entry {
	parts := strings.SplitN(raw, ":", 3)
	e := models.Entry{Member: parts[0], Score: score}
	if len(parts) > 1 {
		e.Label = parts[1]
	}
	if len(parts) > 2 {
		e.State = parts[2]
	}
	return e
}

func (s *WindowStore) Put(ctx context.Context, key string, e models.Entry) error {
	if err := s.rdb.ZAdd(ctx, key, redis.Z{Score: e.Score, Member: EncodeEntry(e)}).Err(); err != nil {
		return fmt.Errorf("zadd %s: %w", key, err)
	}
	return nil
}

// RemoveMember deletes every packed entry of the member within the
// non-negative score range. Void and taken-out markers sit below zero
// and are never touched, so a re-admission or withdrawal leaves the
// member's historical records intact. Returns how many were removed.
func (s *WindowStore) RemoveMember(ctx context.Context, key, member string) (int, error) {
	raws, err := s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: ScoreZero, Max: ScoreMax}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}
	removed := 0
	for _, raw := range raws {
		if strings.HasPrefix(raw, member+":") {
			if err := s.rdb.ZRem(ctx, key, raw).Err(); err != nil {
				return removed, fmt.Errorf("zrem %s: %w", key, err)
			}
			removed++
		}
	}
	return removed, nil
}

func (s *WindowStore) RemoveEncoded(ctx context.Context, key, raw string) error {
	if err := s.rdb.ZRem(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("zrem %s: %w", key, err)
	}
	return nil
}

// TopN returns the n highest-scoring entries, best first. n <= 0 means
// the whole set.
func (s *WindowStore) TopN(ctx context.Context, key string, n int) ([]models.Entry, error) {
	stop := int64(-1)
	if n > 0 {
		stop = int64(n - 1)
	}
	zs, err := s.rdb.ZRevRangeWithScores(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange %s: %w", key, err)
	}
	entries := make([]models.Entry, 0, len(zs))
	for _, z := range zs {
		entries = append(entries, DecodeEntry(z.Member.(string), z.Score))
	}
	return entries, nil
}

// LowestInRange returns up to count lowest-scoring entries within the
// inclusive score range, lowest first.
func (s *WindowStore) LowestInRange(ctx context.Context, key, min, max string, count int) ([]models.Entry, error) {
	zs, err := s.rdb.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:    min,
		Max:    max,
		Offset: 0,
		Count:  int64(count),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}
	entries := make([]models.Entry, 0, len(zs))
	for _, z := range zs {
		entries = append(entries, DecodeEntry(z.Member.(string), z.Score))
	}
	return entries, nil
}

func (s *WindowStore) CountInRange(ctx context.Context, key, min, max string) (int64, error) {
	n, err := s.rdb.ZCount(ctx, key, min, max).Result()
	if err != nil {
		return 0, fmt.Errorf("zcount %s: %w", key, err)
	}
	return n, nil
}

// ScanPrefix collects every key matching the pattern. Uses SCAN rather
// than KEYS so large key spaces do not block the server.
func (s *WindowStore) ScanPrefix(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Archive moves a queue key into the historical namespace.
func (s *WindowStore) Archive(ctx context.Context, queueKey string) error {
	if err := s.rdb.Rename(ctx, queueKey, "archive:"+queueKey).Err(); err != nil {
		return fmt.Errorf("rename %s: %w", queueKey, err)
	}
	return nil
}

func (s *WindowStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}
