package search

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/beaconkb/beacon-backend/internal/platform/envutil"
	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/types"
)

// RedisIndexer maintains a lookup layer in redis: one hash per signal plus
// inverted sets from each extracted mention to the signals that carry it.
// Writes are idempotent, so pipeline replays converge.
type RedisIndexer struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisIndexer(log *logger.Logger) (*RedisIndexer, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisIndexer{
		log:    log.With("service", "RedisSearchIndexer"),
		rdb:    rdb,
		prefix: envutil.String("REDIS_INDEX_PREFIX", "beacon:index"),
		ttl:    envutil.Duration("REDIS_INDEX_TTL", 0),
	}, nil
}

func (x *RedisIndexer) Index(ctx context.Context, signal *types.Signal, extraction *types.ExtractionResult) error {
	if signal == nil {
		return nil
	}
	signalKey := fmt.Sprintf("%s:signal:%s", x.prefix, signal.ID)
	pipe := x.rdb.Pipeline()
	pipe.HSet(ctx, signalKey, map[string]interface{}{
		"source":      signal.Source,
		"source_ref":  signal.SourceRef,
		"signal_type": signal.SignalType,
		"severity":    signal.Severity,
		"content":     signal.NormalizedContent,
		"created_at":  signal.CreatedAt.UTC().Format(time.RFC3339),
	})
	if x.ttl > 0 {
		pipe.Expire(ctx, signalKey, x.ttl)
	}
	if extraction != nil {
		for _, mention := range allMentions(extraction) {
			key := fmt.Sprintf("%s:mention:%s", x.prefix, mention)
			pipe.SAdd(ctx, key, signal.ID.String())
			if x.ttl > 0 {
				pipe.Expire(ctx, key, x.ttl)
			}
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index signal %s: %w", signal.ID, err)
	}
	return nil
}

// SignalsForMention returns the ids of signals whose extraction produced the
// given mention.
func (x *RedisIndexer) SignalsForMention(ctx context.Context, mention string) ([]string, error) {
	key := fmt.Sprintf("%s:mention:%s", x.prefix, normalizeMention(mention))
	return x.rdb.SMembers(ctx, key).Result()
}

func (x *RedisIndexer) Close() error {
	if x == nil || x.rdb == nil {
		return nil
	}
	return x.rdb.Close()
}

func allMentions(extraction *types.ExtractionResult) []string {
	buckets := [][]string{
		extraction.Entities.Customers,
		extraction.Entities.Features,
		extraction.Entities.Issues,
		extraction.Entities.Themes,
		extraction.Entities.Stakeholders,
	}
	seen := make(map[string]struct{})
	var out []string
	for _, bucket := range buckets {
		for _, mention := range bucket {
			normalized := normalizeMention(mention)
			if normalized == "" {
				continue
			}
			if _, dup := seen[normalized]; dup {
				continue
			}
			seen[normalized] = struct{}{}
			out = append(out, normalized)
		}
	}
	return out
}

func normalizeMention(mention string) string {
	return strings.Join(strings.Fields(strings.ToLower(mention)), " ")
}
