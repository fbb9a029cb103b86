package events

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/beaconkb/beacon-backend/internal/platform/envutil"
	"github.com/beaconkb/beacon-backend/internal/platform/logger"
)

type redisPublisher struct {
	log    *logger.Logger
	rdb    *goredis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher appends events to a capped redis stream. XADD gives the
// append-only log semantics the notification contract asks for.
func NewRedisPublisher(log *logger.Logger) (Publisher, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	stream := envutil.String("REDIS_EVENT_STREAM", "beacon.events")
	maxLen := int64(envutil.Int("REDIS_EVENT_STREAM_MAXLEN", 100000))

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

	return &redisPublisher{
		log:    log.With("service", "RedisEventPublisher"),
		rdb:    rdb,
		stream: stream,
		maxLen: maxLen,
	}, nil
}

func (p *redisPublisher) Publish(ctx context.Context, ev Event) error {
	if p == nil || p.rdb == nil {
		return fmt.Errorf("redis event publisher not initialized")
	}
	return p.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"topic":     ev.Topic,
			"signal_id": ev.SignalID.String(),
			"source":    ev.Source,
			"severity":  ev.Severity,
		},
	}).Err()
}

func (p *redisPublisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}
