package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/datatypes"

	"github.com/beaconkb/beacon-backend/internal/platform/envutil"
	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/types"
)

// Ingestor is the slice of the pipeline the intake consumer needs.
type Ingestor interface {
	Ingest(ctx context.Context, signals []*types.Signal) *IngestReportView
}

// IngestReportView decouples the consumer from the pipeline package to avoid
// an import cycle; the orchestrator's report satisfies it structurally via
// the adapter in cmd.
type IngestReportView struct {
	Total     int
	Succeeded int
	Failed    int
}

// IntakeConsumer reads raw signals from a redis stream through a consumer
// group and hands them to the pipeline in batches. Entries are acked after
// the batch returns; pipeline-level failures are already persisted to
// failed_signal_attempts by then, so re-delivery is not needed.
type IntakeConsumer struct {
	log      *logger.Logger
	rdb      *goredis.Client
	ingestor Ingestor

	stream   string
	group    string
	consumer string
	batch    int64
	block    time.Duration
}

func NewIntakeConsumer(log *logger.Logger, ingestor Ingestor) (*IntakeConsumer, error) {
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

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = uuid.New().String()[:8]
	}
	return &IntakeConsumer{
		log:      log.With("service", "SignalIntakeConsumer"),
		rdb:      rdb,
		ingestor: ingestor,
		stream:   envutil.String("REDIS_INTAKE_STREAM", "beacon.intake"),
		group:    envutil.String("REDIS_INTAKE_GROUP", "beacon-pipeline"),
		consumer: hostname,
		batch:    int64(envutil.Int("REDIS_INTAKE_BATCH", 20)),
		block:    envutil.Duration("REDIS_INTAKE_BLOCK", 5*time.Second),
	}, nil
}

// Start consumes until the context is cancelled.
func (c *IntakeConsumer) Start(ctx context.Context) {
	go func() {
		if err := c.ensureGroup(ctx); err != nil {
			c.log.Error("intake group setup failed", "error", err)
			return
		}
		c.log.Info("intake consumer started",
			"stream", c.stream, "group", c.group, "consumer", c.consumer)
		for {
			if ctx.Err() != nil {
				return
			}
			if err := c.consumeOnce(ctx); err != nil && ctx.Err() == nil {
				c.log.Warn("intake read failed", "error", err)
				time.Sleep(time.Second)
			}
		}
	}()
}

func (c *IntakeConsumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (c *IntakeConsumer) consumeOnce(ctx context.Context) error {
	streams, err := c.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batch,
		Block:    c.block,
	}).Result()
	if err == goredis.Nil {
		return nil
	}
	if err != nil {
		return err
	}

	var signals []*types.Signal
	var ids []string
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			ids = append(ids, msg.ID)
			signal, perr := parseIntakeMessage(msg.Values)
			if perr != nil {
				// Malformed entries are acked and dropped; they can never
				// become valid on re-delivery.
				c.log.Warn("dropping malformed intake entry",
					"entry_id", msg.ID, "error", perr)
				continue
			}
			signals = append(signals, signal)
		}
	}

	if len(signals) > 0 {
		report := c.ingestor.Ingest(ctx, signals)
		if report.Failed > 0 {
			c.log.Warn("intake batch had failures",
				"total", report.Total, "failed", report.Failed)
		}
	}
	if len(ids) > 0 {
		if aerr := c.rdb.XAck(ctx, c.stream, c.group, ids...).Err(); aerr != nil {
			c.log.Warn("intake ack failed", "error", aerr)
		}
	}
	return nil
}

func parseIntakeMessage(values map[string]interface{}) (*types.Signal, error) {
	str := func(key string) string {
		v, _ := values[key].(string)
		return strings.TrimSpace(v)
	}
	content := str("content")
	source := str("source")
	if content == "" || source == "" {
		return nil, fmt.Errorf("missing content or source")
	}

	signal := &types.Signal{
		ID:         uuid.New(),
		Source:     source,
		SourceRef:  str("source_ref"),
		SignalType: str("signal_type"),
		Content:    content,
		Severity:   str("severity"),
		CreatedAt:  time.Now().UTC(),
	}
	if raw := str("id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("bad signal id %q: %w", raw, err)
		}
		signal.ID = id
	}
	if raw := str("agent_id"); raw != "" {
		agentID, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("bad agent id %q: %w", raw, err)
		}
		signal.AgentID = &agentID
	}
	if raw := str("confidence"); raw != "" {
		conf, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("bad confidence %q: %w", raw, err)
		}
		signal.Confidence = conf
	}
	if raw := str("metadata"); raw != "" {
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("metadata is not valid json")
		}
		signal.Metadata = datatypes.JSON(raw)
	}
	return signal, nil
}

func (c *IntakeConsumer) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
