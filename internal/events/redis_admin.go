package events

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/beaconkb/beacon-backend/internal/platform/envutil"
	"github.com/beaconkb/beacon-backend/internal/platform/logger"
)

// BudgetAdmin is the slice of the cost governor the admin consumer drives.
type BudgetAdmin interface {
	PauseAgent(ctx context.Context, agentID uuid.UUID) error
	UnpauseAgent(ctx context.Context, agentID uuid.UUID) error
	ResetAgentMonthlyCost(ctx context.Context, agentID uuid.UUID) error
	UpdateAgentBudget(ctx context.Context, agentID uuid.UUID, limitUSD float64) error
}

// adminCommand is one validated budget mutation from the admin stream.
type adminCommand struct {
	Op       string
	AgentID  uuid.UUID
	LimitUSD float64
}

const (
	AdminOpPauseAgent   = "pause_agent"
	AdminOpUnpauseAgent = "unpause_agent"
	AdminOpResetPeriod  = "reset_period"
	AdminOpUpdateLimit  = "update_limit"
)

// AdminConsumer applies operator budget commands from a redis stream:
// pausing/unpausing agents, resetting billing periods, and changing limits.
// Commands are acked once handled; malformed or failed commands are logged
// and acked, operators re-issue them.
type AdminConsumer struct {
	log      *logger.Logger
	rdb      *goredis.Client
	admin    BudgetAdmin
	stream   string
	group    string
	consumer string
	block    time.Duration
}

func NewAdminConsumer(log *logger.Logger, admin BudgetAdmin) (*AdminConsumer, error) {
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
	return &AdminConsumer{
		log:      log.With("service", "BudgetAdminConsumer"),
		rdb:      rdb,
		admin:    admin,
		stream:   envutil.String("REDIS_ADMIN_STREAM", "beacon.admin"),
		group:    envutil.String("REDIS_ADMIN_GROUP", "beacon-budget-admin"),
		consumer: hostname,
		block:    envutil.Duration("REDIS_ADMIN_BLOCK", 5*time.Second),
	}, nil
}

// Start consumes until the context is cancelled.
func (c *AdminConsumer) Start(ctx context.Context) {
	go func() {
		err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			c.log.Error("admin group setup failed", "error", err)
			return
		}
		c.log.Info("budget admin consumer started",
			"stream", c.stream, "group", c.group, "consumer", c.consumer)
		for {
			if ctx.Err() != nil {
				return
			}
			if err := c.consumeOnce(ctx); err != nil && ctx.Err() == nil {
				c.log.Warn("admin read failed", "error", err)
				time.Sleep(time.Second)
			}
		}
	}()
}

func (c *AdminConsumer) consumeOnce(ctx context.Context) error {
	streams, err := c.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    10,
		Block:    c.block,
	}).Result()
	if err == goredis.Nil {
		return nil
	}
	if err != nil {
		return err
	}

	var ids []string
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			ids = append(ids, msg.ID)
			cmd, perr := parseAdminCommand(msg.Values)
			if perr != nil {
				c.log.Warn("dropping malformed admin command",
					"entry_id", msg.ID, "error", perr)
				continue
			}
			if aerr := c.apply(ctx, cmd); aerr != nil {
				c.log.Error("admin command failed",
					"entry_id", msg.ID, "op", cmd.Op,
					"agent_id", cmd.AgentID, "error", aerr)
				continue
			}
			c.log.Info("admin command applied",
				"op", cmd.Op, "agent_id", cmd.AgentID)
		}
	}
	if len(ids) > 0 {
		if aerr := c.rdb.XAck(ctx, c.stream, c.group, ids...).Err(); aerr != nil {
			c.log.Warn("admin ack failed", "error", aerr)
		}
	}
	return nil
}

func (c *AdminConsumer) apply(ctx context.Context, cmd *adminCommand) error {
	switch cmd.Op {
	case AdminOpPauseAgent:
		return c.admin.PauseAgent(ctx, cmd.AgentID)
	case AdminOpUnpauseAgent:
		return c.admin.UnpauseAgent(ctx, cmd.AgentID)
	case AdminOpResetPeriod:
		return c.admin.ResetAgentMonthlyCost(ctx, cmd.AgentID)
	case AdminOpUpdateLimit:
		return c.admin.UpdateAgentBudget(ctx, cmd.AgentID, cmd.LimitUSD)
	}
	return fmt.Errorf("unknown op %q", cmd.Op)
}

func parseAdminCommand(values map[string]interface{}) (*adminCommand, error) {
	str := func(key string) string {
		v, _ := values[key].(string)
		return strings.TrimSpace(v)
	}
	op := str("op")
	switch op {
	case AdminOpPauseAgent, AdminOpUnpauseAgent, AdminOpResetPeriod, AdminOpUpdateLimit:
	default:
		return nil, fmt.Errorf("unknown op %q", op)
	}
	agentID, err := uuid.Parse(str("agent_id"))
	if err != nil {
		return nil, fmt.Errorf("bad agent id %q: %w", str("agent_id"), err)
	}
	cmd := &adminCommand{Op: op, AgentID: agentID}
	if op == AdminOpUpdateLimit {
		limit, perr := strconv.ParseFloat(str("limit_usd"), 64)
		if perr != nil {
			return nil, fmt.Errorf("bad limit_usd %q: %w", str("limit_usd"), perr)
		}
		if limit < 0 {
			return nil, fmt.Errorf("limit_usd must be >= 0, got %v", limit)
		}
		cmd.LimitUSD = limit
	}
	return cmd, nil
}

func (c *AdminConsumer) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
