// ABOUTME: Redis-backed shared state for gateways running side by side
// ABOUTME: Usage hashes per period, the budget setting hash, and the registered principal set

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	usageKeyPrefix = "quotagate:usage:"
	settingsKey    = "quotagate:settings"
	principalsKey  = "quotagate:principals"
)

// RedisStore implements UsageStore on a Redis hash per period. It also keeps
// the monthly budget and the registered principal ids so every gateway
// sharing the instance divides the same budget by the same count.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore connects to addr and verifies the connection with PING.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}

	logger := slog.Default().With("component", "store", "backend", "redis")
	logger.Info("redis store initialized", "addr", addr, "db", db)
	return &RedisStore{client: client, logger: logger}, nil
}

func usageKey(period string) string {
	return usageKeyPrefix + period
}

// AddUsage adds units to principalID's total for period and returns the new total.
func (s *RedisStore) AddUsage(ctx context.Context, principalID, period string, units int64) (int64, error) {
	if units < 0 {
		return 0, ErrNegativeUsage
	}

	total, err := s.client.HIncrBy(ctx, usageKey(period), principalID, units).Result()
	if err != nil {
		return 0, fmt.Errorf("adding usage: %w", err)
	}

	s.logger.Debug("recorded usage",
		"principal_id", principalID,
		"period", period,
		"units", units,
		"total", total,
	)
	return total, nil
}

// PeriodUsage returns principalID's total for period, or 0 when none was recorded.
func (s *RedisStore) PeriodUsage(ctx context.Context, principalID, period string) (int64, error) {
	units, err := s.client.HGet(ctx, usageKey(period), principalID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying usage: %w", err)
	}
	return units, nil
}

// ListPeriodUsage returns every total recorded for period, largest first.
// Redis keeps no per-field timestamps, so UpdatedAt is left zero.
func (s *RedisStore) ListPeriodUsage(ctx context.Context, period string) ([]UsageRecord, error) {
	fields, err := s.client.HGetAll(ctx, usageKey(period)).Result()
	if err != nil {
		return nil, fmt.Errorf("querying period usage: %w", err)
	}

	records := make([]UsageRecord, 0, len(fields))
	for principalID, raw := range fields {
		units, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing usage for %s: %w", principalID, err)
		}
		records = append(records, UsageRecord{PrincipalID: principalID, Period: period, Units: units})
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Units != records[j].Units {
			return records[i].Units > records[j].Units
		}
		return records[i].PrincipalID < records[j].PrincipalID
	})
	return records, nil
}

// MonthlyUnitBudget returns the shared budget, or ErrNotFound if none is set.
func (s *RedisStore) MonthlyUnitBudget(ctx context.Context) (int64, error) {
	units, err := s.client.HGet(ctx, settingsKey, settingMonthlyUnitBudget).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying budget: %w", err)
	}
	return units, nil
}

// SetMonthlyUnitBudget replaces the shared budget.
func (s *RedisStore) SetMonthlyUnitBudget(ctx context.Context, units int64) error {
	if err := s.client.HSet(ctx, settingsKey, settingMonthlyUnitBudget, units).Err(); err != nil {
		return fmt.Errorf("setting budget: %w", err)
	}
	return nil
}

// SeedMonthlyUnitBudget sets the budget only if no gateway has set one yet.
func (s *RedisStore) SeedMonthlyUnitBudget(ctx context.Context, units int64) error {
	if err := s.client.HSetNX(ctx, settingsKey, settingMonthlyUnitBudget, units).Err(); err != nil {
		return fmt.Errorf("seeding budget: %w", err)
	}
	return nil
}

// AddPrincipals records ids in the shared registry. Re-adding is a no-op.
func (s *RedisStore) AddPrincipals(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := s.client.SAdd(ctx, principalsKey, members...).Err(); err != nil {
		return fmt.Errorf("registering principals: %w", err)
	}
	return nil
}

// CountPrincipals returns the size of the shared registry.
func (s *RedisStore) CountPrincipals(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, principalsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("counting principals: %w", err)
	}
	return int(n), nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
