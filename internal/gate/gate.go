// Package gate enforces the free-tier turn allowance. Counters live in
// Redis and only ever grow. Subscribed users bypass the counter entirely,
// their plan is cached for a short window to keep the hot path off the
// database.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sportmate/internal/storage"
)

type PlanSource interface {
	GetSubscription(ctx context.Context, userID string) (*storage.Subscription, error)
}

type Decision struct {
	Allowed bool
	Plan    string
	Used    int64
	Limit   int64
}

type Gate struct {
	redis   *redis.Client
	plans   PlanSource
	limit   int64
	planTTL time.Duration
}

func New(rdb *redis.Client, plans PlanSource, limit int64, planTTL time.Duration) *Gate {
	return &Gate{redis: rdb, plans: plans, limit: limit, planTTL: planTTL}
}

// Allow consumes one turn for the user. Trial and paid plans are never
// counted. The free counter has no expiry, a free user who exhausts the
// allowance stays blocked until they subscribe.
func (g *Gate) Allow(ctx context.Context, userID string) (Decision, error) {
	plan, err := g.plan(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if plan == storage.PlanTrial || plan == storage.PlanPaid {
		return Decision{Allowed: true, Plan: plan}, nil
	}

	used, err := g.redis.Incr(ctx, usageKey(userID)).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("increment usage: %w", err)
	}
	return Decision{
		Allowed: used <= g.limit,
		Plan:    plan,
		Used:    used,
		Limit:   g.limit,
	}, nil
}

// Used reports the current counter without consuming a turn.
func (g *Gate) Used(ctx context.Context, userID string) (int64, error) {
	used, err := g.redis.Get(ctx, usageKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read usage: %w", err)
	}
	return used, nil
}

// Limit reports the free-tier allowance.
func (g *Gate) Limit() int64 {
	return g.limit
}

// InvalidatePlan drops the cached plan, called after checkout completes so
// the next turn sees the upgrade immediately.
func (g *Gate) InvalidatePlan(ctx context.Context, userID string) error {
	if err := g.redis.Del(ctx, planKey(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate plan: %w", err)
	}
	return nil
}

func (g *Gate) plan(ctx context.Context, userID string) (string, error) {
	cached, err := g.redis.Get(ctx, planKey(userID)).Result()
	if err == nil && cached != "" {
		return cached, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("read plan cache: %w", err)
	}

	sub, err := g.plans.GetSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.PlanFree, nil
		}
		return "", fmt.Errorf("load subscription: %w", err)
	}

	plan := sub.Plan
	if expired(sub) {
		plan = storage.PlanFree
	}
	if err := g.redis.Set(ctx, planKey(userID), plan, g.planTTL).Err(); err != nil {
		return "", fmt.Errorf("cache plan: %w", err)
	}
	return plan, nil
}

func expired(sub *storage.Subscription) bool {
	if sub.Plan == storage.PlanFree || sub.EndDate == nil {
		return false
	}
	return time.Now().UTC().After(*sub.EndDate)
}

func usageKey(userID string) string {
	return "sportmate:usage:" + userID
}

func planKey(userID string) string {
	return "sportmate:plan:" + userID
}
