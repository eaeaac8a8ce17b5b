package holiday

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/warp/leave-engine/generic"
)

const keyPrefix = "leave:holidays"

// Cache is a Redis read-through cache in front of a holiday calendar.
// Keys carry a per-list version; Invalidate bumps it so stale entries are
// never read again and simply expire. Concurrent misses for the same key
// share one load. When Redis is unavailable lookups go straight to the
// wrapped calendar.
type Cache struct {
	client *redis.Client
	next   generic.HolidayCalendar
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

var (
	_ generic.HolidayCalendar = (*Cache)(nil)
	_ Invalidator             = (*Cache)(nil)
)

func NewCache(client *redis.Client, next generic.HolidayCalendar, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, next: next, ttl: ttl, logger: logger}
}

func (c *Cache) Holidays(ctx context.Context, listID string, from, to generic.TimePoint) (generic.HolidaySet, error) {
	if c.client == nil {
		return c.next.Holidays(ctx, listID, from, to)
	}

	key, err := c.key(ctx, listID, from, to)
	if err != nil {
		c.logger.WarnContext(ctx, "holiday cache unavailable", slog.String("list_id", listID), slog.Any("error", err))
		return c.next.Holidays(ctx, listID, from, to)
	}

	payload, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var set generic.HolidaySet
		if err := json.Unmarshal(payload, &set); err == nil {
			return set, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "holiday cache read failed", slog.String("key", key), slog.Any("error", err))
		return c.next.Holidays(ctx, listID, from, to)
	}

	// The shared load outlives any one caller giving up.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		set, err := c.next.Holidays(loadCtx, listID, from, to)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(set)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(loadCtx, key, raw, c.ttl).Err(); err != nil {
			c.logger.WarnContext(loadCtx, "holiday cache write failed", slog.String("key", key), slog.Any("error", err))
		}
		return set, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return copySet(res.Val.(generic.HolidaySet)), nil
	}
}

// Invalidate retires every cached lookup of listID.
func (c *Cache) Invalidate(ctx context.Context, listID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, versionKey(listID)).Err()
}

func (c *Cache) key(ctx context.Context, listID string, from, to generic.TimePoint) (string, error) {
	ver, err := c.client.Get(ctx, versionKey(listID)).Int64()
	if errors.Is(err, redis.Nil) {
		ver, err = 0, nil
	}
	if err != nil {
		return "", err
	}
	return strings.Join([]string{keyPrefix, listID, fmt.Sprint(ver), from.Key(), to.Key()}, ":"), nil
}

func versionKey(listID string) string {
	return keyPrefix + ":version:" + listID
}

// copySet keeps callers sharing a singleflight result from sharing a map.
func copySet(s generic.HolidaySet) generic.HolidaySet {
	out := make(generic.HolidaySet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
