package counter

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const webhookCountersKey = "ppss:counters:webhooks"

// Webhook delivery outcomes counted at the HTTP boundary.
const (
	WebhookReceived      = "received"
	WebhookRejected      = "rejected"
	WebhookEmpty         = "empty"
	WebhookEnqueueFailed = "enqueue_failed"
)

// Counter keeps named counters in a Redis hash so every server replica adds
// to the same totals.
type Counter struct {
	rdb *redis.Client
	key string
}

// NewWebhookCounter returns the counter for webhook deliveries.
func NewWebhookCounter(rdb *redis.Client) *Counter {
	return &Counter{rdb: rdb, key: webhookCountersKey}
}

// Add increments the counter name by one. A nil Counter is a no-op.
func (c *Counter) Add(ctx context.Context, name string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.HIncrBy(ctx, c.key, name, 1).Err()
}

// Snapshot returns all counters.
func (c *Counter) Snapshot(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64)
	if c == nil || c.rdb == nil {
		return out, nil
	}
	data, err := c.rdb.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, err
	}
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}
