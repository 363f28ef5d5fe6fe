package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/marketplace-orders/internal/orders"
)

// StatusEntry is the cached status of one order together with the parties allowed to read it.
type StatusEntry struct {
	OrderID    string        `json:"orderId"`
	Status     orders.Status `json:"status"`
	CustomerID string        `json:"customerId"`
	CompanyID  string        `json:"companyId"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// advanceStatusScript writes ARGV[1] only when the cached status is one of
// ARGV[3..], so a late event can never move an order backwards.
var advanceStatusScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
	local ok, doc = pcall(cjson.decode, current)
	if ok and type(doc) == 'table' then
		local allowed = false
		for i = 3, #ARGV do
			if doc['status'] == ARGV[i] then
				allowed = true
				break
			end
		end
		if not allowed then
			return 0
		end
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// putSummariesScript writes the list only if no invalidation happened since
// the reader saw version ARGV[1].
var putSummariesScript = redis.NewScript(`
local version = redis.call('GET', KEYS[2]) or '0'
if version ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// OrderCache holds the read-side caches. The database stays the source of truth;
// every miss or Redis error falls back to it.
type OrderCache struct {
	Client     *redis.Client
	SummaryTTL time.Duration
}

// Summaries returns the cached list and the invalidation version it was read at.
// On a miss the version must be handed back to PutSummaries.
func (c *OrderCache) Summaries(ctx context.Context, scope, id string) ([]orders.Summary, int64, bool, error) {
	vals, err := c.Client.MGet(ctx,
		fmt.Sprintf(KeySummaries, scope, id),
		fmt.Sprintf(KeySummaryVersion, scope, id),
	).Result()
	if err != nil {
		return nil, 0, false, err
	}

	var version int64
	if v, ok := vals[1].(string); ok {
		if version, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, 0, false, fmt.Errorf("decode summary version: %w", err)
		}
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, version, false, nil
	}
	var list []orders.Summary
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, version, false, fmt.Errorf("decode summaries: %w", err)
	}
	return list, version, true, nil
}

// PutSummaries stores list unless the party was invalidated after version was read.
func (c *OrderCache) PutSummaries(ctx context.Context, scope, id string, version int64, list []orders.Summary) (bool, error) {
	if list == nil {
		list = []orders.Summary{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return false, err
	}
	ttl := c.SummaryTTL
	if ttl <= 0 {
		ttl = TTLSummaryCache
	}
	keys := []string{fmt.Sprintf(KeySummaries, scope, id), fmt.Sprintf(KeySummaryVersion, scope, id)}
	n, err := putSummariesScript.Run(ctx, c.Client, keys, strconv.FormatInt(version, 10), b, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// InvalidateSummaries drops the cached lists of both parties of an order and
// bumps their versions so in-flight reads cannot write a stale list back.
func (c *OrderCache) InvalidateSummaries(ctx context.Context, customerID, companyID string) error {
	_, err := c.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, party := range [][2]string{{ScopeCustomer, customerID}, {ScopeCompany, companyID}} {
			verKey := fmt.Sprintf(KeySummaryVersion, party[0], party[1])
			pipe.Del(ctx, fmt.Sprintf(KeySummaries, party[0], party[1]))
			pipe.Incr(ctx, verKey)
			pipe.Expire(ctx, verKey, TTLSummaryVer)
		}
		return nil
	})
	return err
}

func (c *OrderCache) Status(ctx context.Context, orderID string) (StatusEntry, bool, error) {
	b, err := c.Client.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return StatusEntry{}, false, nil
	}
	if err != nil {
		return StatusEntry{}, false, err
	}
	var e StatusEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return StatusEntry{}, false, fmt.Errorf("decode status: %w", err)
	}
	return e, true, nil
}

// AdvanceStatus caches e unless the cached status is already past e.Status.
// It reports whether e was written.
func (c *OrderCache) AdvanceStatus(ctx context.Context, e StatusEntry) (bool, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	args := []any{b, TTLStatusCache.Milliseconds()}
	for _, s := range orders.Predecessors(e.Status) {
		args = append(args, string(s))
	}
	n, err := advanceStatusScript.Run(ctx, c.Client, []string{fmt.Sprintf(KeyOrderStatus, e.OrderID)}, args...).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkSeen records eventID for service and reports whether it was new.
func (c *OrderCache) MarkSeen(ctx context.Context, service, eventID string) (bool, error) {
	return c.Client.SetNX(ctx, fmt.Sprintf(KeyDedup, service, eventID), "1", TTLDedup).Result()
}

// Forget removes a dedup marker so a failed event can be retried.
func (c *OrderCache) Forget(ctx context.Context, service, eventID string) error {
	return c.Client.Del(ctx, fmt.Sprintf(KeyDedup, service, eventID)).Err()
}
