// Package redisstore implements store.Store on Redis.
//
// Daily counters are plain integer keys incremented with INCRBY, which is the
// single atomic synchronization point across every process sharing the
// Redis instance. Counter keys expire after UsageTTL; rollover happens because
// the date is part of the key.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DukeRupert/tollgate/internal/domain"
	"github.com/DukeRupert/tollgate/internal/store"
)

const (
	// DefaultUsageTTL keeps a week of daily counters around for debugging.
	DefaultUsageTTL = 8 * 24 * time.Hour

	// noticeTTL outlives the UTC day the notice belongs to.
	noticeTTL = 48 * time.Hour
)

// decrementScript clamps the counter at zero and never creates a missing key.
var decrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
local n = redis.call('DECRBY', KEYS[1], ARGV[1])
if n < 0 then
	redis.call('INCRBY', KEYS[1], -n)
	n = 0
end
return n
`)

// Options configures a Client.
type Options struct {
	// KeyPrefix namespaces every key, e.g. "tollgate:".
	KeyPrefix string
	// UsageTTL is how long a daily counter survives. Zero uses DefaultUsageTTL.
	UsageTTL time.Duration
}

// Client is the entrypoint into Redis.
type Client struct {
	db     *redis.Client
	prefix string
	ttl    time.Duration
}

// Open returns a Client for a redis:// URL, verifying a successful connection.
func Open(ctx context.Context, rawURL string, opts Options) (*Client, error) {
	redisOpts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, store.Error.New("parse redis url: %v", err)
	}
	return New(ctx, redis.NewClient(redisOpts), opts)
}

// New wraps an existing go-redis client, verifying a successful connection.
func New(ctx context.Context, db *redis.Client, opts Options) (*Client, error) {
	if opts.UsageTTL <= 0 {
		opts.UsageTTL = DefaultUsageTTL
	}
	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, store.Error.New("ping failed: %v", err)
	}
	return &Client{db: db, prefix: opts.KeyPrefix, ttl: opts.UsageTTL}, nil
}

// Close closes the redis client.
func (c *Client) Close() error {
	return c.db.Close()
}

// =============================================================================
// Keys
// =============================================================================

func (c *Client) usageKey(userID, date string) string {
	return c.prefix + "usage:" + userID + ":" + date
}

func (c *Client) userKey(userID string) string {
	return c.prefix + "user:" + userID
}

func (c *Client) contactKey(userID string) string {
	return c.prefix + "contact:" + userID
}

func (c *Client) noticeKey(userID, date string, threshold domain.Threshold) string {
	return c.prefix + "notice:" + userID + ":" + date + ":" + string(threshold)
}

func (c *Client) eventsKey(date string) string {
	return c.prefix + "events:" + date
}

func (c *Client) eventDatesKey() string {
	return c.prefix + "events:dates"
}

// datePattern matches exactly one DateLayout date in a SCAN MATCH pattern.
const datePattern = "[0-9][0-9][0-9][0-9]-[0-9][0-9]-[0-9][0-9]"

// globEscaper escapes SCAN MATCH metacharacters in user IDs.
var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// =============================================================================
// store.UsageStore
// =============================================================================

func (c *Client) ReadCount(ctx context.Context, userID, date string) (int64, error) {
	n, err := c.db.Get(ctx, c.usageKey(userID, date)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, store.Error.New("read count: %v", err)
	}
	return n, nil
}

func (c *Client) IncrementCount(ctx context.Context, userID, date string, delta int64) (int64, error) {
	key := c.usageKey(userID, date)
	var incr *redis.IntCmd
	_, err := c.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.IncrBy(ctx, key, delta)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return 0, store.Error.New("increment count: %v", err)
	}
	return incr.Val(), nil
}

func (c *Client) DecrementCount(ctx context.Context, userID, date string, delta int64) (int64, error) {
	n, err := decrementScript.Run(ctx, c.db, []string{c.usageKey(userID, date)}, delta).Int64()
	if err != nil {
		return 0, store.Error.New("decrement count: %v", err)
	}
	return n, nil
}

func (c *Client) ResetAll(ctx context.Context, userID string) error {
	// Anchored to the date suffix so that resetting "a" leaves "a:b" alone.
	pattern := c.prefix + "usage:" + globEscaper.Replace(userID) + ":" + datePattern
	it := c.db.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for it.Next(ctx) {
		keys = append(keys, it.Val())
	}
	if err := it.Err(); err != nil {
		return store.Error.New("scan usage keys: %v", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.db.Del(ctx, keys...).Err(); err != nil {
		return store.Error.New("delete usage keys: %v", err)
	}
	return nil
}

func (c *Client) ReadPlan(ctx context.Context, userID string) (domain.UserPlanState, error) {
	fields, err := c.db.HGetAll(ctx, c.userKey(userID)).Result()
	if err != nil {
		return domain.UserPlanState{}, store.Error.New("read plan: %v", err)
	}
	plan, ok := fields["plan"]
	if !ok {
		return domain.UserPlanState{}, store.ErrNotFound.New("plan for user %q", userID)
	}
	state := domain.UserPlanState{UserID: userID, Plan: domain.Plan(plan)}
	if raw := fields["quota_reset_at"]; raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return domain.UserPlanState{}, store.Error.New("parse quota_reset_at %q: %v", raw, err)
		}
		state.QuotaResetAt = &at
	}
	return state, nil
}

func (c *Client) WritePlan(ctx context.Context, userID string, plan domain.Plan) error {
	if err := c.db.HSet(ctx, c.userKey(userID), "plan", string(plan)).Err(); err != nil {
		return store.Error.New("write plan: %v", err)
	}
	return nil
}

// markResetScript keeps an existing plan and defaults a new row to free.
var markResetScript = redis.NewScript(`
redis.call('HSETNX', KEYS[1], 'plan', ARGV[2])
redis.call('HSET', KEYS[1], 'quota_reset_at', ARGV[1])
return 1
`)

func (c *Client) MarkReset(ctx context.Context, userID string, at time.Time) error {
	err := markResetScript.Run(ctx, c.db, []string{c.userKey(userID)},
		at.UTC().Format(time.RFC3339Nano), string(domain.PlanFree)).Err()
	if err != nil {
		return store.Error.New("mark reset: %v", err)
	}
	return nil
}

// =============================================================================
// store.NotificationMarks
// =============================================================================

func (c *Client) ClaimNotification(ctx context.Context, userID, date string, threshold domain.Threshold) (bool, error) {
	ok, err := c.db.SetNX(ctx, c.noticeKey(userID, date, threshold), time.Now().UTC().Format(time.RFC3339), noticeTTL).Result()
	if err != nil {
		return false, store.Error.New("claim notification: %v", err)
	}
	return ok, nil
}

func (c *Client) ReleaseNotification(ctx context.Context, userID, date string, threshold domain.Threshold) error {
	if err := c.db.Del(ctx, c.noticeKey(userID, date, threshold)).Err(); err != nil {
		return store.Error.New("release notification: %v", err)
	}
	return nil
}

// =============================================================================
// store.Contacts
// =============================================================================

func (c *Client) ReadContact(ctx context.Context, userID string) (domain.Contact, error) {
	fields, err := c.db.HGetAll(ctx, c.contactKey(userID)).Result()
	if err != nil {
		return domain.Contact{}, store.Error.New("read contact: %v", err)
	}
	email, ok := fields["email"]
	if !ok {
		return domain.Contact{}, store.ErrNotFound.New("contact for user %q", userID)
	}
	return domain.Contact{UserID: userID, Email: email, Name: fields["name"]}, nil
}

func (c *Client) WriteContact(ctx context.Context, contact domain.Contact) error {
	err := c.db.HSet(ctx, c.contactKey(contact.UserID), "email", contact.Email, "name", contact.Name).Err()
	if err != nil {
		return store.Error.New("write contact: %v", err)
	}
	return nil
}

// =============================================================================
// store.UsageLog
// =============================================================================

// dayScore orders event dates in the index sorted set.
func dayScore(date string) (float64, error) {
	t, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return 0, err
	}
	return float64(t.Unix() / 86400), nil
}

func (c *Client) AppendUsageEvent(ctx context.Context, event domain.UsageEvent) error {
	score, err := dayScore(event.Date)
	if err != nil {
		return store.Error.New("usage event date %q: %v", event.Date, err)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return store.Error.Wrap(err)
	}
	_, err = c.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, c.eventsKey(event.Date), payload)
		pipe.ZAdd(ctx, c.eventDatesKey(), redis.Z{Score: score, Member: event.Date})
		return nil
	})
	if err != nil {
		return store.Error.New("append usage event: %v", err)
	}
	return nil
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

// datesBefore returns the indexed event dates strictly before date, oldest first.
func (c *Client) datesBefore(ctx context.Context, date string) ([]string, error) {
	score, err := dayScore(date)
	if err != nil {
		return nil, store.Error.New("cutoff date %q: %v", date, err)
	}
	dates, err := c.db.ZRangeByScore(ctx, c.eventDatesKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + formatScore(score),
	}).Result()
	if err != nil {
		return nil, store.Error.New("list event dates: %v", err)
	}
	return dates, nil
}

func (c *Client) UsageEventsBefore(ctx context.Context, date string) ([]domain.UsageEvent, error) {
	dates, err := c.datesBefore(ctx, date)
	if err != nil {
		return nil, err
	}
	var events []domain.UsageEvent
	for _, d := range dates {
		raw, err := c.db.LRange(ctx, c.eventsKey(d), 0, -1).Result()
		if err != nil {
			return nil, store.Error.New("read usage events: %v", err)
		}
		for _, item := range raw {
			var e domain.UsageEvent
			if err := json.Unmarshal([]byte(item), &e); err != nil {
				return nil, store.Error.New("decode usage event: %v", err)
			}
			events = append(events, e)
		}
	}
	return events, nil
}

func (c *Client) PruneUsageBefore(ctx context.Context, date string) (int64, error) {
	dates, err := c.datesBefore(ctx, date)
	if err != nil {
		return 0, err
	}
	var pruned int64
	for _, d := range dates {
		n, err := c.db.LLen(ctx, c.eventsKey(d)).Result()
		if err != nil {
			return pruned, store.Error.New("count usage events: %v", err)
		}
		_, err = c.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, c.eventsKey(d))
			pipe.ZRem(ctx, c.eventDatesKey(), d)
			return nil
		})
		if err != nil {
			return pruned, store.Error.New("prune usage events: %v", err)
		}
		pruned += n
	}
	return pruned, nil
}

var _ store.Store = (*Client)(nil)
