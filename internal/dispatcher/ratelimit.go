package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ChannelLimit caps outbound provider calls for one channel.
type ChannelLimit struct {
	PerSecond int
	PerMinute int
}

// DefaultChannelLimits respect typical provider throughput tiers: SES
// production accounts take hundreds per second, Twilio long codes roughly
// one per second per number (pooled here across numbers).
var DefaultChannelLimits = map[string]ChannelLimit{
	"email": {PerSecond: 50, PerMinute: 2500},
	"sms":   {PerSecond: 10, PerMinute: 300},
}

// Atomic check-and-increment over per-second and per-minute windows. Both
// limits are checked before either counter moves, so a denied call consumes
// no budget.
const channelLimitScript = `
local secondKey = KEYS[1]
local minuteKey = KEYS[2]
local secondLimit = tonumber(ARGV[1])
local minuteLimit = tonumber(ARGV[2])

local secCurrent = tonumber(redis.call("GET", secondKey) or "0")
local minCurrent = tonumber(redis.call("GET", minuteKey) or "0")

if secCurrent + 1 > secondLimit then
    return 0
end
if minCurrent + 1 > minuteLimit then
    return 0
end

local newSec = redis.call("INCR", secondKey)
if newSec == 1 then
    redis.call("EXPIRE", secondKey, 2)
end

local newMin = redis.call("INCR", minuteKey)
if newMin == 1 then
    redis.call("EXPIRE", minuteKey, 120)
end

return 1
`

// RateLimiter enforces per-channel provider throughput using atomic Redis
// Lua scripts. GET-check-INCR without the script would race between
// dispatcher instances.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
	limits map[string]ChannelLimit
	now    func() time.Time
}

// NewRateLimiter creates a limiter with the given per-channel limits;
// nil limits fall back to DefaultChannelLimits.
func NewRateLimiter(rdb *redis.Client, limits map[string]ChannelLimit) *RateLimiter {
	if limits == nil {
		limits = DefaultChannelLimits
	}
	return &RateLimiter{
		rdb:    rdb,
		script: redis.NewScript(channelLimitScript),
		limits: limits,
		now:    time.Now,
	}
}

// Allow reports whether one more send on the channel fits inside its
// limits, consuming budget only when allowed. Channels without a configured
// limit are unthrottled.
func (r *RateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	limit, ok := r.limits[channel]
	if !ok {
		return true, nil
	}

	now := r.now()
	secondKey := fmt.Sprintf("ratelimit:%s:sec:%d", channel, now.Unix())
	minuteKey := fmt.Sprintf("ratelimit:%s:min:%d", channel, now.Unix()/60)

	result, err := r.script.Run(ctx, r.rdb,
		[]string{secondKey, minuteKey},
		limit.PerSecond, limit.PerMinute,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}
	return result == 1, nil
}
