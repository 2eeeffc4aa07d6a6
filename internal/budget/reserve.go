package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/manyfutures/foresight/internal/ledger/domain"
	redis "github.com/redis/go-redis/v9"
)

// reserveScript atomically increments the org's daily reservation counter
// and rejects the increment when it would breach the ceiling. Increment and
// compare happen in one script so concurrent generations cannot jointly
// overshoot.
const reserveScript = `
local ceiling = tonumber(ARGV[1])
local amount = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current + amount > ceiling then
  return {0, tostring(current)}
end

current = redis.call("INCRBYFLOAT", KEYS[1], amount)
redis.call("PEXPIRE", KEYS[1], ttl)
return {1, tostring(current)}
`

const adjustScript = `
local amount = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local current = redis.call("INCRBYFLOAT", KEYS[1], amount)
if tonumber(current) < 0 then
  redis.call("SET", KEYS[1], "0")
  current = "0"
end
redis.call("PEXPIRE", KEYS[1], ttl)
return current
`

// Reserver keeps a cross-process daily reservation counter in redis so that
// preflight checks stay atomic when multiple workers generate concurrently.
// A nil Reserver means single-process mode; callers fall back to the DB
// aggregate.
type Reserver struct {
	client  *redis.Client
	reserve *redis.Script
	adjust  *redis.Script
}

func NewReserver(client *redis.Client) *Reserver {
	if client == nil {
		return nil
	}
	return &Reserver{
		client:  client,
		reserve: redis.NewScript(reserveScript),
		adjust:  redis.NewScript(adjustScript),
	}
}

func reservationKey(orgID snowflake.ID, day string) string {
	return fmt.Sprintf("budget:reserve:%s:%s", orgID.String(), day)
}

// Reserve attempts to reserve amount against the ceiling for the org's
// current UTC day. Returns false when the reservation would breach.
func (r *Reserver) Reserve(ctx context.Context, orgID snowflake.ID, now time.Time, amount, ceiling float64) (bool, error) {
	if r == nil || r.client == nil {
		return false, errors.New("budget reserver not configured")
	}

	day := ledgerdomain.DayKey(now)
	res, err := r.reserve.Run(
		ctx,
		r.client,
		[]string{reservationKey(orgID, day)},
		ceiling,
		amount,
		int64(48*time.Hour/time.Millisecond),
	).Slice()
	if err != nil {
		return false, err
	}
	if len(res) < 2 {
		return false, errors.New("invalid budget reserve script response")
	}
	allowed, _ := res[0].(int64)
	return allowed == 1, nil
}

// Settle replaces an estimate with the actual cost once it is known. The
// delta may be negative when the call came in under the estimate.
func (r *Reserver) Settle(ctx context.Context, orgID snowflake.ID, now time.Time, estimated, actual float64) error {
	if r == nil || r.client == nil {
		return nil
	}
	delta := actual - estimated
	if delta == 0 {
		return nil
	}

	day := ledgerdomain.DayKey(now)
	return r.adjust.Run(
		ctx,
		r.client,
		[]string{reservationKey(orgID, day)},
		strconv.FormatFloat(delta, 'f', -1, 64),
		int64(48*time.Hour/time.Millisecond),
	).Err()
}

// Release returns an unspent reservation, typically after a preflight pass
// whose generation never issued a billed call.
func (r *Reserver) Release(ctx context.Context, orgID snowflake.ID, now time.Time, amount float64) error {
	return r.Settle(ctx, orgID, now, amount, 0)
}
