package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is an optional cross-process work lock. The database claim is the
// source of truth; the lock only stops two processes from racing the same
// episode into the claim UPDATE and wasting a provider call.
type Locker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// episodeLease releases its key only while the holder still owns it, so an
// expired lease cannot delete a successor's lock.
type episodeLease struct {
	client *redis.Client
	key    string
	token  string
}

func (l *episodeLease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return releaseIfOwner.Run(ctx, l.client, []string{l.key}, l.token).Err()
}

// Acquire takes the generation lock for one episode. A nil lease with a nil
// error means another process holds it.
func (l *Locker) Acquire(ctx context.Context, episodeID snowflake.ID, ttl time.Duration) (*episodeLease, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("lock client not configured")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}

	key := fmt.Sprintf("episode:generate:%s", episodeID)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &episodeLease{client: l.client, key: key, token: token}, nil
}
