package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// loginThrottle keeps the redis counters behind login rate limiting and account locks.
//
//	rate:login:<ip>:<email>:<yyyymmddhh>  attempts in the current hour
//	lock:login:fail:<email>               consecutive failures
//	lock:login:<email>                    present while the account is locked
type loginThrottle struct {
	client        redis.UniversalClient
	ratePerHour   int
	lockThreshold int
	lockTTL       time.Duration
}

// allow counts an attempt and reports whether it is within the hourly budget.
// A redis failure lets the attempt through.
func (t loginThrottle) allow(ctx context.Context, ip, email string) (bool, error) {
	key := "rate:login:" + ip + ":" + email + ":" + time.Now().UTC().Format("2006010215")
	count, err := incrWithTTL(ctx, t.client, key, time.Hour)
	if err != nil {
		return true, err
	}
	return t.ratePerHour <= 0 || count <= int64(t.ratePerHour), nil
}

func (t loginThrottle) locked(ctx context.Context, email string) bool {
	ttl, err := t.client.TTL(ctx, loginLockKey(email)).Result()
	return err == nil && ttl > 0
}

// fail records a failed attempt and locks the account once the threshold is reached.
func (t loginThrottle) fail(ctx context.Context, email string) error {
	count, err := incrWithTTL(ctx, t.client, loginFailKey(email), t.lockTTL)
	if err != nil {
		return err
	}
	if t.lockThreshold > 0 && count >= int64(t.lockThreshold) {
		return t.client.Set(ctx, loginLockKey(email), "1", t.lockTTL).Err()
	}
	return nil
}

func (t loginThrottle) reset(ctx context.Context, email string) {
	_ = t.client.Del(ctx, loginFailKey(email)).Err()
}

func loginFailKey(email string) string { return "lock:login:fail:" + email }
func loginLockKey(email string) string { return "lock:login:" + email }

type redisCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// incrWithTTL increments key and starts its expiry on the first increment only, so
// the window is fixed rather than sliding.
func incrWithTTL(ctx context.Context, client redisCounter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 && ttl > 0 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}
