package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisConfig holds configuration for the Redis backend
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// Retention bounds how long suspicious-access entries are kept per fingerprint.
	Retention time.Duration
	// LogCap bounds the shared access log list.
	LogCap int64
}

// Redis keeps one hash per blocked fingerprint, one sorted set of suspicious
// access timestamps per fingerprint, and a capped list of all access rows.
type Redis struct {
	config RedisConfig
	client *redis.Client
}

// OpenRedis connects and pings before returning.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return NewRedis(client, cfg), nil
}

// NewRedis wraps an existing client and fills defaults for unset fields.
func NewRedis(client *redis.Client, cfg RedisConfig) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = "originguard"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 48 * time.Hour
	}
	if cfg.LogCap <= 0 {
		cfg.LogCap = 100000
	}
	return &Redis{config: cfg, client: client}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) blockedKey(fp string) string    { return r.config.Prefix + ":blocked:" + fp }
func (r *Redis) suspiciousKey(fp string) string { return r.config.Prefix + ":suspicious:" + fp }
func (r *Redis) accessLogKey() string           { return r.config.Prefix + ":access_log" }

func (r *Redis) IsBlocked(ctx context.Context, fingerprint string) (bool, error) {
	n, err := r.client.Exists(ctx, r.blockedKey(fingerprint)).Result()
	if err != nil {
		return false, fmt.Errorf("lookup block: %w", err)
	}
	return n > 0, nil
}

func (r *Redis) Block(ctx context.Context, rec BlockRecord) error {
	stampBlock(&rec)
	details, err := marshalSnapshot(rec.Detection)
	if err != nil {
		return err
	}
	key := r.blockedKey(rec.Fingerprint)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "reason", rec.Reason)
		pipe.HSetNX(ctx, key, "user_agent", rec.UserAgent)
		pipe.HSetNX(ctx, key, "detection_details", string(details))
		pipe.HSetNX(ctx, key, "blocked_at", rec.BlockedAt.Format(time.RFC3339Nano))
		pipe.HSet(ctx, key, "last_attempt", rec.LastAttempt.Format(time.RFC3339Nano))
		if rec.IsPermanent {
			pipe.HSet(ctx, key, "is_permanent", "1")
		} else {
			pipe.HSetNX(ctx, key, "is_permanent", "0")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert block: %w", err)
	}
	return nil
}

func (r *Redis) LogAccess(ctx context.Context, rec AccessRecord) error {
	if rec.AccessedAt.IsZero() {
		rec.AccessedAt = time.Now().UTC()
	}
	if rec.Detection.Detections == nil {
		rec.Detection.Detections = []string{}
	}
	row, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal access record: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.accessLogKey(), row)
		pipe.LTrim(ctx, r.accessLogKey(), 0, r.config.LogCap-1)
		if rec.IsSuspicious {
			key := r.suspiciousKey(rec.Fingerprint)
			pipe.ZAdd(ctx, key, &redis.Z{
				Score:  float64(rec.AccessedAt.UnixMilli()),
				Member: suspiciousMember(rec.AccessedAt),
			})
			pipe.ZRemRangeByScore(ctx, key, "-inf", "("+scoreBound(rec.AccessedAt.Add(-r.config.Retention)))
			pipe.Expire(ctx, key, r.config.Retention)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append access log: %w", err)
	}
	return nil
}

func (r *Redis) SuspiciousCount(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	n, err := r.client.ZCount(ctx, r.suspiciousKey(fingerprint), scoreBound(since), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count suspicious accesses: %w", err)
	}
	return int(n), nil
}

func (r *Redis) Close() error { return r.client.Close() }

// suspiciousMember keeps same-millisecond accesses distinct in the sorted set.
func suspiciousMember(at time.Time) string {
	return strconv.FormatInt(at.UnixMilli(), 10) + ":" + uuid.NewString()
}

func scoreBound(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
