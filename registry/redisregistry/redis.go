package redisregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/callgrid/voicegate/registry"
)

// Config for the Redis-backed registry. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: VOICEGATE_KEY_PREFIX
	KeyPrefix string `env:"VOICEGATE_KEY_PREFIX,default=voicegate:calls:"`
	// MaxCalls seeds the shared ceiling if no instance has set one yet.
	// ENV: VOICEGATE_MAX_CALLS
	MaxCalls int `env:"VOICEGATE_MAX_CALLS,default=100"`
}

// admitScript atomically checks the live count against the shared ceiling
// and inserts the record if a slot is free. Seeds the ceiling key on first
// contact so every instance agrees on the default.
var admitScript = redis.NewScript(`
local max = tonumber(redis.call('GET', KEYS[2]))
if not max then
  max = tonumber(ARGV[3])
  redis.call('SET', KEYS[2], max)
end
local active = redis.call('HLEN', KEYS[1])
if active >= max then
  return {0, active, max}
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return {1, active + 1, max}
`)

// retireScript removes and returns the record in one round trip so two
// racing retirements cannot both observe the stored record.
var retireScript = redis.NewScript(`
local rec = redis.call('HGET', KEYS[1], ARGV[1])
if rec then
  redis.call('HDEL', KEYS[1], ARGV[1])
end
return rec
`)

// Registry is a Redis-backed registry.Registry.
type Registry struct {
	client    *redis.Client
	keyPrefix string
	maxCalls  int
}

var _ registry.Registry = (*Registry)(nil)

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Registry, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "voicegate:calls:"
	}
	max := cfg.MaxCalls
	if max <= 0 {
		max = 100
	}
	return &Registry{client: cl, keyPrefix: prefix, maxCalls: max}, nil
}

// NewFromEnv builds a Registry using envdecode to populate Config.
func NewFromEnv() (*Registry, error) {
	var cfg Config
	// Defaults are provided via struct tags.
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

// Close closes the Redis client.
func (r *Registry) Close() error { return r.client.Close() }

func (r *Registry) recordsKey() string { return r.keyPrefix + "records" }
func (r *Registry) maxKey() string     { return r.keyPrefix + "max" }

func (r *Registry) Admit(ctx context.Context, identity, callerRef string, kind registry.ChannelKind) error {
	if callerRef == "" {
		callerRef = registry.CallerUnknown
	}
	rec := registry.Record{
		Identity:   identity,
		CallerRef:  callerRef,
		Channel:    kind,
		AdmittedAt: time.Now().UTC(),
		Status:     registry.StatusConnected,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	res, err := admitScript.Run(ctx, r.client,
		[]string{r.recordsKey(), r.maxKey()},
		identity, payload, r.maxCalls,
	).Int64Slice()
	if err != nil {
		return fmt.Errorf("admit script: %w", err)
	}
	if len(res) != 3 {
		return fmt.Errorf("admit script returned %d values", len(res))
	}
	if res[0] == 0 {
		return &registry.CapacityError{Active: int(res[1]), Max: int(res[2])}
	}
	return nil
}

func (r *Registry) Retire(ctx context.Context, identity string) (*registry.Record, error) {
	// Cleanup must proceed even when the session context is already gone.
	ctx = context.WithoutCancel(ctx)

	raw, err := retireScript.Run(ctx, r.client, []string{r.recordsKey()}, identity).Text()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("retire script: %w", err)
	}
	var rec registry.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

func (r *Registry) Count(ctx context.Context) (int, error) {
	n, err := r.client.HLen(ctx, r.recordsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("hlen: %w", err)
	}
	return int(n), nil
}

func (r *Registry) List(ctx context.Context) ([]registry.Record, error) {
	fields, err := r.client.HGetAll(ctx, r.recordsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	out := make([]registry.Record, 0, len(fields))
	for _, raw := range fields {
		var rec registry.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		out = append(out, rec)
	}
	// Hash field order is unspecified; sort by admission time so callers
	// see a stable ordering within one List call.
	sort.Slice(out, func(i, j int) bool {
		if out[i].AdmittedAt.Equal(out[j].AdmittedAt) {
			return out[i].Identity < out[j].Identity
		}
		return out[i].AdmittedAt.Before(out[j].AdmittedAt)
	})
	return out, nil
}

func (r *Registry) Capacity(ctx context.Context) (int, error) {
	raw, err := r.client.Get(ctx, r.maxKey()).Result()
	if err == redis.Nil {
		return r.maxCalls, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get max: %w", err)
	}
	max, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse max %q: %w", raw, err)
	}
	return max, nil
}

func (r *Registry) SetCapacity(ctx context.Context, max int) error {
	if max <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", max)
	}
	if err := r.client.Set(ctx, r.maxKey(), max, 0).Err(); err != nil {
		return fmt.Errorf("set max: %w", err)
	}
	return nil
}
