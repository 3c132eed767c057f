package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb redis.Cmdable, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Deduper claims keys with SET NX so a message or event is handled once per TTL.
type Deduper struct {
	rdb     redis.Cmdable
	service string
	ttl     time.Duration
}

func NewDeduper(rdb redis.Cmdable, service string, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = TTLDedup
	}
	return &Deduper{rdb: rdb, service: service, ttl: ttl}
}

// Claim returns true the first time id is seen.
func (d *Deduper) Claim(ctx context.Context, id string) (bool, error) {
	return d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, d.service, id), 1, d.ttl).Result()
}

// Forget drops a claim, e.g. after the handler failed and the message will be redelivered.
func (d *Deduper) Forget(ctx context.Context, id string) error {
	return d.rdb.Del(ctx, fmt.Sprintf(KeyDedup, d.service, id)).Err()
}

// Idempotency maps a client idempotency key to the order it created.
type Idempotency struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewIdempotency(rdb redis.Cmdable) *Idempotency {
	return &Idempotency{rdb: rdb, ttl: TTLIdempotency}
}

// Lookup returns the order number stored under key, or "" if none.
func (i *Idempotency) Lookup(ctx context.Context, key string) (string, error) {
	v, err := i.rdb.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (i *Idempotency) Remember(ctx context.Context, key, orderNumber string) error {
	return i.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, key), orderNumber, i.ttl).Err()
}

// GetJSON decodes a cached value. found=false on a miss.
func GetJSON(ctx context.Context, rdb redis.Cmdable, key string, out any) (bool, error) {
	b, err := rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

func SetJSON(ctx context.Context, rdb redis.Cmdable, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, b, ttl).Err()
}
