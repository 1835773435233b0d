package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisKV stores values under "<prefix>:kv:<key>".
type RedisKV struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisKV(rdb *redis.Client, prefix string) *RedisKV {
	if prefix == "" {
		prefix = "branchchat"
	}
	return &RedisKV{rdb: rdb, prefix: prefix}
}

// Key helpers
func (r *RedisKV) valueKey(key string) string { return fmt.Sprintf("%s:kv:%s", r.prefix, key) }
func (r *RedisKV) pattern() string            { return fmt.Sprintf("%s:kv:*", r.prefix) }

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.rdb.Get(ctx, r.valueKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", key)
	}
	return b, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	if err := r.rdb.Set(ctx, r.valueKey(key), value, 0).Err(); err != nil {
		return errors.Wrapf(err, "could not write %s", key)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.valueKey(key)).Err(); err != nil {
		return errors.Wrapf(err, "could not delete %s", key)
	}
	return nil
}

func (r *RedisKV) Keys(ctx context.Context) ([]string, error) {
	prefix := r.valueKey("")
	ret := []string{}
	iter := r.rdb.Scan(ctx, 0, r.pattern(), 100).Iterator()
	for iter.Next(ctx) {
		ret = append(ret, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "could not scan keys")
	}
	sort.Strings(ret)
	return ret, nil
}

func (r *RedisKV) Close() error {
	return r.rdb.Close()
}

var _ KV = (*RedisKV)(nil)
