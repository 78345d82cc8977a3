package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix is the key prefix of Django's cache session backend.
const DefaultRedisKeyPrefix = ":1:django.contrib.sessions.cache"

// RedisResolver reads OMERO.web session documents from redis.
type RedisResolver struct {
	leases
	client *redis.Client
	prefix string
}

// NewRedisResolver connects to redis at a URI like "redis://host:6379/0".
func NewRedisResolver(uri, prefix string) (*RedisResolver, error) {
	opt, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("bad redis session store uri: %v", err)
	}
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	pixbuf.Infof("Using redis session store @ %s\n", opt.Addr)
	return &RedisResolver{client: redis.NewClient(opt), prefix: prefix}, nil
}

func (r *RedisResolver) Resolve(ctx context.Context, key string) (*Lease, error) {
	if key == "" {
		return nil, invalid("no session key")
	}
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, invalid("unknown session key")
	}
	if err != nil {
		return nil, unavailable(err)
	}
	cred, err := parseDocument(data)
	if err != nil {
		return nil, err
	}
	return r.lease(cred), nil
}

func (r *RedisResolver) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisResolver) Close() error {
	return r.client.Close()
}
