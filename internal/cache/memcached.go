package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/weather-forecast-app/internal/models"
)

const keyPrefix = "forecast:"

// maxRelativeExp is memcached's limit for relative expirations; larger values are read as Unix times.
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedCache implements Cache using memcached. Values are stored as the forecast API's JSON body.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// cacheKey prefixes the key and replaces characters memcached rejects (spaces, control characters).
func cacheKey(k string) string {
	return keyPrefix + strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, k)
}

func (c *MemcachedCache) Get(ctx context.Context, key string) (models.ForecastResponse, bool, error) {
	if ctx.Err() != nil {
		return models.ForecastResponse{}, false, ctx.Err()
	}
	item, err := c.client.Get(cacheKey(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.ForecastResponse{}, false, nil
		}
		return models.ForecastResponse{}, false, err
	}
	var data models.ForecastResponse
	if err := json.Unmarshal(item.Value, &data); err != nil {
		return models.ForecastResponse{}, false, err
	}
	return data, true, nil
}

func (c *MemcachedCache) Set(ctx context.Context, key string, value models.ForecastResponse, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        cacheKey(key),
		Value:      raw,
		Expiration: expirationSeconds(ttl),
	})
}

// expirationSeconds converts ttl to memcached's relative expiration, falling back to 1h when out of range.
func expirationSeconds(ttl time.Duration) int32 {
	secs := int64(ttl / time.Second)
	if secs <= 0 || secs > maxRelativeExp {
		return 3600
	}
	return int32(secs)
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
