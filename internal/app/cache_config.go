package app

import (
	"strings"

	"github.com/charlesng35/robotdesk/internal/cache"
)

// RedisClientConfig converts the Redis settings behind rate limiting into the cache package
// representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:   strings.TrimSpace(c.Redis.Address),
		Username:  strings.TrimSpace(c.Redis.Username),
		Password:  c.Redis.Password,
		DB:        c.Redis.DB,
		TLS:       c.Redis.TLS,
		Timeout:   c.Redis.Timeout,
		KeyPrefix: RedisKeyPrefix(c.Redis.KeyPrefix),
	}
}

// RedisKeyPrefix normalises a configured namespace to the "name:" form used for counter keys.
// Blank values fall back to cache.DefaultKeyPrefix.
func RedisKeyPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		return cache.DefaultKeyPrefix
	}
	return prefix + ":"
}
