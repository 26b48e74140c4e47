package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/memberfox/MemberFox/internal/pkg/env"
	"github.com/redis/go-redis/v9"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// SetupCache initializes the connection to the Redis/Dragonfly cache server
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       0,
	})

	// Test the connection
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Printf("Warning: Could not connect to cache: %v", err)
	} else {
		log.Printf("Successfully connected to cache: %s", pong)
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

const entitlementKeyPrefix = "entitlement:"

// EntitlementTTL bounds how stale a cached entitlement can get. The
// projection itself is already eventually consistent, so a short TTL only
// adds a little more lag on top of an accepted lag.
const EntitlementTTL = 60 * time.Second

// SetEntitlement caches a user's entitlement lookup result.
func SetEntitlement(userID uint, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return GetClient().Set(ctx, entitlementKey(userID), payload, EntitlementTTL).Err()
}

// GetEntitlement loads a cached entitlement into out. Returns false on miss
// or cache unavailability; callers fall through to the projection store.
func GetEntitlement(userID uint, out any) bool {
	raw, err := GetClient().Get(ctx, entitlementKey(userID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("entitlement cache read failed for user %d: %v", userID, err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		log.Printf("entitlement cache decode failed for user %d: %v", userID, err)
		return false
	}
	return true
}

// InvalidateEntitlement drops a user's cached entitlement, e.g. after the
// reconciler rewrites the projection.
func InvalidateEntitlement(userID uint) {
	if err := GetClient().Del(ctx, entitlementKey(userID)).Err(); err != nil {
		log.Printf("entitlement cache invalidation failed for user %d: %v", userID, err)
	}
}

func entitlementKey(userID uint) string {
	return fmt.Sprintf("%s%d", entitlementKeyPrefix, userID)
}
