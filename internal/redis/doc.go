// Package redis holds the Redis client setup and the session store that maps
// opaque tokens to user ids with a TTL.
package redis
