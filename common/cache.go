// Copyright 2021-2022
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pierrec/lz4/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/zeebo/blake3"
)

// Cache stores raw response bodies keyed by an opaque string. Implementations
// decide how long entries live; a miss is reported with ok == false.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte)
}

type cacheEntry struct {
	val     []byte
	expires time.Time
}

// TieredCache keeps lz4 compressed values in a local LRU and, when configured,
// mirrors them to redis so several processes share one quote cache.
type TieredCache struct {
	local *lru.Cache
	rdb   *redis.Client
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
}

// NewTieredCache creates a cache holding at most size entries locally. A ttl of 0
// disables expiry. rdb may be nil.
func NewTieredCache(size int, ttl time.Duration, rdb *redis.Client) (*TieredCache, error) {
	if size <= 0 {
		size = 1024
	}
	local, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &TieredCache{
		local: local,
		rdb:   rdb,
		ttl:   ttl,
		now:   time.Now,
	}, nil
}

// NewCacheFromConfig builds the quote cache from the cache.* viper keys
func NewCacheFromConfig() (*TieredCache, error) {
	var rdb *redis.Client
	if viper.GetBool("cache.redis") {
		opt, err := redis.ParseURL(viper.GetString("cache.redis_url"))
		if err != nil {
			log.Error().Err(err).Msg("could not parse redis URL")
			return nil, err
		}
		rdb = redis.NewClient(opt)
	}

	return NewTieredCache(viper.GetInt("cache.local_size"), viper.GetDuration("cache.ttl"), rdb)
}

// SetClock overrides the time source used for expiry
func (c *TieredCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *TieredCache) clock() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

// Get returns the cached value for key if it exists and has not expired
func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := c.local.Get(key); ok {
		entry := v.(*cacheEntry)
		if c.ttl == 0 || c.clock().Before(entry.expires) {
			val, err := decompress(entry.val)
			if err == nil {
				return val, true
			}
			log.Warn().Err(err).Str("Key", key).Msg("could not decompress cached value")
		}
		c.local.Remove(key)
	}

	if c.rdb == nil {
		return nil, false
	}

	compressed, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("Key", key).Msg("redis get failed")
		}
		return nil, false
	}

	val, err := decompress(compressed)
	if err != nil {
		log.Warn().Err(err).Str("Key", key).Msg("could not decompress redis value")
		return nil, false
	}

	c.local.Add(key, &cacheEntry{val: compressed, expires: c.clock().Add(c.ttl)})
	return val, true
}

// Set stores val under key
func (c *TieredCache) Set(ctx context.Context, key string, val []byte) {
	compressed, err := compress(val)
	if err != nil {
		log.Warn().Err(err).Str("Key", key).Msg("could not compress value; not caching")
		return
	}

	c.local.Add(key, &cacheEntry{val: compressed, expires: c.clock().Add(c.ttl)})

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, compressed, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("Key", key).Msg("redis set failed")
		}
	}
}

// Len returns the number of locally cached entries
func (c *TieredCache) Len() int {
	return c.local.Len()
}

// CacheKey returns a fixed length key derived from the given parts
func CacheKey(parts ...string) string {
	h := blake3.New()
	for _, part := range parts {
		if _, err := h.Write([]byte(part)); err != nil {
			log.Error().Stack().Err(err).Msg("could not write key part to blake3 hasher")
		}
		// separator so ("ab","c") and ("a","bc") differ
		if _, err := h.Write([]byte{0}); err != nil {
			log.Error().Stack().Err(err).Msg("could not write separator to blake3 hasher")
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func compress(in []byte) ([]byte, error) {
	w := &bytes.Buffer{}
	zw := lz4.NewWriter(w)
	if _, err := io.Copy(zw, bytes.NewReader(in)); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func decompress(in []byte) ([]byte, error) {
	w := &bytes.Buffer{}
	zr := lz4.NewReader(bytes.NewReader(in))
	if _, err := io.Copy(w, zr); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
