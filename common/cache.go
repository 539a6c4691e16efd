// Copyright 2021-2023
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
	"errors"
	"io"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pierrec/lz4/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var (
	ErrCacheMiss = errors.New("key not found in cache")
)

var ctx = context.Background()
var rdb *redis.Client
var cache *lru.Cache

// SetupCache initializes the in-process LRU and, when configured, a redis
// client used as a second cache tier shared across instances.
func SetupCache() {
	var err error
	if viper.GetBool("cache.redis") {
		opt, err := redis.ParseURL(viper.GetString("cache.redis_url"))
		if err != nil {
			log.Fatal().Err(err).Msg("could not parse redis URL")
		}

		rdb = redis.NewClient(opt)
	}

	localSize := viper.GetInt("cache.local_size")
	if localSize <= 0 {
		localSize = 128
	}

	cache, err = lru.New(localSize)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create LRU cache")
	}
}

// CacheSet stores an lz4-compressed copy of bytes under key in every
// configured cache tier.
func CacheSet(key string, raw []byte) error {
	compressed, err := compress(raw)
	if err != nil {
		return err
	}
	cache.Add(key, compressed)

	if viper.GetBool("cache.redis") {
		expires := time.Duration(viper.GetInt("cache.ttl")) * time.Second
		return rdb.Set(ctx, key, compressed, expires).Err()
	}
	return nil
}

// CacheGet retrieves the value stored under key, checking the local tier
// before redis. Returns ErrCacheMiss when no tier has the key.
func CacheGet(key string) ([]byte, error) {
	if v, ok := cache.Get(key); ok {
		return decompress(v.([]byte))
	}

	if viper.GetBool("cache.redis") {
		expires := time.Duration(viper.GetInt("cache.ttl")) * time.Second
		val, err := rdb.GetEx(ctx, key, expires).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrCacheMiss
			}
			return nil, err
		}
		// promote to the local tier
		cache.Add(key, val)
		return decompress(val)
	}

	return nil, ErrCacheMiss
}

func compress(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(in); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(in []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(in))
	return io.ReadAll(zr)
}
