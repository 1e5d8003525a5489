/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes key only if its value still matches holder,
// preventing a late release from dropping a lock a different holder has
// since acquired after this holder's TTL expired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Redis is the production Lock backed by SET NX PX semantics.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Acquire(ctx context.Context, key, holder string, ttl time.Duration) error {
	ok, err := r.client.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return fmt.Errorf("lock: redis setnx %s: %w", key, err)
	}
	if !ok {
		return ErrAlreadyLocked
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, key, holder string) error {
	_, err := releaseScript.Run(ctx, r.client, []string{key}, holder).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("lock: redis release %s: %w", key, err)
	}
	return nil
}
