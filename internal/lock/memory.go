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
	"sync"
	"time"
)

// Memory is an in-process Lock used by tests.
type Memory struct {
	mu      sync.Mutex
	holders map[string]memoryEntry
}

type memoryEntry struct {
	holder   string
	expires  time.Time
}

func NewMemory() *Memory {
	return &Memory{holders: map[string]memoryEntry{}}
}

func (m *Memory) Acquire(ctx context.Context, key, holder string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.holders[key]; ok && time.Now().Before(entry.expires) {
		return ErrAlreadyLocked
	}
	m.holders[key] = memoryEntry{holder: holder, expires: time.Now().Add(ttl)}
	return nil
}

func (m *Memory) Release(ctx context.Context, key, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.holders[key]; ok && entry.holder == holder {
		delete(m.holders, key)
	}
	return nil
}
