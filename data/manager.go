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

package data

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-optimize/panel"
)

// Manager provides cached access to return panels. Loaded panels are kept
// in an LRU keyed by date range; callers must treat returned panels as
// read-only.
type Manager struct {
	cache *lru.Cache
}

// NewManager creates a manager whose cache holds up to size panels
func NewManager(size int) *Manager {
	if size <= 0 {
		size = 16
	}

	cache, err := lru.New(size)
	if err != nil {
		log.Panic().Err(err).Msg("could not create LRU cache")
	}

	return &Manager{cache: cache}
}

// Panel returns the return panel covering [begin, end], loading it from the
// database on a cache miss
func (m *Manager) Panel(ctx context.Context, begin, end time.Time) (*panel.ReturnPanel, error) {
	key := fmt.Sprintf("%s:%s", begin.Format("2006-01-02"), end.Format("2006-01-02"))
	if cached, ok := m.cache.Get(key); ok {
		return cached.(*panel.ReturnPanel), nil
	}

	p, err := LoadPanel(ctx, begin, end)
	if err != nil {
		return nil, err
	}

	m.cache.Add(key, p)
	return p, nil
}
