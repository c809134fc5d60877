/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package objectstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/objgate/internal/credential"
	"github.com/friendsincode/objgate/internal/failure"
)

// Memory is a process-local stand-in for the remote service, used for local
// development and tests. Buckets are created on first Put.
type Memory struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
	logger  zerolog.Logger
}

// NewMemory creates an empty in-memory store.
func NewMemory(logger zerolog.Logger) *Memory {
	return &Memory{
		buckets: make(map[string]map[string][]byte),
		logger:  logger.With().Str("component", "objectstore").Str("backend", "memory").Logger(),
	}
}

// Put stores the full contents of src under key, replacing any prior object.
func (m *Memory) Put(ctx context.Context, _ credential.Credentials, bucket, key string, src Source) error {
	if err := ctx.Err(); err != nil {
		return failure.Transport(OpPut, err)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return failure.Transport(OpPut, err)
	}

	m.mu.Lock()
	objects, ok := m.buckets[bucket]
	if !ok {
		objects = make(map[string][]byte)
		m.buckets[bucket] = objects
	}
	objects[key] = data
	m.mu.Unlock()

	m.logger.Debug().Str("bucket", bucket).Str("key", key).Int("bytes", len(data)).Msg("object put")
	return nil
}

// Get returns a reader over a copy of the stored bytes.
func (m *Memory) Get(ctx context.Context, _ credential.Credentials, bucket, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, failure.Transport(OpGet, err)
	}

	m.mu.RLock()
	data, ok := m.buckets[bucket][key]
	m.mu.RUnlock()
	if !ok {
		return nil, failure.Remote(OpGet, "NoSuchKey", "The specified key does not exist.", nil)
	}

	body := bytes.Clone(data)
	return &Object{Body: io.NopCloser(bytes.NewReader(body)), Size: int64(len(body))}, nil
}

// List returns all keys of bucket in lexicographic order, as S3 does.
func (m *Memory) List(ctx context.Context, _ credential.Credentials, bucket string) (Listing, error) {
	if err := ctx.Err(); err != nil {
		return Listing{}, failure.Transport(OpList, err)
	}

	m.mu.RLock()
	keys := make([]string, 0, len(m.buckets[bucket]))
	for k := range m.buckets[bucket] {
		keys = append(keys, k)
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	return Listing{Keys: keys}, nil
}
