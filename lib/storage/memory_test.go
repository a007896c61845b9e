/*
Copyright 2026 Gravitational, Inc.

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

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	key := "sites/a/logs/access.log"
	require.NoError(t, store.Put(ctx, key, []byte("line one\n")))

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "line one\n", string(data))

	ok, err := store.Exists(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	size, err := store.Size(ctx, key)
	require.NoError(t, err)
	require.Equal(t, int64(9), size)
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "missing")
	require.True(t, trace.IsNotFound(err))

	ok, err := store.Exists(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = store.Size(ctx, "missing")
	require.True(t, trace.IsNotFound(err))

	_, err = store.PresignGet(ctx, "missing", time.Hour)
	require.True(t, trace.IsNotFound(err))
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	data := []byte("mutable")
	require.NoError(t, store.Put(ctx, "k", data))
	data[0] = 'X'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "mutable", string(got))
}
