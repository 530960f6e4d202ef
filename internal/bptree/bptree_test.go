// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bptree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a minimal in-memory ClusterStore fake for exercising Tree
// without the cache/allocator machinery the real directory index wires in.
type memStore struct {
	clusterSize int
	clusters    map[uint64][]byte
	next        uint64
}

func newMemStore(clusterSize int) *memStore {
	return &memStore{clusterSize: clusterSize, clusters: make(map[uint64][]byte), next: 1}
}

func (m *memStore) ClusterSize() int { return m.clusterSize }

func (m *memStore) ReadCluster(ctx context.Context, phys uint64) ([]byte, error) {
	buf, ok := m.clusters[phys]
	if !ok {
		return make([]byte, m.clusterSize), nil
	}
	return append([]byte(nil), buf...), nil
}

func (m *memStore) WriteCluster(ctx context.Context, phys uint64, data []byte) error {
	m.clusters[phys] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) AllocateCluster(ctx context.Context) (uint64, error) {
	phys := m.next
	m.next++
	return phys, nil
}

func (m *memStore) FreeCluster(ctx context.Context, phys uint64) error {
	delete(m.clusters, phys)
	return nil
}

func TestInsertLookupRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(128) // tiny cluster size to force splits quickly
	tree := Open(store, 0)

	for i := uint64(0); i < 50; i++ {
		require.NoError(t, tree.Insert(ctx, i*7+1, i*100))
	}

	for i := uint64(0); i < 50; i++ {
		v, ok, err := tree.Lookup(ctx, i*7+1)
		require.NoError(t, err)
		require.True(t, ok, "key %d", i*7+1)
		assert.Equal(t, i*100, v)
	}
}

func TestLookupMissingKey(t *testing.T) {
	ctx := context.Background()
	tree := Open(newMemStore(4096), 0)
	_, ok, err := tree.Lookup(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInsertDuplicateReturnsErrExists(t *testing.T) {
	ctx := context.Background()
	tree := Open(newMemStore(4096), 0)
	require.NoError(t, tree.Insert(ctx, 1, 100))
	err := tree.Insert(ctx, 1, 200)
	assert.ErrorIs(t, err, ErrExists)
}

func TestDeletePresentAndAbsent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(128)
	tree := Open(store, 0)

	for i := uint64(0); i < 30; i++ {
		require.NoError(t, tree.Insert(ctx, i, i))
	}

	ok, err := tree.Delete(ctx, 15)
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, err := tree.Lookup(ctx, 15)
	require.NoError(t, err)
	assert.False(t, found)

	ok, err = tree.Delete(ctx, 999)
	require.NoError(t, err)
	assert.False(t, ok)

	// Every other key survives.
	for i := uint64(0); i < 30; i++ {
		if i == 15 {
			continue
		}
		v, found, err := tree.Lookup(ctx, i)
		require.NoError(t, err)
		require.True(t, found, "key %d", i)
		assert.Equal(t, i, v)
	}
}

func TestClearFreesEveryClusterAndResetsRoot(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(128)
	tree := Open(store, 0)

	for i := uint64(0); i < 50; i++ {
		require.NoError(t, tree.Insert(ctx, i*7+1, i*100))
	}
	require.NotZero(t, tree.root)
	require.NotEmpty(t, store.clusters)

	require.NoError(t, tree.Clear(ctx))
	assert.Zero(t, tree.root)
	assert.Empty(t, store.clusters)

	_, ok, err := tree.Lookup(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearOnEmptyTreeIsNoop(t *testing.T) {
	ctx := context.Background()
	tree := Open(newMemStore(128), 0)
	require.NoError(t, tree.Clear(ctx))
	assert.Zero(t, tree.root)
}
