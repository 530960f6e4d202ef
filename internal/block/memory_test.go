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

package block

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackendReadWriteRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(4096, 1<<20)
	require.NoError(t, b.Open(ctx))
	defer b.Close()

	payload := bytes.Repeat([]byte{0xAB}, 4096)
	require.NoError(t, b.WriteClusters(ctx, 3, payload))

	got := make([]byte, 4096)
	require.NoError(t, b.ReadClusters(ctx, 3, got))
	assert.Equal(t, payload, got)
}

func TestMemoryBackendRejectsOutOfRangeAccess(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(4096, 4096)
	require.NoError(t, b.Open(ctx))
	defer b.Close()

	err := b.ReadClusters(ctx, 5, make([]byte, 4096))
	assert.Error(t, err)
}

func TestMemoryBackendAsyncRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(4096, 1<<20)
	require.NoError(t, b.Open(ctx))
	defer b.Close()
	require.NoError(t, b.AIOInit(ctx, 32))
	defer b.AIOCleanup()

	payload := bytes.Repeat([]byte{0x5A}, 4096)
	job := &Job{Offset: 4096 * 7, Buffer: append([]byte(nil), payload...), Direction: Write}

	accepted, err := b.Submit(ctx, []*Job{job})
	require.NoError(t, err)
	assert.Equal(t, 1, accepted)

	done, err := b.Complete(ctx, time.Second)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.NoError(t, done[0].Err)

	readBack := make([]byte, 4096)
	require.NoError(t, b.ReadClusters(ctx, 7, readBack))
	assert.Equal(t, payload, readBack)
}

func TestCompletionRingBoundedDiscipline(t *testing.T) {
	ring := NewCompletionRing(2)
	assert.False(t, ring.Full())

	assert.True(t, ring.Push(&Job{Tag: 1}))
	assert.True(t, ring.Push(&Job{Tag: 2}))
	assert.True(t, ring.Full())
	assert.False(t, ring.Push(&Job{Tag: 3}))

	done := ring.PopAll()
	require.Len(t, done, 2)
	assert.Equal(t, uint64(1), done[0].Tag)
	assert.Equal(t, uint64(2), done[1].Tag)
	assert.Equal(t, 0, ring.Len())
}
