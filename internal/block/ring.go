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

import "sync/atomic"

// CompletionRing is the bounded single-producer/single-consumer ring of
// spec.md §4.A and §5: the backend's worker is the sole producer, the
// cache's sync path is the sole consumer. Per the REDESIGN FLAGS, this is a
// lock-free ring with explicit head/tail/count rather than a mutex-guarded
// one — correctness comes from the SPSC discipline (only the producer
// advances tail, only the consumer advances head), with atomics providing
// the cross-goroutine visibility Go's memory model requires.
type CompletionRing struct {
	slots []*Job
	head  atomic.Uint64 // advanced only by the consumer
	tail  atomic.Uint64 // advanced only by the producer
	wake  chan struct{} // non-blocking signal that the ring went non-empty
}

// NewCompletionRing allocates a ring of the given queue depth Q.
func NewCompletionRing(depth int) *CompletionRing {
	return &CompletionRing{
		slots: make([]*Job, depth),
		wake:  make(chan struct{}, 1),
	}
}

// Depth returns the ring's fixed capacity.
func (r *CompletionRing) Depth() int {
	return len(r.slots)
}

// Len returns the current occupancy. Safe to call from either side.
func (r *CompletionRing) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Full reports whether the ring has no free slot for the producer.
func (r *CompletionRing) Full() bool {
	return r.Len() == len(r.slots)
}

// Push deposits a completed job. Caller (the backend's single producer)
// must not call Push when Full(); the cache's poll loop is expected to
// drain faster than the queue depth fills, per spec.md's "bounded queue
// depth Q" sizing.
func (r *CompletionRing) Push(job *Job) bool {
	if r.Full() {
		return false
	}
	idx := r.tail.Load() % uint64(len(r.slots))
	r.slots[idx] = job
	r.tail.Add(1)

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// PopAll drains every completed job currently in the ring without
// blocking. It is the primitive aio_complete's poll loop uses once woken.
func (r *CompletionRing) PopAll() []*Job {
	n := r.Len()
	if n == 0 {
		return nil
	}
	out := make([]*Job, 0, n)
	head := r.head.Load()
	for i := 0; i < n; i++ {
		idx := head % uint64(len(r.slots))
		out = append(out, r.slots[idx])
		r.slots[idx] = nil
		head++
	}
	r.head.Store(head)
	return out
}

// WakeChan exposes the non-empty signal so aio_complete can select on it
// alongside a bounded timeout.
func (r *CompletionRing) WakeChan() <-chan struct{} {
	return r.wake
}
