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
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nvfuse/nvfuse/internal/nverr"
)

// syncIO is the subset of Backend a workerAsync dispatches onto worker
// goroutines to turn it into an AsyncBackend.
type syncIO interface {
	ReadClusters(ctx context.Context, physCluster uint64, buf []byte) error
	WriteClusters(ctx context.Context, physCluster uint64, buf []byte) error
	ClusterSize() int
}

// workerAsync implements the aio_* surface of spec.md §4.A over an
// arbitrary synchronous Backend by farming jobs out to a small worker
// pool and depositing results on a CompletionRing. This is the shape the
// kernel-AIO and user-space NVMe-uring backends share: real kernel io_uring
// or SPDK bindings would replace the worker pool, but the submit/complete
// contract above it is identical, matching spec.md §9's "encode the
// backend as a capability set behind a single dispatch boundary."
type workerAsync struct {
	io       syncIO
	ring     *CompletionRing
	jobs     chan *Job
	limiter  *rate.Limiter
	group    *errgroup.Group
	cancel   context.CancelFunc
	cancelMu sync.Mutex
	canceled map[*Job]bool
}

func newWorkerAsync(io syncIO, queueDepth, workers int) *workerAsync {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	a := &workerAsync{
		io:       io,
		ring:     NewCompletionRing(queueDepth),
		jobs:     make(chan *Job, queueDepth),
		group:    g,
		cancel:   cancel,
		canceled: make(map[*Job]bool),
	}

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			a.work(ctx)
			return nil
		})
	}
	return a
}

// withRateLimit installs a submit-rate limiter; a zero or negative hz
// leaves submission unthrottled.
func (a *workerAsync) withRateLimit(hz float64) *workerAsync {
	if hz > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(hz), 1)
	}
	return a
}

func (a *workerAsync) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-a.jobs:
			if !ok {
				return
			}
			a.cancelMu.Lock()
			canceled := a.canceled[job]
			a.cancelMu.Unlock()
			if canceled {
				job.Cancelled = true
				a.ring.Push(job)
				continue
			}
			switch job.Direction {
			case Read:
				job.Err = a.io.ReadClusters(ctx, uint64(job.Offset)/uint64(a.io.ClusterSize()), job.Buffer)
			case Write:
				job.Err = a.io.WriteClusters(ctx, uint64(job.Offset)/uint64(a.io.ClusterSize()), job.Buffer)
			}
			a.ring.Push(job)
		}
	}
}

func (a *workerAsync) submit(ctx context.Context, jobs []*Job) (int, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return 0, nverr.IoError.Withf(err, "submit rate limiter")
		}
	}

	accepted := 0
	for _, job := range jobs {
		if len(job.Buffer)%a.io.ClusterSize() != 0 {
			return accepted, nverr.Invalid.Withf(nil, "job buffer length %d not a multiple of cluster size", len(job.Buffer))
		}
		select {
		case a.jobs <- job:
			accepted++
		default:
			return accepted, nil
		}
	}
	return accepted, nil
}

func (a *workerAsync) complete(ctx context.Context, timeout time.Duration) ([]*Job, error) {
	if done := a.ring.PopAll(); done != nil {
		return done, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-a.ring.WakeChan():
		return a.ring.PopAll(), nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *workerAsync) cancelJob(job *Job) error {
	a.cancelMu.Lock()
	a.canceled[job] = true
	a.cancelMu.Unlock()
	return nil
}

func (a *workerAsync) cleanup() error {
	a.cancel()
	close(a.jobs)
	return a.group.Wait()
}
