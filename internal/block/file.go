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
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nvfuse/nvfuse/internal/nverr"
)

// FileBackend is the {file-backed} backend of spec.md §6: a regular file
// standing in for a block device. Reads and writes use pread(2)/pwrite(2)
// via golang.org/x/sys/unix so concurrent worker goroutines never need to
// share a single file offset.
type FileBackend struct {
	path        string
	clusterSize int
	sizeBytes   int64

	f     *os.File
	fd    int
	async *workerAsync
}

// NewFileBackend returns a backend over path. Nothing is opened until
// Open, which creates the file if absent and extends it to at least
// sizeBytes.
func NewFileBackend(path string, clusterSize int, sizeBytes int64) *FileBackend {
	return &FileBackend{
		path:        path,
		clusterSize: clusterSize,
		sizeBytes:   sizeBytes,
	}
}

func (b *FileBackend) Open(ctx context.Context) error {
	f, err := os.OpenFile(b.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nverr.IoError.Withf(err, "open %s", b.path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nverr.IoError.Withf(err, "stat %s", b.path)
	}
	if info.Size() < b.sizeBytes {
		if err := f.Truncate(b.sizeBytes); err != nil {
			f.Close()
			return nverr.IoError.Withf(err, "truncate %s to %d", b.path, b.sizeBytes)
		}
	} else {
		b.sizeBytes = info.Size()
	}
	b.f = f
	b.fd = int(f.Fd())
	return nil
}

func (b *FileBackend) Close() error {
	if b.f == nil {
		return nil
	}
	return b.f.Close()
}

func (b *FileBackend) Flush(ctx context.Context) error {
	if err := unix.Fsync(b.fd); err != nil {
		return nverr.IoError.Withf(err, "fsync %s", b.path)
	}
	return nil
}

func (b *FileBackend) ClusterSize() int { return b.clusterSize }

func (b *FileBackend) TotalClusters() uint64 {
	return uint64(b.sizeBytes / int64(b.clusterSize))
}

func (b *FileBackend) offset(physCluster uint64, buf []byte) (int64, error) {
	if len(buf)%b.clusterSize != 0 {
		return 0, nverr.Invalid.Withf(nil, "buffer length %d is not a multiple of cluster size %d", len(buf), b.clusterSize)
	}
	start := int64(physCluster) * int64(b.clusterSize)
	if start+int64(len(buf)) > b.sizeBytes {
		return 0, nverr.Invalid.Withf(nil, "access at cluster %d exceeds device size", physCluster)
	}
	return start, nil
}

func (b *FileBackend) ReadClusters(ctx context.Context, physCluster uint64, buf []byte) error {
	off, err := b.offset(physCluster, buf)
	if err != nil {
		return err
	}
	n, err := unix.Pread(b.fd, buf, off)
	if err != nil {
		return nverr.IoError.Withf(err, "pread at %d", off)
	}
	if n != len(buf) {
		return nverr.IoError.Withf(io.ErrShortBuffer, "short read at %d: got %d want %d", off, n, len(buf))
	}
	return nil
}

func (b *FileBackend) WriteClusters(ctx context.Context, physCluster uint64, buf []byte) error {
	off, err := b.offset(physCluster, buf)
	if err != nil {
		return err
	}
	n, err := unix.Pwrite(b.fd, buf, off)
	if err != nil {
		return nverr.IoError.Withf(err, "pwrite at %d", off)
	}
	if n != len(buf) {
		return nverr.IoError.Withf(io.ErrShortWrite, "short write at %d: wrote %d want %d", off, n, len(buf))
	}
	return nil
}

func (b *FileBackend) AIOInit(ctx context.Context, queueDepth int) error {
	b.async = newWorkerAsync(b, queueDepth, 8)
	return nil
}

func (b *FileBackend) AIOCleanup() error {
	if b.async == nil {
		return nil
	}
	return b.async.cleanup()
}

func (b *FileBackend) Submit(ctx context.Context, jobs []*Job) (int, error) {
	return b.async.submit(ctx, jobs)
}

func (b *FileBackend) Complete(ctx context.Context, timeout time.Duration) ([]*Job, error) {
	return b.async.complete(ctx, timeout)
}

func (b *FileBackend) Cancel(job *Job) error {
	return b.async.cancelJob(job)
}

var _ AsyncBackend = (*FileBackend)(nil)
