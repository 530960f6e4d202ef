// Copyright 2024 Google LLC
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

// Package metrics instruments the filesystem with OpenTelemetry counters
// and histograms, exported through a Prometheus registry the way the
// teacher repository wires its fs/gcs/file-cache meters. Here the meters
// cover the namespace-operation path, the block backend, the buffer cache,
// and the async I/O queue (spec.md §4 B/D/G, §9 observability surface).
package metrics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// OpKey annotates the namespace operation processed (open, read, write...).
	OpKey = "op"

	// ErrCategoryKey groups errors returned by a namespace operation.
	ErrCategoryKey = "error_category"

	// BackendKey annotates the block backend kind serving an I/O.
	BackendKey = "backend"

	// CacheHitKey annotates a cache lookup with true or false.
	CacheHitKey = "cache_hit"
)

var (
	nsOpsMeter  = otel.Meter("nvfs_op")
	blockMeter  = otel.Meter("block")
	cacheMeter  = otel.Meter("cache")
	asyncMeter  = otel.Meter("async")

	opAttributeSet,
	opErrorAttributeSet,
	backendAttributeSet,
	cacheHitAttributeSet sync.Map
)

// OpErrorCategory pairs the failing operation with the error bucket it fell
// into, matching nverr's taxonomy (spec.md §7).
type OpErrorCategory struct {
	Op       string
	Category string
}

func loadOrStoreAttributeOption[K comparable](mp *sync.Map, key K, gen func() attribute.Set) metric.MeasurementOption {
	v, ok := mp.Load(key)
	if ok {
		return v.(metric.MeasurementOption)
	}
	stored, _ := mp.LoadOrStore(key, metric.WithAttributeSet(gen()))
	return stored.(metric.MeasurementOption)
}

func getOpAttributeSet(op string) metric.MeasurementOption {
	return loadOrStoreAttributeOption(&opAttributeSet, op, func() attribute.Set {
		return attribute.NewSet(attribute.String(OpKey, op))
	})
}

func getOpErrorAttributeSet(attr OpErrorCategory) metric.MeasurementOption {
	return loadOrStoreAttributeOption(&opErrorAttributeSet, attr, func() attribute.Set {
		return attribute.NewSet(attribute.String(OpKey, attr.Op), attribute.String(ErrCategoryKey, attr.Category))
	})
}

func getBackendAttributeSet(backend string) metric.MeasurementOption {
	return loadOrStoreAttributeOption(&backendAttributeSet, backend, func() attribute.Set {
		return attribute.NewSet(attribute.String(BackendKey, backend))
	})
}

func getCacheHitAttributeSet(hit bool) metric.MeasurementOption {
	key := "false"
	if hit {
		key = "true"
	}
	return loadOrStoreAttributeOption(&cacheHitAttributeSet, key, func() attribute.Set {
		return attribute.NewSet(attribute.Bool(CacheHitKey, hit))
	})
}

var defaultLatencyDistribution = metric.WithExplicitBucketBoundaries(
	1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100, 130, 160,
	200, 250, 300, 400, 500, 650, 800, 1000, 2000, 5000, 10000, 20000, 50000, 100000)

// NamespaceHandle records namespace-operation counters and latencies.
type NamespaceHandle interface {
	OpsCount(ctx context.Context, inc int64, op string)
	OpsLatency(ctx context.Context, latency time.Duration, op string)
	OpsErrorCount(ctx context.Context, inc int64, attrs OpErrorCategory)
}

// BlockHandle records block backend I/O traffic (spec.md §4.A).
type BlockHandle interface {
	IOCount(ctx context.Context, inc int64, backend string)
	IOBytesCount(ctx context.Context, inc int64, backend string)
	IOLatency(ctx context.Context, latency time.Duration, backend string)
}

// CacheHandle records buffer cache lookups and write-back activity
// (spec.md §4.B).
type CacheHandle interface {
	LookupCount(ctx context.Context, inc int64, hit bool)
	DirtyClustersSet(count int64)
	WriteBackCount(ctx context.Context, inc int64)
}

// AsyncHandle records async queue occupancy (spec.md §4.A, §5).
type AsyncHandle interface {
	QueueDepthSet(depth int64)
	SubmitRetryCount(ctx context.Context, inc int64)
}

// Handle bundles every meter group behind one interface, mirroring the
// teacher's MetricHandle composition.
type Handle interface {
	NamespaceHandle
	BlockHandle
	CacheHandle
	AsyncHandle
}

type otelMetrics struct {
	nsOpsCount      metric.Int64Counter
	nsOpsErrorCount metric.Int64Counter
	nsOpsLatency    metric.Float64Histogram

	blockIOCount      metric.Int64Counter
	blockIOBytesCount metric.Int64Counter
	blockIOLatency    metric.Float64Histogram

	cacheLookupCount    metric.Int64Counter
	cacheWriteBackCount metric.Int64Counter
	dirtyClustersAtomic *atomic.Int64

	asyncSubmitRetryCount metric.Int64Counter
	asyncQueueDepthAtomic *atomic.Int64
}

func (o *otelMetrics) OpsCount(ctx context.Context, inc int64, op string) {
	o.nsOpsCount.Add(ctx, inc, getOpAttributeSet(op))
}

func (o *otelMetrics) OpsLatency(ctx context.Context, latency time.Duration, op string) {
	o.nsOpsLatency.Record(ctx, float64(latency.Microseconds()), getOpAttributeSet(op))
}

func (o *otelMetrics) OpsErrorCount(ctx context.Context, inc int64, attrs OpErrorCategory) {
	o.nsOpsErrorCount.Add(ctx, inc, getOpErrorAttributeSet(attrs))
}

func (o *otelMetrics) IOCount(ctx context.Context, inc int64, backend string) {
	o.blockIOCount.Add(ctx, inc, getBackendAttributeSet(backend))
}

func (o *otelMetrics) IOBytesCount(ctx context.Context, inc int64, backend string) {
	o.blockIOBytesCount.Add(ctx, inc, getBackendAttributeSet(backend))
}

func (o *otelMetrics) IOLatency(ctx context.Context, latency time.Duration, backend string) {
	o.blockIOLatency.Record(ctx, float64(latency.Microseconds()), getBackendAttributeSet(backend))
}

func (o *otelMetrics) LookupCount(ctx context.Context, inc int64, hit bool) {
	o.cacheLookupCount.Add(ctx, inc, getCacheHitAttributeSet(hit))
}

func (o *otelMetrics) DirtyClustersSet(count int64) {
	o.dirtyClustersAtomic.Store(count)
}

func (o *otelMetrics) WriteBackCount(ctx context.Context, inc int64) {
	o.cacheWriteBackCount.Add(ctx, inc)
}

func (o *otelMetrics) QueueDepthSet(depth int64) {
	o.asyncQueueDepthAtomic.Store(depth)
}

func (o *otelMetrics) SubmitRetryCount(ctx context.Context, inc int64) {
	o.asyncSubmitRetryCount.Add(ctx, inc)
}

// NewOTelMetrics builds every instrument declared above against the global
// MeterProvider installed by Init.
func NewOTelMetrics() (Handle, error) {
	nsOpsCount, err1 := nsOpsMeter.Int64Counter("nvfs/ops_count", metric.WithDescription("Cumulative namespace operations processed."))
	nsOpsLatency, err2 := nsOpsMeter.Float64Histogram("nvfs/ops_latency", metric.WithDescription("Namespace operation latency distribution."), metric.WithUnit("us"), defaultLatencyDistribution)
	nsOpsErrorCount, err3 := nsOpsMeter.Int64Counter("nvfs/ops_error_count", metric.WithDescription("Cumulative namespace operation errors by category."))

	blockIOCount, err4 := blockMeter.Int64Counter("block/io_count", metric.WithDescription("Cumulative block I/O requests submitted."))
	blockIOBytesCount, err5 := blockMeter.Int64Counter("block/io_bytes_count", metric.WithDescription("Cumulative bytes transferred through the block backend."), metric.WithUnit("By"))
	blockIOLatency, err6 := blockMeter.Float64Histogram("block/io_latency", metric.WithDescription("Submit-to-completion latency distribution."), metric.WithUnit("us"), defaultLatencyDistribution)

	cacheLookupCount, err7 := cacheMeter.Int64Counter("cache/lookup_count", metric.WithDescription("Cumulative buffer cache lookups by hit/miss."))
	cacheWriteBackCount, err8 := cacheMeter.Int64Counter("cache/write_back_count", metric.WithDescription("Cumulative dirty buffers written back."))

	var dirtyClustersAtomic atomic.Int64
	_, err9 := cacheMeter.Int64ObservableGauge("cache/dirty_clusters", metric.WithDescription("Current number of dirty clusters held in the pool."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(dirtyClustersAtomic.Load())
			return nil
		}))

	asyncSubmitRetryCount, err10 := asyncMeter.Int64Counter("async/submit_retry_count", metric.WithDescription("Cumulative aio_submit retries."))

	var asyncQueueDepthAtomic atomic.Int64
	_, err11 := asyncMeter.Int64ObservableGauge("async/queue_depth", metric.WithDescription("Current occupancy of the completion ring."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(asyncQueueDepthAtomic.Load())
			return nil
		}))

	if err := errors.Join(err1, err2, err3, err4, err5, err6, err7, err8, err9, err10, err11); err != nil {
		return nil, err
	}

	return &otelMetrics{
		nsOpsCount:            nsOpsCount,
		nsOpsErrorCount:       nsOpsErrorCount,
		nsOpsLatency:          nsOpsLatency,
		blockIOCount:          blockIOCount,
		blockIOBytesCount:     blockIOBytesCount,
		blockIOLatency:        blockIOLatency,
		cacheLookupCount:      cacheLookupCount,
		cacheWriteBackCount:   cacheWriteBackCount,
		dirtyClustersAtomic:   &dirtyClustersAtomic,
		asyncSubmitRetryCount: asyncSubmitRetryCount,
		asyncQueueDepthAtomic: &asyncQueueDepthAtomic,
	}, nil
}
