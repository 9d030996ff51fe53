// Package ledgerann provides an approximate nearest neighbor index for Go
// backed by a pluggable key-value store.
//
// Ledgerann implements a Hierarchical Navigable Small World (HNSW) graph
// whose every node, edge and entry point is persisted through the
// store.Store interface. It is built for backing stores where a read or
// write is expensive (a remote ledger, DynamoDB, an object store), so the
// traversal and linking algorithms batch their storage access aggressively.
//
//   - Pluggable storage: in-memory, DynamoDB, or anything implementing store.Store
//   - Read-through LRU caching with request coalescing (store/cachedstore)
//   - Typed payloads: Index[T] serializes your data alongside each vector
//   - Exact brute-force search as ground truth for recall measurement
//   - Snapshot export/import to blob storage (S3, MinIO, local disk)
//
// # Quick Start
//
//	ctx := context.Background()
//	idx, err := ledgerann.New[string](memorystore.New())
//	if err != nil {
//	    panic(err)
//	}
//
//	id, err := idx.Insert(ctx, ledgerann.VectorWithData[string]{
//	    Vector: []float32{0.1, 0.9, 0.3},
//	    Data:   "my document",
//	})
//
//	results, err := idx.Search(ctx, []float32{0.1, 0.8, 0.3}, 10)
//
// # Tuning
//
// Graph shape is controlled through the engine options:
//
//	idx, err := ledgerann.New[string](s, ledgerann.WithEngineOptions(func(o *hnsw.Options) {
//	    o.M = 32
//	    o.EFConstruction = 400
//	    o.EFSearch = 100
//	}))
//
// Higher M and EF values trade storage round trips and write amplification
// for recall.
package ledgerann

import (
	"context"
	"time"

	"github.com/s9swata/ledgerann/codec"
	"github.com/s9swata/ledgerann/hnsw"
	"github.com/s9swata/ledgerann/store"
)

// VectorWithData pairs a vector with its typed payload.
type VectorWithData[T any] struct {
	Vector []float32
	Data   T
}

// SearchResult is one search hit with its decoded payload.
type SearchResult[T any] struct {
	ID       uint64
	Distance float32
	Data     T
}

// BatchResult reports the outcome of one item of a batch insert.
type BatchResult struct {
	ID  uint64
	Err error
}

// Stats is a point-in-time snapshot of the index. TopLayer is the layer of
// the current entry point, or -1 while the index is empty.
type Stats struct {
	Count          int
	Dimension      int
	TopLayer       int
	M              int
	EFConstruction int
	EFSearch       int
	Heuristic      bool
}

// Index is a typed facade over the HNSW engine. It owns payload
// serialization and error normalization; graph work is delegated to the
// engine and all durable state lives in the store.
type Index[T any] struct {
	engine  *hnsw.Engine
	store   store.Store
	codec   codec.Codec
	metrics MetricsCollector
	logger  *Logger
}

// New creates an index over the given store.
func New[T any](s store.Store, optFns ...Option) (*Index[T], error) {
	opts := applyOptions(optFns)

	engine, err := hnsw.New(s, opts.engineOptFns...)
	if err != nil {
		return nil, translateError(err)
	}

	return &Index[T]{
		engine:  engine,
		store:   s,
		codec:   opts.codec,
		metrics: opts.metrics,
		logger:  opts.logger,
	}, nil
}

// Insert adds a vector with its payload and returns the assigned id.
func (idx *Index[T]) Insert(ctx context.Context, item VectorWithData[T]) (uint64, error) {
	start := time.Now()

	id, err := idx.insert(ctx, item)

	idx.metrics.RecordInsert(time.Since(start), err)
	idx.logger.LogInsert(ctx, id, len(item.Vector), err)
	return id, err
}

func (idx *Index[T]) insert(ctx context.Context, item VectorWithData[T]) (uint64, error) {
	metadata, err := idx.codec.Marshal(item.Data)
	if err != nil {
		return 0, translateError(err)
	}

	id, err := idx.engine.Insert(ctx, item.Vector, metadata)
	if err != nil {
		return 0, translateError(err)
	}
	return id, nil
}

// BatchInsert inserts items in order and returns a result per item. A
// failed item does not stop the batch.
func (idx *Index[T]) BatchInsert(ctx context.Context, items []VectorWithData[T]) []BatchResult {
	start := time.Now()

	results := make([]BatchResult, len(items))
	failed := 0
	for i, item := range items {
		id, err := idx.insert(ctx, item)
		results[i] = BatchResult{ID: id, Err: err}
		if err != nil {
			failed++
		}
	}

	idx.metrics.RecordBatchInsert(len(items), failed, time.Since(start))
	idx.logger.LogBatchInsert(ctx, len(items), failed)
	return results
}

// Search returns the k approximate nearest neighbors of q, ascending by
// distance, with payloads decoded.
func (idx *Index[T]) Search(ctx context.Context, q []float32, k int, optFns ...func(o *hnsw.SearchOptions)) ([]SearchResult[T], error) {
	start := time.Now()

	results, err := idx.search(ctx, q, k, optFns...)

	idx.metrics.RecordSearch(k, time.Since(start), err)
	idx.logger.LogSearch(ctx, k, len(results), err)
	return results, err
}

func (idx *Index[T]) search(ctx context.Context, q []float32, k int, optFns ...func(o *hnsw.SearchOptions)) ([]SearchResult[T], error) {
	hits, err := idx.engine.KNNSearch(ctx, q, k, optFns...)
	if err != nil {
		return nil, translateError(err)
	}
	return idx.decodeHits(ctx, hits)
}

// BruteSearch returns the exact k nearest neighbors of q by scanning every
// stored point. Useful as ground truth and for small indexes.
func (idx *Index[T]) BruteSearch(ctx context.Context, q []float32, k int) ([]SearchResult[T], error) {
	hits, err := idx.engine.BruteSearch(ctx, q, k)
	if err != nil {
		return nil, translateError(err)
	}
	return idx.decodeHits(ctx, hits)
}

// Get returns the vector and payload stored under id.
func (idx *Index[T]) Get(ctx context.Context, id uint64) (*VectorWithData[T], error) {
	vector, err := idx.engine.VectorByID(ctx, id)
	if err != nil {
		return nil, translateError(err)
	}

	item := &VectorWithData[T]{Vector: vector}

	metadata, err := idx.engine.MetadataByID(ctx, id)
	if err != nil {
		return nil, translateError(err)
	}
	if metadata != nil {
		if err := idx.codec.Unmarshal(metadata, &item.Data); err != nil {
			return nil, translateError(err)
		}
	}
	return item, nil
}

// Stats returns a snapshot of index size and configuration.
func (idx *Index[T]) Stats(ctx context.Context) (Stats, error) {
	count, err := idx.engine.Count(ctx)
	if err != nil {
		return Stats{}, translateError(err)
	}

	topLayer := -1
	if ep, ok, err := idx.store.GetEntryPoint(ctx); err != nil {
		return Stats{}, translateError(err)
	} else if ok {
		topLayer = ep.TopLayer
	}

	return Stats{
		Count:          count,
		Dimension:      idx.engine.Dimension(),
		TopLayer:       topLayer,
		M:              idx.engine.M(),
		EFConstruction: idx.engine.EFConstruction(),
		EFSearch:       idx.engine.EFSearch(),
		Heuristic:      idx.engine.Heuristic(),
	}, nil
}

func (idx *Index[T]) decodeHits(ctx context.Context, hits []hnsw.Result) ([]SearchResult[T], error) {
	out := make([]SearchResult[T], len(hits))
	for i, hit := range hits {
		out[i] = SearchResult[T]{ID: hit.ID, Distance: hit.Distance}

		metadata, err := idx.engine.MetadataByID(ctx, hit.ID)
		if err != nil {
			return nil, translateError(err)
		}
		if metadata != nil {
			if err := idx.codec.Unmarshal(metadata, &out[i].Data); err != nil {
				return nil, translateError(err)
			}
		}
	}
	return out, nil
}
