package ledgerann

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/s9swata/ledgerann/hnsw"
	"github.com/s9swata/ledgerann/store/cachedstore"
	"github.com/s9swata/ledgerann/store/memorystore"
	"github.com/s9swata/ledgerann/testutil"
)

type document struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
}

func newTestIndex(t *testing.T, optFns ...Option) *Index[document] {
	t.Helper()

	seed := int64(42)
	base := WithEngineOptions(func(o *hnsw.Options) {
		o.RandomSeed = &seed
	})
	idx, err := New[document](memorystore.New(), append([]Option{base}, optFns...)...)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	return idx
}

func TestInsertSearchGet(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	id, err := idx.Insert(ctx, VectorWithData[document]{
		Vector: []float32{1, 0, 0},
		Data:   document{Title: "first", Year: 2024},
	})
	assert.NoError(t, err)

	_, err = idx.Insert(ctx, VectorWithData[document]{
		Vector: []float32{0, 1, 0},
		Data:   document{Title: "second", Year: 2025},
	})
	assert.NoError(t, err)

	results, err := idx.Search(ctx, []float32{0.9, 0.1, 0}, 1)
	assert.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
	assert.Equal(t, "first", results[0].Data.Title)

	item, err := idx.Get(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, item.Vector)
	assert.Equal(t, document{Title: "first", Year: 2024}, item.Data)

	// Idempotent read.
	again, err := idx.Get(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, item, again)
}

func TestGetNotFound(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	_, err := idx.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchEmptyIndex(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	_, err := idx.Search(ctx, []float32{1, 0}, 5)
	assert.ErrorIs(t, err, ErrEmptyIndex)
}

func TestErrorTranslation(t *testing.T) {
	ctx := context.Background()

	_, err := New[document](memorystore.New(), WithEngineOptions(func(o *hnsw.Options) {
		o.M = 0
	}))
	var ic *ErrInvalidConfiguration
	assert.ErrorAs(t, err, &ic)

	idx := newTestIndex(t)
	_, err = idx.Insert(ctx, VectorWithData[document]{Vector: []float32{1, 2, 3}})
	assert.NoError(t, err)

	_, err = idx.Insert(ctx, VectorWithData[document]{Vector: []float32{1, 2}})
	var dm *ErrDimensionMismatch
	assert.ErrorAs(t, err, &dm)
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 2, dm.Actual)
}

func TestBatchInsert(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	items := []VectorWithData[document]{
		{Vector: []float32{1, 0}, Data: document{Title: "a"}},
		{Vector: []float32{0, 1}, Data: document{Title: "b"}},
		{Vector: []float32{1, 0, 0}, Data: document{Title: "bad dim"}},
	}

	results := idx.BatchInsert(ctx, items)
	assert.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)

	var dm *ErrDimensionMismatch
	assert.ErrorAs(t, results[2].Err, &dm)

	stats, err := idx.Stats(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, WithEngineOptions(func(o *hnsw.Options) {
		o.M = 8
		o.EFConstruction = 100
		o.EFSearch = 25
		o.Heuristic = true
	}))

	stats, err := idx.Stats(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, stats.Count)
	assert.Equal(t, 0, stats.Dimension)
	assert.Equal(t, -1, stats.TopLayer)
	assert.Equal(t, 8, stats.M)
	assert.Equal(t, 100, stats.EFConstruction)
	assert.Equal(t, 25, stats.EFSearch)
	assert.True(t, stats.Heuristic)

	_, err = idx.Insert(ctx, VectorWithData[document]{Vector: []float32{1, 0}})
	assert.NoError(t, err)

	stats, err = idx.Stats(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 2, stats.Dimension)
	assert.GreaterOrEqual(t, stats.TopLayer, 0)
}

func TestBruteSearch(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	rng := testutil.NewRNG(5)
	vectors := rng.UnitVectors(50, 4)
	for i, vec := range vectors {
		_, err := idx.Insert(ctx, VectorWithData[document]{Vector: vec, Data: document{Year: i}})
		assert.NoError(t, err)
	}

	q := rng.UnitVector(4)

	exact, err := idx.BruteSearch(ctx, q, 5)
	assert.NoError(t, err)
	assert.Len(t, exact, 5)

	want := testutil.BruteForceSearch(vectors, q, 5)
	for i := range want {
		assert.Equal(t, want[i].ID, exact[i].ID)
		assert.Equal(t, int(want[i].ID), exact[i].Data.Year)
	}
}

func TestMetricsCollected(t *testing.T) {
	ctx := context.Background()
	collector := &BasicMetricsCollector{}
	idx := newTestIndex(t, WithMetricsCollector(collector))

	_, err := idx.Insert(ctx, VectorWithData[document]{Vector: []float32{1, 0}})
	assert.NoError(t, err)

	_, err = idx.Search(ctx, []float32{1, 0}, 1)
	assert.NoError(t, err)

	_, err = idx.Search(ctx, []float32{1}, 1)
	assert.Error(t, err)

	stats := collector.GetStats()
	assert.Equal(t, int64(1), stats.InsertCount)
	assert.Equal(t, int64(0), stats.InsertErrors)
	assert.Equal(t, int64(2), stats.SearchCount)
	assert.Equal(t, int64(1), stats.SearchErrors)
}

func TestBasicMetricsBatchDuration(t *testing.T) {
	c := &BasicMetricsCollector{}
	c.RecordBatchInsert(4, 1, 2*time.Second)
	c.RecordBatchInsert(2, 0, 4*time.Second)

	stats := c.GetStats()
	assert.Equal(t, int64(2), stats.BatchInsertCount)
	assert.Equal(t, int64(6), stats.BatchInsertItems)
	assert.Equal(t, int64(1), stats.BatchInsertFailed)
	assert.Equal(t, (3 * time.Second).Nanoseconds(), stats.BatchInsertAvgNanos)
}

func TestWithCachedStore(t *testing.T) {
	ctx := context.Background()

	seed := int64(42)
	s := cachedstore.New(memorystore.New())
	idx, err := New[document](s, WithEngineOptions(func(o *hnsw.Options) {
		o.RandomSeed = &seed
	}))
	assert.NoError(t, err)

	rng := testutil.NewRNG(6)
	for _, vec := range rng.UnitVectors(50, 4) {
		_, err := idx.Insert(ctx, VectorWithData[document]{Vector: vec})
		assert.NoError(t, err)
	}

	results, err := idx.Search(ctx, rng.UnitVector(4), 5)
	assert.NoError(t, err)
	assert.Len(t, results, 5)

	hits, _ := s.CacheStats()
	assert.Greater(t, hits, int64(0))
}
