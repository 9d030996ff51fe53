package snapshot

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"

	"github.com/s9swata/ledgerann/blobstore"
	"github.com/s9swata/ledgerann/hnsw"
	"github.com/s9swata/ledgerann/store"
	"github.com/s9swata/ledgerann/store/memorystore"
	"github.com/s9swata/ledgerann/testutil"
)

func buildIndex(t *testing.T, n int) *memorystore.Store {
	t.Helper()

	ctx := context.Background()
	s := memorystore.New()

	seed := int64(42)
	engine, err := hnsw.New(s, func(o *hnsw.Options) {
		o.RandomSeed = &seed
	})
	assert.NoError(t, err)

	rng := testutil.NewRNG(1)
	for i, vec := range rng.UnitVectors(n, 6) {
		var meta []byte
		if i%2 == 0 {
			meta = []byte{byte(i)}
		}
		_, err := engine.Insert(ctx, vec, meta)
		assert.NoError(t, err)
	}
	return s
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := buildIndex(t, 60)
	blobs := blobstore.NewMemoryStore()

	exported, err := Export(ctx, src, blobs, "snap-1")
	assert.NoError(t, err)
	assert.Equal(t, 60, exported)

	dst := memorystore.New()
	imported, err := Import(ctx, blobs, "snap-1", dst)
	assert.NoError(t, err)
	assert.Equal(t, 60, imported)

	// Entry point survives.
	srcEP, ok, err := src.GetEntryPoint(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)
	dstEP, ok, err := dst.GetEntryPoint(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, srcEP, dstEP)

	// Every point: vector, metadata and full adjacency are identical.
	for id := uint64(0); id < 60; id++ {
		srcVec, err := src.GetPoint(ctx, id)
		assert.NoError(t, err)
		dstVec, err := dst.GetPoint(ctx, id)
		assert.NoError(t, err)
		assert.Equal(t, srcVec, dstVec)

		srcMeta, err := src.GetMetadata(ctx, id)
		assert.NoError(t, err)
		dstMeta, err := dst.GetMetadata(ctx, id)
		assert.NoError(t, err)
		assert.Equal(t, srcMeta, dstMeta)

		for layer := 0; layer <= srcEP.TopLayer; layer++ {
			srcAdj, err := src.GetNeighbors(ctx, id, layer)
			assert.NoError(t, err)
			dstAdj, err := dst.GetNeighbors(ctx, id, layer)
			assert.NoError(t, err)
			assert.Equal(t, srcAdj, dstAdj)
		}
	}

	// The restored store answers searches like the original.
	seed := int64(42)
	engine, err := hnsw.New(dst, func(o *hnsw.Options) {
		o.RandomSeed = &seed
	})
	assert.NoError(t, err)

	q := testutil.NewRNG(2).UnitVector(6)
	results, err := engine.KNNSearch(ctx, q, 5)
	assert.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestSnapshotPreservesLayerMembership(t *testing.T) {
	ctx := context.Background()
	src := buildIndex(t, 60)
	blobs := blobstore.NewMemoryStore()

	_, err := Export(ctx, src, blobs, "snap")
	assert.NoError(t, err)

	dst := memorystore.New()
	_, err = Import(ctx, blobs, "snap", dst)
	assert.NoError(t, err)

	assert.Equal(t, src.MaxLayer(), dst.MaxLayer())
	for layer := 0; layer <= src.MaxLayer(); layer++ {
		assert.True(t, src.LayerMembers(layer).Equals(dst.LayerMembers(layer)), "layer %d", layer)
	}

	// The entry point is present at every layer up to its top, even where
	// its adjacency rows are empty.
	ep, ok, err := dst.GetEntryPoint(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)
	for layer := 0; layer <= ep.TopLayer; layer++ {
		assert.True(t, dst.LayerMembers(layer).Contains(ep.ID), "layer %d", layer)
	}
}

func TestExportEmptyStore(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	exported, err := Export(ctx, memorystore.New(), blobs, "empty")
	assert.NoError(t, err)
	assert.Equal(t, 0, exported)

	dst := memorystore.New()
	imported, err := Import(ctx, blobs, "empty", dst)
	assert.NoError(t, err)
	assert.Equal(t, 0, imported)

	_, ok, err := dst.GetEntryPoint(ctx)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestImportIntoNonEmptyStore(t *testing.T) {
	ctx := context.Background()
	src := buildIndex(t, 10)
	blobs := blobstore.NewMemoryStore()

	_, err := Export(ctx, src, blobs, "snap")
	assert.NoError(t, err)

	dst := memorystore.New()
	_, err = dst.AllocatePoint(ctx, []float32{1})
	assert.NoError(t, err)

	_, err = Import(ctx, blobs, "snap", dst)
	assert.ErrorIs(t, err, ErrTargetNotEmpty)
}

func TestImportMissingBlob(t *testing.T) {
	ctx := context.Background()

	_, err := Import(ctx, blobstore.NewMemoryStore(), "nope", memorystore.New())
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestImportCorruptBlob(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	w, err := blobs.Create(ctx, "bad")
	assert.NoError(t, err)
	_, err = w.Write([]byte("definitely not a snapshot"))
	assert.NoError(t, err)
	assert.NoError(t, w.Close())

	_, err = Import(ctx, blobs, "bad", memorystore.New())
	assert.ErrorIs(t, err, ErrCorrupt)
}

// writeSnapshotBlob frames raw record bytes the way Export does.
func writeSnapshotBlob(t *testing.T, blobs blobstore.BlobStore, name string, payload []byte) {
	t.Helper()

	ctx := context.Background()
	w, err := blobs.Create(ctx, name)
	assert.NoError(t, err)
	_, err = w.Write(magic)
	assert.NoError(t, err)

	zw, err := zstd.NewWriter(w)
	assert.NoError(t, err)
	_, err = zw.Write(payload)
	assert.NoError(t, err)
	assert.NoError(t, zw.Close())
	assert.NoError(t, w.Close())
}

func TestImportRejectsOversizedLengths(t *testing.T) {
	ctx := context.Background()

	u32 := func(buf *bytes.Buffer, v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	u64 := func(buf *bytes.Buffer, v uint64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		buf.Write(b[:])
	}

	t.Run("metadata length", func(t *testing.T) {
		var buf bytes.Buffer
		u64(&buf, 1)     // count
		buf.WriteByte(0) // no entry point
		u64(&buf, 0)     // id
		u32(&buf, 1)     // vector length
		u32(&buf, math.Float32bits(1))
		u32(&buf, math.MaxUint32-1) // absurd metadata length

		blobs := blobstore.NewMemoryStore()
		writeSnapshotBlob(t, blobs, "bad", buf.Bytes())

		_, err := Import(ctx, blobs, "bad", memorystore.New())
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("neighbor count", func(t *testing.T) {
		var buf bytes.Buffer
		u64(&buf, 1)
		buf.WriteByte(0)
		u64(&buf, 0)
		u32(&buf, 1)
		u32(&buf, math.Float32bits(1))
		u32(&buf, noMetadata)
		u32(&buf, 1)                // one layer record
		u32(&buf, 0)                // layer 0
		u32(&buf, math.MaxUint32-1) // absurd neighbor count

		blobs := blobstore.NewMemoryStore()
		writeSnapshotBlob(t, blobs, "bad", buf.Bytes())

		_, err := Import(ctx, blobs, "bad", memorystore.New())
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestSnapshotPreservesEmptyMetadata(t *testing.T) {
	ctx := context.Background()
	s := memorystore.New()

	id, err := s.AllocatePoint(ctx, []float32{1, 2})
	assert.NoError(t, err)
	assert.NoError(t, s.SetMetadata(ctx, id, []byte{}))
	assert.NoError(t, s.SetNeighbors(ctx, id, 0, store.Neighbors{}))
	assert.NoError(t, s.SetEntryPoint(ctx, store.EntryPoint{ID: id, TopLayer: 0}))

	blobs := blobstore.NewMemoryStore()
	_, err = Export(ctx, s, blobs, "snap")
	assert.NoError(t, err)

	dst := memorystore.New()
	_, err = Import(ctx, blobs, "snap", dst)
	assert.NoError(t, err)

	meta, err := dst.GetMetadata(ctx, id)
	assert.NoError(t, err)
	assert.NotNil(t, meta)
	assert.Empty(t, meta)
}
