// Package snapshot exports an index's persisted state to a blob store and
// imports it back.
//
// A snapshot is one zstd-compressed blob holding every point (vector,
// metadata, per-layer adjacency) plus the entry point. Export walks the
// store in dense id order with batched reads; import replays the same
// order into an empty store, which reproduces the original ids because id
// allocation is monotonic from zero.
//
// Snapshots taken while a writer is active are not point-in-time
// consistent. Pause inserts (or snapshot a quiesced replica) first.
package snapshot

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/s9swata/ledgerann/blobstore"
	"github.com/s9swata/ledgerann/store"
)

// magic identifies a snapshot blob; the trailing digits are the format
// version.
var magic = []byte("LASNAP01")

const (
	// batchSize is the number of points read or written per store batch.
	batchSize = 256

	// noMetadata marks a point without metadata in the stream.
	noMetadata = math.MaxUint32

	// Length bounds on decoded allocations against corrupt input.
	maxVectorLen    = 1 << 20
	maxMetadataLen  = 1 << 24
	maxNeighborsLen = 1 << 20
)

// ErrCorrupt is returned when a blob is not a readable snapshot.
var ErrCorrupt = errors.New("snapshot: corrupt or unsupported snapshot")

// ErrTargetNotEmpty is returned when importing into a store that already
// holds points. Import must reproduce ids exactly, which only an empty
// store allows.
var ErrTargetNotEmpty = errors.New("snapshot: target store is not empty")

// Export writes the full state of s into blobs under name.
// Returns the number of exported points.
func Export(ctx context.Context, s store.Store, blobs blobstore.BlobStore, name string) (int, error) {
	count, err := s.PointCount(ctx)
	if err != nil {
		return 0, err
	}
	ep, hasEP, err := s.GetEntryPoint(ctx)
	if err != nil {
		return 0, err
	}

	blob, err := blobs.Create(ctx, name)
	if err != nil {
		return 0, err
	}

	n, err := export(ctx, s, blob, count, ep, hasEP)
	if err != nil {
		blob.Close()
		return 0, err
	}
	if err := blob.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

func export(ctx context.Context, s store.Store, w io.Writer, count int, ep store.EntryPoint, hasEP bool) (int, error) {
	if _, err := w.Write(magic); err != nil {
		return 0, err
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return 0, err
	}
	closed := false
	defer func() {
		if !closed {
			zw.Close()
		}
	}()

	bw := bufio.NewWriter(zw)
	enc := encoder{w: bw}

	enc.uint64(uint64(count))
	if hasEP {
		enc.byte(1)
		enc.uint64(ep.ID)
		enc.uint32(uint32(ep.TopLayer))
	} else {
		enc.byte(0)
	}

	topLayer := 0
	if hasEP {
		topLayer = ep.TopLayer
	}

	for start := uint64(0); start < uint64(count); start += batchSize {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		end := min(start+batchSize, uint64(count))
		ids := make([]uint64, 0, end-start)
		for id := start; id < end; id++ {
			ids = append(ids, id)
		}

		vecs, err := s.GetPoints(ctx, ids)
		if err != nil {
			return 0, err
		}

		// One adjacency batch per layer covers the whole id batch.
		adjacency := make([]map[uint64]store.Neighbors, topLayer+1)
		for layer := 0; layer <= topLayer; layer++ {
			adjacency[layer], err = s.GetNeighborsBatch(ctx, ids, layer)
			if err != nil {
				return 0, err
			}
		}

		for _, id := range ids {
			vec, ok := vecs[id]
			if !ok {
				return 0, fmt.Errorf("%w: missing vector for id %d", ErrCorrupt, id)
			}

			meta, err := s.GetMetadata(ctx, id)
			if err != nil {
				return 0, err
			}

			enc.uint64(id)
			enc.vector(vec)
			enc.metadata(meta)

			// Every layer up to the node's top is written, empty rows
			// included, so layer membership survives the round trip. The
			// store reads absent rows as empty, so the top is the highest
			// non-empty row; the entry point's recorded layer covers its
			// trailing empty rows.
			top := 0
			for layer := topLayer; layer > 0; layer-- {
				if len(adjacency[layer][id]) > 0 {
					top = layer
					break
				}
			}
			if hasEP && id == ep.ID && ep.TopLayer > top {
				top = ep.TopLayer
			}

			enc.uint32(uint32(top + 1))
			for layer := 0; layer <= top; layer++ {
				enc.uint32(uint32(layer))
				enc.neighbors(adjacency[layer][id])
			}
		}
	}

	if enc.err != nil {
		return 0, enc.err
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	closed = true
	if err := zw.Close(); err != nil {
		return 0, err
	}
	return count, nil
}

// Import replays the snapshot under name into an empty store.
// Returns the number of imported points.
func Import(ctx context.Context, blobs blobstore.BlobStore, name string, s store.Store) (int, error) {
	existing, err := s.PointCount(ctx)
	if err != nil {
		return 0, err
	}
	if existing != 0 {
		return 0, ErrTargetNotEmpty
	}

	blob, err := blobs.Open(ctx, name)
	if err != nil {
		return 0, err
	}
	defer blob.Close()

	head := make([]byte, len(magic))
	if _, err := io.ReadFull(blob, head); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if string(head) != string(magic) {
		return 0, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}

	zr, err := zstd.NewReader(blob)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	defer zr.Close()

	dec := decoder{r: bufio.NewReader(zr)}

	count := dec.uint64()
	hasEP := dec.byte() == 1
	var ep store.EntryPoint
	if hasEP {
		ep.ID = dec.uint64()
		ep.TopLayer = int(dec.uint32())
	}
	if dec.err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCorrupt, dec.err)
	}

	// Pending adjacency writes, flushed per layer in batches.
	pending := make(map[int]map[uint64]store.Neighbors)
	flush := func() error {
		layers := make([]int, 0, len(pending))
		for layer := range pending {
			layers = append(layers, layer)
		}
		sort.Ints(layers)
		for _, layer := range layers {
			if err := s.SetNeighborsBatch(ctx, layer, pending[layer]); err != nil {
				return err
			}
		}
		pending = make(map[int]map[uint64]store.Neighbors)
		return nil
	}

	for i := uint64(0); i < count; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		wantID := dec.uint64()
		vec := dec.vector()
		meta := dec.metadata()
		layerCount := dec.uint32()
		if dec.err != nil {
			return 0, fmt.Errorf("%w: %w", ErrCorrupt, dec.err)
		}

		id, err := s.AllocatePoint(ctx, vec)
		if err != nil {
			return 0, err
		}
		if id != wantID {
			return 0, fmt.Errorf("%w: id drift, snapshot has %d but store allocated %d", ErrCorrupt, wantID, id)
		}
		if meta != nil {
			if err := s.SetMetadata(ctx, id, meta); err != nil {
				return 0, err
			}
		}

		for l := uint32(0); l < layerCount; l++ {
			layer := int(dec.uint32())
			neighbors := dec.neighbors()
			if dec.err != nil {
				return 0, fmt.Errorf("%w: %w", ErrCorrupt, dec.err)
			}
			if pending[layer] == nil {
				pending[layer] = make(map[uint64]store.Neighbors)
			}
			pending[layer][id] = neighbors
		}

		if (i+1)%batchSize == 0 {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := flush(); err != nil {
		return 0, err
	}

	if hasEP {
		if err := s.SetEntryPoint(ctx, ep); err != nil {
			return 0, err
		}
	}
	return int(count), nil
}

type encoder struct {
	w   *bufio.Writer
	err error
}

func (e *encoder) byte(b byte) {
	if e.err != nil {
		return
	}
	e.err = e.w.WriteByte(b)
}

func (e *encoder) uint32(v uint32) {
	if e.err != nil {
		return
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, e.err = e.w.Write(buf[:])
}

func (e *encoder) uint64(v uint64) {
	if e.err != nil {
		return
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, e.err = e.w.Write(buf[:])
}

func (e *encoder) vector(vec []float32) {
	e.uint32(uint32(len(vec)))
	for _, v := range vec {
		e.uint32(math.Float32bits(v))
	}
}

func (e *encoder) metadata(meta []byte) {
	if meta == nil {
		e.uint32(noMetadata)
		return
	}
	e.uint32(uint32(len(meta)))
	if e.err == nil {
		_, e.err = e.w.Write(meta)
	}
}

func (e *encoder) neighbors(neighbors store.Neighbors) {
	ids := make([]uint64, 0, len(neighbors))
	for id := range neighbors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	e.uint32(uint32(len(ids)))
	for _, id := range ids {
		e.uint64(id)
		e.uint32(math.Float32bits(neighbors[id]))
	}
}

type decoder struct {
	r   *bufio.Reader
	err error
}

func (d *decoder) byte() byte {
	if d.err != nil {
		return 0
	}
	b, err := d.r.ReadByte()
	d.err = err
	return b
}

func (d *decoder) uint32() uint32 {
	if d.err != nil {
		return 0
	}
	var buf [4]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		d.err = err
		return 0
	}
	return binary.LittleEndian.Uint32(buf[:])
}

func (d *decoder) uint64() uint64 {
	if d.err != nil {
		return 0
	}
	var buf [8]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		d.err = err
		return 0
	}
	return binary.LittleEndian.Uint64(buf[:])
}

func (d *decoder) vector() []float32 {
	n := d.uint32()
	if d.err != nil {
		return nil
	}
	if n > maxVectorLen {
		d.err = fmt.Errorf("vector length %d exceeds limit", n)
		return nil
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = math.Float32frombits(d.uint32())
	}
	return vec
}

func (d *decoder) metadata() []byte {
	n := d.uint32()
	if d.err != nil || n == noMetadata {
		return nil
	}
	if n > maxMetadataLen {
		d.err = fmt.Errorf("metadata length %d exceeds limit", n)
		return nil
	}
	meta := make([]byte, n)
	if _, err := io.ReadFull(d.r, meta); err != nil {
		d.err = err
		return nil
	}
	return meta
}

func (d *decoder) neighbors() store.Neighbors {
	n := d.uint32()
	if d.err != nil {
		return nil
	}
	if n > maxNeighborsLen {
		d.err = fmt.Errorf("neighbor count %d exceeds limit", n)
		return nil
	}
	neighbors := make(store.Neighbors, n)
	for i := uint32(0); i < n; i++ {
		id := d.uint64()
		dist := math.Float32frombits(d.uint32())
		neighbors[id] = dist
	}
	return neighbors
}
