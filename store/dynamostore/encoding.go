package dynamostore

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/pierrec/lz4/v4"

	"github.com/s9swata/ledgerann/store"
)

// Value encoding: a 1-byte flag (raw or lz4), the uncompressed length as a
// uvarint, then the payload. LZ4 block compression reports incompressible
// input; such values are stored raw.
const (
	flagRaw = 0x00
	flagLZ4 = 0x01
)

func compress(src []byte) []byte {
	head := make([]byte, 1+binary.MaxVarintLen64)
	head[0] = flagLZ4
	n := 1 + binary.PutUvarint(head[1:], uint64(len(src)))

	dst := make([]byte, n+lz4.CompressBlockBound(len(src)))
	copy(dst, head[:n])

	var c lz4.Compressor
	cn, err := c.CompressBlock(src, dst[n:])
	if err != nil || cn == 0 || cn >= len(src) {
		out := make([]byte, n+len(src))
		copy(out, head[:n])
		out[0] = flagRaw
		copy(out[n:], src)
		return out
	}
	return dst[:n+cn]
}

func decompress(src []byte) ([]byte, error) {
	if len(src) < 1 {
		return nil, fmt.Errorf("%w: empty value", store.ErrUnavailable)
	}
	flag := src[0]
	rawLen, n := binary.Uvarint(src[1:])
	if n <= 0 {
		return nil, fmt.Errorf("%w: truncated value header", store.ErrUnavailable)
	}
	payload := src[1+n:]

	switch flag {
	case flagRaw:
		if uint64(len(payload)) != rawLen {
			return nil, fmt.Errorf("%w: raw value length mismatch", store.ErrUnavailable)
		}
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case flagLZ4:
		out := make([]byte, rawLen)
		if _, err := lz4.UncompressBlock(payload, out); err != nil {
			return nil, fmt.Errorf("%w: lz4 decompress: %w", store.ErrUnavailable, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown value flag %#x", store.ErrUnavailable, flag)
	}
}

func encodeVector(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func decodeVector(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: vector payload not a multiple of 4 bytes", store.ErrUnavailable)
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, nil
}

// Adjacency payload: fixed 12-byte records of (id uint64, distance float32),
// sorted by id so identical graphs produce identical bytes.
func encodeNeighbors(neighbors store.Neighbors) []byte {
	ids := make([]uint64, 0, len(neighbors))
	for id := range neighbors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]byte, 12*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint64(out[i*12:], id)
		binary.LittleEndian.PutUint32(out[i*12+8:], math.Float32bits(neighbors[id]))
	}
	return out
}

func decodeNeighbors(raw []byte) (store.Neighbors, error) {
	if len(raw)%12 != 0 {
		return nil, fmt.Errorf("%w: adjacency payload not a multiple of 12 bytes", store.ErrUnavailable)
	}
	neighbors := make(store.Neighbors, len(raw)/12)
	for off := 0; off < len(raw); off += 12 {
		id := binary.LittleEndian.Uint64(raw[off:])
		dist := math.Float32frombits(binary.LittleEndian.Uint32(raw[off+8:]))
		neighbors[id] = dist
	}
	return neighbors, nil
}
