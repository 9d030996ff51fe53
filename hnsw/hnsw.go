// Package hnsw implements a Hierarchical Navigable Small World graph for
// approximate nearest neighbor search, persisted entirely through a
// store.Store.
//
// The engine holds no durable state of its own: points, per-layer adjacency
// and the entry point all live in the store, and every operation is a
// self-contained walk over the currently persisted graph. The engine is
// built for stores where a call may be a network round trip to an expensive
// ledger-style backend, so traversal batches its reads (one GetPoints per
// expanded candidate, one GetNeighborsBatch/SetNeighborsBatch per layer of
// backlink updates) instead of issuing per-edge calls.
//
// Concurrency: Insert is single-writer. Concurrent inserts racing on a
// neighbor list or the entry point would lose one side of a bidirectional
// edge, so the engine serializes them behind one mutex; per-node locking is
// not enough because an insert touches many nodes across layers. Searches
// take no engine lock. Whether a search may overlap an in-flight insert is
// an isolation property of the store and documented per backend.
package hnsw

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/s9swata/ledgerann/distance"
	"github.com/s9swata/ledgerann/internal/queue"
	"github.com/s9swata/ledgerann/internal/visited"
	"github.com/s9swata/ledgerann/store"
)

const (
	// mmax0Multiplier is the multiplier for the degree bound at layer 0.
	// The ground layer holds every point and benefits from a denser graph.
	mmax0Multiplier = 2

	// minimumM is the smallest valid M; M=1 would make the layer
	// multiplier 1/ln(1) divide by zero.
	minimumM = 2

	// DefaultM is the default number of bidirectional links per layer.
	DefaultM = 16

	// DefaultEFConstruction is the default candidate list size during
	// insertion.
	DefaultEFConstruction = 200

	// DefaultEFSearch is the default candidate list size during search.
	DefaultEFSearch = 50

	// bruteBatchSize is the id chunk size for exact scans.
	bruteBatchSize = 512
)

// Options represents the options for configuring the engine.
type Options struct {
	// M is the number of bidirectional links added per node per layer.
	// Reasonable range is 5-48; higher M suits high intrinsic
	// dimensionality and high recall targets at the cost of memory and
	// write amplification against the store.
	M int

	// EFConstruction is the candidate list size while inserting.
	// Larger values build a better graph and issue more store reads.
	EFConstruction int

	// EFSearch is the candidate list size while searching. Effective ef is
	// never below k.
	EFSearch int

	// Heuristic switches neighbor selection from simple top-M by distance
	// to the diversity-aware heuristic from the HNSW paper. Whichever is
	// chosen applies to every insert for the index's lifetime; mixing
	// policies across inserts degrades graph quality.
	Heuristic bool

	// Metric selects the distance function. Cosine by default.
	Metric distance.Metric

	// RandomSeed pins the layer-assignment RNG for deterministic graph
	// shapes in tests. Nil seeds from the clock.
	RandomSeed *int64
}

// DefaultOptions holds the defaults.
var DefaultOptions = Options{
	M:              DefaultM,
	EFConstruction: DefaultEFConstruction,
	EFSearch:       DefaultEFSearch,
	Heuristic:      false,
	Metric:         distance.MetricCosine,
}

// Result is one search hit.
type Result struct {
	ID       uint64
	Distance float32
}

// SearchOptions controls a single query.
type SearchOptions struct {
	// EFSearch overrides the engine-wide EFSearch for this query when > 0.
	EFSearch int
}

// Engine is the HNSW index engine. All durable state lives in the store;
// the engine carries only configuration, the distance function and the
// layer-assignment RNG.
type Engine struct {
	store store.Store

	distFunc        distance.Func
	m               int
	mmax0           int
	efConstruction  int
	efSearch        int
	heuristic       bool
	layerMultiplier float64

	rng   *rand.Rand
	rngMu sync.Mutex

	// dim is fixed by the first successfully inserted vector (or learned
	// from the entry point of a pre-populated store); 0 means unknown.
	dim atomic.Int32

	// writeMu serializes inserts (single-writer mandate).
	writeMu sync.Mutex
}

// New creates an engine over the given store.
//
// Construction fails with ErrInvalidConfiguration if M < 2,
// EFConstruction < 1 or EFSearch < 1. No storage call is made here; the
// first operation against a pre-populated store learns its dimensionality
// from the entry point.
func New(s store.Store, optFns ...func(o *Options)) (*Engine, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if s == nil {
		return nil, &ErrInvalidConfiguration{Reason: "store must not be nil"}
	}
	if opts.M < minimumM {
		return nil, &ErrInvalidConfiguration{Reason: fmt.Sprintf("m must be >= %d, got %d", minimumM, opts.M)}
	}
	if opts.EFConstruction < 1 {
		return nil, &ErrInvalidConfiguration{Reason: fmt.Sprintf("efConstruction must be >= 1, got %d", opts.EFConstruction)}
	}
	if opts.EFSearch < 1 {
		return nil, &ErrInvalidConfiguration{Reason: fmt.Sprintf("efSearch must be >= 1, got %d", opts.EFSearch)}
	}

	distFunc, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, &ErrInvalidConfiguration{Reason: err.Error()}
	}

	var rng *rand.Rand
	if opts.RandomSeed != nil {
		rng = rand.New(rand.NewSource(*opts.RandomSeed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Engine{
		store:           s,
		distFunc:        distFunc,
		m:               opts.M,
		mmax0:           mmax0Multiplier * opts.M,
		efConstruction:  opts.EFConstruction,
		efSearch:        opts.EFSearch,
		heuristic:       opts.Heuristic,
		layerMultiplier: 1 / math.Log(float64(opts.M)),
		rng:             rng,
	}, nil
}

// M returns the configured per-layer degree bound.
func (e *Engine) M() int { return e.m }

// EFConstruction returns the configured construction candidate list size.
func (e *Engine) EFConstruction() int { return e.efConstruction }

// EFSearch returns the configured search candidate list size.
func (e *Engine) EFSearch() int { return e.efSearch }

// Heuristic reports whether diversity-aware neighbor selection is active.
func (e *Engine) Heuristic() bool { return e.heuristic }

// Dimension returns the established dimensionality, or 0 before the first
// insert.
func (e *Engine) Dimension() int { return int(e.dim.Load()) }

// Count returns the number of points in the store.
func (e *Engine) Count(ctx context.Context) (int, error) {
	n, err := e.store.PointCount(ctx)
	if err != nil {
		return 0, e.wrapStorage(err)
	}
	return n, nil
}

// randomLevel draws the top layer for a new point:
// floor(-ln(u) * 1/ln(M)). The exponential decay keeps upper layers sparse,
// which is what bounds search depth logarithmically.
func (e *Engine) randomLevel() int {
	e.rngMu.Lock()
	u := e.rng.Float64()
	e.rngMu.Unlock()

	if u == 0 {
		u = math.SmallestNonzeroFloat64
	}
	return int(math.Floor(-math.Log(u) * e.layerMultiplier))
}

// Insert adds a vector with optional metadata bytes and returns its id.
//
// Write ordering: the point vector (and metadata) are persisted before any
// edge references the new id, the new node's own adjacency is written
// before the backlinks that make it reachable, and the entry point is
// promoted last. If the process dies mid-insert the graph therefore never
// references a missing point; the worst case is a node that is stored but
// not (fully) reachable, which a re-insert of the same vector repairs.
func (e *Engine) Insert(ctx context.Context, vector []float32, metadata []byte) (uint64, error) {
	if err := validateVector(vector); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	ep, hasEP, err := e.store.GetEntryPoint(ctx)
	if err != nil {
		return 0, e.wrapStorage(err)
	}

	var epVec []float32
	if hasEP {
		epVec, err = e.store.GetPoint(ctx, ep.ID)
		if err != nil {
			return 0, e.wrapStorage(err)
		}
		if e.dim.Load() == 0 {
			e.dim.Store(int32(len(epVec)))
		}
	}

	if dim := int(e.dim.Load()); dim != 0 && len(vector) != dim {
		return 0, &ErrDimensionMismatch{Expected: dim, Actual: len(vector)}
	}

	level := e.randomLevel()

	id, err := e.store.AllocatePoint(ctx, vector)
	if err != nil {
		return 0, e.wrapStorage(err)
	}
	e.dim.CompareAndSwap(0, int32(len(vector)))

	if metadata != nil {
		if err := e.store.SetMetadata(ctx, id, metadata); err != nil {
			return 0, e.wrapStorage(err)
		}
	}

	if !hasEP {
		// Empty adjacency rows make the node's layer membership explicit.
		for layer := 0; layer <= level; layer++ {
			if err := e.store.SetNeighbors(ctx, id, layer, store.Neighbors{}); err != nil {
				return 0, e.wrapStorage(err)
			}
		}
		if err := e.store.SetEntryPoint(ctx, store.EntryPoint{ID: id, TopLayer: level}); err != nil {
			return 0, e.wrapStorage(err)
		}
		return id, nil
	}

	// Greedy descent through the layers above the new node's top layer.
	currID := ep.ID
	currDist := e.distFunc(vector, epVec)
	for layer := ep.TopLayer; layer > level; layer-- {
		currID, currDist, err = e.greedyStep(ctx, vector, currID, currDist, layer)
		if err != nil {
			return 0, err
		}
	}

	// Search and link from min(topLayer, level) down to 0.
	for layer := min(ep.TopLayer, level); layer >= 0; layer-- {
		results, err := e.searchLayer(ctx, vector, currID, currDist, layer, e.efConstruction)
		if err != nil {
			return 0, err
		}

		// The closest candidate seeds the next layer down.
		if best, ok := results.MinItem(); ok {
			currID = best.Node
			currDist = best.Distance
		}

		bound := e.m
		if layer == 0 {
			bound = e.mmax0
		}

		selected, err := e.selectNeighbors(ctx, vector, drainAscending(results), bound)
		if err != nil {
			return 0, err
		}

		// New node's own adjacency: one write for the whole layer.
		adjacency := make(store.Neighbors, len(selected))
		for _, item := range selected {
			adjacency[item.Node] = item.Distance
		}
		if err := e.store.SetNeighbors(ctx, id, layer, adjacency); err != nil {
			return 0, e.wrapStorage(err)
		}

		// Backlinks: read all affected neighbor lists in one round trip,
		// prune where the bound is exceeded, write them back in one more.
		if len(selected) > 0 {
			selIDs := make([]uint64, len(selected))
			for i, item := range selected {
				selIDs[i] = item.Node
			}

			lists, err := e.store.GetNeighborsBatch(ctx, selIDs, layer)
			if err != nil {
				return 0, e.wrapStorage(err)
			}

			updates := make(map[uint64]store.Neighbors, len(selected))

			// dropped[d] holds the nodes whose pruned adjacency no longer
			// carries d; the reverse edges d -> dropper must go with them
			// to keep the graph symmetric.
			dropped := make(map[uint64][]uint64)

			for _, item := range selected {
				neighbors := lists[item.Node]
				if neighbors == nil {
					neighbors = store.Neighbors{}
				}
				neighbors[id] = item.Distance

				if len(neighbors) > bound {
					pruned, err := e.pruneNeighbors(ctx, item.Node, neighbors, bound)
					if err != nil {
						return 0, err
					}
					for d := range neighbors {
						if _, ok := pruned[d]; !ok {
							dropped[d] = append(dropped[d], item.Node)
						}
					}
					neighbors = pruned
				}
				updates[item.Node] = neighbors
			}

			if len(dropped) > 0 {
				if err := e.removeReverseEdges(ctx, id, layer, adjacency, updates, dropped); err != nil {
					return 0, err
				}
			}

			if err := e.store.SetNeighborsBatch(ctx, layer, updates); err != nil {
				return 0, e.wrapStorage(err)
			}
		}
	}

	// A node whose level exceeds the old top layer has no peers to link to
	// up there; empty adjacency rows still record its membership.
	for layer := ep.TopLayer + 1; layer <= level; layer++ {
		if err := e.store.SetNeighbors(ctx, id, layer, store.Neighbors{}); err != nil {
			return 0, e.wrapStorage(err)
		}
	}

	// Promote the entry point last so a crash above leaves the old entry
	// point valid.
	if level > ep.TopLayer {
		if err := e.store.SetEntryPoint(ctx, store.EntryPoint{ID: id, TopLayer: level}); err != nil {
			return 0, e.wrapStorage(err)
		}
	}

	return id, nil
}

// KNNSearch returns the k nearest stored points to q, ascending by distance.
//
// An index with fewer than k points returns them all; only a zero-point
// store is an error (ErrEmptyIndex).
func (e *Engine) KNNSearch(ctx context.Context, q []float32, k int, optFns ...func(o *SearchOptions)) ([]Result, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be >= 1, got %d", ErrInvalidInput, k)
	}
	if err := validateVector(q); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	searchOpts := SearchOptions{}
	for _, fn := range optFns {
		fn(&searchOpts)
	}

	ep, hasEP, err := e.store.GetEntryPoint(ctx)
	if err != nil {
		return nil, e.wrapStorage(err)
	}
	if !hasEP {
		return nil, ErrEmptyIndex
	}

	epVec, err := e.store.GetPoint(ctx, ep.ID)
	if err != nil {
		return nil, e.wrapStorage(err)
	}
	if e.dim.Load() == 0 {
		e.dim.Store(int32(len(epVec)))
	}
	if dim := int(e.dim.Load()); len(q) != dim {
		return nil, &ErrDimensionMismatch{Expected: dim, Actual: len(q)}
	}

	ef := e.efSearch
	if searchOpts.EFSearch > 0 {
		ef = searchOpts.EFSearch
	}
	if ef < k {
		ef = k
	}

	// Greedy descent to layer 1, then a full beam search at layer 0.
	currID := ep.ID
	currDist := e.distFunc(q, epVec)
	for layer := ep.TopLayer; layer > 0; layer-- {
		currID, currDist, err = e.greedyStep(ctx, q, currID, currDist, layer)
		if err != nil {
			return nil, err
		}
	}

	results, err := e.searchLayer(ctx, q, currID, currDist, 0, ef)
	if err != nil {
		return nil, err
	}

	items := drainAscending(results)
	if len(items) > k {
		items = items[:k]
	}

	out := make([]Result, len(items))
	for i, item := range items {
		out[i] = Result{ID: item.Node, Distance: item.Distance}
	}
	return out, nil
}

// BruteSearch scans every stored point for an exact top-k. Ground truth for
// recall measurements and a sane fallback for tiny stores.
func (e *Engine) BruteSearch(ctx context.Context, q []float32, k int) ([]Result, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be >= 1, got %d", ErrInvalidInput, k)
	}
	if err := validateVector(q); err != nil {
		return nil, err
	}

	count, err := e.store.PointCount(ctx)
	if err != nil {
		return nil, e.wrapStorage(err)
	}
	if count == 0 {
		return nil, ErrEmptyIndex
	}

	// Ids are dense from 0, so point 0 always exists here and establishes
	// the dimension when the engine has not seen a vector yet.
	if e.dim.Load() == 0 {
		first, err := e.store.GetPoint(ctx, 0)
		if err != nil {
			return nil, e.wrapStorage(err)
		}
		e.dim.Store(int32(len(first)))
	}
	if dim := int(e.dim.Load()); len(q) != dim {
		return nil, &ErrDimensionMismatch{Expected: dim, Actual: len(q)}
	}

	top := queue.NewMax(k)

	// Ids are dense from 0, so the scan walks them in fixed-size batches.
	for start := uint64(0); start < uint64(count); start += bruteBatchSize {
		end := min(start+bruteBatchSize, uint64(count))
		ids := make([]uint64, 0, end-start)
		for id := start; id < end; id++ {
			ids = append(ids, id)
		}

		vecs, err := e.store.GetPoints(ctx, ids)
		if err != nil {
			return nil, e.wrapStorage(err)
		}

		for _, id := range ids {
			vec, ok := vecs[id]
			if !ok {
				continue
			}
			d := e.distFunc(q, vec)
			if top.Len() < k {
				top.PushItem(queue.PriorityQueueItem{Node: id, Distance: d})
			} else if worst, _ := top.TopItem(); d < worst.Distance {
				top.PopItem()
				top.PushItem(queue.PriorityQueueItem{Node: id, Distance: d})
			}
		}
	}

	items := drainAscending(top)
	out := make([]Result, len(items))
	for i, item := range items {
		out[i] = Result{ID: item.Node, Distance: item.Distance}
	}
	return out, nil
}

// VectorByID returns the stored vector for id.
func (e *Engine) VectorByID(ctx context.Context, id uint64) ([]float32, error) {
	vec, err := e.store.GetPoint(ctx, id)
	if err != nil {
		return nil, e.wrapStorage(err)
	}
	return vec, nil
}

// MetadataByID returns the stored metadata bytes for id, nil if none.
func (e *Engine) MetadataByID(ctx context.Context, id uint64) ([]byte, error) {
	meta, err := e.store.GetMetadata(ctx, id)
	if err != nil {
		return nil, e.wrapStorage(err)
	}
	return meta, nil
}

// greedyStep runs the ef=1 greedy walk at one layer: repeatedly move to the
// closest neighbor until no neighbor improves on the current node.
func (e *Engine) greedyStep(ctx context.Context, q []float32, currID uint64, currDist float32, layer int) (uint64, float32, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}

		neighbors, err := e.store.GetNeighbors(ctx, currID, layer)
		if err != nil {
			return 0, 0, e.wrapStorage(err)
		}
		if len(neighbors) == 0 {
			return currID, currDist, nil
		}

		ids := sortedIDs(neighbors)
		vecs, err := e.store.GetPoints(ctx, ids)
		if err != nil {
			return 0, 0, e.wrapStorage(err)
		}

		changed := false
		for _, id := range ids {
			vec, ok := vecs[id]
			if !ok {
				continue
			}
			if d := e.distFunc(q, vec); d < currDist {
				currID = id
				currDist = d
				changed = true
			}
		}
		if !changed {
			return currID, currDist, nil
		}
	}
}

// searchLayer is the greedy beam search over one layer: a min-heap of
// candidates to expand, a bounded max-heap of the best ef results, and a
// visited set. Expansion stops once the closest remaining candidate is
// farther than the worst kept result and the result set is full; while the
// result set is below ef the search never terminates early.
//
// Each expansion costs at most two store round trips: one for the node's
// adjacency, one batched fetch of the unvisited neighbors' vectors.
func (e *Engine) searchLayer(ctx context.Context, q []float32, epID uint64, epDist float32, layer, ef int) (*queue.PriorityQueue, error) {
	seen := visited.New()
	seen.Visit(epID)

	candidates := queue.NewMin(ef)
	results := queue.NewMax(ef)

	entry := queue.PriorityQueueItem{Node: epID, Distance: epDist}
	candidates.PushItem(entry)
	results.PushItem(entry)

	for candidates.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		curr, _ := candidates.PopItem()

		if results.Len() >= ef {
			if worst, _ := results.TopItem(); curr.Distance > worst.Distance {
				break
			}
		}

		neighbors, err := e.store.GetNeighbors(ctx, curr.Node, layer)
		if err != nil {
			return nil, e.wrapStorage(err)
		}

		unvisited := make([]uint64, 0, len(neighbors))
		for id := range neighbors {
			if !seen.Visited(id) {
				seen.Visit(id)
				unvisited = append(unvisited, id)
			}
		}
		if len(unvisited) == 0 {
			continue
		}
		sort.Slice(unvisited, func(i, j int) bool { return unvisited[i] < unvisited[j] })

		vecs, err := e.store.GetPoints(ctx, unvisited)
		if err != nil {
			return nil, e.wrapStorage(err)
		}

		for _, id := range unvisited {
			vec, ok := vecs[id]
			if !ok {
				continue
			}
			d := e.distFunc(q, vec)
			item := queue.PriorityQueueItem{Node: id, Distance: d}

			if results.Len() < ef {
				candidates.PushItem(item)
				results.PushItem(item)
			} else if worst, _ := results.TopItem(); d < worst.Distance {
				candidates.PushItem(item)
				results.PushItem(item)
				results.PopItem()
			}
		}
	}

	return results, nil
}

// selectNeighbors picks up to bound neighbors for a node with the given
// vector from candidates sorted ascending by distance.
func (e *Engine) selectNeighbors(ctx context.Context, vec []float32, candidates []queue.PriorityQueueItem, bound int) ([]queue.PriorityQueueItem, error) {
	if !e.heuristic || len(candidates) <= bound {
		if len(candidates) > bound {
			candidates = candidates[:bound]
		}
		return candidates, nil
	}

	ids := make([]uint64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.Node
	}
	vecs, err := e.store.GetPoints(ctx, ids)
	if err != nil {
		return nil, e.wrapStorage(err)
	}

	// Relative-neighborhood selection: keep a candidate only if no already
	// selected neighbor is closer to it than the query is.
	selected := make([]queue.PriorityQueueItem, 0, bound)
	selectedVecs := make([][]float32, 0, bound)
	rejected := make([]queue.PriorityQueueItem, 0, len(candidates))

	for _, cand := range candidates {
		if len(selected) >= bound {
			break
		}
		candVec, ok := vecs[cand.Node]
		if !ok {
			continue
		}

		good := true
		for _, selVec := range selectedVecs {
			if e.distFunc(candVec, selVec) < cand.Distance {
				good = false
				break
			}
		}

		if good {
			selected = append(selected, cand)
			selectedVecs = append(selectedVecs, candVec)
		} else {
			rejected = append(rejected, cand)
		}
	}

	// Fill up with the closest rejected candidates.
	for _, cand := range rejected {
		if len(selected) >= bound {
			break
		}
		selected = append(selected, cand)
	}

	return selected, nil
}

// removeReverseEdges keeps the graph symmetric after pruning: when a node's
// pruned adjacency dropped neighbor d, d's own list at that layer loses the
// node as well. Affected lists not already part of this round's updates are
// fetched in one batch; everything is written together by the caller.
func (e *Engine) removeReverseEdges(ctx context.Context, newID uint64, layer int, newAdjacency store.Neighbors, updates map[uint64]store.Neighbors, dropped map[uint64][]uint64) error {
	var fetch []uint64
	for d := range dropped {
		if d == newID {
			continue
		}
		if _, ok := updates[d]; !ok {
			fetch = append(fetch, d)
		}
	}
	sort.Slice(fetch, func(i, j int) bool { return fetch[i] < fetch[j] })

	var fetched map[uint64]store.Neighbors
	if len(fetch) > 0 {
		var err error
		fetched, err = e.store.GetNeighborsBatch(ctx, fetch, layer)
		if err != nil {
			return e.wrapStorage(err)
		}
	}

	for d, droppers := range dropped {
		var list store.Neighbors
		switch {
		case d == newID:
			list = newAdjacency
		default:
			if l, ok := updates[d]; ok {
				list = l
			} else if list = fetched[d]; list == nil {
				list = store.Neighbors{}
			}
		}

		for _, dropper := range droppers {
			delete(list, dropper)
		}
		if d == newID {
			updates[newID] = list
		} else {
			updates[d] = list
		}
	}
	return nil
}

// pruneNeighbors re-selects a node's adjacency after it exceeded its degree
// bound. Distances in neighbors are node-to-neighbor and already persisted,
// so the simple policy needs no extra reads.
func (e *Engine) pruneNeighbors(ctx context.Context, nodeID uint64, neighbors store.Neighbors, bound int) (store.Neighbors, error) {
	items := make([]queue.PriorityQueueItem, 0, len(neighbors))
	for id, d := range neighbors {
		items = append(items, queue.PriorityQueueItem{Node: id, Distance: d})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Distance != items[j].Distance {
			return items[i].Distance < items[j].Distance
		}
		return items[i].Node < items[j].Node
	})

	var (
		kept []queue.PriorityQueueItem
		err  error
	)
	if e.heuristic {
		nodeVec, verr := e.store.GetPoint(ctx, nodeID)
		if verr != nil {
			return nil, e.wrapStorage(verr)
		}
		kept, err = e.selectNeighbors(ctx, nodeVec, items, bound)
		if err != nil {
			return nil, err
		}
	} else {
		kept = items[:bound]
	}

	out := make(store.Neighbors, len(kept))
	for _, item := range kept {
		out[item.Node] = item.Distance
	}
	return out, nil
}

// wrapStorage classifies store errors per the engine's taxonomy. Not-found
// and context cancellation pass through; everything else is a storage
// availability problem the caller may retry.
func (e *Engine) wrapStorage(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

func validateVector(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidInput)
	}
	if !distance.IsFinite(v) {
		return fmt.Errorf("%w: vector contains NaN or Inf", ErrInvalidInput)
	}
	return nil
}

// drainAscending empties a max-heap into a slice sorted ascending by
// distance (ties by id).
func drainAscending(pq *queue.PriorityQueue) []queue.PriorityQueueItem {
	items := make([]queue.PriorityQueueItem, pq.Len())
	for i := pq.Len() - 1; i >= 0; i-- {
		items[i], _ = pq.PopItem()
	}
	return items
}

func sortedIDs(neighbors store.Neighbors) []uint64 {
	ids := make([]uint64, 0, len(neighbors))
	for id := range neighbors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
