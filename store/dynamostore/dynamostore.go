// Package dynamostore implements store.Store on DynamoDB.
//
// This is the production backend for ledger-style deployments where every
// write is expensive: items are written at most once per engine-level
// mutation, batch reads map to BatchGetItem, batch writes to BatchWriteItem,
// and all values are LZ4-compressed. A token-bucket rate limiter throttles
// writes so graph construction cannot exhaust provisioned capacity.
//
// Table layout (single table, composite key):
//
//	pk = "p#<id>", sk = "v"         point vector
//	pk = "p#<id>", sk = "m"         metadata bytes
//	pk = "p#<id>", sk = "l#<layer>" adjacency at one layer
//	pk = "sys",    sk = "ep"        entry point (id, layer)
//	pk = "sys",    sk = "seq"       id allocation counter
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name ledgerann \
//	  --attribute-definitions AttributeName=pk,AttributeType=S AttributeName=sk,AttributeType=S \
//	  --key-schema AttributeName=pk,KeyType=HASH AttributeName=sk,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
//
// Isolation: DynamoDB reads are individually consistent but there is no
// snapshot across items, so a reader concurrent with an in-flight insert can
// observe a partially linked node. That node is reachable and correct once
// the insert finishes; see hnsw.Engine for the write-ordering guarantees.
package dynamostore

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/s9swata/ledgerann/store"
)

const (
	skVector   = "v"
	skMetadata = "m"
	sysPK      = "sys"
	skEntry    = "ep"
	skSequence = "seq"

	// DynamoDB batch API limits.
	maxBatchGet   = 100
	maxBatchWrite = 25
)

// Compile-time check.
var _ store.Store = (*Store)(nil)

// Client is the subset of the DynamoDB API the store uses. Narrowed to an
// interface so tests can run against a fake.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Options represents the options for configuring the DynamoDB store.
type Options struct {
	// WriteRateLimit caps write operations per second. Zero disables
	// throttling.
	WriteRateLimit rate.Limit

	// WriteBurst is the limiter burst size. Defaults to maxBatchWrite.
	WriteBurst int
}

// DefaultOptions holds the defaults.
var DefaultOptions = Options{
	WriteRateLimit: 0,
	WriteBurst:     maxBatchWrite,
}

// Store is a DynamoDB-backed store.Store.
type Store struct {
	client    Client
	tableName string
	limiter   *rate.Limiter
}

// New creates a DynamoDB store using the given client and table.
func New(client Client, tableName string, optFns ...func(o *Options)) *Store {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	var limiter *rate.Limiter
	if opts.WriteRateLimit > 0 {
		burst := opts.WriteBurst
		if burst < 1 {
			burst = maxBatchWrite
		}
		limiter = rate.NewLimiter(opts.WriteRateLimit, burst)
	}

	return &Store{
		client:    client,
		tableName: tableName,
		limiter:   limiter,
	}
}

func pointPK(id uint64) string { return "p#" + strconv.FormatUint(id, 10) }
func layerSK(layer int) string { return "l#" + strconv.Itoa(layer) }

func (s *Store) waitWrite(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return nil
}

// AllocatePoint implements store.Store. The id comes from an atomic counter
// increment, so ids are unique and never reused even across writers.
func (s *Store) AllocatePoint(ctx context.Context, vector []float32) (uint64, error) {
	if err := s.waitWrite(ctx); err != nil {
		return 0, err
	}

	resp, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: sysPK},
			"sk": &types.AttributeValueMemberS{Value: skSequence},
		},
		UpdateExpression: aws.String("ADD n :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}

	seqAttr, ok := resp.Attributes["n"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("%w: missing sequence attribute", store.ErrUnavailable)
	}
	seq, err := strconv.ParseUint(seqAttr.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad sequence value %q", store.ErrUnavailable, seqAttr.Value)
	}
	id := seq - 1

	if err := s.waitWrite(ctx); err != nil {
		return 0, err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"pk":  &types.AttributeValueMemberS{Value: pointPK(id)},
			"sk":  &types.AttributeValueMemberS{Value: skVector},
			"val": &types.AttributeValueMemberB{Value: compress(encodeVector(vector))},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}

	return id, nil
}

// GetPoint implements store.Store.
func (s *Store) GetPoint(ctx context.Context, id uint64) ([]float32, error) {
	item, err := s.getItem(ctx, pointPK(id), skVector)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, store.ErrNotFound
	}
	return decodeVectorAttr(item)
}

// GetPoints implements store.Store. Ids are fetched with BatchGetItem, 100
// keys per request, requests issued concurrently.
func (s *Store) GetPoints(ctx context.Context, ids []uint64) (map[uint64][]float32, error) {
	items, err := s.batchGet(ctx, ids, func(id uint64) string { return skVector })
	if err != nil {
		return nil, err
	}

	out := make(map[uint64][]float32, len(items))
	for id, item := range items {
		vec, err := decodeVectorAttr(item)
		if err != nil {
			return nil, err
		}
		out[id] = vec
	}
	return out, nil
}

// GetMetadata implements store.Store.
func (s *Store) GetMetadata(ctx context.Context, id uint64) ([]byte, error) {
	// Absent metadata row is normal; distinguish unknown points by probing
	// the vector row.
	item, err := s.getItem(ctx, pointPK(id), skMetadata)
	if err != nil {
		return nil, err
	}
	if item == nil {
		if _, err := s.GetPoint(ctx, id); err != nil {
			return nil, err
		}
		return nil, nil
	}

	valAttr, ok := item["val"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("%w: missing metadata attribute for point %d", store.ErrUnavailable, id)
	}
	return decompress(valAttr.Value)
}

// SetMetadata implements store.Store.
func (s *Store) SetMetadata(ctx context.Context, id uint64, metadata []byte) error {
	if err := s.waitWrite(ctx); err != nil {
		return err
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"pk":  &types.AttributeValueMemberS{Value: pointPK(id)},
			"sk":  &types.AttributeValueMemberS{Value: skMetadata},
			"val": &types.AttributeValueMemberB{Value: compress(metadata)},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return nil
}

// GetNeighbors implements store.Store.
func (s *Store) GetNeighbors(ctx context.Context, id uint64, layer int) (store.Neighbors, error) {
	item, err := s.getItem(ctx, pointPK(id), layerSK(layer))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return store.Neighbors{}, nil
	}
	return decodeNeighborsAttr(item)
}

// GetNeighborsBatch implements store.Store.
func (s *Store) GetNeighborsBatch(ctx context.Context, ids []uint64, layer int) (map[uint64]store.Neighbors, error) {
	items, err := s.batchGet(ctx, ids, func(id uint64) string { return layerSK(layer) })
	if err != nil {
		return nil, err
	}

	out := make(map[uint64]store.Neighbors, len(ids))
	for _, id := range ids {
		item, ok := items[id]
		if !ok {
			out[id] = store.Neighbors{}
			continue
		}
		neighbors, err := decodeNeighborsAttr(item)
		if err != nil {
			return nil, err
		}
		out[id] = neighbors
	}
	return out, nil
}

// SetNeighbors implements store.Store.
func (s *Store) SetNeighbors(ctx context.Context, id uint64, layer int, neighbors store.Neighbors) error {
	if err := s.waitWrite(ctx); err != nil {
		return err
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      neighborsItem(id, layer, neighbors),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return nil
}

// SetNeighborsBatch implements store.Store. Updates are written with
// BatchWriteItem, 25 items per request; unprocessed items are retried.
func (s *Store) SetNeighborsBatch(ctx context.Context, layer int, updates map[uint64]store.Neighbors) error {
	writes := make([]types.WriteRequest, 0, len(updates))
	for id, neighbors := range updates {
		writes = append(writes, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: neighborsItem(id, layer, neighbors)},
		})
	}

	for start := 0; start < len(writes); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(writes))
		batch := writes[start:end]

		for len(batch) > 0 {
			if err := s.waitWrite(ctx); err != nil {
				return err
			}
			resp, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{
					s.tableName: batch,
				},
			})
			if err != nil {
				return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
			}
			batch = resp.UnprocessedItems[s.tableName]
		}
	}
	return nil
}

// GetEntryPoint implements store.Store.
func (s *Store) GetEntryPoint(ctx context.Context) (store.EntryPoint, bool, error) {
	item, err := s.getItem(ctx, sysPK, skEntry)
	if err != nil {
		return store.EntryPoint{}, false, err
	}
	if item == nil {
		return store.EntryPoint{}, false, nil
	}

	idAttr, okID := item["id"].(*types.AttributeValueMemberN)
	layerAttr, okLayer := item["layer"].(*types.AttributeValueMemberN)
	if !okID || !okLayer {
		return store.EntryPoint{}, false, fmt.Errorf("%w: malformed entry point item", store.ErrUnavailable)
	}

	id, err := strconv.ParseUint(idAttr.Value, 10, 64)
	if err != nil {
		return store.EntryPoint{}, false, fmt.Errorf("%w: bad entry point id %q", store.ErrUnavailable, idAttr.Value)
	}
	layer, err := strconv.Atoi(layerAttr.Value)
	if err != nil {
		return store.EntryPoint{}, false, fmt.Errorf("%w: bad entry point layer %q", store.ErrUnavailable, layerAttr.Value)
	}

	return store.EntryPoint{ID: id, TopLayer: layer}, true, nil
}

// SetEntryPoint implements store.Store.
func (s *Store) SetEntryPoint(ctx context.Context, ep store.EntryPoint) error {
	if err := s.waitWrite(ctx); err != nil {
		return err
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"pk":    &types.AttributeValueMemberS{Value: sysPK},
			"sk":    &types.AttributeValueMemberS{Value: skEntry},
			"id":    &types.AttributeValueMemberN{Value: strconv.FormatUint(ep.ID, 10)},
			"layer": &types.AttributeValueMemberN{Value: strconv.Itoa(ep.TopLayer)},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return nil
}

// PointCount implements store.Store.
func (s *Store) PointCount(ctx context.Context) (int, error) {
	item, err := s.getItem(ctx, sysPK, skSequence)
	if err != nil {
		return 0, err
	}
	if item == nil {
		return 0, nil
	}

	seqAttr, ok := item["n"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("%w: malformed sequence item", store.ErrUnavailable)
	}
	n, err := strconv.Atoi(seqAttr.Value)
	if err != nil {
		return 0, fmt.Errorf("%w: bad sequence value %q", store.ErrUnavailable, seqAttr.Value)
	}
	return n, nil
}

// getItem fetches one item; nil map means not found.
func (s *Store) getItem(ctx context.Context, pk, sk string) (map[string]types.AttributeValue, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: pk},
			"sk": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	if len(resp.Item) == 0 {
		return nil, nil
	}
	return resp.Item, nil
}

// batchGet fetches one item per id, chunked at the BatchGetItem limit with
// chunks issued concurrently. Unprocessed keys are retried. Missing items
// are absent from the result.
func (s *Store) batchGet(ctx context.Context, ids []uint64, sk func(uint64) string) (map[uint64]map[string]types.AttributeValue, error) {
	out := make(map[uint64]map[string]types.AttributeValue, len(ids))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)

	for start := 0; start < len(ids); start += maxBatchGet {
		chunk := ids[start:min(start+maxBatchGet, len(ids))]

		g.Go(func() error {
			keys := make([]map[string]types.AttributeValue, 0, len(chunk))
			for _, id := range chunk {
				keys = append(keys, map[string]types.AttributeValue{
					"pk": &types.AttributeValueMemberS{Value: pointPK(id)},
					"sk": &types.AttributeValueMemberS{Value: sk(id)},
				})
			}

			for len(keys) > 0 {
				resp, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
					RequestItems: map[string]types.KeysAndAttributes{
						s.tableName: {Keys: keys},
					},
				})
				if err != nil {
					return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
				}

				mu.Lock()
				for _, item := range resp.Responses[s.tableName] {
					pkAttr, ok := item["pk"].(*types.AttributeValueMemberS)
					if !ok {
						mu.Unlock()
						return fmt.Errorf("%w: item without pk", store.ErrUnavailable)
					}
					id, err := strconv.ParseUint(pkAttr.Value[2:], 10, 64)
					if err != nil {
						mu.Unlock()
						return fmt.Errorf("%w: bad item pk %q", store.ErrUnavailable, pkAttr.Value)
					}
					out[id] = item
				}
				mu.Unlock()

				keys = resp.UnprocessedKeys[s.tableName].Keys
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func neighborsItem(id uint64, layer int, neighbors store.Neighbors) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk":  &types.AttributeValueMemberS{Value: pointPK(id)},
		"sk":  &types.AttributeValueMemberS{Value: layerSK(layer)},
		"val": &types.AttributeValueMemberB{Value: compress(encodeNeighbors(neighbors))},
	}
}

func decodeVectorAttr(item map[string]types.AttributeValue) ([]float32, error) {
	valAttr, ok := item["val"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("%w: missing vector attribute", store.ErrUnavailable)
	}
	raw, err := decompress(valAttr.Value)
	if err != nil {
		return nil, err
	}
	return decodeVector(raw)
}

func decodeNeighborsAttr(item map[string]types.AttributeValue) (store.Neighbors, error) {
	valAttr, ok := item["val"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("%w: missing adjacency attribute", store.ErrUnavailable)
	}
	raw, err := decompress(valAttr.Value)
	if err != nil {
		return nil, err
	}
	return decodeNeighbors(raw)
}
