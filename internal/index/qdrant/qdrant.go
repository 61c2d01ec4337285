// Package qdrant serves the index.Index interface from a Qdrant collection.
// Each index generation owns its own collection, so a rebuild never
// disturbs the collection that live queries are reading.
package qdrant

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dshills/codesearch/internal/index"
	"github.com/dshills/codesearch/pkg/types"
)

// TypeQdrant names this backend in configuration
const TypeQdrant = "qdrant"

const upsertBatch = 256

// Config locates the Qdrant server and collection
type Config struct {
	Addr       string // host:port of the gRPC endpoint
	Collection string
	Metric     index.Metric
	Dimension  int
}

// Index is a remote index backed by one Qdrant collection
type Index struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	metric      index.Metric
	dim         int
	size        atomic.Int64
}

// Dial connects to Qdrant without creating anything
func Dial(cfg Config) (*Index, error) {
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	idx := newWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), cfg)
	idx.conn = conn
	return idx, nil
}

func newWithClients(points pb.PointsClient, collections pb.CollectionsClient, cfg Config) *Index {
	metric := cfg.Metric
	if metric == "" {
		metric = index.Cosine
	}
	return &Index{
		points:      points,
		collections: collections,
		collection:  cfg.Collection,
		metric:      metric,
		dim:         cfg.Dimension,
	}
}

// Build creates the collection, replacing any of the same name, and
// uploads entries.
func Build(ctx context.Context, cfg Config, entries []index.Entry) (*Index, error) {
	if cfg.Dimension <= 0 && len(entries) > 0 {
		cfg.Dimension = len(entries[0].Vector)
	}
	idx, err := Dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrBuild, err)
	}
	if err := idx.build(ctx, entries); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return idx, nil
}

func (q *Index) build(ctx context.Context, entries []index.Entry) error {
	if q.dim <= 0 {
		return fmt.Errorf("%w: index dimension unknown", types.ErrBuild)
	}

	distance := pb.Distance_Cosine
	if q.metric == index.L2 {
		distance = pb.Distance_Euclid
	}
	// A restore reuses the generation number, so a collection of the same
	// name may be left over
	if _, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: q.collection}); err != nil {
		return fmt.Errorf("%w: reset collection %s: %v", types.ErrBuild, q.collection, err)
	}

	_, err := q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{Size: uint64(q.dim), Distance: distance},
		}},
	})
	if err != nil {
		return fmt.Errorf("%w: create collection %s: %v", types.ErrBuild, q.collection, err)
	}

	for start := 0; start < len(entries); start += upsertBatch {
		end := min(start+upsertBatch, len(entries))
		if err := q.upsert(ctx, entries[start:end]); err != nil {
			return fmt.Errorf("%w: %v", types.ErrBuild, err)
		}
	}
	return nil
}

func (q *Index) upsert(ctx context.Context, entries []index.Entry) error {
	points := make([]*pb.PointStruct, len(entries))
	for i, e := range entries {
		if len(e.Vector) != q.dim {
			return fmt.Errorf("%w: entry %d has %d dimensions, index has %d", types.ErrDimensionMismatch, e.ID, len(e.Vector), q.dim)
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(e.ID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: e.Vector}}},
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	q.size.Add(int64(len(points)))
	return nil
}

// Search asks Qdrant for the k nearest points and re-sorts them locally so
// equal distances come back in id order
func (q *Index) Search(ctx context.Context, query []float32, k int) ([]index.Neighbor, error) {
	if len(query) != q.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", types.ErrDimensionMismatch, len(query), q.dim)
	}
	if k <= 0 {
		return []index.Neighbor{}, nil
	}

	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         query,
		Limit:          uint64(k),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	out := make([]index.Neighbor, 0, len(resp.Result))
	for _, pt := range resp.Result {
		d := float64(pt.Score)
		if q.metric == index.Cosine {
			// Qdrant reports cosine similarity
			d = 1 - d
		}
		out = append(out, index.Neighbor{ID: int64(pt.Id.GetNum()), Distance: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Add upserts one point
func (q *Index) Add(ctx context.Context, e index.Entry) error {
	return q.upsert(ctx, []index.Entry{e})
}

// Drop deletes the backing collection
func (q *Index) Drop(ctx context.Context) error {
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: q.collection})
	if err != nil {
		return fmt.Errorf("drop collection %s: %w", q.collection, err)
	}
	return nil
}

// Collection returns the backing collection name
func (q *Index) Collection() string { return q.collection }

func (q *Index) Len() int             { return int(q.size.Load()) }
func (q *Index) Dimension() int       { return q.dim }
func (q *Index) Metric() index.Metric { return q.metric }
func (q *Index) Type() string         { return TypeQdrant }

// Close releases the gRPC connection
func (q *Index) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

var _ index.Index = (*Index)(nil)
