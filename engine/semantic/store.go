// Package semantic is the similarity index layer: a Qdrant-backed store for
// production and an in-memory store for tests and local runs, both behind
// the Index interface.
package semantic

import (
	"context"
	"fmt"
	"sort"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
}

type collectionsAPI interface {
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI

	mu   sync.RWMutex
	dims map[string]int
}

var _ Index = (*VectorStore)(nil)

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	vs := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn))
	vs.conn = conn
	return vs, nil
}

// NewWithClients creates a VectorStore over pre-built clients.
func NewWithClients(points pointsAPI, collections collectionsAPI) *VectorStore {
	return &VectorStore{
		points:      points,
		collections: collections,
		dims:        make(map[string]int),
	}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist. An existing collection of another width is an error.
func (v *VectorStore) EnsureCollection(ctx context.Context, collection string, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() != collection {
			continue
		}
		info, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: collection})
		if err != nil {
			return fmt.Errorf("semantic: get collection %s: %w", collection, err)
		}
		size := int(info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
		if size != 0 && size != dims {
			return fmt.Errorf("%w: collection %s has %d, want %d", ErrDimensionMismatch, collection, size, dims)
		}
		v.setDims(collection, dims)
		return nil
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", collection, err)
	}
	v.setDims(collection, dims)
	return nil
}

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context, collection string) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: collection})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", collection, err)
	}
	v.mu.Lock()
	delete(v.dims, collection)
	v.mu.Unlock()
	return nil
}

// Upsert stores points, overwriting any with the same id.
func (v *VectorStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	pts := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		if err := v.checkDims(collection, len(p.Vector)); err != nil {
			return err
		}
		pts[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: p.Vector},
				},
			},
			Payload: toPayload(p.Payload),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         pts,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

// DeleteByField removes all points whose payload key equals value.
func (v *VectorStore) DeleteByField(ctx context.Context, collection, key, value string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{fieldMatch(key, value)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete %s=%s from %s: %w", key, value, collection, err)
	}
	return nil
}

// Query performs k-NN similarity search.
func (v *VectorStore) Query(ctx context.Context, collection string, vector []float32, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := v.checkDims(collection, len(vector)); err != nil {
		return nil, err
	}
	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search %s: %w", collection, err)
	}

	out := make([]Neighbor, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		out[i] = Neighbor{
			ID:      pointID(r.GetId()),
			Score:   float64(r.GetScore()),
			Payload: fromPayload(r.GetPayload()),
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// Scroll pages through points matching the request filter.
func (v *VectorStore) Scroll(ctx context.Context, collection string, req ScrollRequest) (ScrollPage, error) {
	limit := uint32(req.Limit)
	if limit == 0 {
		limit = 100
	}
	in := &pb.ScrollPoints{
		CollectionName: collection,
		Limit:          &limit,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(req.Filter) > 0 {
		keys := make([]string, 0, len(req.Filter))
		for k := range req.Filter {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		must := make([]*pb.Condition, 0, len(keys))
		for _, k := range keys {
			must = append(must, fieldMatch(k, req.Filter[k]))
		}
		in.Filter = &pb.Filter{Must: must}
	}
	if req.Offset != "" {
		in.Offset = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: req.Offset}}
	}

	resp, err := v.points.Scroll(ctx, in)
	if err != nil {
		return ScrollPage{}, fmt.Errorf("semantic: scroll %s: %w", collection, err)
	}
	page := ScrollPage{Points: make([]Point, len(resp.GetResult()))}
	for i, r := range resp.GetResult() {
		page.Points[i] = Point{
			ID:      pointID(r.GetId()),
			Payload: fromPayload(r.GetPayload()),
		}
	}
	if next := resp.GetNextPageOffset(); next != nil {
		page.Next = pointID(next)
	}
	return page, nil
}

func (v *VectorStore) setDims(collection string, dims int) {
	v.mu.Lock()
	v.dims[collection] = dims
	v.mu.Unlock()
}

func (v *VectorStore) checkDims(collection string, n int) error {
	v.mu.RLock()
	want, ok := v.dims[collection]
	v.mu.RUnlock()
	if ok && want != n {
		return fmt.Errorf("%w: %s expects %d, got %d", ErrDimensionMismatch, collection, want, n)
	}
	return nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func pointID(id *pb.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprint(id.GetNum())
}
