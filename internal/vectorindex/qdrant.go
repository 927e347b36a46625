package vectorindex

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// pointsAPI is the subset of pb.PointsClient the adapter uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the adapter uses.
type collectionsAPI interface {
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// keywordFields get a payload index so filtered queries stay fast.
var keywordFields = []string{"proceeding_id", "doc_type"}

// Qdrant is the Qdrant backend over gRPC.
type Qdrant struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI

	mu   sync.Mutex
	dims map[string]int
}

// NewQdrant connects to Qdrant at the given gRPC address.
func NewQdrant(addr string) (*Qdrant, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("vectorindex: dial qdrant %s: %w", addr, err)
	}
	q := newQdrantWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn))
	q.conn = conn
	return q, nil
}

func newQdrantWithClients(points pointsAPI, collections collectionsAPI) *Qdrant {
	return &Qdrant{points: points, collections: collections, dims: make(map[string]int)}
}

// Close closes the underlying gRPC connection.
func (q *Qdrant) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

func (q *Qdrant) exists(ctx context.Context, name string) (bool, error) {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("vectorindex: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == name {
			return true, nil
		}
	}
	return false, nil
}

// EnsureCollection creates the collection if it doesn't exist. With
// deleteExisting an existing collection is dropped first.
func (q *Qdrant) EnsureCollection(ctx context.Context, spec CollectionSpec, deleteExisting bool) error {
	if err := spec.validate(); err != nil {
		return err
	}

	found, err := q.exists(ctx, spec.Name)
	if err != nil {
		return err
	}
	if found && deleteExisting {
		if _, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: spec.Name}); err != nil {
			return fmt.Errorf("vectorindex: delete collection %s: %w", spec.Name, err)
		}
		q.forget(spec.Name)
		found = false
	}
	if found {
		return CheckCompatible(ctx, q, spec.Name, spec.Dimensions)
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: spec.Name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(spec.Dimensions),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorindex: create collection %s: %w", spec.Name, err)
	}

	wait := true
	fieldType := pb.FieldType_FieldTypeKeyword
	for _, field := range keywordFields {
		_, err := q.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: spec.Name,
			Wait:           &wait,
			FieldName:      field,
			FieldType:      &fieldType,
		})
		if err != nil {
			return fmt.Errorf("vectorindex: index payload field %s: %w", field, err)
		}
	}

	q.remember(spec.Name, spec.Dimensions)
	return nil
}

func (q *Qdrant) remember(name string, dims int) {
	q.mu.Lock()
	q.dims[name] = dims
	q.mu.Unlock()
}

func (q *Qdrant) forget(name string) {
	q.mu.Lock()
	delete(q.dims, name)
	q.mu.Unlock()
}

// Dimensions reads the vector size from the collection config.
func (q *Qdrant) Dimensions(ctx context.Context, collection string) (int, error) {
	q.mu.Lock()
	d, ok := q.dims[collection]
	q.mu.Unlock()
	if ok {
		return d, nil
	}

	info, err := q.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: collection})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, domain.Wrap(domain.ErrCollectionNotFound, err)
		}
		return 0, fmt.Errorf("vectorindex: get collection %s: %w", collection, err)
	}
	size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	if size == 0 {
		return 0, fmt.Errorf("vectorindex: collection %s has no single unnamed vector config", collection)
	}
	q.remember(collection, int(size))
	return int(size), nil
}

// Upsert validates every vector against the collection size, then writes all
// points in one request.
func (q *Qdrant) Upsert(ctx context.Context, collection string, points []domain.EmbeddingPoint) error {
	if len(points) == 0 {
		return nil
	}
	dims, err := q.Dimensions(ctx, collection)
	if err != nil {
		return err
	}
	if err := checkDimensions(points, dims); err != nil {
		return err
	}

	structs := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID.String()},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: p.Vector},
				},
			},
			Payload: encodePayload(p.Payload),
		}
	}

	wait := true
	_, err = q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("vectorindex: upsert %d points: %w", len(points), err)
	}
	return nil
}

// QueryNearest performs k-NN search. Cosine scores from Qdrant are already
// similarities.
func (q *Qdrant) QueryNearest(ctx context.Context, collection string, vector []float32, k int, filter *Filter) ([]Hit, error) {
	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if filter != nil && len(filter.AnyOf) > 0 {
		req.Filter = &pb.Filter{Must: []*pb.Condition{anyOf(filter.Field, filter.AnyOf)}}
	}

	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: search: %w", err)
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		id, err := uuid.Parse(r.GetId().GetUuid())
		if err != nil {
			return nil, fmt.Errorf("vectorindex: point id %q: %w", r.GetId().GetUuid(), err)
		}
		hits = append(hits, Hit{
			ID:      id,
			Score:   r.GetScore(),
			Payload: decodePayload(r.GetPayload()),
		})
	}
	return hits, nil
}

// ExistingIDs reports which of ids are already stored.
func (q *Qdrant) ExistingIDs(ctx context.Context, collection string, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	pids := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pids[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}
	}
	resp, err := q.points.Get(ctx, &pb.GetPoints{
		CollectionName: collection,
		Ids:            pids,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: false}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: false}},
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: get points: %w", err)
	}
	for _, p := range resp.GetResult() {
		if id, err := uuid.Parse(p.GetId().GetUuid()); err == nil {
			out[id] = true
		}
	}
	return out, nil
}

func anyOf(key string, values []string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keywords{Keywords: &pb.RepeatedStrings{Strings: values}},
				},
			},
		},
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(n int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: n}}
}

func encodePayload(p domain.PointPayload) map[string]*pb.Value {
	m := map[string]*pb.Value{
		"document_id":   intValue(p.DocumentID),
		"chunk_index":   intValue(int64(p.ChunkIndex)),
		"proceeding_id": stringValue(p.ProceedingNumber),
		"source_url":    stringValue(p.SourceURL),
		"text":          stringValue(p.Text),
	}
	optional := map[string]string{
		"published_date": p.PublishedDate,
		"title":          p.Title,
		"doc_type":       p.DocType,
		"filed_by":       p.FiledBy,
	}
	for k, v := range optional {
		if v != "" {
			m[k] = stringValue(v)
		}
	}
	if p.Year != nil {
		m["year"] = intValue(int64(*p.Year))
	}
	return m
}

func decodePayload(m map[string]*pb.Value) domain.PointPayload {
	var p domain.PointPayload
	p.DocumentID = integer(m["document_id"])
	p.ChunkIndex = int(integer(m["chunk_index"]))
	p.ProceedingNumber = m["proceeding_id"].GetStringValue()
	p.SourceURL = m["source_url"].GetStringValue()
	p.PublishedDate = m["published_date"].GetStringValue()
	p.Title = m["title"].GetStringValue()
	p.DocType = m["doc_type"].GetStringValue()
	p.FiledBy = m["filed_by"].GetStringValue()
	p.Text = m["text"].GetStringValue()
	if v, ok := m["year"]; ok {
		y := int(integer(v))
		p.Year = &y
	}
	return p
}

// integer accepts integer, double and numeric-string values, since payloads
// written by other tools are not always typed consistently.
func integer(v *pb.Value) int64 {
	switch k := v.GetKind().(type) {
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return int64(k.DoubleValue)
	case *pb.Value_StringValue:
		n, _ := strconv.ParseInt(k.StringValue, 10, 64)
		return n
	default:
		return 0
	}
}
