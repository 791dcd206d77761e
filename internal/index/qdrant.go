package index

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dshills/codesearch/pkg/entity"
)

// DefaultCollection is the Qdrant collection name used when none is
// configured.
const DefaultCollection = "code_entities"

// QdrantIndex implements VectorIndex against a Qdrant server over gRPC.
type QdrantIndex struct {
	conn       *grpc.ClientConn
	points     pb.PointsClient
	collection string
}

// NewQdrantIndex connects to Qdrant and ensures the collection exists
// with cosine distance at the given dimension.
func NewQdrantIndex(ctx context.Context, addr, collection string, dimension int) (*QdrantIndex, error) {
	if collection == "" {
		collection = DefaultCollection
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}

	idx := &QdrantIndex{
		conn:       conn,
		points:     pb.NewPointsClient(conn),
		collection: collection,
	}

	if err := idx.ensureCollection(ctx, pb.NewCollectionsClient(conn), dimension); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return idx, nil
}

// ensureCollection creates the collection if it does not exist.
func (q *QdrantIndex) ensureCollection(ctx context.Context, collections pb.CollectionsClient, dimension int) error {
	_, err := collections.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: q.collection,
	})
	if err == nil {
		return nil
	}

	_, err = collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
			Size:     uint64(dimension),
			Distance: pb.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", q.collection, err)
	}
	return nil
}

// Upsert writes points keyed by entity UUID. Re-upserting the same ID
// overwrites in place.
func (q *QdrantIndex) Upsert(ctx context.Context, entities []entity.CodeEntity) error {
	points := make([]*pb.PointStruct, len(entities))
	for i, e := range entities {
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: e.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: e.Vector}}},
			Payload: map[string]*pb.Value{
				"repo_id":   {Kind: &pb.Value_StringValue{StringValue: e.RepoID}},
				"language":  {Kind: &pb.Value_StringValue{StringValue: string(e.Language)}},
				"kind":      {Kind: &pb.Value_StringValue{StringValue: string(e.Kind)}},
				"file_path": {Kind: &pb.Value_StringValue{StringValue: e.FilePath}},
				"name":      {Kind: &pb.Value_StringValue{StringValue: e.Name}},
			},
		}
	}

	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// Delete removes points by UUID.
func (q *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
	}

	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

// QuerySemantic runs a cosine similarity search with server-side
// payload filters.
func (q *QdrantIndex) QuerySemantic(ctx context.Context, vector []float32, filters Filters, limit int) ([]Hit, error) {
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		Filter:         buildQdrantFilter(filters),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	hits := make([]Hit, len(resp.Result))
	for i, pt := range resp.Result {
		hits[i] = Hit{
			ID:    pt.Id.GetUuid(),
			Score: float64(pt.Score),
		}
	}
	return hits, nil
}

func buildQdrantFilter(filters Filters) *pb.Filter {
	var must []*pb.Condition

	if filters.RepoID != "" {
		must = append(must, keywordCondition("repo_id", filters.RepoID))
	}
	if filters.Language != "" {
		must = append(must, keywordCondition("language", string(filters.Language)))
	}
	if len(filters.Kinds) > 0 {
		kinds := make([]string, len(filters.Kinds))
		for i, k := range filters.Kinds {
			kinds[i] = string(k)
		}
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: "kind",
					Match: &pb.Match{
						MatchValue: &pb.Match_Keywords{
							Keywords: &pb.RepeatedStrings{Strings: kinds},
						},
					},
				},
			},
		})
	}

	if len(must) == 0 {
		return nil
	}
	return &pb.Filter{Must: must}
}

func keywordCondition(key, value string) *pb.Condition {
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

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.conn.Close()
}

var _ VectorIndex = (*QdrantIndex)(nil)
