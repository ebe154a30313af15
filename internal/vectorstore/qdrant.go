package vectorstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Client is a thin gRPC client for the Qdrant collections and points services.
// Point ids are UUID strings and payloads are flat string maps.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// NewClient dials the Qdrant gRPC endpoint.
func NewClient(cfg QdrantConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

// EnsureCollection creates a cosine collection of the given dimension unless
// one with that name exists.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	if _, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name}); err == nil {
		return nil
	}
	_, err := c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: dimension, Distance: pb.Distance_Cosine},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// Upsert writes one point and waits for it to be searchable.
func (c *Client) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]string) error {
	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           waitTrue(),
		Points: []*pb.PointStruct{{
			Id:      pointID(id),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
			Payload: toValues(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", collection, id, err)
	}
	return nil
}

// Delete removes points by id. Missing ids are not an error.
func (c *Client) Delete(ctx context.Context, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pids[i] = pointID(id)
	}
	_, err := c.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           waitTrue(),
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{Points: &pb.PointsIdsList{Ids: pids}},
		},
	})
	if err != nil {
		return fmt.Errorf("delete from %s: %w", collection, err)
	}
	return nil
}

// SearchRequest describes a filtered nearest-neighbour query.
type SearchRequest struct {
	Collection string
	Vector     []float32
	TopK       uint64
	// Match restricts hits to points whose string payload equals every entry.
	Match map[string]string
	// MinScore drops hits scoring below it when positive.
	MinScore float32
}

// SearchResult is one nearest-neighbour hit.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// Search returns up to TopK hits, best first.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]*SearchResult, error) {
	sp := &pb.SearchPoints{
		CollectionName: req.Collection,
		Vector:         req.Vector,
		Limit:          req.TopK,
		Filter:         matchFilter(req.Match),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if req.MinScore > 0 {
		threshold := req.MinScore
		sp.ScoreThreshold = &threshold
	}
	resp, err := c.points.Search(ctx, sp)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", req.Collection, err)
	}
	results := make([]*SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, &SearchResult{
			ID:      r.Id.GetUuid(),
			Score:   r.Score,
			Payload: fromValues(r.Payload),
		})
	}
	return results, nil
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// matchFilter builds a conjunction of keyword matches, or nil for none.
func matchFilter(match map[string]string) *pb.Filter {
	if len(match) == 0 {
		return nil
	}
	must := make([]*pb.Condition, 0, len(match))
	for _, k := range sortedKeys(match) {
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   k,
					Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: match[k]}},
				},
			},
		})
	}
	return &pb.Filter{Must: must}
}

func pointID(id string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
}

func waitTrue() *bool {
	wait := true
	return &wait
}

func toValues(m map[string]string) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(m))
	for k, v := range m {
		out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	return out
}

// fromValues keeps the string-valued entries of a point payload.
func fromValues(m map[string]*pb.Value) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if sv, ok := v.GetKind().(*pb.Value_StringValue); ok {
			out[k] = sv.StringValue
		}
	}
	return out
}
