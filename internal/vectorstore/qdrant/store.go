// Package qdrant stores documents as Qdrant points and searches them server-side.
package qdrant

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/tabrag/tabrag/internal/domain"
	"github.com/tabrag/tabrag/internal/domain/ranking"
)

const (
	// DefaultCollection is used when the backend config names none.
	DefaultCollection = "tabrag"
	payloadContent    = "content"
	scrollPage        = 256
)

var (
	_ domain.VectorStore        = (*Store)(nil)
	_ domain.SimilaritySearcher = (*Store)(nil)
)

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Config holds connection settings.
type Config struct {
	Addr       string // gRPC address, e.g. localhost:6334
	APIKey     string // enables TLS and the api-key header
	Collection string
	Dimensions int
}

// Store is a Qdrant-backed vector store.
type Store struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	dims        int
	logger      *zap.Logger
}

// New dials Qdrant. The connection is lazy; Init verifies it.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if cfg.APIKey != "" {
		opts = []grpc.DialOption{
			grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})),
			grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)),
		}
	}

	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial %s: %w", cfg.Addr, err)
	}

	s := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), cfg.Collection, cfg.Dimensions, logger)
	s.conn = conn
	return s, nil
}

// NewWithClients builds a store over existing gRPC clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string, dims int, logger *zap.Logger) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		points:      points,
		collections: collections,
		collection:  collection,
		dims:        dims,
		logger:      logger,
	}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker, opts ...grpc.CallOption,
	) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Init creates the collection (cosine distance) when it does not exist yet.
func (s *Store) Init(ctx context.Context) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("qdrant: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			s.logger.Info("Using Qdrant backend", zap.String("collection", s.collection))
			return nil
		}
	}

	if s.dims <= 0 {
		return fmt.Errorf("qdrant: collection %s missing and vector dimensions unknown", s.collection)
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(s.dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", s.collection, err)
	}
	s.logger.Info("Created Qdrant collection", zap.String("collection", s.collection), zap.Int("dims", s.dims))
	return nil
}

// AddDocuments upserts one point per document and waits for indexing.
func (s *Store) AddDocuments(ctx context.Context, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(docs))
	for i, d := range docs {
		payload := make(map[string]*pb.Value, len(d.Metadata)+1)
		for k, v := range d.Metadata {
			payload[k] = toValue(v)
		}
		payload[payloadContent] = toValue(d.Text)

		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: uuid.NewString()}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: d.Embedding}}},
			Payload: payload,
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %d points: %w", len(points), err)
	}
	return nil
}

// AllDocuments scrolls through every point's payload. Vectors are not fetched:
// callers use the result for url dedupe and re-embedding, ranking goes through SimilaritySearch.
func (s *Store) AllDocuments(ctx context.Context) ([]ranking.Candidate, error) {
	var out []ranking.Candidate
	var offset *pb.PointId
	limit := uint32(scrollPage)

	for {
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.collection,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant: scroll: %w", err)
		}
		for _, p := range resp.GetResult() {
			text, meta := fromPayload(p.GetPayload())
			out = append(out, ranking.Candidate{Text: text, Metadata: meta})
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return out, nil
		}
	}
}

// SimilaritySearch runs a cosine k-NN search in Qdrant.
func (s *Store) SimilaritySearch(ctx context.Context, query []float32, k int) ([]ranking.Scored, error) {
	if k <= 0 {
		return []ranking.Scored{}, nil
	}
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         query,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}

	out := make([]ranking.Scored, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		text, meta := fromPayload(r.GetPayload())
		out = append(out, ranking.Scored{Text: text, Metadata: meta, Score: float64(r.GetScore())})
	}
	return out, nil
}

// Ping checks that the collection list is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.collections.List(ctx, &pb.ListCollectionsRequest{}); err != nil {
		return fmt.Errorf("qdrant: %w", err)
	}
	return nil
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func toValue(v any) *pb.Value {
	switch tv := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}

func fromPayload(payload map[string]*pb.Value) (string, map[string]any) {
	meta := make(map[string]any, len(payload))
	var text string
	for k, v := range payload {
		if k == payloadContent {
			text = v.GetStringValue()
			continue
		}
		switch kind := v.GetKind().(type) {
		case *pb.Value_StringValue:
			meta[k] = kind.StringValue
		case *pb.Value_IntegerValue:
			meta[k] = kind.IntegerValue
		case *pb.Value_DoubleValue:
			meta[k] = kind.DoubleValue
		case *pb.Value_BoolValue:
			meta[k] = kind.BoolValue
		}
	}
	return text, meta
}
