package qdrant

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/tabrag/tabrag/internal/domain"
)

// --- Mocks ---

type mockPoints struct {
	upserted   *pb.UpsertPoints
	upsertErr  error
	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
	pages      []*pb.ScrollResponse
	scrollErr  error
	scrolls    int
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserted = in
	return &pb.PointsOperationResponse{}, m.upsertErr
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = in
	return m.searchResp, m.searchErr
}

func (m *mockPoints) Scroll(_ context.Context, _ *pb.ScrollPoints, _ ...grpc.CallOption) (*pb.ScrollResponse, error) {
	if m.scrollErr != nil {
		return nil, m.scrollErr
	}
	page := m.pages[m.scrolls]
	m.scrolls++
	return page, nil
}

type mockCollections struct {
	listResp  *pb.ListCollectionsResponse
	listErr   error
	created   *pb.CreateCollection
	createErr error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = in
	return &pb.CollectionOperationResponse{Result: true}, m.createErr
}

func strVal(s string) *pb.Value { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }

// --- Tests ---

func TestInit_ExistingCollection(t *testing.T) {
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{
		Collections: []*pb.CollectionDescription{{Name: "tabs"}},
	}}
	s := NewWithClients(&mockPoints{}, cols, "tabs", 3, nil)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cols.created != nil {
		t.Error("existing collection must not be recreated")
	}
}

func TestInit_CreatesCosineCollection(t *testing.T) {
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{}}
	s := NewWithClients(&mockPoints{}, cols, "", 1536, nil)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cols.created == nil || cols.created.GetCollectionName() != DefaultCollection {
		t.Fatalf("collection not created: %+v", cols.created)
	}
	params := cols.created.GetVectorsConfig().GetParams()
	if params.GetSize() != 1536 || params.GetDistance() != pb.Distance_Cosine {
		t.Errorf("unexpected params %+v", params)
	}
}

func TestInit_UnknownDimensions(t *testing.T) {
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{}}
	if err := NewWithClients(&mockPoints{}, cols, "tabs", 0, nil).Init(context.Background()); err == nil {
		t.Fatal("expected error when dimensions are unknown")
	}
}

func TestAddDocuments_Payload(t *testing.T) {
	pts := &mockPoints{}
	s := NewWithClients(pts, &mockCollections{}, "tabs", 2, nil)

	doc := domain.NewChunkDocument(domain.Tab{Title: "T", URL: "https://t"}, 3, "chunk text", []float32{1, 2})
	if err := s.AddDocuments(context.Background(), []domain.Document{doc}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !pts.upserted.GetWait() || len(pts.upserted.GetPoints()) != 1 {
		t.Fatalf("unexpected upsert %+v", pts.upserted)
	}
	p := pts.upserted.GetPoints()[0]
	if p.GetId().GetUuid() == "" {
		t.Error("expected uuid point id")
	}
	payload := p.GetPayload()
	if payload["content"].GetStringValue() != "chunk text" ||
		payload["url"].GetStringValue() != "https://t" ||
		payload["part"].GetIntegerValue() != 3 {
		t.Errorf("unexpected payload %v", payload)
	}
}

func TestAddDocuments_Error(t *testing.T) {
	pts := &mockPoints{upsertErr: errors.New("unavailable")}
	s := NewWithClients(pts, &mockCollections{}, "tabs", 2, nil)
	err := s.AddDocuments(context.Background(), []domain.Document{{Text: "x", Embedding: []float32{1}}})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestAllDocuments_Pages(t *testing.T) {
	next := &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "p2"}}
	pts := &mockPoints{pages: []*pb.ScrollResponse{
		{
			Result:         []*pb.RetrievedPoint{{Payload: map[string]*pb.Value{"content": strVal("one"), "url": strVal("https://a")}}},
			NextPageOffset: next,
		},
		{
			Result: []*pb.RetrievedPoint{{Payload: map[string]*pb.Value{"content": strVal("two"), "url": strVal("https://b")}}},
		},
	}}
	s := NewWithClients(pts, &mockCollections{}, "tabs", 2, nil)

	got, err := s.AllDocuments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1].Text != "two" || got[1].Metadata["url"] != "https://b" {
		t.Fatalf("unexpected documents %+v", got)
	}
	if got[0].Embedding != nil {
		t.Error("scroll results carry no embedding")
	}
	if pts.scrolls != 2 {
		t.Errorf("expected 2 scroll calls, got %d", pts.scrolls)
	}
}

func TestSimilaritySearch(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{
		{Score: 0.75, Payload: map[string]*pb.Value{"content": strVal("hit"), "title": strVal("T")}},
	}}}
	s := NewWithClients(pts, &mockCollections{}, "tabs", 2, nil)

	got, err := s.SimilaritySearch(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.searchReq.GetLimit() != 5 {
		t.Errorf("limit = %d", pts.searchReq.GetLimit())
	}
	if len(got) != 1 || got[0].Text != "hit" || got[0].Score != 0.75 || got[0].Metadata["title"] != "T" {
		t.Fatalf("unexpected results %+v", got)
	}
}

func TestSimilaritySearch_NonPositiveK(t *testing.T) {
	pts := &mockPoints{}
	got, err := NewWithClients(pts, &mockCollections{}, "tabs", 2, nil).SimilaritySearch(context.Background(), []float32{1}, 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty result, got %v %v", got, err)
	}
	if pts.searchReq != nil {
		t.Error("no search should be issued for k <= 0")
	}
}

func TestToValue(t *testing.T) {
	if toValue(2.5).GetDoubleValue() != 2.5 {
		t.Error("float64")
	}
	if !toValue(true).GetBoolValue() {
		t.Error("bool")
	}
	if toValue([]int{1}).GetStringValue() != "[1]" {
		t.Error("fallback to string")
	}
}
