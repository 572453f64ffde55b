package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"github.com/tmc/langchaingo/embeddings"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fyrsmithlabs/voxgov/internal/cascade"
	"github.com/fyrsmithlabs/voxgov/internal/config"
)

// PointQuerier is the slice of the Qdrant client QdrantSource needs.
// *qdrant.Client implements it.
type PointQuerier interface {
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// NewQdrantClient dials Qdrant over gRPC.
func NewQdrantClient(cfg config.KnowledgeConfig) (*qdrant.Client, error) {
	qc := &qdrant.Config{
		Host:   cfg.QdrantHost,
		Port:   cfg.QdrantPort,
		APIKey: cfg.QdrantAPIKey.Value(),
		UseTLS: cfg.QdrantTLS,
	}
	if !cfg.QdrantTLS {
		qc.GrpcOptions = append(qc.GrpcOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	client, err := qdrant.NewClient(qc)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return client, nil
}

// QdrantSource searches a shared remote collection, filtered to one
// tenant by the tenant_id payload field. The answer text is read from the
// payload's "answer" field and the point score is the confidence.
type QdrantSource struct {
	client     PointQuerier
	embedder   embeddings.Embedder
	collection string
	tenantID   string
	keywords   []string
}

// NewQdrantSource builds a source over collection.
func NewQdrantSource(client PointQuerier, embedder embeddings.Embedder, collection, tenantID string, keywords []string) (*QdrantSource, error) {
	if client == nil {
		return nil, ErrQdrantDisabled
	}
	if embedder == nil {
		return nil, ErrNoEmbedder
	}
	if collection == "" {
		return nil, fmt.Errorf("%w: qdrant source needs a collection", ErrInvalidPack)
	}
	return &QdrantSource{
		client:     client,
		embedder:   embedder,
		collection: collection,
		tenantID:   tenantID,
		keywords:   keywords,
	}, nil
}

// Keywords returns the keywords declared for the source.
func (s *QdrantSource) Keywords(context.Context) ([]string, error) {
	return s.keywords, nil
}

// Query embeds query and returns the best scoring point.
func (s *QdrantSource) Query(ctx context.Context, query string) (cascade.Candidate, error) {
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return cascade.Candidate{}, fmt.Errorf("embedding query: %w", err)
	}
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(1)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("tenant_id", s.tenantID)},
		},
	})
	if err != nil {
		return cascade.Candidate{}, fmt.Errorf("qdrant query %s: %w", s.collection, err)
	}
	if len(points) == 0 {
		return cascade.Candidate{}, nil
	}
	top := points[0]
	payload := top.GetPayload()
	answer := strings.TrimSpace(payload["answer"].GetStringValue())
	if answer == "" {
		return cascade.Candidate{}, nil
	}
	return cascade.Candidate{
		Confidence: float64(top.GetScore()),
		Response:   answer,
		Metadata:   map[string]string{"point_id": pointID(top.GetId())},
	}, nil
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}
