package knowledge

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/embeddings"

	"github.com/fyrsmithlabs/voxgov/internal/cascade"
)

// FAQ is one question/answer document.
type FAQ struct {
	ID       string   `toml:"id"`
	Question string   `toml:"question"`
	Answer   string   `toml:"answer"`
	Keywords []string `toml:"keywords"`
}

// EmbeddingFunc adapts a langchaingo embedder to chromem.
func EmbeddingFunc(e embeddings.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return e.EmbedQuery(ctx, text)
	}
}

// ChromemSource answers from FAQ documents stored in an embedded chromem
// collection. The similarity of the nearest question is the confidence.
type ChromemSource struct {
	collection *chromem.Collection

	mu       sync.RWMutex
	keywords []string
}

// NewChromemSource opens or creates the named collection in db.
func NewChromemSource(db *chromem.DB, name string, embed chromem.EmbeddingFunc) (*ChromemSource, error) {
	if embed == nil {
		return nil, ErrNoEmbedder
	}
	col, err := db.GetOrCreateCollection(name, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", name, err)
	}
	return &ChromemSource{collection: col}, nil
}

// Add embeds and stores faqs. Explicit keywords and question words both
// feed the pre-filter index.
func (s *ChromemSource) Add(ctx context.Context, faqs []FAQ) error {
	if len(faqs) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(faqs))
	var kws []string
	for i, f := range faqs {
		if f.ID == "" || f.Question == "" || f.Answer == "" {
			return fmt.Errorf("%w: faq %d needs id, question and answer", ErrInvalidPack, i)
		}
		docs = append(docs, chromem.Document{
			ID:       f.ID,
			Content:  f.Question,
			Metadata: map[string]string{"answer": f.Answer},
		})
		kws = append(kws, f.Keywords...)
		kws = append(kws, f.Question)
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("adding faq documents: %w", err)
	}
	s.mu.Lock()
	s.keywords = append(s.keywords, kws...)
	s.mu.Unlock()
	return nil
}

// Keywords returns FAQ keywords and question text.
func (s *ChromemSource) Keywords(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.keywords...), nil
}

// Query returns the nearest FAQ answer.
func (s *ChromemSource) Query(ctx context.Context, query string) (cascade.Candidate, error) {
	if s.collection.Count() == 0 {
		return cascade.Candidate{}, nil
	}
	results, err := s.collection.Query(ctx, query, 1, nil, nil)
	if err != nil {
		return cascade.Candidate{}, fmt.Errorf("querying faq collection: %w", err)
	}
	if len(results) == 0 {
		return cascade.Candidate{}, nil
	}
	top := results[0]
	return cascade.Candidate{
		Confidence: float64(top.Similarity),
		Response:   top.Metadata["answer"],
		Metadata:   map[string]string{"faq_id": top.ID},
	}, nil
}
