package knowledge

import (
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/voxgov/internal/config"
)

// NewEmbedder builds an embedder for an OpenAI-compatible endpoint. Local
// servers (TEI, Ollama) accept any token.
func NewEmbedder(cfg config.KnowledgeConfig) (embeddings.Embedder, error) {
	if cfg.EmbeddingBaseURL == "" || cfg.EmbeddingModel == "" {
		return nil, fmt.Errorf("%w: embedding base url and model required", ErrNoEmbedder)
	}
	token := cfg.EmbeddingAPIKey.Value()
	if token == "" {
		token = "placeholder"
	}
	llm, err := openai.New(
		openai.WithBaseURL(cfg.EmbeddingBaseURL),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return emb, nil
}
