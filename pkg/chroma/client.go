package chroma

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"scholarmail-backend/pkg/config"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
)

const collectionName = "knowledge-base"

// Client queries the platform knowledge base stored in a Chroma
// collection. Snippets are retrieved by semantic similarity to the inbound
// message and injected into the classifier prompt.
type Client struct {
	client     chroma.Client
	collection chroma.Collection
}

func NewClient(cfg *config.Config) (*Client, error) {
	if cfg.ChromaAPIKey == "" {
		return nil, fmt.Errorf("CHROMA_API_KEY is required")
	}
	if cfg.GeminiAPIKey != "" {
		os.Setenv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	}

	embedFunc, err := gemini.NewGeminiEmbeddingFunction(
		gemini.WithEnvAPIKey(),
		gemini.WithDefaultModel("text-embedding-004"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding function: %w", err)
	}

	var client chroma.Client
	if cfg.ChromaDatabase != "" && cfg.ChromaTenant != "" {
		client, err = chroma.NewHTTPClient(
			chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
			chroma.WithCloudAPIKey(cfg.ChromaAPIKey),
			chroma.WithDatabaseAndTenant(cfg.ChromaDatabase, cfg.ChromaTenant),
		)
	} else {
		client, err = chroma.NewHTTPClient(
			chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
			chroma.WithCloudAPIKey(cfg.ChromaAPIKey),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create chroma client: %w", err)
	}

	collection, err := client.GetOrCreateCollection(
		context.Background(),
		collectionName,
		chroma.WithEmbeddingFunctionCreate(embedFunc),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}

	slog.Info("chroma knowledge base initialized", "collection", collectionName)
	return &Client{client: client, collection: collection}, nil
}

// Query returns up to topK knowledge snippets relevant to text.
func (c *Client) Query(ctx context.Context, text string, topK int) ([]string, error) {
	if len(text) > 10000 {
		text = text[:10000]
	}

	results, err := c.collection.Query(
		ctx,
		chroma.WithQueryTexts(text),
		chroma.WithNResults(topK),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge base: %w", err)
	}
	if results == nil || results.CountGroups() == 0 {
		return []string{}, nil
	}

	docGroups := results.GetDocumentsGroups()
	if len(docGroups) == 0 {
		return []string{}, nil
	}

	snippets := make([]string, 0, len(docGroups[0]))
	for _, doc := range docGroups[0] {
		snippets = append(snippets, doc.ContentString())
	}
	return snippets, nil
}

// Upsert adds or replaces one knowledge snippet, keyed by id.
func (c *Client) Upsert(ctx context.Context, id, text string) error {
	err := c.collection.Upsert(
		ctx,
		chroma.WithIDs(chroma.DocumentID(id)),
		chroma.WithTexts(text),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert knowledge snippet: %w", err)
	}
	return nil
}
