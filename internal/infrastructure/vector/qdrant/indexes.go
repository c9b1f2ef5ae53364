package qdrant

import (
	"context"
	"fmt"

	"github.com/ndmitriev/recollect/internal/core/domain"
	"github.com/ndmitriev/recollect/internal/core/ports"
)

// SemanticIndex answers text queries against the text-embedding collection.
type SemanticIndex struct {
	embedder ports.Embedder
	client   *Client
}

func NewSemanticIndex(embedder ports.Embedder, client *Client) *SemanticIndex {
	return &SemanticIndex{embedder: embedder, client: client}
}

func (s *SemanticIndex) SearchSemantic(ctx context.Context, query string, limit int, minScore float64) ([]domain.Candidate, error) {
	vector, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.client.Search(ctx, domain.SignalSemantic, vector, limit, minScore)
}

// CrossModalIndex answers text queries against the shared text/image space:
// the query is encoded with the same encoder that produced the stored image
// vectors, so text lands in the image collection's space.
type CrossModalIndex struct {
	encoder ports.CrossModalEncoder
	client  *Client
}

func NewCrossModalIndex(encoder ports.CrossModalEncoder, client *Client) *CrossModalIndex {
	return &CrossModalIndex{encoder: encoder, client: client}
}

func (c *CrossModalIndex) SearchCrossModal(ctx context.Context, query string, limit int, minScore float64) ([]domain.Candidate, error) {
	vector, err := c.encoder.EncodeText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	return c.client.Search(ctx, domain.SignalCrossModal, vector, limit, minScore)
}

// Indexer writes memory vectors into both collections during enrichment.
type Indexer struct {
	text  *Client
	image *Client
}

func NewIndexer(text, image *Client) *Indexer {
	return &Indexer{text: text, image: image}
}

func (i *Indexer) IndexText(ctx context.Context, mem *domain.Memory, vector []float32) error {
	return i.text.Upsert(ctx, mem, vector)
}

func (i *Indexer) IndexImage(ctx context.Context, mem *domain.Memory, vector []float32) error {
	return i.image.Upsert(ctx, mem, vector)
}
