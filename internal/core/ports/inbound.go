package ports

import (
	"context"
	"io"

	"github.com/ndmitriev/recollect/internal/core/domain"
)

// MemorySearcher is the hybrid retrieval engine contract.
type MemorySearcher interface {
	Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchResult, error)
}

// MemoryIngestor captures new memories.
type MemoryIngestor interface {
	CaptureText(ctx context.Context, ownerID, text string, tags []string) (*domain.Memory, error)
	CaptureUpload(ctx context.Context, ownerID, filename, mimeType string, body io.Reader) (*domain.Memory, error)
	Delete(ctx context.Context, ownerID, memoryID string) error
}

// MemoryEnricher runs the post-capture pipeline for one memory.
type MemoryEnricher interface {
	EnrichByID(ctx context.Context, memoryID string) error
}

// RelatedMemoryFinder answers graph-backed related-memory lookups.
type RelatedMemoryFinder interface {
	Related(ctx context.Context, ownerID, memoryID string, limit int) ([]domain.RelatedMemory, error)
}
