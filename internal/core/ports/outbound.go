package ports

import (
	"context"
	"io"

	"github.com/ndmitriev/recollect/internal/core/domain"
)

// MemoryRepository persists memories and is the authoritative record store
// for ownership checks.
type MemoryRepository interface {
	Create(ctx context.Context, mem *domain.Memory) error
	GetByID(ctx context.Context, id string) (*domain.Memory, error)
	UpdateStatus(ctx context.Context, id string, status domain.MemoryStatus, errMessage string) error
	SaveEnrichment(ctx context.Context, id string, processedText, caption string, tags []string) error
	SoftDelete(ctx context.Context, ownerID, id string) error
}

// LexicalIndex returns keyword candidates already scoped to one owner. The
// owner predicate must be joined by AND with the content predicates inside
// the implementation; candidates it returns are trusted as owner-correct.
type LexicalIndex interface {
	SearchLexical(ctx context.Context, query, ownerID string, limit int) ([]domain.Candidate, error)
}

// SemanticIndex performs text-embedding similarity search. It has no owner
// awareness; its candidates must be re-validated before use.
type SemanticIndex interface {
	SearchSemantic(ctx context.Context, query string, limit int, minScore float64) ([]domain.Candidate, error)
}

// CrossModalIndex compares the query text against stored images in a shared
// embedding space. No owner awareness; candidates must be re-validated.
type CrossModalIndex interface {
	SearchCrossModal(ctx context.Context, query string, limit int, minScore float64) ([]domain.Candidate, error)
}

// VectorIndexer writes memory vectors into the semantic and cross-modal
// collections.
type VectorIndexer interface {
	IndexText(ctx context.Context, mem *domain.Memory, vector []float32) error
	IndexImage(ctx context.Context, mem *domain.Memory, vector []float32) error
}

// Embedder builds text vectors for the semantic collection.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// CrossModalEncoder encodes queries and stored images into the shared
// text/image embedding space.
type CrossModalEncoder interface {
	EncodeText(ctx context.Context, text string) ([]float32, error)
	EncodeImage(ctx context.Context, image io.Reader) ([]float32, error)
}

// Transcriber turns stored voice notes into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader) (string, error)
}

// Captioner produces a short caption for a stored image.
type Captioner interface {
	Caption(ctx context.Context, image io.Reader) (string, error)
}

// GraphStore maintains the memory graph and answers related-memory queries.
type GraphStore interface {
	UpsertMemoryNode(ctx context.Context, mem *domain.Memory) error
	LinkSimilar(ctx context.Context, memoryID, otherID string, similarity float64) error
	RelatedMemories(ctx context.Context, ownerID, memoryID string, limit int) ([]domain.RelatedMemory, error)
}

// ObjectStorage stores uploaded image and audio payloads.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes memory enrichment events.
type MessageQueue interface {
	PublishMemoryCaptured(ctx context.Context, memoryID string) error
	SubscribeMemoryCaptured(ctx context.Context, handler func(context.Context, string) error) error
}
