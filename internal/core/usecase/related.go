package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/ndmitriev/recollect/internal/core/domain"
	"github.com/ndmitriev/recollect/internal/core/ports"
)

// RelatedMemoriesUseCase answers "what else do I remember like this" via the
// SIMILAR_TO edges the enrichment pipeline maintains. The anchor memory is
// loaded first so a caller can never walk another owner's graph.
type RelatedMemoriesUseCase struct {
	repo  ports.MemoryRepository
	graph ports.GraphStore
}

func NewRelatedMemoriesUseCase(repo ports.MemoryRepository, graph ports.GraphStore) *RelatedMemoriesUseCase {
	return &RelatedMemoriesUseCase{repo: repo, graph: graph}
}

func (uc *RelatedMemoriesUseCase) Related(ctx context.Context, ownerID, memoryID string, limit int) ([]domain.RelatedMemory, error) {
	if ownerID == "" {
		return nil, domain.WrapError(domain.ErrUnauthorized, "related memories", errors.New("missing owner id"))
	}
	if memoryID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "related memories", errors.New("missing memory id"))
	}
	if limit <= 0 {
		limit = 5
	}

	anchor, err := uc.repo.GetByID(ctx, memoryID)
	if err != nil {
		return nil, fmt.Errorf("fetch anchor memory: %w", err)
	}
	if anchor.DeletedAt != nil || anchor.OwnerID != ownerID {
		return nil, domain.WrapError(domain.ErrMemoryNotFound, "related memories", errors.New(memoryID))
	}

	related, err := uc.graph.RelatedMemories(ctx, ownerID, memoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("query memory graph: %w", err)
	}
	return related, nil
}
