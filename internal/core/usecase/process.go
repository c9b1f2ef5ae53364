package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ndmitriev/recollect/internal/core/domain"
	"github.com/ndmitriev/recollect/internal/core/ports"
)

// EnrichMetrics receives pipeline observations. A nil recorder disables them.
type EnrichMetrics interface {
	ObserveQueueLag(lag time.Duration)
}

type EnrichOptions struct {
	Metrics EnrichMetrics
}

// similarityLinkFloor is the minimum semantic similarity for a SIMILAR_TO
// graph edge between two memories of the same owner.
const similarityLinkFloor = 0.7

// EnrichMemoryUseCase runs the post-capture pipeline: voice notes are
// transcribed, images captioned and encoded into the shared embedding space,
// everything embedded and indexed, then linked into the owner's memory graph.
type EnrichMemoryUseCase struct {
	repo        ports.MemoryRepository
	storage     ports.ObjectStorage
	transcriber ports.Transcriber
	captioner   ports.Captioner
	embedder    ports.Embedder
	encoder     ports.CrossModalEncoder
	indexer     ports.VectorIndexer
	semantic    ports.SemanticIndex
	graph       ports.GraphStore
	metrics     EnrichMetrics
}

func NewEnrichMemoryUseCase(
	repo ports.MemoryRepository,
	storage ports.ObjectStorage,
	transcriber ports.Transcriber,
	captioner ports.Captioner,
	embedder ports.Embedder,
	encoder ports.CrossModalEncoder,
	indexer ports.VectorIndexer,
	semantic ports.SemanticIndex,
	graph ports.GraphStore,
	opts EnrichOptions,
) *EnrichMemoryUseCase {
	return &EnrichMemoryUseCase{
		repo:        repo,
		storage:     storage,
		transcriber: transcriber,
		captioner:   captioner,
		embedder:    embedder,
		encoder:     encoder,
		indexer:     indexer,
		semantic:    semantic,
		graph:       graph,
		metrics:     opts.Metrics,
	}
}

func (uc *EnrichMemoryUseCase) EnrichByID(ctx context.Context, memoryID string) error {
	if err := uc.repo.UpdateStatus(ctx, memoryID, domain.StatusEnriching, ""); err != nil {
		return fmt.Errorf("set status=enriching: %w", err)
	}

	if err := uc.enrich(ctx, memoryID); err != nil {
		if failErr := uc.repo.UpdateStatus(ctx, memoryID, domain.StatusFailed, err.Error()); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.repo.UpdateStatus(ctx, memoryID, domain.StatusReady, ""); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}
	return nil
}

func (uc *EnrichMemoryUseCase) enrich(ctx context.Context, memoryID string) error {
	mem, err := uc.repo.GetByID(ctx, memoryID)
	if err != nil {
		return fmt.Errorf("fetch memory by id: %w", err)
	}

	// Queue lag comes from the record already loaded for the pipeline; the
	// worker must not issue an extra read just to measure it.
	if uc.metrics != nil && !mem.CreatedAt.IsZero() {
		uc.metrics.ObserveQueueLag(time.Since(mem.CreatedAt))
	}

	switch mem.Kind {
	case domain.KindText:
		mem.ProcessedText = normalizeText(mem.RawText)
	case domain.KindVoice:
		if err := uc.transcribeVoice(ctx, mem); err != nil {
			return err
		}
	case domain.KindImage:
		if err := uc.describeImage(ctx, mem); err != nil {
			return err
		}
	default:
		return domain.WrapError(domain.ErrInvalidInput, "enrich", fmt.Errorf("unknown kind %q", mem.Kind))
	}

	if err := uc.repo.SaveEnrichment(ctx, mem.ID, mem.ProcessedText, mem.Caption, mem.Tags); err != nil {
		return fmt.Errorf("save enrichment: %w", err)
	}

	if err := uc.indexSemantic(ctx, mem); err != nil {
		return err
	}
	if mem.Kind == domain.KindImage {
		if err := uc.indexCrossModal(ctx, mem); err != nil {
			return err
		}
	}

	// Graph maintenance is best-effort: a down graph store must not fail
	// enrichment or block search.
	uc.linkGraph(ctx, mem)
	return nil
}

func (uc *EnrichMemoryUseCase) transcribeVoice(ctx context.Context, mem *domain.Memory) error {
	audio, err := uc.storage.Open(ctx, mem.AudioPath)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer audio.Close()

	transcript, err := uc.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	if strings.TrimSpace(transcript) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "transcribe", errors.New("empty transcript"))
	}
	mem.RawText = transcript
	mem.ProcessedText = normalizeText(transcript)
	return nil
}

func (uc *EnrichMemoryUseCase) describeImage(ctx context.Context, mem *domain.Memory) error {
	image, err := uc.storage.Open(ctx, mem.ImagePath)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer image.Close()

	caption, err := uc.captioner.Caption(ctx, image)
	if err != nil {
		return fmt.Errorf("caption image: %w", err)
	}
	mem.Caption = strings.TrimSpace(caption)
	mem.ProcessedText = normalizeText(mem.Caption)
	return nil
}

func (uc *EnrichMemoryUseCase) indexSemantic(ctx context.Context, mem *domain.Memory) error {
	text := mem.DisplayText()
	if text == "" {
		return nil
	}
	vector, err := uc.embedder.EmbedText(ctx, text)
	if err != nil {
		return fmt.Errorf("embed text: %w", err)
	}
	if err := uc.indexer.IndexText(ctx, mem, vector); err != nil {
		return fmt.Errorf("index semantic: %w", err)
	}
	return nil
}

func (uc *EnrichMemoryUseCase) indexCrossModal(ctx context.Context, mem *domain.Memory) error {
	image, err := uc.storage.Open(ctx, mem.ImagePath)
	if err != nil {
		return fmt.Errorf("open image for encoding: %w", err)
	}
	defer image.Close()

	vector, err := uc.encoder.EncodeImage(ctx, image)
	if err != nil {
		return fmt.Errorf("encode image: %w", err)
	}
	if err := uc.indexer.IndexImage(ctx, mem, vector); err != nil {
		return fmt.Errorf("index cross-modal: %w", err)
	}
	return nil
}

func (uc *EnrichMemoryUseCase) linkGraph(ctx context.Context, mem *domain.Memory) {
	if uc.graph == nil {
		return
	}
	if err := uc.graph.UpsertMemoryNode(ctx, mem); err != nil {
		slog.Warn("graph_upsert_failed", "memory_id", mem.ID, "error", err)
		return
	}

	text := mem.DisplayText()
	if text == "" {
		return
	}
	similar, err := uc.semantic.SearchSemantic(ctx, text, 5, similarityLinkFloor)
	if err != nil {
		slog.Warn("graph_similarity_search_failed", "memory_id", mem.ID, "error", err)
		return
	}
	for _, cand := range similar {
		if cand.MemoryID == mem.ID {
			continue
		}
		other, err := uc.repo.GetByID(ctx, cand.MemoryID)
		if err != nil || other.DeletedAt != nil || other.OwnerID != mem.OwnerID {
			continue
		}
		if err := uc.graph.LinkSimilar(ctx, mem.ID, other.ID, cand.Score); err != nil {
			slog.Warn("graph_link_failed", "memory_id", mem.ID, "other_id", other.ID, "error", err)
		}
	}
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
