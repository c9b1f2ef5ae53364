package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ndmitriev/recollect/internal/core/domain"
	"github.com/ndmitriev/recollect/internal/core/ports"
)

type IngestMemoryUseCase struct {
	repo    ports.MemoryRepository
	storage ports.ObjectStorage
	queue   ports.MessageQueue
}

func NewIngestMemoryUseCase(
	repo ports.MemoryRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
) *IngestMemoryUseCase {
	return &IngestMemoryUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
	}
}

func (uc *IngestMemoryUseCase) CaptureText(ctx context.Context, ownerID, text string, tags []string) (*domain.Memory, error) {
	if ownerID == "" {
		return nil, domain.WrapError(domain.ErrUnauthorized, "capture text", errors.New("missing owner id"))
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "capture text", errors.New("empty text"))
	}
	if tags == nil {
		tags = []string{}
	}

	now := time.Now().UTC()
	mem := &domain.Memory{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Kind:      domain.KindText,
		RawText:   text,
		Tags:      tags,
		Status:    domain.StatusCaptured,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := uc.repo.Create(ctx, mem); err != nil {
		return nil, fmt.Errorf("create memory: %w", err)
	}
	if err := uc.queue.PublishMemoryCaptured(ctx, mem.ID); err != nil {
		return nil, fmt.Errorf("publish capture event: %w", err)
	}
	return mem, nil
}

func (uc *IngestMemoryUseCase) CaptureUpload(
	ctx context.Context,
	ownerID, filename, mimeType string,
	body io.Reader,
) (*domain.Memory, error) {
	if ownerID == "" {
		return nil, domain.WrapError(domain.ErrUnauthorized, "capture upload", errors.New("missing owner id"))
	}

	kind, err := kindFromMime(mimeType)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(filename))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	mem := &domain.Memory{
		ID:        id,
		OwnerID:   ownerID,
		Kind:      kind,
		Tags:      []string{},
		Status:    domain.StatusCaptured,
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch kind {
	case domain.KindVoice:
		mem.AudioPath = storageKey
	case domain.KindImage:
		mem.ImagePath = storageKey
	}

	if err := uc.repo.Create(ctx, mem); err != nil {
		return nil, fmt.Errorf("create memory: %w", err)
	}
	if err := uc.queue.PublishMemoryCaptured(ctx, mem.ID); err != nil {
		return nil, fmt.Errorf("publish capture event: %w", err)
	}
	return mem, nil
}

func (uc *IngestMemoryUseCase) Delete(ctx context.Context, ownerID, memoryID string) error {
	if ownerID == "" {
		return domain.WrapError(domain.ErrUnauthorized, "delete memory", errors.New("missing owner id"))
	}
	if memoryID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "delete memory", errors.New("missing memory id"))
	}
	return uc.repo.SoftDelete(ctx, ownerID, memoryID)
}

func kindFromMime(mimeType string) (domain.MemoryKind, error) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mt, "audio/"):
		return domain.KindVoice, nil
	case strings.HasPrefix(mt, "image/"):
		return domain.KindImage, nil
	default:
		return "", domain.WrapError(domain.ErrInvalidInput, "capture upload", fmt.Errorf("unsupported content type %q", mimeType))
	}
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "memory.bin"
	}
	return base
}
