package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ndmitriev/recollect/internal/core/domain"
	"github.com/ndmitriev/recollect/internal/core/ports"
)

// SearchMetrics receives engine-internal observations. Implementations must
// be safe for concurrent use.
type SearchMetrics interface {
	RecordSignalError(signal domain.Signal)
	RecordOwnerDrop(signal domain.Signal)
}

type SearchOptions struct {
	Policy domain.FusionPolicy
	// LookupConcurrency bounds concurrent record-store lookups during owner
	// validation.
	LookupConcurrency int
	Metrics           SearchMetrics
}

// SearchUseCase is the hybrid retrieval engine: it fans out to the lexical,
// semantic and cross-modal indexes, re-validates every candidate against the
// stored memory's owner, fuses per-signal scores into one relevance number
// per memory and returns the bounded ranked list.
//
// The engine is stateless per query; nothing survives one Search call.
type SearchUseCase struct {
	lexical    ports.LexicalIndex
	semantic   ports.SemanticIndex
	crossModal ports.CrossModalIndex
	repo       ports.MemoryRepository

	policy            domain.FusionPolicy
	lookupConcurrency int
	metrics           SearchMetrics
}

func NewSearchUseCase(
	lexical ports.LexicalIndex,
	semantic ports.SemanticIndex,
	crossModal ports.CrossModalIndex,
	repo ports.MemoryRepository,
	opts SearchOptions,
) *SearchUseCase {
	policy := opts.Policy.Normalize()
	concurrency := opts.LookupConcurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &SearchUseCase{
		lexical:           lexical,
		semantic:          semantic,
		crossModal:        crossModal,
		repo:              repo,
		policy:            policy,
		lookupConcurrency: concurrency,
		metrics:           opts.Metrics,
	}
}

func (uc *SearchUseCase) Policy() domain.FusionPolicy {
	return uc.policy
}

func (uc *SearchUseCase) Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("empty query"))
	}
	if req.OwnerID == "" {
		return nil, domain.WrapError(domain.ErrUnauthorized, "search", errors.New("missing owner id"))
	}
	if req.Limit <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("non-positive limit"))
	}
	limit := req.Limit
	if limit > uc.policy.MaxLimit {
		limit = uc.policy.MaxLimit
	}
	allowedKinds, err := allowedKindSet(req.Kinds)
	if err != nil {
		return nil, err
	}

	candidates, err := uc.collectCandidates(ctx, query, req.OwnerID, limit)
	if err != nil {
		return nil, err
	}

	fused, err := uc.validateOwnership(ctx, req.OwnerID, allowedKinds, candidates)
	if err != nil {
		return nil, err
	}

	return rankFused(uc.policy, fused, limit), nil
}

// collectCandidates queries the three signals concurrently. A failing signal
// contributes zero candidates and never fails the query; only context
// cancellation does.
func (uc *SearchUseCase) collectCandidates(ctx context.Context, query, ownerID string, limit int) ([]domain.Candidate, error) {
	pool := limit * uc.policy.CandidateMultiplier

	var mu sync.Mutex
	var candidates []domain.Candidate
	collect := func(signal domain.Signal, found []domain.Candidate, err error) {
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("search_signal_failed", "signal", string(signal), "error", err)
				if uc.metrics != nil {
					uc.metrics.RecordSignalError(signal)
				}
			}
			return
		}
		mu.Lock()
		candidates = append(candidates, found...)
		mu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		found, err := uc.lexical.SearchLexical(ctx, query, ownerID, limit)
		collect(domain.SignalLexical, found, err)
		return nil
	})
	g.Go(func() error {
		found, err := uc.semantic.SearchSemantic(ctx, query, pool, uc.policy.SemanticFloor)
		collect(domain.SignalSemantic, found, err)
		return nil
	})
	g.Go(func() error {
		found, err := uc.crossModal.SearchCrossModal(ctx, query, pool, uc.policy.CrossModalFloor)
		collect(domain.SignalCrossModal, found, err)
		return nil
	})
	_ = g.Wait()

	// A cancelled query yields one terminal error, never partial results.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return candidates, nil
}

// validateOwnership is the isolation gate. Every candidate is checked against
// the stored memory's own owner id before it may influence scoring. The
// index payload's owner hint is never trusted, and the check runs for lexical
// candidates too as an independent second net behind the repository's AND
// predicate. Lookups are deduplicated per memory id and bounded by the
// configured concurrency.
func (uc *SearchUseCase) validateOwnership(
	ctx context.Context,
	ownerID string,
	allowedKinds map[domain.MemoryKind]struct{},
	candidates []domain.Candidate,
) (map[string]*fusedCandidate, error) {
	byID := make(map[string][]domain.Candidate, len(candidates))
	for _, c := range candidates {
		if c.MemoryID == "" {
			continue
		}
		if c.Score < uc.policy.SignalFloor(c.Signal) {
			continue
		}
		byID[c.MemoryID] = append(byID[c.MemoryID], c)
	}

	var mu sync.Mutex
	fused := make(map[string]*fusedCandidate, len(byID))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.lookupConcurrency)
	for id, group := range byID {
		g.Go(func() error {
			mem, err := uc.repo.GetByID(gctx, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if domain.IsKind(err, domain.ErrMemoryNotFound) {
					// Tombstoned or deleted since indexing.
					return nil
				}
				slog.Warn("owner_validation_lookup_failed", "memory_id", id, "error", err)
				return nil
			}
			if mem.DeletedAt != nil {
				return nil
			}
			if mem.OwnerID != ownerID {
				if uc.metrics != nil {
					for _, c := range group {
						uc.metrics.RecordOwnerDrop(c.Signal)
					}
				}
				return nil
			}
			if _, ok := allowedKinds[mem.Kind]; !ok {
				return nil
			}

			fc := &fusedCandidate{memory: mem}
			for _, c := range group {
				fc.addSignal(c.Signal, c.Score)
			}
			mu.Lock()
			fused[id] = fc
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fused, nil
}

func allowedKindSet(kinds []domain.MemoryKind) (map[domain.MemoryKind]struct{}, error) {
	out := make(map[domain.MemoryKind]struct{}, 3)
	if len(kinds) == 0 {
		out[domain.KindText] = struct{}{}
		out[domain.KindVoice] = struct{}{}
		out[domain.KindImage] = struct{}{}
		return out, nil
	}
	for _, k := range kinds {
		if _, ok := domain.ParseMemoryKind(string(k)); !ok {
			return nil, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("invalid kind: "+string(k)))
		}
		out[k] = struct{}{}
	}
	return out, nil
}
