package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ndmitriev/recollect/internal/core/domain"
)

type lexicalFake struct {
	candidates []domain.Candidate
	err        error
	gotOwner   string
	gotLimit   int
}

func (f *lexicalFake) SearchLexical(_ context.Context, _ string, ownerID string, limit int) ([]domain.Candidate, error) {
	f.gotOwner = ownerID
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

type semanticFake struct {
	candidates []domain.Candidate
	err        error
	gotLimit   int
	gotFloor   float64
}

func (f *semanticFake) SearchSemantic(_ context.Context, _ string, limit int, minScore float64) ([]domain.Candidate, error) {
	f.gotLimit = limit
	f.gotFloor = minScore
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

type crossModalFake struct {
	candidates []domain.Candidate
	err        error
}

func (f *crossModalFake) SearchCrossModal(_ context.Context, _ string, _ int, _ float64) ([]domain.Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

type repoFake struct {
	memories map[string]*domain.Memory
}

func (f *repoFake) Create(context.Context, *domain.Memory) error { return nil }
func (f *repoFake) UpdateStatus(context.Context, string, domain.MemoryStatus, string) error {
	return nil
}
func (f *repoFake) SaveEnrichment(context.Context, string, string, string, []string) error {
	return nil
}
func (f *repoFake) SoftDelete(context.Context, string, string) error { return nil }
func (f *repoFake) GetByID(_ context.Context, id string) (*domain.Memory, error) {
	mem, ok := f.memories[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrMemoryNotFound, "get memory", errors.New(id))
	}
	return mem, nil
}

func ownedMemory(id, ownerID, text string, kind domain.MemoryKind, createdAt time.Time) *domain.Memory {
	return &domain.Memory{
		ID:        id,
		OwnerID:   ownerID,
		Kind:      kind,
		RawText:   text,
		Status:    domain.StatusReady,
		CreatedAt: createdAt,
	}
}

func cand(id string, signal domain.Signal, score float64) domain.Candidate {
	return domain.Candidate{MemoryID: id, Signal: signal, Score: score}
}

func newEngine(lex *lexicalFake, sem *semanticFake, xm *crossModalFake, repo *repoFake) *SearchUseCase {
	return NewSearchUseCase(lex, sem, xm, repo, SearchOptions{})
}

func TestSearchNeverLeaksAcrossOwners(t *testing.T) {
	now := time.Now()
	repo := &repoFake{memories: map[string]*domain.Memory{
		"mine":   ownedMemory("mine", "owner-a", "I love pizza", domain.KindText, now),
		"theirs": ownedMemory("theirs", "owner-b", "pizza party", domain.KindText, now),
	}}
	lex := &lexicalFake{candidates: []domain.Candidate{
		cand("mine", domain.SignalLexical, 0.9),
	}}
	// The semantic index is not owner aware and returns owner-b's memory too.
	sem := &semanticFake{candidates: []domain.Candidate{
		cand("mine", domain.SignalSemantic, 0.7),
		cand("theirs", domain.SignalSemantic, 0.95),
	}}
	xm := &crossModalFake{}

	results, err := newEngine(lex, sem, xm, repo).Search(context.Background(), domain.SearchRequest{
		Query: "pizza", OwnerID: "owner-a", Limit: 10,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly 1 result, got %d", len(results))
	}
	if results[0].MemoryID != "mine" {
		t.Fatalf("expected owner-a result, got %s", results[0].MemoryID)
	}
	if lex.gotOwner != "owner-a" {
		t.Fatalf("lexical index queried with owner %q", lex.gotOwner)
	}
}

func TestSearchIgnoresOwnerHintFromIndexPayload(t *testing.T) {
	now := time.Now()
	repo := &repoFake{memories: map[string]*domain.Memory{
		"spoofed": ownedMemory("spoofed", "owner-b", "secret note", domain.KindText, now),
	}}
	sem := &semanticFake{candidates: []domain.Candidate{
		// Payload claims owner-a; the stored record says owner-b.
		{MemoryID: "spoofed", Signal: domain.SignalSemantic, Score: 0.9, OwnerHint: "owner-a"},
	}}

	results, err := newEngine(&lexicalFake{}, sem, &crossModalFake{}, repo).Search(context.Background(), domain.SearchRequest{
		Query: "secret", OwnerID: "owner-a", Limit: 10,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("spoofed owner hint leaked a foreign memory: %+v", results)
	}
}

func TestSearchDropsCandidatesForMissingRecords(t *testing.T) {
	repo := &repoFake{memories: map[string]*domain.Memory{}}
	sem := &semanticFake{candidates: []domain.Candidate{
		cand("ghost", domain.SignalSemantic, 0.9),
	}}

	results, err := newEngine(&lexicalFake{}, sem, &crossModalFake{}, repo).Search(context.Background(), domain.SearchRequest{
		Query: "anything", OwnerID: "owner-a", Limit: 10,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected tombstoned candidate to be dropped, got %d results", len(results))
	}
}

func TestSearchDropsSoftDeletedMemories(t *testing.T) {
	now := time.Now()
	deleted := ownedMemory("gone", "owner-a", "old note", domain.KindText, now)
	deleted.DeletedAt = &now
	repo := &repoFake{memories: map[string]*domain.Memory{"gone": deleted}}
	sem := &semanticFake{candidates: []domain.Candidate{
		cand("gone", domain.SignalSemantic, 0.9),
	}}

	results, err := newEngine(&lexicalFake{}, sem, &crossModalFake{}, repo).Search(context.Background(), domain.SearchRequest{
		Query: "old", OwnerID: "owner-a", Limit: 10,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected soft-deleted memory to be dropped, got %d results", len(results))
	}
}

func TestSearchDegradesWhenOneSignalFails(t *testing.T) {
	now := time.Now()
	repo := &repoFake{memories: map[string]*domain.Memory{
		"keyword": ownedMemory("keyword", "owner-a", "pizza note", domain.KindText, now),
		"visual":  ownedMemory("visual", "owner-a", "", domain.KindImage, now),
	}}
	lex := &lexicalFake{candidates: []domain.Candidate{
		cand("keyword", domain.SignalLexical, 0.9),
	}}
	sem := &semanticFake{err: errors.New("vector index unavailable")}
	xm := &crossModalFake{candidates: []domain.Candidate{
		cand("visual", domain.SignalCrossModal, 0.5),
	}}

	results, err := newEngine(lex, sem, xm, repo).Search(context.Background(), domain.SearchRequest{
		Query: "pizza", OwnerID: "owner-a", Limit: 10,
	})
	if err != nil {
		t.Fatalf("expected graceful degradation, got error %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected results from the two healthy signals, got %d", len(results))
	}
	for _, r := range results {
		if r.MatchedBy(domain.SignalSemantic) {
			t.Fatalf("failed signal must contribute zero candidates: %+v", r)
		}
	}
}

func TestSearchSemanticOnlyMatchVanishesWhenSemanticFails(t *testing.T) {
	now := time.Now()
	repo := &repoFake{memories: map[string]*domain.Memory{
		"semonly": ownedMemory("semonly", "owner-a", "note", domain.KindText, now),
	}}
	sem := &semanticFake{err: errors.New("down")}

	results, err := newEngine(&lexicalFake{}, sem, &crossModalFake{}, repo).Search(context.Background(), domain.SearchRequest{
		Query: "note", OwnerID: "owner-a", Limit: 10,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected zero results, got %d", len(results))
	}
}

func TestSearchEnforcesPerSignalFloors(t *testing.T) {
	now := time.Now()
	repo := &repoFake{memories: map[string]*domain.Memory{
		"above": ownedMemory("above", "owner-a", "", domain.KindImage, now),
		"below": ownedMemory("below", "owner-a", "", domain.KindImage, now),
	}}
	xm := &crossModalFake{candidates: []domain.Candidate{
		cand("above", domain.SignalCrossModal, 0.5),
		// Below the 0.25 cross-modal floor even if the index returned it.
		cand("below", domain.SignalCrossModal, 0.2),
	}}

	results, err := newEngine(&lexicalFake{}, &semanticFake{}, xm, repo).Search(context.Background(), domain.SearchRequest{
		Query: "sunset", OwnerID: "owner-a", Limit: 10,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].MemoryID != "above" {
		t.Fatalf("expected above-floor image, got %s", results[0].MemoryID)
	}
	if !almostEqual(results[0].Score, 0.375) {
		t.Fatalf("cross-modal fused score = %v, want 0.375", results[0].Score)
	}
}

func TestSearchFiltersByAllowedKinds(t *testing.T) {
	now := time.Now()
	repo := &repoFake{memories: map[string]*domain.Memory{
		"note": ownedMemory("note", "owner-a", "beach trip", domain.KindText, now),
		"pic":  ownedMemory("pic", "owner-a", "", domain.KindImage, now),
	}}
	lex := &lexicalFake{candidates: []domain.Candidate{
		cand("note", domain.SignalLexical, 0.9),
	}}
	xm := &crossModalFake{candidates: []domain.Candidate{
		cand("pic", domain.SignalCrossModal, 0.6),
	}}

	results, err := newEngine(lex, &semanticFake{}, xm, repo).Search(context.Background(), domain.SearchRequest{
		Query: "beach", OwnerID: "owner-a", Limit: 10,
		Kinds: []domain.MemoryKind{domain.KindImage},
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].MemoryID != "pic" {
		t.Fatalf("expected only the image result, got %+v", results)
	}
}

func TestSearchRejectsInvalidInput(t *testing.T) {
	engine := newEngine(&lexicalFake{}, &semanticFake{}, &crossModalFake{}, &repoFake{})

	cases := []struct {
		name string
		req  domain.SearchRequest
		kind error
	}{
		{"empty query", domain.SearchRequest{Query: "   ", OwnerID: "owner-a", Limit: 10}, domain.ErrInvalidInput},
		{"zero limit", domain.SearchRequest{Query: "q", OwnerID: "owner-a", Limit: 0}, domain.ErrInvalidInput},
		{"negative limit", domain.SearchRequest{Query: "q", OwnerID: "owner-a", Limit: -3}, domain.ErrInvalidInput},
		{"bad kind", domain.SearchRequest{Query: "q", OwnerID: "owner-a", Limit: 10, Kinds: []domain.MemoryKind{"video"}}, domain.ErrInvalidInput},
		{"missing owner", domain.SearchRequest{Query: "q", Limit: 10}, domain.ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Search(context.Background(), tc.req)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !domain.IsKind(err, tc.kind) {
				t.Fatalf("expected kind %v, got %v", tc.kind, err)
			}
		})
	}
}

func TestSearchCancelledContextReturnsSingleError(t *testing.T) {
	now := time.Now()
	repo := &repoFake{memories: map[string]*domain.Memory{
		"note": ownedMemory("note", "owner-a", "pizza", domain.KindText, now),
	}}
	lex := &lexicalFake{candidates: []domain.Candidate{
		cand("note", domain.SignalLexical, 0.9),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := newEngine(lex, &semanticFake{}, &crossModalFake{}, repo).Search(ctx, domain.SearchRequest{
		Query: "pizza", OwnerID: "owner-a", Limit: 10,
	})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if results != nil {
		t.Fatalf("cancelled query must not return partial results")
	}
}

func TestSearchCandidatePoolAndFloorsPassedToIndexes(t *testing.T) {
	sem := &semanticFake{}
	lex := &lexicalFake{}
	engine := newEngine(lex, sem, &crossModalFake{}, &repoFake{})

	if _, err := engine.Search(context.Background(), domain.SearchRequest{
		Query: "q", OwnerID: "owner-a", Limit: 10,
	}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if sem.gotLimit != 20 {
		t.Fatalf("expected semantic pool 2x limit = 20, got %d", sem.gotLimit)
	}
	if !almostEqual(sem.gotFloor, 0.40) {
		t.Fatalf("expected semantic floor 0.40, got %v", sem.gotFloor)
	}
	if lex.gotLimit != 10 {
		t.Fatalf("expected lexical limit 10, got %d", lex.gotLimit)
	}
}

func TestSearchClampsLimitToPolicyMax(t *testing.T) {
	lex := &lexicalFake{}
	engine := newEngine(lex, &semanticFake{}, &crossModalFake{}, &repoFake{})

	if _, err := engine.Search(context.Background(), domain.SearchRequest{
		Query: "q", OwnerID: "owner-a", Limit: 500,
	}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if lex.gotLimit != domain.DefaultFusionPolicy().MaxLimit {
		t.Fatalf("expected limit clamped to %d, got %d", domain.DefaultFusionPolicy().MaxLimit, lex.gotLimit)
	}
}

func TestSearchMergesSignalsForSameMemory(t *testing.T) {
	now := time.Now()
	repo := &repoFake{memories: map[string]*domain.Memory{
		"both": ownedMemory("both", "owner-a", "pizza night", domain.KindText, now),
	}}
	lex := &lexicalFake{candidates: []domain.Candidate{
		cand("both", domain.SignalLexical, 0.8),
	}}
	sem := &semanticFake{candidates: []domain.Candidate{
		cand("both", domain.SignalSemantic, 0.7),
	}}

	results, err := newEngine(lex, sem, &crossModalFake{}, repo).Search(context.Background(), domain.SearchRequest{
		Query: "pizza", OwnerID: "owner-a", Limit: 10,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("streams must merge, not concatenate: got %d results", len(results))
	}
	r := results[0]
	if !r.MatchedBy(domain.SignalLexical) || !r.MatchedBy(domain.SignalSemantic) {
		t.Fatalf("expected both signals recorded, got %v", r.Signals)
	}
	if !almostEqual(r.Score, 0.74) {
		t.Fatalf("fused score = %v, want 0.74", r.Score)
	}
}
