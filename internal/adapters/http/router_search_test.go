package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ndmitriev/recollect/internal/core/domain"
)

type searcherFake struct {
	lastReq domain.SearchRequest
	results []domain.SearchResult
	err     error
}

func (f *searcherFake) Search(_ context.Context, req domain.SearchRequest) ([]domain.SearchResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type ingestorFake struct {
	captured    *domain.Memory
	deletedID   string
	deleteOwner string
	err         error
}

func (f *ingestorFake) CaptureText(_ context.Context, ownerID, text string, tags []string) (*domain.Memory, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.captured = &domain.Memory{
		ID:      "mem-1",
		OwnerID: ownerID,
		Kind:    domain.KindText,
		RawText: text,
		Tags:    tags,
		Status:  domain.StatusCaptured,
	}
	return f.captured, nil
}

func (f *ingestorFake) CaptureUpload(_ context.Context, ownerID, filename, mimeType string, _ io.Reader) (*domain.Memory, error) {
	if f.err != nil {
		return nil, f.err
	}
	kind := domain.KindImage
	if strings.HasPrefix(mimeType, "audio/") {
		kind = domain.KindVoice
	}
	f.captured = &domain.Memory{
		ID:        "mem-2",
		OwnerID:   ownerID,
		Kind:      kind,
		ImagePath: "mem-2_" + filename,
		Status:    domain.StatusCaptured,
	}
	return f.captured, nil
}

func (f *ingestorFake) Delete(_ context.Context, ownerID, memoryID string) error {
	if f.err != nil {
		return f.err
	}
	f.deleteOwner = ownerID
	f.deletedID = memoryID
	return nil
}

type relatedFake struct {
	lastOwner string
	lastID    string
	lastLimit int
	related   []domain.RelatedMemory
	err       error
}

func (f *relatedFake) Related(_ context.Context, ownerID, memoryID string, limit int) ([]domain.RelatedMemory, error) {
	f.lastOwner = ownerID
	f.lastID = memoryID
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.related, nil
}

type recordStoreFake struct {
	memories map[string]*domain.Memory
}

func (f *recordStoreFake) Create(_ context.Context, _ *domain.Memory) error { return nil }

func (f *recordStoreFake) GetByID(_ context.Context, id string) (*domain.Memory, error) {
	mem, ok := f.memories[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrMemoryNotFound, "get memory", errors.New(id))
	}
	return mem, nil
}

func (f *recordStoreFake) UpdateStatus(_ context.Context, _ string, _ domain.MemoryStatus, _ string) error {
	return nil
}

func (f *recordStoreFake) SaveEnrichment(_ context.Context, _ string, _, _ string, _ []string) error {
	return nil
}

func (f *recordStoreFake) SoftDelete(_ context.Context, _, _ string) error { return nil }

type blobStoreFake struct {
	files map[string]string
}

func (f *blobStoreFake) Save(_ context.Context, key string, data io.Reader) error {
	b, _ := io.ReadAll(data)
	if f.files == nil {
		f.files = map[string]string{}
	}
	f.files[key] = string(b)
	return nil
}

func (f *blobStoreFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	content, ok := f.files[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

type routerFixture struct {
	searcher *searcherFake
	ingestor *ingestorFake
	related  *relatedFake
	repo     *recordStoreFake
	storage  *blobStoreFake
	handler  http.Handler
}

func newRouterFixture(options Options) *routerFixture {
	f := &routerFixture{
		searcher: &searcherFake{},
		ingestor: &ingestorFake{},
		related:  &relatedFake{},
		repo:     &recordStoreFake{memories: map[string]*domain.Memory{}},
		storage:  &blobStoreFake{files: map[string]string{}},
	}
	router := NewRouter(
		f.searcher,
		f.ingestor,
		f.related,
		f.repo,
		f.storage,
		domain.DefaultFusionPolicy(),
		options,
	)
	f.handler = router.Handler()
	return f
}

func doRequest(handler http.Handler, method, target, owner string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if owner != "" {
		req.Header.Set(ownerIDHeader, owner)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestSearchRequiresQuery(t *testing.T) {
	f := newRouterFixture(Options{})
	res := doRequest(f.handler, http.MethodGet, "/v1/search", "owner-a", nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without q, got %d", res.Code)
	}
}

func TestSearchRejectsInvalidLimit(t *testing.T) {
	f := newRouterFixture(Options{})
	for _, limit := range []string{"0", "-3", "many"} {
		res := doRequest(f.handler, http.MethodGet, "/v1/search?q=pizza&limit="+limit, "owner-a", nil)
		if res.Code != http.StatusBadRequest {
			t.Errorf("limit=%s expected 400, got %d", limit, res.Code)
		}
	}
}

func TestSearchRejectsUnknownKind(t *testing.T) {
	f := newRouterFixture(Options{})
	res := doRequest(f.handler, http.MethodGet, "/v1/search?q=pizza&kinds=text,video", "owner-a", nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d", res.Code)
	}
}

func TestSearchAppliesDefaultLimitAndOwner(t *testing.T) {
	f := newRouterFixture(Options{})
	res := doRequest(f.handler, http.MethodGet, "/v1/search?q=pizza+party&kinds=text,image", "owner-a", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	req := f.searcher.lastReq
	if req.Query != "pizza party" {
		t.Errorf("unexpected query: %q", req.Query)
	}
	if req.OwnerID != "owner-a" {
		t.Errorf("expected owner from header, got %q", req.OwnerID)
	}
	if req.Limit != domain.DefaultFusionPolicy().DefaultLimit {
		t.Errorf("expected default limit, got %d", req.Limit)
	}
	if len(req.Kinds) != 2 || req.Kinds[0] != domain.KindText || req.Kinds[1] != domain.KindImage {
		t.Errorf("unexpected kinds: %v", req.Kinds)
	}
}

func TestSearchMapsImagePathToURL(t *testing.T) {
	f := newRouterFixture(Options{})
	f.searcher.results = []domain.SearchResult{
		{MemoryID: "mem-1", Kind: domain.KindImage, Score: 0.9, ImagePath: "mem-1_photo.jpg", CreatedAt: time.Now()},
		{MemoryID: "mem-2", Kind: domain.KindText, Score: 0.8, CreatedAt: time.Now()},
	}

	res := doRequest(f.handler, http.MethodGet, "/v1/search?q=beach", "owner-a", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	var resp struct {
		Count   int                   `json:"count"`
		Results []domain.SearchResult `json:"results"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("expected 2 results, got %d", resp.Count)
	}
	if resp.Results[0].ImageURL != "/v1/images/mem-1_photo.jpg" {
		t.Errorf("expected image url, got %q", resp.Results[0].ImageURL)
	}
	if resp.Results[1].ImageURL != "" {
		t.Errorf("expected no image url for text memory, got %q", resp.Results[1].ImageURL)
	}
}

func TestSearchMapsUnauthorizedTo401(t *testing.T) {
	f := newRouterFixture(Options{})
	f.searcher.err = domain.WrapError(domain.ErrUnauthorized, "search", errors.New("missing owner id"))

	res := doRequest(f.handler, http.MethodGet, "/v1/search?q=pizza", "", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestSearchMapsTemporaryTo503(t *testing.T) {
	f := newRouterFixture(Options{})
	f.searcher.err = domain.WrapError(domain.ErrTemporary, "search", errors.New("record store unreachable"))

	res := doRequest(f.handler, http.MethodGet, "/v1/search?q=pizza", "owner-a", nil)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}
