package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/mxschmitt/pg-catalog/internal/catalog"
	"github.com/mxschmitt/pg-catalog/internal/config"
	"github.com/mxschmitt/pg-catalog/internal/metadata"
	"github.com/mxschmitt/pg-catalog/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryStore struct {
	items  map[int]catalog.Item
	nextID int
	err    error
}

func newMemoryStore(seed ...catalog.Item) *memoryStore {
	s := &memoryStore{items: map[int]catalog.Item{}, nextID: 1}
	for _, item := range seed {
		_, _ = s.Create(context.Background(), item)
	}
	return s
}

func (s *memoryStore) Create(_ context.Context, item catalog.Item) (catalog.Item, error) {
	if s.err != nil {
		return catalog.Item{}, s.err
	}
	item.ID = s.nextID
	s.nextID++
	s.items[item.ID] = item
	return item, nil
}

func (s *memoryStore) ListAll(context.Context) ([]catalog.Item, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := []catalog.Item{}
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) Search(ctx context.Context, term string) ([]catalog.Item, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := []catalog.Item{}
	for _, item := range all {
		if strings.Contains(strings.ToLower(item.Title+" "+item.Author), strings.ToLower(term)) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *memoryStore) GetByID(_ context.Context, id int) (catalog.Item, bool, error) {
	if s.err != nil {
		return catalog.Item{}, false, s.err
	}
	item, ok := s.items[id]
	return item, ok, nil
}

func (s *memoryStore) Update(_ context.Context, id int, upd catalog.ItemUpdate) error {
	item := s.items[id]
	if upd.Title != nil && *upd.Title != "" {
		item.Title = *upd.Title
	}
	if upd.Year != nil && *upd.Year != 0 {
		item.Year = *upd.Year
	}
	s.items[id] = item
	return nil
}

func (s *memoryStore) Delete(_ context.Context, id int) error {
	delete(s.items, id)
	return nil
}

func setupServer(t *testing.T, store service.Store) (*Server, *config.Config) {
	t.Helper()

	cfg := &config.Config{
		SnapshotDir:   t.TempDir(),
		TZ:            "UTC",
		RetentionDays: 30,
		DBTimeout:     time.Second,
		ServicePort:   8080,
	}
	svc, err := service.New(cfg, store, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	return New(cfg, svc, zap.NewNop()), cfg
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

var dune = catalog.Item{Title: "Dune", Author: "Frank Herbert", Year: 1965, Genre: "Sci-Fi"}
var warAndPeace = catalog.Item{Title: "War and Peace", Author: "Leo Tolstoy", Year: 1869, Genre: "Novel"}

func TestHealthAndRoot(t *testing.T) {
	s, _ := setupServer(t, newMemoryStore())

	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = do(t, s, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/items/{id}")

	rec = do(t, s, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListItems(t *testing.T) {
	s, _ := setupServer(t, newMemoryStore(dune, warAndPeace))

	rec := do(t, s, http.MethodGet, "/items", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []catalog.Item
	decodeBody(t, rec, &items)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].ID)
	assert.Equal(t, 2, items[1].ID)

	rec = do(t, s, http.MethodGet, "/items?search=WAR", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &items)
	require.Len(t, items, 1)
	assert.Equal(t, "War and Peace", items[0].Title)

	rec = do(t, s, http.MethodGet, "/items?search=xyz123", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestCreateItem(t *testing.T) {
	s, _ := setupServer(t, newMemoryStore())

	rec := do(t, s, http.MethodPost, "/items", `{"title":"Dune","author":"Frank Herbert","year":1965,"genre":"Sci-Fi"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created catalog.Item
	decodeBody(t, rec, &created)
	assert.Equal(t, 1, created.ID)
	assert.Equal(t, "Dune", created.Title)

	tests := []struct {
		name string
		body string
	}{
		{"missing author", `{"title":"Dune","year":1965,"genre":"Sci-Fi"}`},
		{"year out of range", `{"title":"Dune","author":"F","year":999,"genre":"Sci-Fi"}`},
		{"malformed json", `{"title":`},
		{"unknown field", `{"titulo":"Dune"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/items", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body map[string]string
			decodeBody(t, rec, &body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestGetItem(t *testing.T) {
	s, _ := setupServer(t, newMemoryStore(dune))

	rec := do(t, s, http.MethodGet, "/items/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var item catalog.Item
	decodeBody(t, rec, &item)
	assert.Equal(t, "Dune", item.Title)

	rec = do(t, s, http.MethodGet, "/items/42", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/items/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateItem(t *testing.T) {
	s, _ := setupServer(t, newMemoryStore(dune))

	rec := do(t, s, http.MethodPatch, "/items/1", `{"year":1966}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var item catalog.Item
	decodeBody(t, rec, &item)
	assert.Equal(t, 1966, item.Year)
	assert.Equal(t, "Dune", item.Title)

	rec = do(t, s, http.MethodPatch, "/items/1", `{"title":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no fields supplied")

	rec = do(t, s, http.MethodPatch, "/items/9", `{"year":1966}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteItem(t *testing.T) {
	s, _ := setupServer(t, newMemoryStore(dune))

	rec := do(t, s, http.MethodDelete, "/items/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodDelete, "/items/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStorageFailure(t *testing.T) {
	store := newMemoryStore(dune)
	store.err = &catalog.StorageError{Op: "list", Err: errors.New("password authentication failed")}
	s, _ := setupServer(t, store)

	rec := do(t, s, http.MethodGet, "/items", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestSnapshot(t *testing.T) {
	s, cfg := setupServer(t, newMemoryStore(dune))

	rec := do(t, s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_runs_yet")

	rec = do(t, s, http.MethodPost, "/snapshot", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		var status map[string]interface{}
		decodeBody(t, do(t, s, http.MethodGet, "/status", ""), &status)
		return status["last_run"] != nil && status["currently_running"] == false
	}, 5*time.Second, 20*time.Millisecond)

	last, err := metadata.ReadLastRun(cfg.SnapshotDir)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "success", last.Status)
	assert.Equal(t, 1, last.ItemCount)
}

func TestSnapshot_AlreadyRunning(t *testing.T) {
	s, cfg := setupServer(t, newMemoryStore())
	require.NoError(t, metadata.WriteServiceStatus(cfg.SnapshotDir, &metadata.ServiceStatus{Running: true}))

	rec := do(t, s, http.MethodPost, "/snapshot", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodGet, "/snapshot", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// gatedStore holds ListAll until release is closed.
type gatedStore struct {
	*memoryStore
	release chan struct{}
}

func (s *gatedStore) ListAll(ctx context.Context) ([]catalog.Item, error) {
	<-s.release
	return s.memoryStore.ListAll(ctx)
}

func TestSnapshot_OverlappingRequests(t *testing.T) {
	store := &gatedStore{memoryStore: newMemoryStore(dune), release: make(chan struct{})}
	s, cfg := setupServer(t, store)

	rec := do(t, s, http.MethodPost, "/snapshot", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, s, http.MethodPost, "/snapshot", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"Snapshot is already running"}`, rec.Body.String())

	close(store.release)
	require.Eventually(t, func() bool {
		last, err := metadata.ReadLastRun(cfg.SnapshotDir)
		return err == nil && last != nil
	}, 5*time.Second, 20*time.Millisecond)

	last, err := metadata.ReadLastRun(cfg.SnapshotDir)
	require.NoError(t, err)
	assert.Equal(t, "success", last.Status)
	assert.Equal(t, 1, last.ItemCount)
}

func TestRequestID(t *testing.T) {
	s, _ := setupServer(t, newMemoryStore())

	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Len(t, rec.Header().Get("X-Request-Id"), 36)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-Id"))
}

func TestRateLimit(t *testing.T) {
	cfg := &config.Config{
		SnapshotDir:    t.TempDir(),
		TZ:             "UTC",
		RateLimitRPS:   0.001,
		RateLimitBurst: 2,
	}
	svc, err := service.New(cfg, newMemoryStore(), zap.NewNop())
	require.NoError(t, err)
	s := New(cfg, svc, zap.NewNop())

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)

	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"Too many requests"}`, rec.Body.String())
}
