package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docintel/internal/adapter/cache"
	"docintel/internal/adapter/chunker"
	"docintel/internal/adapter/embedding"
	"docintel/internal/adapter/index"
	"docintel/internal/adapter/store"
	"docintel/internal/domain"
	"docintel/internal/usecase"
)

type fixedGenerator struct{}

func (fixedGenerator) Generate(_ context.Context, question string, grounding domain.Context) (string, error) {
	if len(grounding.Snippets) == 0 {
		return "I don't know.", nil
	}
	return "grounded answer", nil
}

func (fixedGenerator) ModelName() string { return "fixed" }

func newTestServer(t *testing.T) (*Server, *usecase.Coordinator) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	embedder := embedding.NewFakeEmbedder(64)
	idx, err := index.NewMemoryIndex(embedder.Dimension())
	require.NoError(t, err)
	chk, err := chunker.NewTextChunker(200, 40)
	require.NoError(t, err)

	logger := zap.NewNop()
	coordinator := usecase.NewCoordinator(s, idx, chk, embedder, logger, 2, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		coordinator.Shutdown(ctx)
	})

	retriever := usecase.NewRetriever(embedder, idx, s, cache.NewQueryCache(10, time.Minute), logger)
	asker := usecase.NewAsker(retriever, fixedGenerator{}, logger, 3, 4000)

	srv, err := NewServer(coordinator, retriever, asker, logger, &Config{
		Host:      "localhost",
		Port:      0,
		UploadDir: t.TempDir(),
	})
	require.NoError(t, err)
	return srv, coordinator
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func awaitIndexed(t *testing.T, coordinator *usecase.Coordinator, docID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		doc, err := coordinator.Status(docID)
		require.NoError(t, err)
		if doc.Status.Terminal() {
			require.Equal(t, domain.StatusIndexed, doc.Status, "ingestion failed: %s", doc.Error)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("document never reached a terminal status")
}

func TestNewServer(t *testing.T) {
	t.Run("returns error when coordinator is nil", func(t *testing.T) {
		_, err := NewServer(nil, &usecase.Retriever{}, nil, zap.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "coordinator cannot be nil")
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		srv, _ := newTestServer(t)
		_, err := NewServer(srv.coordinator, srv.retriever, nil, nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestSubmitValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/documents", SubmitRequest{Name: "x.txt"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/documents", SubmitRequest{Content: "text"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitSearchAskFlow(t *testing.T) {
	srv, coordinator := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/documents", SubmitRequest{
		Name:    "ml.txt",
		Content: "Machine learning is the study of algorithms that learn from data and improve with experience.",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var doc domain.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.NotEmpty(t, doc.ID)
	assert.Equal(t, domain.StatusPending, doc.Status)

	awaitIndexed(t, coordinator, doc.ID)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/documents/"+doc.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/search", SearchRequest{Query: "machine learning", K: 3})
	require.Equal(t, http.StatusOK, rec.Code)
	var search SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &search))
	require.NotEmpty(t, search.Results)
	assert.Equal(t, doc.ID, search.Results[0].DocID)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/qa", AskRequest{Question: "what is machine learning"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "grounded answer")

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"documents":1`)
}

func TestMultipartUpload(t *testing.T) {
	srv, coordinator := newTestServer(t)

	var buf bytes.Buffer
	boundary := "testboundary"
	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Disposition: form-data; name=\"file\"; filename=\"notes.txt\"\r\n")
	fmt.Fprintf(&buf, "Content-Type: text/plain\r\n\r\n")
	fmt.Fprintf(&buf, "Vector databases store embeddings for similarity search.\r\n")
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var doc domain.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "notes.txt", doc.Name)
	awaitIndexed(t, coordinator, doc.ID)
}

func TestNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/documents/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/documents/missing/reingest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelete(t *testing.T) {
	srv, coordinator := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/documents", SubmitRequest{
		Name:    "tmp.txt",
		Content: "A short document that will be removed.",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var doc domain.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	awaitIndexed(t, coordinator, doc.ID)

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/documents/"+doc.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/documents/"+doc.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/search", SearchRequest{Query: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchEmptyIndex(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/search", SearchRequest{Query: "anything", K: 5})
	require.Equal(t, http.StatusOK, rec.Code)
	var search SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &search))
	assert.Empty(t, search.Results)
}

func TestAskUnconfigured(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.asker = nil

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/qa", AskRequest{Question: "anything"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReingestConflict(t *testing.T) {
	srv, coordinator := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/documents", SubmitRequest{
		Name:    "long.txt",
		Content: strings.Repeat("A paragraph about indexing pipelines and document lifecycles.\n\n", 20),
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var doc domain.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	awaitIndexed(t, coordinator, doc.ID)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/documents/"+doc.ID+"/reingest", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	awaitIndexed(t, coordinator, doc.ID)
}
