package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/docrag/internal/ai"
	"github.com/xxxsen/docrag/internal/chunker"
	"github.com/xxxsen/docrag/internal/config"
	"github.com/xxxsen/docrag/internal/extract"
	"github.com/xxxsen/docrag/internal/filestore"
	"github.com/xxxsen/docrag/internal/handler"
	"github.com/xxxsen/docrag/internal/middleware"
	"github.com/xxxsen/docrag/internal/model"
	"github.com/xxxsen/docrag/internal/service"
	"github.com/xxxsen/docrag/internal/vectorindex"
)

const testDim = 32

type wordEmbedder struct {
	calls atomic.Int32
}

func (w *wordEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	res, err := w.EmbedBatch(ctx, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

func (w *wordEmbedder) EmbedBatch(_ context.Context, texts []string, _ string) ([][]float32, error) {
	w.calls.Add(1)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, testDim)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			f := fnv.New32a()
			_, _ = f.Write([]byte(word))
			vec[f.Sum32()%testDim]++
		}
		out[i] = vec
	}
	return out, nil
}

func (w *wordEmbedder) Dimension() int    { return testDim }
func (w *wordEmbedder) ModelName() string { return "words" }

// textExtractor treats the upload body as a single page.
type textExtractor struct{}

func (textExtractor) Extract(_ context.Context, _ string, content []byte) ([]model.Page, error) {
	return []model.Page{{Number: 1, Text: string(content)}}, nil
}

type markdownGenerator struct{}

func (markdownGenerator) Generate(_ context.Context, _ string) (string, error) {
	return "**Paris** is the capital.", nil
}

type countingIndex struct {
	vectorindex.Index
	searches atomic.Int32
}

func (c *countingIndex) Search(ctx context.Context, query []float32, k int) ([]model.ScoredChunk, error) {
	c.searches.Add(1)
	return c.Index.Search(ctx, query, k)
}

type testServer struct {
	router   http.Handler
	embedder *wordEmbedder
	index    *countingIndex
	docsDir  string
}

func setupRouter(t *testing.T) *testServer {
	t.Helper()
	return setupRouterWithStore(t, nil)
}

// setupRouterWithStore lets a test wrap the local file store.
func setupRouterWithStore(t *testing.T, wrap func(filestore.Store) filestore.Store) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	idx, err := vectorindex.OpenBolt(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	docsDir := filepath.Join(dir, "docs")
	store, err := filestore.New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": docsDir}})
	require.NoError(t, err)
	if wrap != nil {
		store = wrap(store)
	}
	ch, err := chunker.New(200, 40, nil)
	require.NoError(t, err)
	extractors := extract.NewSet(config.ExtractorConfig{Timeout: 5})
	extractors.Register(model.FileTypePDF, textExtractor{})
	extractors.Register(model.FileTypeDOCX, textExtractor{})

	ts := &testServer{
		embedder: &wordEmbedder{},
		index:    &countingIndex{Index: idx},
		docsDir:  docsDir,
	}
	svc := service.NewRAGService(service.RAGDeps{
		Chunker:      ch,
		Embedder:     ts.embedder,
		Index:        ts.index,
		Store:        store,
		Extractors:   extractors,
		Synthesizer:  ai.NewSynthesizer(markdownGenerator{}, time.Second),
		TopK:         4,
		EmbedTimeout: time.Second,
	})
	deps := handler.RouterDeps{
		RAG: handler.NewRAGHandler(svc, 1024*1024),
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS([]string{"http://localhost:3004"}),
		),
	)
	require.NoError(t, err)
	ts.router = engine
	return ts
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (ts *testServer) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	resp := httptest.NewRecorder()
	ts.router.ServeHTTP(resp, req)
	var env envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env), resp.Body.String())
	return resp, env
}

func (ts *testServer) upload(t *testing.T, filename string, content []byte) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return ts.do(t, req)
}

func (ts *testServer) storedFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(ts.docsDir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
