package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docrag/internal/ai"
	"github.com/xxxsen/docrag/internal/chunker"
	"github.com/xxxsen/docrag/internal/config"
	"github.com/xxxsen/docrag/internal/extract"
	"github.com/xxxsen/docrag/internal/filestore"
	"github.com/xxxsen/docrag/internal/model"
	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
	"github.com/xxxsen/docrag/internal/vectorindex"
)

const testDim = 64

// hashEmbedder maps words into a bag-of-words vector.
type hashEmbedder struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (h *hashEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	res, err := h.EmbedBatch(ctx, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

func (h *hashEmbedder) EmbedBatch(ctx context.Context, texts []string, _ string) ([][]float32, error) {
	h.calls.Add(1)
	if h.delay > 0 {
		select {
		case <-time.After(h.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if h.err != nil {
		return nil, h.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, testDim)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			f := fnv.New32a()
			_, _ = f.Write([]byte(strings.Trim(word, ".,")))
			vec[f.Sum32()%testDim]++
		}
		out[i] = vec
	}
	return out, nil
}

func (h *hashEmbedder) Dimension() int    { return testDim }
func (h *hashEmbedder) ModelName() string { return "hash" }

type stubExtractor struct {
	pages []model.Page
	err   error
}

func (s *stubExtractor) Extract(_ context.Context, _ string, _ []byte) ([]model.Page, error) {
	return s.pages, s.err
}

type echoGenerator struct {
	prompts []string
	mu      sync.Mutex
}

func (g *echoGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	return "generated answer", nil
}

// spyIndex counts searches and can cancel the request while inserting.
type spyIndex struct {
	vectorindex.Index
	searches     atomic.Int32
	cancelInsert context.CancelFunc
}

func (s *spyIndex) Insert(ctx context.Context, chunks []model.EmbeddedChunk) error {
	err := s.Index.Insert(ctx, chunks)
	if s.cancelInsert != nil {
		s.cancelInsert()
	}
	return err
}

func (s *spyIndex) Search(ctx context.Context, query []float32, k int) ([]model.ScoredChunk, error) {
	s.searches.Add(1)
	return s.Index.Search(ctx, query, k)
}

type testEnv struct {
	svc      *RAGService
	embedder *hashEmbedder
	index    *spyIndex
	gen      *echoGenerator
	docsDir  string
	pdf      *stubExtractor
}

func newTestEnv(t *testing.T, size, overlap int) *testEnv {
	t.Helper()
	dir := t.TempDir()
	idx, err := vectorindex.OpenBolt(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	docsDir := filepath.Join(dir, "docs")
	store, err := filestore.New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": docsDir}})
	require.NoError(t, err)
	ch, err := chunker.New(size, overlap, nil)
	require.NoError(t, err)

	env := &testEnv{
		embedder: &hashEmbedder{},
		index:    &spyIndex{Index: idx},
		gen:      &echoGenerator{},
		docsDir:  docsDir,
		pdf:      &stubExtractor{},
	}
	extractors := extract.NewSet(config.ExtractorConfig{Timeout: 5})
	extractors.Register(model.FileTypePDF, env.pdf)
	extractors.Register(model.FileTypeDOCX, env.pdf)
	env.svc = NewRAGService(RAGDeps{
		Chunker:      ch,
		Embedder:     env.embedder,
		Index:        env.index,
		Store:        store,
		Extractors:   extractors,
		Synthesizer:  ai.NewSynthesizer(env.gen, time.Second),
		BatchSize:    2,
		EmbedTimeout: time.Second,
	})
	return env
}

func pageText(label string, n int) string {
	var sb strings.Builder
	for i := 0; sb.Len() < n; i++ {
		sb.WriteString(fmt.Sprintf("%s sentence %03d covers the %s topic. ", label, i, label))
	}
	return strings.TrimSpace(sb.String()[:n])
}

func storedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestIngestThreePageDocument(t *testing.T) {
	env := newTestEnv(t, 1000, 200)
	env.pdf.pages = []model.Page{
		{Number: 1, Text: pageText("alpha", 832)},
		{Number: 2, Text: pageText("bravo", 832)},
		{Number: 3, Text: pageText("charlie", 832)},
	}
	ctx := context.Background()

	res, err := env.svc.Ingest(ctx, "Report.PDF", []byte("%PDF"))
	require.NoError(t, err)
	require.Len(t, res.DocumentID, 8)
	require.Equal(t, "Report.PDF", res.Filename)
	require.Equal(t, 3, res.Chunks)
	require.Equal(t, model.DocumentStatusIndexed, res.Status)
	require.Equal(t, []string{res.DocumentID + "_Report.PDF"}, storedFiles(t, env.docsDir))

	docs := env.svc.Documents()
	require.Len(t, docs, 1)
	require.Equal(t, res.DocumentID, docs[0].ID)
	require.Equal(t, model.FileTypePDF, docs[0].FileType)
	require.Equal(t, 3, docs[0].ChunkCount)

	hits, err := env.index.Search(ctx, make([]float32, testDim), 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for _, h := range hits {
		require.LessOrEqual(t, len(h.Text), 1000)
	}
}

func TestAnswerRanksIdenticalChunkFirst(t *testing.T) {
	env := newTestEnv(t, 200, 40)
	env.pdf.pages = []model.Page{
		{Number: 1, Text: pageText("alpha", 400)},
		{Number: 2, Text: pageText("bravo", 400)},
		{Number: 3, Text: pageText("charlie", 400)},
	}
	ctx := context.Background()
	res, err := env.svc.Ingest(ctx, "a.pdf", []byte("%PDF"))
	require.NoError(t, err)

	all, err := env.index.Search(ctx, make([]float32, testDim), 100)
	require.NoError(t, err)
	target := all[len(all)-1]
	require.Equal(t, 3, target.Page)

	ans, err := env.svc.Answer(ctx, target.Text, 3)
	require.NoError(t, err)
	require.Equal(t, "generated answer", ans.Answer)
	require.Len(t, ans.Sources, 3)
	require.Equal(t, target.ID, fmt.Sprintf("%s-%d", ans.Matches[0].DocumentID, ans.Matches[0].ChunkIndex))
	require.InDelta(t, 1.0, ans.Matches[0].Score, 1e-9)
	for i := 1; i < len(ans.Matches); i++ {
		require.GreaterOrEqual(t, ans.Matches[i-1].Score, ans.Matches[i].Score)
	}
	for _, src := range ans.Sources {
		require.Equal(t, res.DocumentID+"_a.pdf", src)
	}
	require.Len(t, env.gen.prompts, 1)
	require.Contains(t, env.gen.prompts[0], "Question: "+target.Text)
	require.Contains(t, env.gen.prompts[0], "Context:\n"+target.Text+"\n\n")
}

func TestAnswerDefaultK(t *testing.T) {
	env := newTestEnv(t, 100, 10)
	env.pdf.pages = []model.Page{{Number: 1, Text: pageText("delta", 900)}}
	_, err := env.svc.Ingest(context.Background(), "a.pdf", []byte("%PDF"))
	require.NoError(t, err)

	ans, err := env.svc.Answer(context.Background(), "delta topic", 0)
	require.NoError(t, err)
	require.Len(t, ans.Sources, 4)
}

func TestAnswerEmptyQueryTouchesNothing(t *testing.T) {
	env := newTestEnv(t, 1000, 200)
	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := env.svc.Answer(context.Background(), q, 4)
		require.ErrorIs(t, err, appErr.ErrEmptyQuery)
	}
	require.EqualValues(t, 0, env.embedder.calls.Load())
	require.EqualValues(t, 0, env.index.searches.Load())
	require.Empty(t, env.gen.prompts)
}

func TestAnswerOnEmptyIndex(t *testing.T) {
	env := newTestEnv(t, 1000, 200)
	ans, err := env.svc.Answer(context.Background(), "anything indexed?", 4)
	require.NoError(t, err)
	require.NotNil(t, ans.Sources)
	require.Empty(t, ans.Sources)
	require.Empty(t, ans.Matches)
	require.Equal(t, "generated answer", ans.Answer)
}

func TestIngestUnsupportedTypeHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t, 1000, 200)
	for _, name := range []string{"notes.txt", "noext", "image.png"} {
		_, err := env.svc.Ingest(context.Background(), name, []byte("hello"))
		require.ErrorIs(t, err, appErr.ErrUnsupportedType)
	}
	require.Empty(t, storedFiles(t, env.docsDir))
	require.Empty(t, env.svc.Documents())
	require.EqualValues(t, 0, env.embedder.calls.Load())
	count, err := env.index.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestIngestExtractionFailureRemovesRawFile(t *testing.T) {
	env := newTestEnv(t, 1000, 200)
	env.pdf.err = errors.New("corrupt pdf")
	_, err := env.svc.Ingest(context.Background(), "a.pdf", []byte("%PDF"))
	require.ErrorIs(t, err, appErr.ErrExtraction)
	require.Empty(t, storedFiles(t, env.docsDir))
	require.Empty(t, env.svc.Documents())

	env.pdf.err = nil
	env.pdf.pages = []model.Page{{Number: 1, Text: "  \n "}}
	_, err = env.svc.Ingest(context.Background(), "a.pdf", []byte("%PDF"))
	require.ErrorIs(t, err, appErr.ErrExtraction)
	require.Empty(t, storedFiles(t, env.docsDir))
}

func TestIngestEmbeddingTimeout(t *testing.T) {
	env := newTestEnv(t, 1000, 200)
	env.pdf.pages = []model.Page{{Number: 1, Text: "some text"}}
	env.svc.embedTimeout = 20 * time.Millisecond
	env.embedder.delay = time.Second

	_, err := env.svc.Ingest(context.Background(), "a.docx", []byte("PK"))
	require.ErrorIs(t, err, appErr.ErrEmbedding)
	require.ErrorIs(t, err, appErr.ErrTimeout)
	require.Empty(t, env.svc.Documents())
	count, err := env.index.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestIngestCancelledAfterInsertLeavesOrphanedChunks(t *testing.T) {
	env := newTestEnv(t, 1000, 200)
	env.pdf.pages = []model.Page{{Number: 1, Text: "orphan text"}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.index.cancelInsert = cancel

	_, err := env.svc.Ingest(ctx, "a.pdf", []byte("%PDF"))
	require.ErrorIs(t, err, appErr.ErrIndex)
	require.Empty(t, env.svc.Documents())
	count, err := env.index.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestConcurrentIngestGetsDistinctIDs(t *testing.T) {
	env := newTestEnv(t, 1000, 200)
	env.pdf.pages = []model.Page{{Number: 1, Text: pageText("echo", 300)}}
	var wg sync.WaitGroup
	ids := make([]string, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.svc.Ingest(context.Background(), "same.pdf", []byte("%PDF"))
			errs[i] = err
			if err == nil {
				ids[i] = res.DocumentID
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.NotEqual(t, ids[0], ids[1])
	require.Len(t, env.svc.Documents(), 2)
	require.Len(t, storedFiles(t, env.docsDir), 2)
}

func TestClearResetsEverything(t *testing.T) {
	env := newTestEnv(t, 1000, 200)
	env.pdf.pages = []model.Page{{Number: 1, Text: pageText("foxtrot", 500)}}
	ctx := context.Background()
	_, err := env.svc.Ingest(ctx, "a.pdf", []byte("%PDF"))
	require.NoError(t, err)

	require.NoError(t, env.svc.Clear(ctx))
	require.Empty(t, env.svc.Documents())
	require.Empty(t, storedFiles(t, env.docsDir))
	ans, err := env.svc.Answer(ctx, "foxtrot topic", 4)
	require.NoError(t, err)
	require.Empty(t, ans.Sources)

	health, err := env.svc.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, &Health{Status: "ok"}, health)
}

// failingClearStore refuses to remove stored files.
type failingClearStore struct {
	filestore.Store
}

func (f *failingClearStore) Clear(context.Context) error {
	return errors.New("permission denied")
}

func TestClearStopsWhenRawFilesCannotBeRemoved(t *testing.T) {
	env := newTestEnv(t, 1000, 200)
	env.svc.store = &failingClearStore{Store: env.svc.store}
	env.pdf.pages = []model.Page{{Number: 1, Text: pageText("golf", 500)}}
	ctx := context.Background()
	res, err := env.svc.Ingest(ctx, "a.pdf", []byte("%PDF"))
	require.NoError(t, err)

	err = env.svc.Clear(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, appErr.ErrInternal)

	health, err := env.svc.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, health.Chunks)
	docs := env.svc.Documents()
	require.Len(t, docs, 1)
	require.Equal(t, res.DocumentID, docs[0].ID)
	require.Len(t, storedFiles(t, env.docsDir), 1)
}

func TestCheckDimension(t *testing.T) {
	env := newTestEnv(t, 1000, 200)
	ctx := context.Background()
	stored, ok, err := env.svc.CheckDimension(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, stored)

	require.NoError(t, env.index.Insert(ctx, []model.EmbeddedChunk{{
		Chunk:  model.Chunk{ID: "x-0", DocumentID: "x", Text: "x"},
		Vector: []float32{1, 2, 3},
	}}))
	stored, ok, err = env.svc.CheckDimension(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 3, stored)
}

func TestSplitAttributesPages(t *testing.T) {
	env := newTestEnv(t, 100, 20)
	pages := []model.Page{
		{Number: 1, Text: pageText("one", 70)},
		{Number: 2, Text: pageText("two", 70)},
		{Number: 5, Text: pageText("five", 70)},
	}
	chunks := env.svc.split(model.Chunk{DocumentID: "d", Source: "d_a.pdf", Filename: "a.pdf"}, pages)
	require.Len(t, chunks, 3)
	require.Equal(t, []int{1, 2, 5}, []int{chunks[0].Page, chunks[1].Page, chunks[2].Page})
	for i, c := range chunks {
		require.Equal(t, fmt.Sprintf("d-%d", i), c.ID)
		require.Equal(t, i, c.Index)
		require.Equal(t, "d_a.pdf", c.Source)
	}
}

func TestBaseName(t *testing.T) {
	require.Equal(t, "a.pdf", baseName("a.pdf"))
	require.Equal(t, "a.pdf", baseName("../../a.pdf"))
	require.Equal(t, "a.pdf", baseName(`C:\Users\me\a.pdf`))
	require.Equal(t, "", baseName(""))
	require.Equal(t, "", baseName(".."))
}

func TestNewDocumentID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := newDocumentID()
		require.Len(t, id, 8)
		require.False(t, seen[id])
		seen[id] = true
	}
}
