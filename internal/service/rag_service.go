package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docrag/internal/ai"
	"github.com/xxxsen/docrag/internal/chunker"
	"github.com/xxxsen/docrag/internal/extract"
	"github.com/xxxsen/docrag/internal/filestore"
	"github.com/xxxsen/docrag/internal/model"
	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
	"github.com/xxxsen/docrag/internal/registry"
	"github.com/xxxsen/docrag/internal/vectorindex"
)

const (
	defaultTopK      = 4
	defaultBatchSize = 32
	pageSeparator    = "\n\n"
	contextSeparator = "\n\n"
	cleanupTimeout   = 10 * time.Second
)

type RAGDeps struct {
	Chunker      *chunker.Chunker
	Embedder     ai.IEmbedder
	Index        vectorindex.Index
	Registry     *registry.Registry
	Store        filestore.Store
	Extractors   *extract.Set
	Synthesizer  *ai.Synthesizer
	TopK         int
	BatchSize    int
	EmbedTimeout time.Duration
}

// RAGService owns the ingest and query pipelines and every piece of state
// they share.
type RAGService struct {
	chunker      *chunker.Chunker
	embedder     ai.IEmbedder
	index        vectorindex.Index
	registry     *registry.Registry
	store        filestore.Store
	extractors   *extract.Set
	synth        *ai.Synthesizer
	topK         int
	batchSize    int
	embedTimeout time.Duration
	newID        func() string
	now          func() time.Time
}

func NewRAGService(deps RAGDeps) *RAGService {
	topK := deps.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	reg := deps.Registry
	if reg == nil {
		reg = registry.New()
	}
	return &RAGService{
		chunker:      deps.Chunker,
		embedder:     deps.Embedder,
		index:        vectorindex.Guard(deps.Index),
		registry:     reg,
		store:        deps.Store,
		extractors:   deps.Extractors,
		synth:        deps.Synthesizer,
		topK:         topK,
		batchSize:    batchSize,
		embedTimeout: deps.EmbedTimeout,
		newID:        newDocumentID,
		now:          time.Now,
	}
}

// Ingest stores, extracts, chunks, embeds and indexes one uploaded file.
// Chunks already inserted are not removed when a later step fails.
func (s *RAGService) Ingest(ctx context.Context, filename string, data []byte) (*model.IngestResult, error) {
	name := baseName(filename)
	if name == "" {
		return nil, fmt.Errorf("%w: filename is required", appErr.ErrInvalid)
	}
	extractor, fileType, ok := s.extractors.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", appErr.ErrUnsupportedType, strings.ToLower(filepath.Ext(name)))
	}

	docID := s.newID()
	source := docID + "_" + name
	logger := logutil.GetLogger(ctx).With(zap.String("doc_id", docID), zap.String("filename", name))
	logger.Info("ingest state", zap.String("state", string(model.IngestStateReceived)), zap.Int("size", len(data)))

	if err := s.store.Save(ctx, source, bytes.NewReader(data), int64(len(data))); err != nil {
		logger.Error("save raw file failed", zap.Error(err))
		return nil, wrapStep(appErr.ErrInternal, err)
	}

	count, err := s.process(ctx, logger, extractor, model.Chunk{DocumentID: docID, Source: source, Filename: name}, data)
	if err != nil {
		logger.Error("ingest state", zap.String("state", string(model.IngestStateFailed)), zap.Error(err))
		s.discardRaw(ctx, logger, source)
		return nil, err
	}

	s.registry.Add(model.Document{
		ID:         docID,
		Filename:   name,
		FileType:   fileType,
		Source:     source,
		ChunkCount: count,
		Status:     model.DocumentStatusIndexed,
		Ctime:      s.now().UnixMilli(),
	})
	logger.Info("ingest state", zap.String("state", string(model.IngestStateIndexed)), zap.Int("chunks", count))
	return &model.IngestResult{
		Filename:   name,
		DocumentID: docID,
		Chunks:     count,
		Status:     model.DocumentStatusIndexed,
	}, nil
}

func (s *RAGService) process(ctx context.Context, logger *zap.Logger, extractor extract.Extractor, base model.Chunk, data []byte) (int, error) {
	ectx, cancel := withTimeout(ctx, s.extractors.Timeout())
	pages, err := extractor.Extract(ectx, base.Filename, data)
	cancel()
	if err != nil {
		return 0, wrapStep(appErr.ErrExtraction, err)
	}
	logger.Info("ingest state", zap.String("state", string(model.IngestStateExtracted)), zap.Int("pages", len(pages)))

	chunks := s.split(base, pages)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: document contains no text", appErr.ErrExtraction)
	}
	logger.Info("ingest state", zap.String("state", string(model.IngestStateChunked)), zap.Int("chunks", len(chunks)))

	embedded, err := s.embedChunks(ctx, logger, chunks)
	if err != nil {
		return 0, err
	}
	logger.Info("ingest state", zap.String("state", string(model.IngestStateEmbedded)))

	if err := s.index.Insert(ctx, embedded); err != nil {
		return 0, wrapStep(appErr.ErrIndex, err)
	}
	// From here on the chunks are searchable even if the document is never
	// registered.
	if err := ctx.Err(); err != nil {
		logger.Warn("request ended after index insert, chunks remain indexed", zap.Int("chunks", len(embedded)))
		return 0, wrapStep(appErr.ErrIndex, err)
	}
	return len(embedded), nil
}

// split chunks the concatenated pages and attributes each chunk to the page
// holding its first new character.
func (s *RAGService) split(base model.Chunk, pages []model.Page) []model.Chunk {
	var sb strings.Builder
	starts := make([]int, len(pages))
	for i, p := range pages {
		if i > 0 {
			sb.WriteString(pageSeparator)
		}
		starts[i] = sb.Len()
		sb.WriteString(p.Text)
	}
	text := sb.String()
	segs := s.chunker.Split(text)
	chunks := make([]model.Chunk, 0, len(segs))
	for _, seg := range segs {
		c := base
		c.ID = fmt.Sprintf("%s-%d", base.DocumentID, seg.Index)
		c.Index = seg.Index
		c.Text = seg.Text
		c.Overlap = seg.Overlap
		rest := text[seg.Start+len(seg.Overlap) : seg.End]
		off := seg.End - len(strings.TrimLeftFunc(rest, unicode.IsSpace))
		c.Page = pageAt(pages, starts, off)
		chunks = append(chunks, c)
	}
	return chunks
}

func pageAt(pages []model.Page, starts []int, offset int) int {
	page := 1
	for i, start := range starts {
		if start > offset {
			break
		}
		page = pages[i].Number
	}
	return page
}

func (s *RAGService) embedChunks(ctx context.Context, logger *zap.Logger, chunks []model.Chunk) ([]model.EmbeddedChunk, error) {
	out := make([]model.EmbeddedChunk, 0, len(chunks))
	for start := 0; start < len(chunks); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		bctx, cancel := withTimeout(ctx, s.embedTimeout)
		vectors, err := s.embedder.EmbedBatch(bctx, texts, ai.TaskRetrievalDocument)
		cancel()
		if err != nil {
			return nil, wrapStep(appErr.ErrEmbedding, err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("%w: expected %d vectors, got %d", appErr.ErrEmbedding, len(texts), len(vectors))
		}
		for i, c := range chunks[start:end] {
			if len(vectors[i]) != s.embedder.Dimension() {
				return nil, fmt.Errorf("%w: vector dimension %d, expected %d", appErr.ErrEmbedding, len(vectors[i]), s.embedder.Dimension())
			}
			out = append(out, model.EmbeddedChunk{Chunk: c, Vector: vectors[i]})
		}
		logger.Debug("embedded batch", zap.Int("from", start), zap.Int("to", end))
	}
	return out, nil
}

// Answer retrieves the k chunks closest to query and asks the generator to
// answer from them. k <= 0 selects the configured default.
func (s *RAGService) Answer(ctx context.Context, query string, k int) (*model.Answer, error) {
	if strings.TrimSpace(query) == "" {
		return nil, appErr.ErrEmptyQuery
	}
	if k <= 0 {
		k = s.topK
	}
	logger := logutil.GetLogger(ctx).With(zap.Int("k", k))

	ectx, cancel := withTimeout(ctx, s.embedTimeout)
	vector, err := s.embedder.Embed(ectx, query, ai.TaskRetrievalQuery)
	cancel()
	if err != nil {
		logger.Error("embed query failed", zap.Error(err))
		return nil, wrapStep(appErr.ErrEmbedding, err)
	}
	hits, err := s.index.Search(ctx, vector, k)
	if err != nil {
		logger.Error("search index failed", zap.Error(err))
		return nil, wrapStep(appErr.ErrIndex, err)
	}
	logger.Info("retrieved chunks", zap.Int("hits", len(hits)))

	texts := make([]string, 0, len(hits))
	sources := make([]string, 0, len(hits))
	matches := make([]model.SourceMatch, 0, len(hits))
	for _, h := range hits {
		texts = append(texts, h.Text)
		sources = append(sources, h.Source)
		matches = append(matches, model.SourceMatch{
			DocumentID: h.DocumentID,
			Filename:   h.Filename,
			Page:       h.Page,
			ChunkIndex: h.Index,
			Score:      h.Score,
		})
	}
	answer, err := s.synth.Answer(ctx, strings.Join(texts, contextSeparator), query)
	if err != nil {
		logger.Error("synthesize answer failed", zap.Error(err))
		return nil, wrapStep(appErr.ErrSynthesis, err)
	}
	return &model.Answer{Answer: answer, Sources: sources, Matches: matches}, nil
}

func (s *RAGService) Documents() []model.Document {
	return s.registry.List()
}

// Clear empties the index, the raw file store and the registry, in that
// order, and stops at the first failure.
func (s *RAGService) Clear(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	if err := s.index.Reset(ctx); err != nil {
		logger.Error("reset index failed", zap.Error(err))
		return wrapStep(appErr.ErrIndex, err)
	}
	if err := s.store.Clear(ctx); err != nil {
		logger.Error("clear raw files failed", zap.Error(err))
		return wrapStep(appErr.ErrInternal, err)
	}
	s.registry.Clear()
	logger.Info("all documents cleared")
	return nil
}

type Health struct {
	Status    string `json:"status"`
	Chunks    int    `json:"chunks"`
	Documents int    `json:"documents"`
}

func (s *RAGService) Health(ctx context.Context) (*Health, error) {
	count, err := s.index.Count(ctx)
	if err != nil {
		return nil, wrapStep(appErr.ErrIndex, err)
	}
	return &Health{Status: "ok", Chunks: count, Documents: s.registry.Len()}, nil
}

// CheckDimension reports whether the stored index dimension differs from
// the embedder's. An empty index always matches.
func (s *RAGService) CheckDimension(ctx context.Context) (stored int, ok bool, err error) {
	stored, err = s.index.Dimension(ctx)
	if err != nil {
		return 0, false, err
	}
	return stored, stored == 0 || stored == s.embedder.Dimension(), nil
}

func (s *RAGService) discardRaw(ctx context.Context, logger *zap.Logger, key string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.store.Delete(cctx, key); err != nil {
		logger.Warn("delete raw file failed", zap.String("key", key), zap.Error(err))
	}
}

func wrapStep(sentinel error, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %w", sentinel, appErr.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func baseName(filename string) string {
	name := strings.TrimSpace(strings.ReplaceAll(filename, "\\", "/"))
	name = filepath.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
