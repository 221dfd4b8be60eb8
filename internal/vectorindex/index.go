// Package vectorindex stores embedded chunks and answers nearest-neighbour
// queries by cosine similarity.
package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/xxxsen/docrag/internal/config"
	"github.com/xxxsen/docrag/internal/model"
)

var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Index is the persistent chunk store. Search on an empty index returns an
// empty result. Results are ordered by descending score, ties by insertion
// order.
type Index interface {
	Insert(ctx context.Context, chunks []model.EmbeddedChunk) error
	Search(ctx context.Context, query []float32, k int) ([]model.ScoredChunk, error)
	Reset(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	// Dimension reports the vector dimension fixed by the first insert, or
	// 0 when the index is empty.
	Dimension(ctx context.Context) (int, error)
	Close() error
}

type Factory func(args interface{}) (Index, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.VectorIndexConfig) (Index, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("vector_index.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported vector index type: %s", cfg.Type)
	}
	idx, err := factory(cfg.Data)
	if err != nil {
		return nil, err
	}
	return Guard(idx), nil
}

// checkBatch returns the common dimension of a batch.
func checkBatch(chunks []model.EmbeddedChunk, want int) (int, error) {
	dim := want
	for _, c := range chunks {
		if len(c.Vector) == 0 {
			return 0, fmt.Errorf("%w: chunk %s has no vector", ErrDimensionMismatch, c.ID)
		}
		if dim == 0 {
			dim = len(c.Vector)
		}
		if len(c.Vector) != dim {
			return 0, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dim, len(c.Vector))
		}
	}
	return dim, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("vector index config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode vector index config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode vector index config: %w", err)
	}
	return nil
}
