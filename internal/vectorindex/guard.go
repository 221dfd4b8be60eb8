package vectorindex

import (
	"context"
	"sync"

	"github.com/xxxsen/docrag/internal/model"
)

// Guard serialises Reset against every other operation. Inserts and
// searches share the lock and may run concurrently.
func Guard(idx Index) Index {
	if g, ok := idx.(*guarded); ok {
		return g
	}
	return &guarded{next: idx}
}

type guarded struct {
	mu   sync.RWMutex
	next Index
}

func (g *guarded) Insert(ctx context.Context, chunks []model.EmbeddedChunk) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.next.Insert(ctx, chunks)
}

func (g *guarded) Search(ctx context.Context, query []float32, k int) ([]model.ScoredChunk, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.next.Search(ctx, query, k)
}

func (g *guarded) Reset(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next.Reset(ctx)
}

func (g *guarded) Count(ctx context.Context) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.next.Count(ctx)
}

func (g *guarded) Dimension(ctx context.Context) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.next.Dimension(ctx)
}

func (g *guarded) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next.Close()
}
