// Package registry is the in-process catalog of ingested documents.
package registry

import (
	"sync"

	"github.com/xxxsen/docrag/internal/model"
)

// Registry lists documents in the order they were added. It is not the
// source of truth for indexed chunks and is lost on restart.
type Registry struct {
	mu    sync.RWMutex
	order []string
	docs  map[string]model.Document
}

func New() *Registry {
	return &Registry{docs: make(map[string]model.Document)}
}

// Add records doc. Adding an existing id replaces the entry in place.
func (r *Registry) Add(doc model.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.ID]; !ok {
		r.order = append(r.order, doc.ID)
	}
	r.docs[doc.ID] = doc
}

func (r *Registry) Get(id string) (model.Document, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	return doc, ok
}

func (r *Registry) List() []model.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Document, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.docs[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.docs = make(map[string]model.Document)
}
