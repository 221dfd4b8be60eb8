// Package extract turns uploaded files into page text.
package extract

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/xxxsen/docrag/internal/config"
	"github.com/xxxsen/docrag/internal/model"
)

// Extractor returns the pages of one file in document order.
type Extractor interface {
	Extract(ctx context.Context, filename string, content []byte) ([]model.Page, error)
}

// Set maps file types to extractors.
type Set struct {
	timeout    time.Duration
	extractors map[model.FileType]Extractor
}

func NewSet(cfg config.ExtractorConfig) *Set {
	s := &Set{
		timeout:    time.Duration(cfg.Timeout) * time.Second,
		extractors: map[model.FileType]Extractor{},
	}
	s.Register(model.FileTypePDF, NewPDFExtractor(cfg.PdftotextPath, nil))
	s.Register(model.FileTypeDOCX, NewDOCXExtractor())
	return s
}

func (s *Set) Register(ft model.FileType, e Extractor) {
	s.extractors[ft] = e
}

// Lookup resolves the extractor for filename by its extension, case
// insensitively.
func (s *Set) Lookup(filename string) (Extractor, model.FileType, bool) {
	ft, ok := FileTypeOf(filename)
	if !ok {
		return nil, "", false
	}
	e, ok := s.extractors[ft]
	return e, ft, ok
}

// Timeout is the per-file extraction budget; zero means none.
func (s *Set) Timeout() time.Duration {
	return s.timeout
}

func FileTypeOf(filename string) (model.FileType, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return model.FileTypePDF, true
	case ".docx":
		return model.FileTypeDOCX, true
	}
	return "", false
}
