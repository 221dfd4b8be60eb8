package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/xxxsen/docrag/internal/model"
)

var ErrPDFToolNotFound = errors.New("pdftotext not found: install poppler-utils")

// CommandRunner runs an external program and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

// PDFExtractor shells out to pdftotext. Pages are separated by form feeds
// in its output.
type PDFExtractor struct {
	tool   string
	runner CommandRunner
}

func NewPDFExtractor(tool string, runner CommandRunner) *PDFExtractor {
	if tool == "" {
		tool = "pdftotext"
	}
	if runner == nil {
		runner = execRunner{}
	}
	return &PDFExtractor{tool: tool, runner: runner}
}

func (p *PDFExtractor) Extract(ctx context.Context, filename string, content []byte) ([]model.Page, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("empty pdf: %s", filename)
	}
	if _, ok := p.runner.(execRunner); ok {
		if _, err := exec.LookPath(p.tool); err != nil {
			return nil, ErrPDFToolNotFound
		}
	}
	tmp, err := os.CreateTemp("", "docrag-*.pdf")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	out, err := p.runner.Run(ctx, p.tool, "-layout", "-enc", "UTF-8", tmp.Name(), "-")
	if err != nil {
		return nil, fmt.Errorf("pdftotext failed: %w", err)
	}
	return splitPages(string(out)), nil
}

func splitPages(out string) []model.Page {
	parts := strings.Split(out, "\f")
	// pdftotext terminates every page, including the last, with a form feed.
	if len(parts) > 1 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	pages := make([]model.Page, 0, len(parts))
	for i, text := range parts {
		pages = append(pages, model.Page{Number: i + 1, Text: text})
	}
	return pages
}
