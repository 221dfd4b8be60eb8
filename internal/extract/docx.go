package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xxxsen/docrag/internal/model"
)

const docxBodyPart = "word/document.xml"

// DOCXExtractor reads word/document.xml. Explicit page breaks start a new
// page; everything else lands on the current page.
type DOCXExtractor struct{}

func NewDOCXExtractor() *DOCXExtractor {
	return &DOCXExtractor{}
}

func (d *DOCXExtractor) Extract(ctx context.Context, filename string, content []byte) ([]model.Page, error) {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open docx %s: %w", filename, err)
	}
	for _, file := range reader.File {
		if file.Name != docxBodyPart {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return parseDocumentXML(ctx, rc)
	}
	return nil, fmt.Errorf("docx %s has no %s", filename, docxBodyPart)
}

func parseDocumentXML(ctx context.Context, r io.Reader) ([]model.Page, error) {
	dec := xml.NewDecoder(r)
	var pages []model.Page
	var cur strings.Builder
	inText := false
	flush := func() {
		pages = append(pages, model.Page{Number: len(pages) + 1, Text: strings.TrimSpace(cur.String())})
		cur.Reset()
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse document xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				cur.WriteString("\t")
			case "br":
				if attr(t, "type") == "page" {
					flush()
				} else {
					cur.WriteString("\n")
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				cur.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	flush()
	return pages, nil
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
