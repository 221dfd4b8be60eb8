package model

type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeDOCX FileType = "docx"
)

type DocumentStatus string

const (
	DocumentStatusIndexed DocumentStatus = "indexed"
	DocumentStatusFailed  DocumentStatus = "failed"
)

type Document struct {
	ID         string         `json:"id"`
	Filename   string         `json:"filename"`
	FileType   FileType       `json:"file_type"`
	Source     string         `json:"source"`
	ChunkCount int            `json:"chunks"`
	Status     DocumentStatus `json:"status"`
	Ctime      int64          `json:"ctime"`
}

// Page is one unit of extracted text, numbered from 1.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}
