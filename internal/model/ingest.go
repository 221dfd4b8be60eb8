package model

// IngestState tracks a single upload through the pipeline.
type IngestState string

const (
	IngestStateReceived  IngestState = "received"
	IngestStateExtracted IngestState = "extracted"
	IngestStateChunked   IngestState = "chunked"
	IngestStateEmbedded  IngestState = "embedded"
	IngestStateIndexed   IngestState = "indexed"
	IngestStateFailed    IngestState = "failed"
)

type IngestResult struct {
	Filename   string         `json:"filename"`
	DocumentID string         `json:"doc_id"`
	Chunks     int            `json:"chunks"`
	Status     DocumentStatus `json:"status"`
}

type SourceMatch struct {
	DocumentID string  `json:"doc_id"`
	Filename   string  `json:"filename"`
	Page       int     `json:"page"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

type Answer struct {
	Answer  string        `json:"answer"`
	Sources []string      `json:"sources"`
	Matches []SourceMatch `json:"matches"`
}
