package model

type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
	Filename   string `json:"filename"`
	Page       int    `json:"page"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
	Overlap    string `json:"overlap,omitempty"`
}

type EmbeddedChunk struct {
	Chunk
	Vector []float32 `json:"vector"`
}

type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}
