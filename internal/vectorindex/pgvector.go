package vectorindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/docrag/internal/db"
	"github.com/xxxsen/docrag/internal/model"
	"github.com/xxxsen/docrag/internal/pkg/dbutil"
)

const chunkTable = "rag_chunks"

type pgChunkRow struct {
	ChunkID    string  `db:"chunk_id"`
	DocumentID string  `db:"document_id"`
	Source     string  `db:"source"`
	Filename   string  `db:"filename"`
	Page       int     `db:"page"`
	ChunkIndex int     `db:"chunk_index"`
	Content    string  `db:"content"`
	Overlap    string  `db:"overlap"`
	Score      float64 `db:"score"`
}

type pgIndex struct {
	db *sqlx.DB
}

func init() {
	Register("pgvector", createPGIndex)
}

func createPGIndex(args interface{}) (Index, error) {
	cfg := db.Config{}
	if err := decodeConfig(args, &cfg); err != nil {
		return nil, err
	}
	conn, err := db.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return NewPGIndex(conn), nil
}

func NewPGIndex(conn *sql.DB) Index {
	return &pgIndex{db: sqlx.NewDb(conn, "postgres")}
}

func (p *pgIndex) Insert(ctx context.Context, chunks []model.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	// Serializes concurrent first inserts so only one dimension can win.
	// Plain reads are not blocked by this mode.
	if _, err := tx.ExecContext(ctx, "LOCK TABLE "+chunkTable+" IN SHARE ROW EXCLUSIVE MODE"); err != nil {
		return err
	}
	current, err := p.dimension(ctx, tx)
	if err != nil {
		return err
	}
	if _, err := checkBatch(chunks, current); err != nil {
		return err
	}
	rows := make([]map[string]interface{}, 0, len(chunks))
	for _, c := range chunks {
		rows = append(rows, map[string]interface{}{
			"chunk_id":    c.ID,
			"document_id": c.DocumentID,
			"source":      c.Source,
			"filename":    c.Filename,
			"page":        c.Page,
			"chunk_index": c.Index,
			"content":     c.Text,
			"overlap":     c.Overlap,
			"embedding":   pgvector.NewVector(c.Vector),
		})
	}
	sqlStr, args, err := builder.BuildInsert(chunkTable, rows)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *pgIndex) Search(ctx context.Context, query []float32, k int) ([]model.ScoredChunk, error) {
	if k <= 0 {
		return []model.ScoredChunk{}, nil
	}
	dim, err := p.dimension(ctx, p.db)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return []model.ScoredChunk{}, nil
	}
	if len(query) != dim {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dim, len(query))
	}
	const q = `
		SELECT chunk_id, document_id, source, filename, page, chunk_index, content, overlap,
			1 - (embedding <=> $1) AS score
		FROM rag_chunks
		ORDER BY embedding <=> $1, seq
		LIMIT $2
	`
	var rows []pgChunkRow
	if err := p.db.SelectContext(ctx, &rows, q, pgvector.NewVector(query), k); err != nil {
		return nil, err
	}
	out := make([]model.ScoredChunk, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.ScoredChunk{
			Chunk: model.Chunk{
				ID:         r.ChunkID,
				DocumentID: r.DocumentID,
				Source:     r.Source,
				Filename:   r.Filename,
				Page:       r.Page,
				Index:      r.ChunkIndex,
				Text:       r.Content,
				Overlap:    r.Overlap,
			},
			Score: r.Score,
		})
	}
	return out, nil
}

func (p *pgIndex) Reset(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, "TRUNCATE "+chunkTable+" RESTART IDENTITY")
	return err
}

func (p *pgIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := p.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+chunkTable)
	return n, err
}

func (p *pgIndex) Dimension(ctx context.Context) (int, error) {
	return p.dimension(ctx, p.db)
}

func (p *pgIndex) Close() error {
	return p.db.Close()
}

func (p *pgIndex) dimension(ctx context.Context, q sqlx.QueryerContext) (int, error) {
	var dim int
	err := sqlx.GetContext(ctx, q, &dim, "SELECT vector_dims(embedding) FROM "+chunkTable+" ORDER BY seq LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return dim, err
}
