package vectorindex

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docrag/internal/db"
	"github.com/xxxsen/docrag/internal/model"
)

func openTestPGIndex(t *testing.T) Index {
	t.Helper()
	idx := Guard(NewPGIndex(openTestPGConn(t)))
	require.NoError(t, idx.Reset(context.Background()))
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func openTestPGConn(t *testing.T) *sql.DB {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	conn, err := db.Open(db.Config{
		Host:     host,
		Port:     5432,
		User:     "docrag",
		Password: "docrag_pass",
		DBName:   "docrag_test",
		SSLMode:  "disable",
	})
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(conn))
	return conn
}

func TestPGIndexInsertSearchReset(t *testing.T) {
	idx := openTestPGIndex(t)
	ctx := context.Background()

	res, err := idx.Search(ctx, []float32{1, 0}, 4)
	require.NoError(t, err)
	require.Empty(t, res)

	require.NoError(t, idx.Insert(ctx, []model.EmbeddedChunk{
		embedded("a", 0, 1, 0),
		embedded("a", 1, 0, 1),
		embedded("a", 2, 0.8, 0.2),
	}))
	require.ErrorIs(t, idx.Insert(ctx, []model.EmbeddedChunk{embedded("b", 0, 1, 0, 0)}), ErrDimensionMismatch)

	res, err = idx.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, "a-0", res[0].ID)
	require.InDelta(t, 1.0, res[0].Score, 1e-6)
	require.Equal(t, "a-2", res[1].ID)

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	require.NoError(t, idx.Reset(ctx))
	dim, err := idx.Dimension(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, dim)
}

func TestPGIndexConcurrentFirstInsertsAgreeOnDimension(t *testing.T) {
	conn := openTestPGConn(t)
	conn.SetMaxOpenConns(4)
	first := NewPGIndex(conn)
	second := NewPGIndex(conn)
	ctx := context.Background()
	require.NoError(t, first.Reset(ctx))
	t.Cleanup(func() { _ = first.Close() })

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = first.Insert(ctx, []model.EmbeddedChunk{embedded("a", 0, 1, 0)})
	}()
	go func() {
		defer wg.Done()
		errs[1] = second.Insert(ctx, []model.EmbeddedChunk{embedded("b", 0, 1, 0, 0)})
	}()
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrDimensionMismatch)
			failed++
		}
	}
	require.Equal(t, 1, failed)
	count, err := first.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
