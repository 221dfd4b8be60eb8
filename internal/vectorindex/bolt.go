package vectorindex

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/xxxsen/docrag/internal/model"
)

var (
	bucketChunks = []byte("chunks")
	bucketMeta   = []byte("meta")
	keyDimension = []byte("dimension")
)

type boltConfig struct {
	Path string `json:"path"`
}

type storedChunk struct {
	Chunk  model.Chunk `json:"c"`
	Vector []float32   `json:"v"`
}

// boltIndex keeps every chunk in memory in insertion order and searches
// by brute force. The bolt file is the durable copy.
type boltIndex struct {
	db        *bbolt.DB
	mu        sync.RWMutex
	dimension int
	entries   []storedChunk
}

func init() {
	Register("bolt", createBoltIndex)
}

func createBoltIndex(args interface{}) (Index, error) {
	cfg := &boltConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("bolt index path is required")
	}
	return OpenBolt(cfg.Path)
}

func OpenBolt(path string) (Index, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt index: %w", err)
	}
	idx := &boltIndex{db: db}
	if err := db.Update(createBuckets); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	if err := idx.load(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load index: %w", err)
	}
	return idx, nil
}

func createBuckets(tx *bbolt.Tx) error {
	if _, err := tx.CreateBucketIfNotExists(bucketChunks); err != nil {
		return err
	}
	_, err := tx.CreateBucketIfNotExists(bucketMeta)
	return err
}

func (b *boltIndex) load() error {
	return b.db.View(func(tx *bbolt.Tx) error {
		if raw := tx.Bucket(bucketMeta).Get(keyDimension); raw != nil {
			dim, err := strconv.Atoi(string(raw))
			if err != nil {
				return fmt.Errorf("decode dimension: %w", err)
			}
			b.dimension = dim
		}
		// Keys are big-endian sequences, so ForEach yields insertion order.
		return tx.Bucket(bucketChunks).ForEach(func(k, v []byte) error {
			var item storedChunk
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("decode chunk %x: %w", k, err)
			}
			b.entries = append(b.entries, item)
			return nil
		})
	})
}

func (b *boltIndex) Insert(ctx context.Context, chunks []model.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	dim, err := checkBatch(chunks, b.dimension)
	if err != nil {
		return err
	}
	items := make([]storedChunk, 0, len(chunks))
	err = b.db.Update(func(tx *bbolt.Tx) error {
		if b.dimension == 0 {
			if err := tx.Bucket(bucketMeta).Put(keyDimension, []byte(strconv.Itoa(dim))); err != nil {
				return err
			}
		}
		bucket := tx.Bucket(bucketChunks)
		for _, c := range chunks {
			seq, err := bucket.NextSequence()
			if err != nil {
				return err
			}
			item := storedChunk{Chunk: c.Chunk, Vector: c.Vector}
			data, err := json.Marshal(item)
			if err != nil {
				return err
			}
			if err := bucket.Put(seqKey(seq), data); err != nil {
				return err
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.dimension = dim
	b.entries = append(b.entries, items...)
	return nil
}

func (b *boltIndex) Search(ctx context.Context, query []float32, k int) ([]model.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if k <= 0 || len(b.entries) == 0 {
		return []model.ScoredChunk{}, nil
	}
	if len(query) != b.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, b.dimension, len(query))
	}
	scored := make([]model.ScoredChunk, len(b.entries))
	for i, item := range b.entries {
		scored[i] = model.ScoredChunk{Chunk: item.Chunk, Score: cosineSimilarity(query, item.Vector)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

func (b *boltIndex) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketChunks, bucketMeta} {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
		}
		return createBuckets(tx)
	})
	if err != nil {
		return err
	}
	b.dimension = 0
	b.entries = nil
	return nil
}

func (b *boltIndex) Count(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries), nil
}

func (b *boltIndex) Dimension(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dimension, nil
}

func (b *boltIndex) Close() error {
	return b.db.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
