package services

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"supplychain-iq-api/pkg/logging"
)

var bucketEmbeddings = []byte("embeddings")

// CachedEmbedder stores vectors in a bbolt file keyed by sha256(model + text),
// so rebuilding an unchanged corpus does not re-embed it.
type CachedEmbedder struct {
	inner   Embedder
	db      *bbolt.DB
	metrics *Metrics
	logger  *zap.Logger
}

// NewCachedEmbedder opens (or creates) the cache file at path.
func NewCachedEmbedder(inner Embedder, path string, metrics *Metrics, logger *zap.Logger) (*CachedEmbedder, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEmbeddings)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucketEmbeddings, err)
	}
	return &CachedEmbedder{inner: inner, db: db, metrics: metrics, logger: logging.OrNop(logger)}, nil
}

// Embed implements Embedder. Only misses are sent to the wrapped embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([][]byte, len(texts))
	var missIdx []int

	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEmbeddings)
		for i, text := range texts {
			keys[i] = c.key(text)
			if data := b.Get(keys[i]); data != nil {
				out[i] = decodeVector(data)
				c.metrics.ObserveCacheLookup(true)
				continue
			}
			c.metrics.ObserveCacheLookup(false)
			missIdx = append(missIdx, i)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embedding cache read failed: %w", err)
	}
	if len(missIdx) == 0 {
		return out, nil
	}

	missTexts := make([]string, len(missIdx))
	for j, i := range missIdx {
		missTexts[j] = texts[i]
	}
	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}

	err = c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEmbeddings)
		for j, i := range missIdx {
			out[i] = vecs[j]
			if err := b.Put(keys[i], encodeVector(vecs[j])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// a failed write only costs a re-embed next time
		c.logger.Warn("embedding cache write failed", zap.Error(err))
	}
	c.logger.Debug("embedding cache", zap.Int("hits", len(texts)-len(missIdx)), zap.Int("misses", len(missIdx)))
	return out, nil
}

// Dimension implements Embedder.
func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

// ModelName implements Embedder.
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }

// Close closes the cache file and the wrapped embedder if it is closable.
func (c *CachedEmbedder) Close() error {
	if closer, ok := c.inner.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	return c.db.Close()
}

func (c *CachedEmbedder) key(text string) []byte {
	h := sha256.New()
	h.Write([]byte(c.inner.ModelName()))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return h.Sum(nil)
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	// bbolt memory is only valid inside the transaction, so copy out
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return v
}
