package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"supplychain-iq-api/pkg/logging"
	"supplychain-iq-api/pkg/models"
)

// ChunkSource はインデックス構築用のチャンクを供給する
type ChunkSource interface {
	Chunks(ctx context.Context) ([]models.DocumentChunk, error)
}

// ChunkSourceFunc adapts a function to ChunkSource.
type ChunkSourceFunc func(ctx context.Context) ([]models.DocumentChunk, error)

// Chunks implements ChunkSource.
func (f ChunkSourceFunc) Chunks(ctx context.Context) ([]models.DocumentChunk, error) { return f(ctx) }

// DatasetChunkSource builds one chunk per item and per supplier from the dataset.
func DatasetChunkSource(datasets *DatasetService) ChunkSource {
	return ChunkSourceFunc(func(ctx context.Context) ([]models.DocumentChunk, error) {
		ds, err := datasets.Load()
		if err != nil {
			return nil, fmt.Errorf("データセットの読み込みに失敗: %w", err)
		}
		return BuildDocuments(ds.Inventory, ds.Demand, ds.Suppliers, ds.Shipments), nil
	})
}

// indexGeneration 構築済みのインデックス1世代
type indexGeneration struct {
	index   VectorIndex
	id      uint64
	builtAt time.Time
}

// RetrievalService は検索インデックスを所有する。
// 初回検索時に同期的に構築し、Rebuild で丸ごと置き換える。
// 構築は buildMu で直列化し、現在の世代へのポインタは mu で保護する。
type RetrievalService struct {
	source   ChunkSource
	embedder Embedder
	builder  IndexBuilder
	metrics  *Metrics
	logger   *zap.Logger

	buildMu    sync.Mutex
	generation uint64 // buildMu

	mu      sync.RWMutex
	current *indexGeneration
}

// NewRetrievalService creates a new RetrievalService. nil builder uses the flat index.
func NewRetrievalService(source ChunkSource, embedder Embedder, builder IndexBuilder, metrics *Metrics, logger *zap.Logger) *RetrievalService {
	if builder == nil {
		builder = FlatIndexBuilder{}
	}
	return &RetrievalService{
		source:   source,
		embedder: embedder,
		builder:  builder,
		metrics:  metrics,
		logger:   logging.OrNop(logger),
	}
}

// Search は質問に近いチャンクを距離の昇順で最大 k 件返す。
// インデックスが無ければ先に構築し、構築中の検索はその完了を待つ。
func (s *RetrievalService) Search(ctx context.Context, query string, k int) ([]models.SearchHit, error) {
	if k <= 0 {
		return []models.SearchHit{}, nil
	}
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("クエリのベクトル化に失敗: %w", err)
	}

	// the read lock spans the search so Rebuild cannot close this generation under us
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, fmt.Errorf("retrieval index closed")
	}
	return s.current.index.Search(ctx, vecs[0], k)
}

// ensure builds the first generation if none exists yet.
func (s *RetrievalService) ensure(ctx context.Context) error {
	s.mu.RLock()
	ready := s.current != nil
	s.mu.RUnlock()
	if ready {
		return nil
	}

	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	s.mu.RLock()
	ready = s.current != nil
	s.mu.RUnlock()
	if ready { // another caller finished building while we waited
		return nil
	}
	_, err := s.rebuildLocked(ctx)
	return err
}

// Rebuild はチャンクを読み直して新しい世代を構築し、完成後に差し替える。
// 失敗した場合は既存の世代がそのまま使われる。
func (s *RetrievalService) Rebuild(ctx context.Context) (models.IndexStatus, error) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	return s.rebuildLocked(ctx)
}

func (s *RetrievalService) rebuildLocked(ctx context.Context) (models.IndexStatus, error) {
	start := time.Now()
	gen := s.generation + 1

	idx, err := s.build(ctx, gen)
	if err != nil {
		s.metrics.ObserveRebuild(err, time.Since(start), 0, 0)
		s.logger.Error("index build failed", zap.Uint64("generation", gen), zap.Error(err))
		return s.Status(), err
	}

	next := &indexGeneration{index: idx, id: gen, builtAt: time.Now().UTC()}
	s.mu.Lock()
	old := s.current
	s.current = next
	s.mu.Unlock()
	s.generation = gen

	// no reader can still hold old: the swap waited for their read locks
	if old != nil {
		if err := old.index.Close(); err != nil {
			s.logger.Warn("failed to close previous index", zap.Uint64("generation", old.id), zap.Error(err))
		}
	}

	elapsed := time.Since(start)
	s.metrics.ObserveRebuild(nil, elapsed, gen, idx.Len())
	s.logger.Info("index built",
		zap.Uint64("generation", gen),
		zap.Int("chunks", idx.Len()),
		zap.String("backend", s.builder.Name()),
		zap.String("embedder", s.embedder.ModelName()),
		zap.Duration("elapsed", elapsed),
	)
	return s.Status(), nil
}

func (s *RetrievalService) build(ctx context.Context, gen uint64) (VectorIndex, error) {
	chunks, err := s.source.Chunks(ctx)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrEmptyCorpus
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("チャンクのベクトル化に失敗: %w", err)
	}
	return s.builder.Build(ctx, gen, chunks, vectors)
}

// Status は現在の世代の状態を返す
func (s *RetrievalService) Status() models.IndexStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := models.IndexStatus{
		Backend:  s.builder.Name(),
		Embedder: s.embedder.ModelName(),
	}
	if s.current != nil {
		st.Ready = true
		st.Generation = s.current.id
		st.Chunks = s.current.index.Len()
		st.BuiltAt = s.current.builtAt
	}
	return st
}

// Close releases the current generation.
func (s *RetrievalService) Close() error {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.mu.Unlock()
	if cur == nil {
		return nil
	}
	return cur.index.Close()
}
