package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"supplychain-iq-api/pkg/logging"
	"supplychain-iq-api/pkg/models"
)

// DefaultTopK /rag/query で k を省略したときの件数
const DefaultTopK = 5

// RAGService は検索と回答生成をつなぐ
type RAGService struct {
	retrieval *RetrievalService
	answers   *AnswerService
	topK      int
	metrics   *Metrics
	logger    *zap.Logger
}

// NewRAGService creates a new RAGService. topK <= 0 uses DefaultTopK.
func NewRAGService(retrieval *RetrievalService, answers *AnswerService, topK int, metrics *Metrics, logger *zap.Logger) *RAGService {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &RAGService{
		retrieval: retrieval,
		answers:   answers,
		topK:      topK,
		metrics:   metrics,
		logger:    logging.OrNop(logger),
	}
}

// Query は質問に対して回答と検索コンテキストを返す。k が0なら既定値を使う。
// ErrEmptyCorpus などインデックス構築の失敗はそのまま返す。
func (s *RAGService) Query(ctx context.Context, question string, k int) (*models.RAGQueryResponse, error) {
	if k < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, k)
	}
	start := time.Now()
	s.metrics.ObserveQuery()
	if k == 0 {
		k = s.topK
	}

	hits, err := s.retrieval.Search(ctx, question, k)
	if err != nil {
		return nil, err
	}
	chunks := make([]models.DocumentChunk, len(hits))
	for i, h := range hits {
		chunks[i] = h.Chunk
	}

	answer, contextText := s.answers.Answer(ctx, question, chunks)
	s.logger.Info("rag query answered",
		zap.Int("k", k),
		zap.Int("retrieved", len(chunks)),
		zap.Bool("llm", s.answers.LLMConfigured()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &models.RAGQueryResponse{Answer: answer, RetrievedContext: contextText}, nil
}

// Rebuild rebuilds the retrieval index.
func (s *RAGService) Rebuild(ctx context.Context) (models.IndexStatus, error) {
	return s.retrieval.Rebuild(ctx)
}

// Status returns the retrieval index status.
func (s *RAGService) Status() models.IndexStatus {
	return s.retrieval.Status()
}
