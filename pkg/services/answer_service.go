package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	config "supplychain-iq-api/configs"
	"supplychain-iq-api/pkg/azure"
	"supplychain-iq-api/pkg/logging"
	"supplychain-iq-api/pkg/models"
)

// ContextDelimiter separates retrieved chunks in the assembled context.
const ContextDelimiter = "\n\n---\n\n"

// FallbackPrefix precedes the context when no language model answers.
const FallbackPrefix = "RAG engine is active but no LLM API key is configured.\n\nHere is the retrieved supply chain context:\n\n"

// DefaultLLMTimeout LLM呼び出しのタイムアウト既定値
const DefaultLLMTimeout = 30 * time.Second

// AnswerService は検索結果からプロンプトを組み立て、LLMに回答させる。
// LLM未設定・失敗・タイムアウトのときはコンテキストをそのまま返す。
type AnswerService struct {
	adapter azure.Adapter // nil: LLM未設定
	profile *config.PromptProfile
	timeout time.Duration
	metrics *Metrics
	logger  *zap.Logger
}

// NewAnswerService creates a new AnswerService. adapter may be nil.
func NewAnswerService(adapter azure.Adapter, profile *config.PromptProfile, timeout time.Duration, metrics *Metrics, logger *zap.Logger) *AnswerService {
	if profile == nil {
		profile = config.DefaultPromptProfile()
	}
	if timeout <= 0 {
		timeout = DefaultLLMTimeout
	}
	return &AnswerService{
		adapter: adapter,
		profile: profile,
		timeout: timeout,
		metrics: metrics,
		logger:  logging.OrNop(logger),
	}
}

// LLMConfigured reports whether answers go through a language model.
func (s *AnswerService) LLMConfigured() bool {
	return s.adapter != nil
}

// Answer は (回答, コンテキスト) を返す。エラーは返さない。
func (s *AnswerService) Answer(ctx context.Context, query string, retrieved []models.DocumentChunk) (string, string) {
	contextText := JoinContext(retrieved)
	if s.adapter == nil {
		s.metrics.ObserveFallback("not_configured")
		return FallbackPrefix + contextText, contextText
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt := s.profile.BuildAnalystPrompt(contextText, query)
	completion, err := s.adapter.Complete(callCtx, prompt)
	if err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		s.metrics.ObserveFallback(reason)
		s.logger.Warn("LLM call failed, answering from context",
			zap.String("adapter", s.adapter.Name()),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return FallbackPrefix + contextText, contextText
	}

	if !completion.Found {
		s.metrics.ObserveFallback("shape_drift")
		s.logger.Warn("LLM response missing text field, returning raw response",
			zap.String("adapter", s.adapter.Name()),
		)
		return completion.Raw, contextText
	}
	return completion.Text, contextText
}

// JoinContext concatenates chunk texts in rank order.
func JoinContext(chunks []models.DocumentChunk) string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return strings.Join(texts, ContextDelimiter)
}
