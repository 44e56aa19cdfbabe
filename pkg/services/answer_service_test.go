package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supplychain-iq-api/pkg/azure"
	"supplychain-iq-api/pkg/models"
)

// stubAdapter returns a canned completion and records the prompt.
type stubAdapter struct {
	completion azure.Completion
	err        error
	delay      time.Duration
	prompt     string
}

func (s *stubAdapter) Name() string { return "stub" }

func (s *stubAdapter) Complete(ctx context.Context, prompt string) (azure.Completion, error) {
	s.prompt = prompt
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return azure.Completion{}, ctx.Err()
		}
	}
	return s.completion, s.err
}

func threeChunks() []models.DocumentChunk {
	return []models.DocumentChunk{
		chunk(models.EntityItem, 1, "ITEM REPORT: one"),
		chunk(models.EntityItem, 2, "ITEM REPORT: two"),
		chunk(models.EntitySupplier, 3, "SUPPLIER REPORT: three"),
	}
}

func TestAnswerWithoutModelEchoesContext(t *testing.T) {
	svc := NewAnswerService(nil, nil, 0, nil, nil)
	answer, contextText := svc.Answer(context.Background(), "What items are at risk?", threeChunks())

	assert.Equal(t, "ITEM REPORT: one\n\n---\n\nITEM REPORT: two\n\n---\n\nSUPPLIER REPORT: three", contextText)
	assert.True(t, strings.HasPrefix(answer, FallbackPrefix))
	assert.Contains(t, answer, contextText)
	assert.False(t, svc.LLMConfigured())
}

func TestAnswerUsesModelText(t *testing.T) {
	adapter := &stubAdapter{completion: azure.Completion{Text: "Item 2 is at risk.", Found: true}}
	svc := NewAnswerService(adapter, nil, time.Second, nil, nil)

	answer, contextText := svc.Answer(context.Background(), "What items are at risk?", threeChunks())
	assert.Equal(t, "Item 2 is at risk.", answer)
	assert.NotEmpty(t, contextText)
	assert.Contains(t, adapter.prompt, "Question:\nWhat items are at risk?")
	assert.Contains(t, adapter.prompt, "Context:\n"+contextText)
	assert.Contains(t, adapter.prompt, "retail supply chain and inventory analyst")
}

func TestAnswerShapeDriftReturnsRaw(t *testing.T) {
	adapter := &stubAdapter{completion: azure.Completion{Raw: `{"output":[]}`}}
	svc := NewAnswerService(adapter, nil, time.Second, nil, nil)

	answer, _ := svc.Answer(context.Background(), "q", threeChunks())
	assert.Equal(t, `{"output":[]}`, answer)
}

func TestAnswerFallsBackOnErrorAndTimeout(t *testing.T) {
	metrics := NewMetrics()

	failing := NewAnswerService(&stubAdapter{err: errors.New("boom")}, nil, time.Second, metrics, nil)
	answer, contextText := failing.Answer(context.Background(), "q", threeChunks())
	assert.Equal(t, FallbackPrefix+contextText, answer)

	slow := NewAnswerService(&stubAdapter{delay: time.Second}, nil, 20*time.Millisecond, metrics, nil)
	start := time.Now()
	answer, contextText = slow.Answer(context.Background(), "q", threeChunks())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, FallbackPrefix+contextText, answer)
}

func TestAnswerThroughHTTPResponsesAdapter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output":[{"content":[{"type":"output_text","text":"Reorder item 1."}]}]}`))
	}))
	defer server.Close()

	client := azure.NewOpenAIClient(azure.ClientOptions{Endpoint: server.URL, APIKey: "k", ChatModel: "gpt-4o-mini"})
	adapter, err := azure.NewAdapter(azure.StyleResponses, client)
	require.NoError(t, err)

	answer, _ := NewAnswerService(adapter, nil, time.Second, nil, nil).Answer(context.Background(), "q", threeChunks())
	assert.Equal(t, "Reorder item 1.", answer)
}

func TestRAGServiceQuery(t *testing.T) {
	dir, _ := writeSampleDataset(t)
	datasets := NewDatasetService(dir, nil)
	retrieval := NewRetrievalService(DatasetChunkSource(datasets), NewHashingEmbedder(64), nil, nil, nil)
	rag := NewRAGService(retrieval, NewAnswerService(nil, nil, 0, nil, nil), 3, NewMetrics(), nil)

	resp, err := rag.Query(context.Background(), "Which supplier has the worst defect rate?", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.RetrievedContext)
	assert.Equal(t, 2, strings.Count(resp.RetrievedContext, ContextDelimiter))
	assert.True(t, strings.HasPrefix(resp.Answer, FallbackPrefix))

	// k larger than the corpus returns every chunk
	resp, err = rag.Query(context.Background(), "everything", 50)
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(resp.RetrievedContext, ContextDelimiter))

	st := rag.Status()
	assert.True(t, st.Ready)
	assert.Equal(t, 5, st.Chunks)
}

func TestRAGServiceEmptyCorpus(t *testing.T) {
	retrieval := NewRetrievalService(staticSource(), NewHashingEmbedder(8), nil, nil, nil)
	rag := NewRAGService(retrieval, NewAnswerService(nil, nil, 0, nil, nil), 0, nil, nil)
	_, err := rag.Query(context.Background(), "q", 0)
	assert.ErrorIs(t, err, ErrEmptyCorpus)
}

func TestRAGServiceRejectsNegativeK(t *testing.T) {
	dir, _ := writeSampleDataset(t)
	retrieval := NewRetrievalService(DatasetChunkSource(NewDatasetService(dir, nil)), NewHashingEmbedder(16), nil, nil, nil)
	rag := NewRAGService(retrieval, NewAnswerService(nil, nil, 0, nil, nil), 3, NewMetrics(), nil)

	resp, err := rag.Query(context.Background(), "q", -1)
	assert.ErrorIs(t, err, ErrInvalidTopK)
	assert.Nil(t, resp)
	// インデックスは作られていない
	assert.False(t, rag.Status().Ready)
}
