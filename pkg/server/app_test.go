package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "supplychain-iq-api/configs"
	"supplychain-iq-api/pkg/azure"
	"supplychain-iq-api/pkg/services"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment:       "test",
		DataDir:           t.TempDir(),
		AdminUsername:     "admin",
		LLMProvider:       "none",
		EmbeddingProvider: "hashing",
		EmbeddingDim:      32,
		VectorBackend:     "flat",
		RAGTopK:           3,
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	gin.SetMode(gin.TestMode)
	app, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func serve(r http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouterEndToEnd(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	r := app.Router()

	// データ生成前はデータ未配置
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/analytics/shrinkage", "", nil).Code)

	w := serve(r, http.MethodPost, "/data/generate", `{"rows": 40, "seed": 5}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	for _, path := range []string{
		"/health",
		"/analytics/inventory-summary",
		"/analytics/demand-summary",
		"/analytics/supplier-summary",
		"/analytics/shipments-summary",
		"/analytics/stockout-risk",
		"/analytics/excess-inventory",
		"/analytics/shrinkage",
		"/analytics/promo-lift",
		"/analytics/anomalies",
		"/analytics/supplier-risk",
		"/analytics/shipment-delays",
		"/analytics/forecast?item_id=1&periods=3",
		"/analytics/demand-trend?item_id=1",
		"/rag/status",
		"/monitoring/logs?period=1h",
	} {
		w := serve(r, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, w.Code, "%s: %s", path, w.Body.String())
	}

	w = serve(r, http.MethodPost, "/rag/query", `{"query":"low stock items"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "retrieved_context")

	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/analytics/forecast?item_id=100000", "", nil).Code)

	// リクエストは Prometheus に記録される
	w = serve(r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "supplychain_http_requests_total")
	assert.Contains(t, w.Body.String(), `path="/analytics/forecast"`)
}

func TestRouterRequiresAPIKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.APIKey = "top-secret"
	r := newTestApp(t, cfg).Router()

	// ヘルスチェックは認証不要
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/rag/status", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/rag/status", "", map[string]string{"X-API-KEY": "top-secret"}).Code)
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.VectorBackend = "faiss"
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.EmbeddingProvider = "openai"
	_, err = New(context.Background(), cfg, nil)
	assert.Error(t, err, "openai embeddings without credentials")
}

func TestNewWithEmbeddingCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.EmbeddingCachePath = t.TempDir() + "/embeddings.db"
	app := newTestApp(t, cfg)

	ds := services.NewDataGenerator(services.GeneratorOptions{Items: 5, DemandRows: 20, Suppliers: 3, Shipments: 4, Seed: 1}).Generate(nil)
	require.NoError(t, app.Datasets.Save(ds))
	status, err := app.RAG.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, status.Chunks)
	assert.Equal(t, "hashing-32", status.Embedder)
}

func TestRemoteEmbeddingModel(t *testing.T) {
	cfg := &config.Config{EmbeddingProvider: "openai", EmbeddingModel: "all-MiniLM-L6-v2"}
	assert.Equal(t, "text-embedding-3-small", remoteEmbeddingModel(cfg))
	cfg.EmbeddingModel = "text-embedding-3-large"
	assert.Equal(t, "text-embedding-3-large", remoteEmbeddingModel(cfg))
}

func TestClientsFollowTheirOwnProvider(t *testing.T) {
	cfg := &config.Config{
		LLMProvider:                        "openai",
		LLMModel:                           "gpt-4o-mini",
		OpenAIAPIKey:                       "sk-x",
		OpenAIBaseURL:                      "https://api.openai.com/v1",
		EmbeddingProvider:                  "azure",
		AzureOpenAIEndpoint:                "https://example.openai.azure.com",
		AzureOpenAIAPIKey:                  "az",
		AzureOpenAIDeploymentName:          "chat-dep",
		AzureOpenAIEmbeddingDeploymentName: "embed-dep",
	}

	llm := newLLMClient(cfg)
	require.NotNil(t, llm)
	assert.Equal(t, azure.FlavorOpenAI, llm.Flavor())
	assert.Equal(t, "gpt-4o-mini", llm.ChatModel())

	embed := newEmbeddingClient(cfg)
	require.NotNil(t, embed)
	assert.Equal(t, azure.FlavorAzure, embed.Flavor())
	assert.Equal(t, "embed-dep", embed.EmbeddingModel())

	// 逆の組み合わせ
	cfg.LLMProvider = "azure"
	cfg.EmbeddingProvider = "openai"
	cfg.EmbeddingModel = "all-MiniLM-L6-v2"
	llm = newLLMClient(cfg)
	require.NotNil(t, llm)
	assert.Equal(t, azure.FlavorAzure, llm.Flavor())
	assert.Equal(t, "chat-dep", llm.ChatModel())
	assert.Equal(t, "chat_completions", cfg.LLMStyle())
	embed = newEmbeddingClient(cfg)
	require.NotNil(t, embed)
	assert.Equal(t, azure.FlavorOpenAI, embed.Flavor())
	assert.Equal(t, "text-embedding-3-small", embed.EmbeddingModel())

	// ローカル埋め込みや認証情報なしでは作らない
	cfg.EmbeddingProvider = "hashing"
	assert.Nil(t, newEmbeddingClient(cfg))
	cfg.AzureOpenAIAPIKey = ""
	assert.Nil(t, newLLMClient(cfg))
}
