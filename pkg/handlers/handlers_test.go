package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "supplychain-iq-api/configs"
	"supplychain-iq-api/pkg/models"
	"supplychain-iq-api/pkg/services"
)

type testEnv struct {
	router    *gin.Engine
	datasets  *services.DatasetService
	retrieval *services.RetrievalService
}

// newTestEnv は小さな合成データを書き出したディレクトリでルーターを組み立てる
func newTestEnv(t *testing.T, withData bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	datasets := services.NewDatasetService(dir, nil)
	if withData {
		ds := services.NewDataGenerator(services.GeneratorOptions{
			Items:      30,
			DemandRows: 600,
			Suppliers:  10,
			Shipments:  40,
			Seed:       3,
			Today:      time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		}).Generate(nil)
		require.NoError(t, datasets.Save(ds))
	}

	retrieval := services.NewRetrievalService(services.DatasetChunkSource(datasets), services.NewHashingEmbedder(64), nil, nil, nil)
	t.Cleanup(func() { _ = retrieval.Close() })
	answers := services.NewAnswerService(nil, nil, 0, nil, nil)
	rag := services.NewRAGService(retrieval, answers, 0, nil, nil)
	forecasts := services.NewForecastService(datasets, services.NewForecastEngine(nil, nil), false, nil, nil)
	analytics := services.NewAnalyticsService(datasets, services.NewAnomalyDetector(0), nil)

	analyticsHandler := NewAnalyticsHandler(analytics)
	forecastHandler := NewDemandForecastHandler(forecasts, analytics)
	ragHandler := NewRAGHandler(rag)
	dataHandler := NewDataHandler(datasets, retrieval, nil)

	r := gin.New()
	r.GET("/health", HealthCheck)
	r.POST("/data/generate", dataHandler.Generate)
	r.GET("/data/export.xlsx", dataHandler.ExportXLSX)
	r.GET("/analytics/inventory-summary", analyticsHandler.Summary(services.TableInventory))
	r.GET("/analytics/stockout-risk", analyticsHandler.StockoutRisk)
	r.GET("/analytics/shipment-delays", analyticsHandler.ShipmentDelays)
	r.GET("/analytics/anomalies", analyticsHandler.Anomalies)
	r.GET("/analytics/forecast", forecastHandler.Forecast)
	r.GET("/analytics/demand-trend", forecastHandler.DemandTrend)
	r.POST("/rag/query", ragHandler.Query)
	r.POST("/rag/rebuild", ragHandler.Rebuild)
	r.GET("/rag/status", ragHandler.Status)

	return &testEnv{router: r, datasets: datasets, retrieval: retrieval}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHealthCheckAndMaintenance(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Cleanup(func() { isMaintenanceMode.Store(false) })

	cfg := &config.Config{AdminUsername: "admin", AdminPassword: "secret"}
	admin := NewAdminHandler(cfg, nil)

	router := gin.New()
	router.GET("/health", HealthCheck)
	router.POST("/admin/maintenance/start", admin.StartMaintenance)
	router.POST("/admin/maintenance/stop", admin.StopMaintenance)
	guarded := router.Group("/analytics", MaintenanceGuard())
	guarded.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	send := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	// 通常時は200
	assert.Equal(t, http.StatusOK, send(http.MethodGet, "/health", "").Code)

	// 認証情報の誤りは401、欠落は400
	assert.Equal(t, http.StatusUnauthorized, send(http.MethodPost, "/admin/maintenance/start", `{"username":"admin","password":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, send(http.MethodPost, "/admin/maintenance/start", `{}`).Code)

	// メンテナンス中はヘルスチェックと業務APIが503
	assert.Equal(t, http.StatusOK, send(http.MethodPost, "/admin/maintenance/start", `{"username":"admin","password":"secret"}`).Code)
	assert.Equal(t, http.StatusServiceUnavailable, send(http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, send(http.MethodGet, "/analytics/ping", "").Code)

	assert.Equal(t, http.StatusOK, send(http.MethodPost, "/admin/maintenance/stop", `{"username":"admin","password":"secret"}`).Code)
	assert.Equal(t, http.StatusOK, send(http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusNoContent, send(http.MethodGet, "/analytics/ping", "").Code)
}

func TestAdminDisabledWithoutPassword(t *testing.T) {
	gin.SetMode(gin.TestMode)
	admin := NewAdminHandler(&config.Config{AdminUsername: "admin"}, nil)
	router := gin.New()
	router.POST("/admin/maintenance/start", admin.StartMaintenance)

	req := httptest.NewRequest(http.MethodPost, "/admin/maintenance/start", strings.NewReader(`{"username":"admin","password":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, isMaintenanceMode.Load())
}

func TestAPIKeyMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/open", APIKeyMiddleware(""), func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/closed", APIKeyMiddleware("k1"), func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		path, key string
		want      int
	}{
		{"/open", "", http.StatusOK},
		{"/closed", "", http.StatusUnauthorized},
		{"/closed", "wrong", http.StatusUnauthorized},
		{"/closed", "k1", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.key != "" {
			req.Header.Set(APIKeyHeader, tc.key)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code, "%s key=%q", tc.path, tc.key)
	}
}

func TestForecastEndpoint(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(t, http.MethodGet, "/analytics/forecast?item_id=1&periods=5", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	// レスポンスは {date, forecast_units} の配列
	var points []models.ForecastPoint
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &points))
	require.Len(t, points, 5)
	for i := 1; i < len(points); i++ {
		assert.Equal(t, points[i-1].Date.AddDays(1).String(), points[i].Date.String())
	}
	assert.NotEmpty(t, w.Header().Get(ForecastTierHeader))

	var records []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	assert.Contains(t, records[0], "date")
	assert.Contains(t, records[0], "forecast_units")

	// 既定の期間は7日
	w = env.do(t, http.MethodGet, "/analytics/forecast?item_id=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &points))
	assert.Len(t, points, 7)
}

func TestForecastEndpointRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, true)

	for _, path := range []string{
		"/analytics/forecast?item_id=9999",
		"/analytics/forecast?item_id=1&periods=0",
		"/analytics/forecast?item_id=1&periods=366",
		"/analytics/forecast?item_id=abc",
		"/analytics/forecast",
	} {
		w := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Contains(t, w.Body.String(), "error")
	}
}

func TestDemandTrendEndpoint(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(t, http.MethodGet, "/analytics/demand-trend?item_id=1&granularity=monthly", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		ItemID      int               `json:"item_id"`
		Granularity string            `json:"granularity"`
		Points      []json.RawMessage `json:"points"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "monthly", body.Granularity)
	assert.NotEmpty(t, body.Points)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/analytics/demand-trend?item_id=1&granularity=daily", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/analytics/demand-trend?item_id=9999", nil).Code)
}

func TestAnalyticsListEndpoints(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(t, http.MethodGet, "/analytics/stockout-risk?top_n=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var risks []models.StockoutRisk
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &risks))
	require.Len(t, risks, 5)
	for i := 1; i < len(risks); i++ {
		assert.LessOrEqual(t, risks[i-1].DaysOfSupply, risks[i].DaysOfSupply)
	}

	// 出荷遅延の既定件数は50だが40件しかない
	w = env.do(t, http.MethodGet, "/analytics/shipment-delays", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var delays []models.ShipmentDelay
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &delays))
	assert.Len(t, delays, 40)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/analytics/stockout-risk?top_n=x", nil).Code)

	w = env.do(t, http.MethodGet, "/analytics/inventory-summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary models.TableSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, []int{30, 7}, summary.Shape)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/analytics/anomalies", nil).Code)
}

func TestAnalyticsWithoutDataReturnsNotFound(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(t, http.MethodGet, "/analytics/stockout-risk", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "/data/generate")
}

func TestRAGQueryWithoutLLMReturnsContext(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(t, http.MethodPost, "/rag/query", gin.H{"query": "Which suppliers are risky?", "k": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp models.RAGQueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.Answer, services.FallbackPrefix))
	assert.Equal(t, 3, len(strings.Split(resp.RetrievedContext, services.ContextDelimiter)))
	assert.Equal(t, services.FallbackPrefix+resp.RetrievedContext, resp.Answer)

	// 初回クエリでインデックスが作られている
	w = env.do(t, http.MethodGet, "/rag/status", nil)
	var status models.IndexStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Ready)
	assert.Equal(t, 40, status.Chunks)
	assert.Equal(t, "flat", status.Backend)
}

func TestRAGQueryValidation(t *testing.T) {
	env := newTestEnv(t, true)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/rag/query", gin.H{}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/rag/query", nil).Code)

	// 負の k は空の文脈ではなく 400
	w := env.do(t, http.MethodPost, "/rag/query", gin.H{"query": "x", "k": -3})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "k must not be negative")
}

func TestRAGRebuildAdvancesGeneration(t *testing.T) {
	env := newTestEnv(t, true)

	for want := uint64(1); want <= 2; want++ {
		w := env.do(t, http.MethodPost, "/rag/rebuild", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var status models.IndexStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		assert.Equal(t, want, status.Generation)
	}
}

func TestRAGEmptyCorpusIsServerError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	empty := services.ChunkSourceFunc(func(_ context.Context) ([]models.DocumentChunk, error) { return nil, nil })
	retrieval := services.NewRetrievalService(empty, services.NewHashingEmbedder(16), nil, nil, nil)
	rag := services.NewRAGService(retrieval, services.NewAnswerService(nil, nil, 0, nil, nil), 0, nil, nil)
	h := NewRAGHandler(rag)

	router := gin.New()
	router.POST("/rag/query", h.Query)
	req := httptest.NewRequest(http.MethodPost, "/rag/query", strings.NewReader(`{"query":"anything"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), services.ErrEmptyCorpus.Error())
}

func TestGenerateEndpointWritesDataAndRebuilds(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/data/generate", gin.H{"rows": 25, "seed": 11})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Message string             `json:"message"`
		Paths   map[string]string  `json:"paths"`
		Index   models.IndexStatus `json:"index"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Synthetic data generated.", body.Message)
	assert.Len(t, body.Paths, 4)
	assert.Contains(t, body.Paths[services.TableInventory], "inventory.csv")
	assert.Equal(t, 50, body.Index.Chunks)

	ds, err := env.datasets.Load()
	require.NoError(t, err)
	assert.Len(t, ds.Inventory, 25)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/data/generate", gin.H{"rows": -1}).Code)
}

func TestExportXLSX(t *testing.T) {
	env := newTestEnv(t, true)
	w := env.do(t, http.MethodGet, "/data/export.xlsx", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "supplychain_dataset.xlsx")
	// XLSX は zip なので PK で始まる
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))
}

func TestPeriodHours(t *testing.T) {
	assert.Equal(t, 1, periodHours("1h"))
	assert.Equal(t, 24, periodHours("24h"))
	assert.Equal(t, 168, periodHours("7d"))
	assert.Equal(t, 6, periodHours("6h"))
	assert.Equal(t, 48, periodHours("2d"))
	assert.Equal(t, 168, periodHours("30d"))
	assert.Equal(t, 24, periodHours("soon"))
	assert.Equal(t, 24, periodHours("10m"))
}

func TestMonitoringLogsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mon := services.NewMonitoringService(nil, nil, nil)
	h := NewMonitoringHandler(mon)

	router := gin.New()
	router.Use(mon.LoggingMiddleware())
	router.GET("/analytics/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/monitoring/logs", h.GetLogs)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/analytics/x", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/monitoring/logs?period=1h", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var data services.DashboardData
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &data))
	assert.Equal(t, 1, data.Endpoints["/analytics/x"])
	assert.Len(t, data.RequestsOverTime, 1)
}
