package server

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	config "supplychain-iq-api/configs"
	"supplychain-iq-api/pkg/azure"
	"supplychain-iq-api/pkg/logging"
	"supplychain-iq-api/pkg/services"
)

// App は設定から組み立てたサービス一式です。
// HTTPサーバー・CLI・サーバーレスエントリが同じ組み立てを使います。
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *services.Metrics
	Datasets   *services.DatasetService
	Retrieval  *services.RetrievalService
	RAG        *services.RAGService
	Forecasts  *services.ForecastService
	Analytics  *services.AnalyticsService
	Monitoring *services.MonitoringService

	watcher *services.DataWatcher
	closers []io.Closer
}

// New は設定に従ってサービスを初期化します。
// Qdrant バックエンドを選んだ場合は ctx の範囲で接続確認を行います。
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: services.NewMetrics(),
	}
	app.Datasets = services.NewDatasetService(cfg.DataDir, logger.Named("dataset"))

	embedder, err := app.newEmbedder(cfg, newEmbeddingClient(cfg))
	if err != nil {
		app.Close()
		return nil, err
	}

	builder, err := app.newIndexBuilder(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Retrieval = services.NewRetrievalService(
		services.DatasetChunkSource(app.Datasets),
		embedder,
		builder,
		app.Metrics,
		logger.Named("retrieval"),
	)
	app.closers = append(app.closers, app.Retrieval)

	var adapter azure.Adapter
	if cfg.LLMConfigured() {
		adapter, err = azure.NewAdapter(cfg.LLMStyle(), newLLMClient(cfg))
		if err != nil {
			app.Close()
			return nil, err
		}
	}
	profile, err := config.LoadPromptProfile(cfg.PromptConfigPath)
	if err != nil {
		app.Close()
		return nil, err
	}
	answers := services.NewAnswerService(adapter, profile, cfg.LLMTimeout, app.Metrics, logger.Named("answer"))
	app.RAG = services.NewRAGService(app.Retrieval, answers, cfg.RAGTopK, app.Metrics, logger.Named("rag"))

	app.Forecasts = services.NewForecastService(
		app.Datasets,
		services.NewForecastEngine(nil, logger.Named("forecast")),
		cfg.ForecastStrict,
		app.Metrics,
		logger.Named("forecast"),
	)
	app.Analytics = services.NewAnalyticsService(
		app.Datasets,
		services.NewAnomalyDetector(services.DefaultContamination),
		logger.Named("analytics"),
	)
	app.Monitoring = services.NewMonitoringService(nil, app.Metrics, logger.Named("http"))

	if cfg.WatchDataDir {
		app.watcher = services.NewDataWatcher(cfg.DataDir, 0,
			services.ReloadOnChange(app.Datasets, app.Retrieval, logger.Named("watcher")),
			logger.Named("watcher"),
		)
	}

	logger.Info("application initialized",
		zap.String("data_dir", cfg.DataDir),
		zap.String("embedder", embedder.ModelName()),
		zap.String("vector_backend", app.Retrieval.Status().Backend),
		zap.Bool("llm_configured", answers.LLMConfigured()),
		zap.Bool("watch_data_dir", cfg.WatchDataDir),
	)
	return app, nil
}

// Start はデータディレクトリの監視を開始します（設定されている場合）。
func (a *App) Start(ctx context.Context) error {
	if a.watcher == nil {
		return nil
	}
	return a.watcher.Start(ctx)
}

// Close は監視・インデックス・外部接続を後ろから順に閉じます。
func (a *App) Close() error {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// newLLMClient は LLM_PROVIDER に従って回答生成用のクライアントを作る。
// 認証情報がなければ nil
func newLLMClient(cfg *config.Config) *azure.OpenAIClient {
	switch strings.ToLower(cfg.LLMProvider) {
	case "azure":
		return newAzureClient(cfg)
	case "openai":
		return newOpenAIClient(cfg)
	}
	return nil
}

// newEmbeddingClient は EMBEDDING_PROVIDER に従ってリモート埋め込み用のクライアントを作る。
// ローカル埋め込みなら nil
func newEmbeddingClient(cfg *config.Config) *azure.OpenAIClient {
	switch strings.ToLower(cfg.EmbeddingProvider) {
	case "azure":
		return newAzureClient(cfg)
	case "openai":
		return newOpenAIClient(cfg)
	}
	return nil
}

func newAzureClient(cfg *config.Config) *azure.OpenAIClient {
	if cfg.AzureOpenAIEndpoint == "" || cfg.AzureOpenAIAPIKey == "" {
		return nil
	}
	return azure.NewOpenAIClient(azure.ClientOptions{
		Flavor:         azure.FlavorAzure,
		Endpoint:       cfg.AzureOpenAIEndpoint,
		APIKey:         cfg.AzureOpenAIAPIKey,
		APIVersion:     cfg.AzureOpenAIAPIVersion,
		ChatModel:      cfg.AzureOpenAIDeploymentName,
		EmbeddingModel: cfg.AzureOpenAIEmbeddingDeploymentName,
		Timeout:        cfg.LLMTimeout,
	})
}

func newOpenAIClient(cfg *config.Config) *azure.OpenAIClient {
	if cfg.OpenAIAPIKey == "" {
		return nil
	}
	return azure.NewOpenAIClient(azure.ClientOptions{
		Flavor:         azure.FlavorOpenAI,
		Endpoint:       cfg.OpenAIBaseURL,
		APIKey:         cfg.OpenAIAPIKey,
		ChatModel:      cfg.LLMModel,
		EmbeddingModel: remoteEmbeddingModel(cfg),
		Timeout:        cfg.LLMTimeout,
	})
}

// remoteEmbeddingModel ONNX用の既定モデル名はOpenAIでは使えないので置き換える
func remoteEmbeddingModel(cfg *config.Config) string {
	if strings.EqualFold(cfg.EmbeddingProvider, "openai") && !strings.HasPrefix(cfg.EmbeddingModel, "text-embedding") {
		return "text-embedding-3-small"
	}
	return cfg.EmbeddingModel
}

func (a *App) newEmbedder(cfg *config.Config, client *azure.OpenAIClient) (services.Embedder, error) {
	opts := services.EmbedderOptions{
		Provider:        cfg.EmbeddingProvider,
		Dim:             cfg.EmbeddingDim,
		Client:          client,
		ModelDir:        cfg.ONNXModelPath,
		ONNXLibraryPath: cfg.ONNXLibraryPath,
	}
	switch strings.ToLower(cfg.EmbeddingProvider) {
	case "openai", "azure":
		// 次元はデプロイ側が決めるので応答から受け取る
		opts.Dim = 0
	}

	embedder, err := services.NewEmbedder(opts)
	if err != nil {
		return nil, fmt.Errorf("埋め込みの初期化に失敗: %w", err)
	}
	if c, ok := embedder.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	if cfg.EmbeddingCachePath == "" {
		return embedder, nil
	}
	cached, err := services.NewCachedEmbedder(embedder, cfg.EmbeddingCachePath, a.Metrics, a.Logger.Named("embedding_cache"))
	if err != nil {
		return nil, fmt.Errorf("埋め込みキャッシュの初期化に失敗: %w", err)
	}
	// CachedEmbedder.Close は内側も閉じるので差し替える
	if _, ok := embedder.(io.Closer); ok {
		a.closers = a.closers[:len(a.closers)-1]
	}
	a.closers = append(a.closers, cached)
	return cached, nil
}

func (a *App) newIndexBuilder(ctx context.Context, cfg *config.Config) (services.IndexBuilder, error) {
	switch strings.ToLower(cfg.VectorBackend) {
	case "", "flat":
		return services.FlatIndexBuilder{}, nil
	case "qdrant":
		builder, err := services.NewQdrantIndexBuilder(ctx, services.QdrantOptions{
			URL:              cfg.QdrantURL,
			APIKey:           cfg.QdrantAPIKey,
			CollectionPrefix: cfg.QdrantCollectionPrefix,
		}, a.Logger.Named("qdrant"))
		if err != nil {
			return nil, fmt.Errorf("Qdrantへの接続に失敗: %w", err)
		}
		a.closers = append(a.closers, builder)
		return builder, nil
	default:
		return nil, fmt.Errorf("unknown vector backend: %q", cfg.VectorBackend)
	}
}
