package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Port          string
	Environment   string
	LogLevel      string
	APIKey        string
	AdminUsername string
	AdminPassword string

	// データ
	DataDir      string
	WatchDataDir bool

	// LLM
	LLMProvider      string // openai / azure / none
	LLMModel         string
	LLMAPIStyle      string // chat_completions / responses。空ならプロバイダーの既定
	LLMTimeout       time.Duration
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	PromptConfigPath string

	AzureOpenAIEndpoint                string
	AzureOpenAIAPIKey                  string
	AzureOpenAIAPIVersion              string
	AzureOpenAIDeploymentName          string
	AzureOpenAIEmbeddingDeploymentName string

	// 埋め込み・検索
	EmbeddingProvider      string // hashing / openai / azure / onnx
	EmbeddingModel         string
	EmbeddingDim           int
	ONNXModelPath          string
	ONNXLibraryPath        string
	EmbeddingCachePath     string
	VectorBackend          string // flat / qdrant
	QdrantURL              string
	QdrantAPIKey           string
	QdrantCollectionPrefix string
	RAGTopK                int

	// 予測
	ForecastStrict bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		APIKey:        getEnv("API_KEY", ""),
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		DataDir:      getEnv("DATA_DIR", "data"),
		WatchDataDir: getEnvBool("WATCH_DATA_DIR", false),

		LLMProvider:      getEnv("LLM_PROVIDER", "openai"),
		LLMModel:         getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMAPIStyle:      getEnv("LLM_API_STYLE", ""),
		LLMTimeout:       getEnvDuration("LLM_TIMEOUT", 30*time.Second),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		PromptConfigPath: getEnv("PROMPT_CONFIG_PATH", ""),

		AzureOpenAIEndpoint:                getEnv("AZURE_OPENAI_ENDPOINT", ""),
		AzureOpenAIAPIKey:                  getEnv("AZURE_OPENAI_API_KEY", ""),
		AzureOpenAIAPIVersion:              getEnv("AZURE_OPENAI_API_VERSION", "2023-12-01-preview"),
		AzureOpenAIDeploymentName:          getEnv("AZURE_OPENAI_DEPLOYMENT_NAME", "gpt-4o-mini"),
		AzureOpenAIEmbeddingDeploymentName: getEnv("AZURE_OPENAI_EMBEDDING_DEPLOYMENT_NAME", "text-embedding-3-small"),

		EmbeddingProvider:      getEnv("EMBEDDING_PROVIDER", "hashing"),
		EmbeddingModel:         getEnv("EMBEDDING_MODEL", "all-MiniLM-L6-v2"),
		EmbeddingDim:           getEnvInt("EMBEDDING_DIM", 384),
		ONNXModelPath:          getEnv("ONNX_MODEL_PATH", "models/all-MiniLM-L6-v2"),
		ONNXLibraryPath:        getEnv("ONNX_LIBRARY_PATH", ""),
		EmbeddingCachePath:     getEnv("EMBEDDING_CACHE_PATH", ""),
		VectorBackend:          getEnv("VECTOR_BACKEND", "flat"),
		QdrantURL:              getEnv("QDRANT_URL", "localhost:6334"),
		QdrantAPIKey:           getEnv("QDRANT_API_KEY", ""),
		QdrantCollectionPrefix: getEnv("QDRANT_COLLECTION_PREFIX", "supplychain_chunks"),
		RAGTopK:                getEnvInt("RAG_TOP_K", 5),

		ForecastStrict: getEnvBool("FORECAST_STRICT", false),
	}
}

// LLMConfigured はLLMの認証情報が揃っているかを返す
func (c *Config) LLMConfigured() bool {
	switch strings.ToLower(c.LLMProvider) {
	case "azure":
		return c.AzureOpenAIEndpoint != "" && c.AzureOpenAIAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	default:
		return false
	}
}

// LLMStyle は使うAPI形式を返す。
// Azure のデプロイは chat/completions だけを受けるので Azure では常に chat_completions
func (c *Config) LLMStyle() string {
	if strings.EqualFold(c.LLMProvider, "azure") {
		return "chat_completions"
	}
	if c.LLMAPIStyle == "" {
		return "responses"
	}
	return c.LLMAPIStyle
}

// IsProduction は本番環境かどうか
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

// getEnvDuration は "45s" 形式と秒数だけの "45" の両方を受け付ける
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
