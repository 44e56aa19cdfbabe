package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Flavor はエンドポイントのURL体系と認証ヘッダーの種類
type Flavor string

const (
	// FlavorAzure は /openai/deployments/{name}/... と api-key ヘッダーを使う
	FlavorAzure Flavor = "azure"
	// FlavorOpenAI は {base}/chat/completions 等と Bearer トークンを使う
	FlavorOpenAI Flavor = "openai"
)

// ClientOptions OpenAIClient の接続設定
type ClientOptions struct {
	Flavor     Flavor
	Endpoint   string
	APIKey     string
	APIVersion string
	// ChatModel はAzureではデプロイ名、OpenAIではモデル名
	ChatModel      string
	EmbeddingModel string
	Timeout        time.Duration
	HTTPClient     *http.Client
}

// OpenAIClient はAzure OpenAI / OpenAI 互換 REST APIへのリクエストを管理します。
type OpenAIClient struct {
	flavor         Flavor
	endpoint       string
	apiKey         string
	apiVersion     string
	chatModel      string
	embeddingModel string
	httpClient     *http.Client
}

// NewOpenAIClient は新しいクライアントを作成します。
func NewOpenAIClient(opts ClientOptions) *OpenAIClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	flavor := opts.Flavor
	if flavor == "" {
		flavor = FlavorOpenAI
	}

	return &OpenAIClient{
		flavor:         flavor,
		endpoint:       strings.TrimSuffix(opts.Endpoint, "/"),
		apiKey:         opts.APIKey,
		apiVersion:     opts.APIVersion,
		chatModel:      opts.ChatModel,
		embeddingModel: opts.EmbeddingModel,
		httpClient:     httpClient,
	}
}

// --- データ構造定義 ---

// ChatMessage チャットメッセージ
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest チャット補完リクエスト
type ChatCompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

// ResponsesRequest Responses APIリクエスト
type ResponsesRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// EmbeddingRequest Embedding APIリクエスト
type EmbeddingRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

// EmbeddingResponse Embedding APIレスポンス
type EmbeddingResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// ErrorResponse エラーレスポンス
type ErrorResponse struct {
	Error struct {
		Code    interface{} `json:"code"`
		Message string      `json:"message"`
		Type    string      `json:"type"`
	} `json:"error"`
}

// --- メソッド定義 ---

// Flavor は接続先の種類を返す
func (c *OpenAIClient) Flavor() Flavor { return c.flavor }

// ChatModel はチャットに使うモデル名（デプロイ名）を返す
func (c *OpenAIClient) ChatModel() string { return c.chatModel }

// EmbeddingModel は埋め込みに使うモデル名（デプロイ名）を返す
func (c *OpenAIClient) EmbeddingModel() string { return c.embeddingModel }

func (c *OpenAIClient) url(operation, deployment string) string {
	if c.flavor == FlavorAzure {
		return fmt.Sprintf("%s/openai/deployments/%s/%s?api-version=%s",
			c.endpoint, deployment, operation, c.apiVersion)
	}
	return fmt.Sprintf("%s/%s", c.endpoint, operation)
}

// ChatCompletionRaw はチャット補完を実行し、レスポンス本文をそのまま返す
func (c *OpenAIClient) ChatCompletionRaw(ctx context.Context, messages []ChatMessage) ([]byte, error) {
	request := ChatCompletionRequest{Messages: messages}
	if c.flavor == FlavorOpenAI {
		request.Model = c.chatModel
	}

	body, err := c.doRequest(ctx, c.url("chat/completions", c.chatModel), request)
	if err != nil {
		return nil, fmt.Errorf("chat completions API 呼び出しに失敗: %w", err)
	}
	return body, nil
}

// ResponsesRaw は Responses API を呼び出し、レスポンス本文をそのまま返す
func (c *OpenAIClient) ResponsesRaw(ctx context.Context, input string) ([]byte, error) {
	request := ResponsesRequest{Model: c.chatModel, Input: input}

	body, err := c.doRequest(ctx, c.url("responses", c.chatModel), request)
	if err != nil {
		return nil, fmt.Errorf("responses API 呼び出しに失敗: %w", err)
	}
	return body, nil
}

// CreateEmbeddings 複数テキストのベクトル表現を入力順に生成
func (c *OpenAIClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if c.embeddingModel == "" {
		return nil, fmt.Errorf("Embedding model が設定されていません")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	request := EmbeddingRequest{Input: texts}
	if c.flavor == FlavorOpenAI {
		request.Model = c.embeddingModel
	}

	body, err := c.doRequest(ctx, c.url("embeddings", c.embeddingModel), request)
	if err != nil {
		return nil, fmt.Errorf("embeddings API 呼び出しに失敗: %w", err)
	}

	var embeddingResp EmbeddingResponse
	if err := json.Unmarshal(body, &embeddingResp); err != nil {
		return nil, fmt.Errorf("レスポンスのJSON解析に失敗: %w", err)
	}
	if len(embeddingResp.Data) != len(texts) {
		return nil, fmt.Errorf("Embedding の件数が一致しません: want %d, got %d", len(texts), len(embeddingResp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range embeddingResp.Data {
		if d.Index < 0 || d.Index >= len(out) || len(d.Embedding) == 0 {
			return nil, fmt.Errorf("APIから有効なEmbeddingが返されませんでした")
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// doRequest はHTTPリクエストの実行と基本的なレスポンス処理を行う共通メソッドです。
func (c *OpenAIClient) doRequest(ctx context.Context, url string, requestData interface{}) ([]byte, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("API key が設定されていません")
	}

	requestBody, err := json.Marshal(requestData)
	if err != nil {
		return nil, fmt.Errorf("リクエストのJSON化に失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.flavor == FlavorAzure {
		req.Header.Set("api-key", c.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの実行に失敗: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスの読み取りに失敗: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp ErrorResponse
		if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
			return nil, fmt.Errorf("API エラー (status: %d): %s", resp.StatusCode, errorResp.Error.Message)
		}
		return nil, fmt.Errorf("API エラー (status: %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}
