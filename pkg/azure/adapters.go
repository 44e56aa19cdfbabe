package azure

import (
	"context"
	"encoding/json"
	"fmt"
)

// Completion はLLMアダプターの戻り値。
// Found が false のとき Text は空で、呼び出し側は Raw を回答として使う。
type Completion struct {
	Text  string
	Found bool
	Raw   string
}

// API スタイル名（LLM_API_STYLE）
const (
	StyleChatCompletions = "chat_completions"
	StyleResponses       = "responses"
)

// ChatCompletionsAdapter は chat completions 形式（Azure OpenAI / OpenAI）を扱う
type ChatCompletionsAdapter struct {
	client *OpenAIClient
}

// NewChatCompletionsAdapter creates a chat completions adapter.
func NewChatCompletionsAdapter(client *OpenAIClient) *ChatCompletionsAdapter {
	return &ChatCompletionsAdapter{client: client}
}

// Name returns the API style.
func (a *ChatCompletionsAdapter) Name() string { return StyleChatCompletions }

// Complete はプロンプトを1つのユーザーメッセージとして送る
func (a *ChatCompletionsAdapter) Complete(ctx context.Context, prompt string) (Completion, error) {
	body, err := a.client.ChatCompletionRaw(ctx, []ChatMessage{{Role: "user", Content: prompt}})
	if err != nil {
		return Completion{}, err
	}
	return ParseChatCompletion(body), nil
}

// ParseChatCompletion は choices[0].message.content を取り出す
func ParseChatCompletion(body []byte) Completion {
	var resp struct {
		Choices []struct {
			Message *struct {
				Content *string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	c := Completion{Raw: string(body)}
	if err := json.Unmarshal(body, &resp); err != nil {
		return c
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == nil {
		return c
	}
	if text := *resp.Choices[0].Message.Content; text != "" {
		c.Text = text
		c.Found = true
	}
	return c
}

// ResponsesAdapter は OpenAI Responses API 形式を扱う
type ResponsesAdapter struct {
	client *OpenAIClient
}

// NewResponsesAdapter creates a responses adapter.
func NewResponsesAdapter(client *OpenAIClient) *ResponsesAdapter {
	return &ResponsesAdapter{client: client}
}

// Name returns the API style.
func (a *ResponsesAdapter) Name() string { return StyleResponses }

// Complete はプロンプトを input として送る
func (a *ResponsesAdapter) Complete(ctx context.Context, prompt string) (Completion, error) {
	body, err := a.client.ResponsesRaw(ctx, prompt)
	if err != nil {
		return Completion{}, err
	}
	return ParseResponses(body), nil
}

// ParseResponses は output[0].content[0].text を取り出す
func ParseResponses(body []byte) Completion {
	var resp struct {
		Output []struct {
			Content []struct {
				Text *string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	c := Completion{Raw: string(body)}
	if err := json.Unmarshal(body, &resp); err != nil {
		return c
	}
	if len(resp.Output) == 0 || len(resp.Output[0].Content) == 0 || resp.Output[0].Content[0].Text == nil {
		return c
	}
	if text := *resp.Output[0].Content[0].Text; text != "" {
		c.Text = text
		c.Found = true
	}
	return c
}

// Adapter は Complete を持つLLMアダプターの共通形
type Adapter interface {
	Name() string
	Complete(ctx context.Context, prompt string) (Completion, error)
}

// NewAdapter は API スタイル名からアダプターを選ぶ
func NewAdapter(style string, client *OpenAIClient) (Adapter, error) {
	switch style {
	case StyleChatCompletions:
		return NewChatCompletionsAdapter(client), nil
	case StyleResponses, "":
		return NewResponsesAdapter(client), nil
	default:
		return nil, fmt.Errorf("未対応のLLM APIスタイルです: %s", style)
	}
}
