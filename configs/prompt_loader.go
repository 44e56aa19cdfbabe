package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// PromptProfile はprompt_profile.yamlの構造を定義
type PromptProfile struct {
	System struct {
		Persona  string `yaml:"persona"`
		Version  string `yaml:"version"`
		Language string `yaml:"language"`
	} `yaml:"system"`

	// Instructions はコンテキストの前に置く指示文（段落ごと）
	Instructions []string `yaml:"instructions"`

	// Focus は優先して扱う論点。指定があれば指示文の後に箇条書きで追加する
	Focus []string `yaml:"focus"`

	Closing string `yaml:"closing"`

	Metadata struct {
		LastUpdated string `yaml:"last_updated"`
		Author      string `yaml:"author"`
	} `yaml:"metadata"`
}

// DefaultPromptProfile は設定ファイルがない場合のアナリスト用プロンプト
func DefaultPromptProfile() *PromptProfile {
	p := &PromptProfile{
		Instructions: []string{
			"Use the context below, which includes item-level and supplier-level summaries,\n" +
				"to answer the business question in clear, concise, actionable language.",
			"If something is uncertain, say so explicitly. Prioritize insights and recommendations\n" +
				"around stockout risk, excess inventory, promotion impact, shrinkage, supplier risk,\n" +
				"and shipment delays.",
		},
		Closing: "Answer as if you are advising a retail operations director.",
	}
	p.System.Persona = "You are an expert retail supply chain and inventory analyst."
	p.System.Language = "en"
	return p
}

var (
	promptCacheMu sync.Mutex
	promptCache   = map[string]*PromptProfile{}
)

// LoadPromptProfile はYAMLファイルからプロンプト設定を読み込む。
// path が空ならデフォルトを返す。空の項目はデフォルトで補う。
func LoadPromptProfile(path string) (*PromptProfile, error) {
	if path == "" {
		return DefaultPromptProfile(), nil
	}

	promptCacheMu.Lock()
	defer promptCacheMu.Unlock()
	if cached, ok := promptCache[path]; ok {
		return cached, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("プロンプト設定ファイルの読み込みに失敗: %w", err)
	}

	var profile PromptProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("YAMLのパースに失敗: %w", err)
	}

	def := DefaultPromptProfile()
	if strings.TrimSpace(profile.System.Persona) == "" {
		profile.System.Persona = def.System.Persona
	}
	if len(profile.Instructions) == 0 {
		profile.Instructions = def.Instructions
	}
	if strings.TrimSpace(profile.Closing) == "" {
		profile.Closing = def.Closing
	}

	promptCache[path] = &profile
	return &profile, nil
}

// BuildAnalystPrompt はコンテキストと質問からLLMへの入力を組み立てる。
// 質問はそのまま埋め込む。
func (p *PromptProfile) BuildAnalystPrompt(context, question string) string {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString(strings.TrimSpace(p.System.Persona))
	sb.WriteString("\n\n")

	for _, paragraph := range p.Instructions {
		sb.WriteString(strings.TrimSpace(paragraph))
		sb.WriteString("\n\n")
	}

	if len(p.Focus) > 0 {
		sb.WriteString("Focus areas:\n")
		for _, f := range p.Focus {
			sb.WriteString(fmt.Sprintf("- %s\n", f))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Context:\n")
	sb.WriteString(context)
	sb.WriteString("\n\nQuestion:\n")
	sb.WriteString(question)
	sb.WriteString("\n\n")
	sb.WriteString(strings.TrimSpace(p.Closing))
	sb.WriteString("\n")

	return sb.String()
}
