package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"supplychain-iq-api/pkg/azure"
)

// Embedder turns texts into fixed-size vectors. The same embedder must be used
// for indexing and querying.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
}

// DefaultEmbeddingDim matches all-MiniLM-L6-v2.
const DefaultEmbeddingDim = 384

// HashingEmbedder is an offline, deterministic embedder based on feature
// hashing of word unigrams and bigrams. Vectors are L2-normalised.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder creates a hashing embedder; dim <= 0 uses DefaultEmbeddingDim.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = DefaultEmbeddingDim
	}
	return &HashingEmbedder{dim: dim}
}

// Embed implements Embedder.
func (e *HashingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embedOne(text)
	}
	return out, nil
}

func (e *HashingEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dim)
	tokens := tokenizeWords(text)
	add := func(feature string, weight float32) {
		h := fnv.New64a()
		h.Write([]byte(feature))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dim))
		// the top bit picks the sign so unrelated features cancel on average
		if sum>>63 == 1 {
			weight = -weight
		}
		vec[idx] += weight
	}
	for i, tok := range tokens {
		add("u:"+tok, 1)
		if i > 0 {
			add("b:"+tokens[i-1]+" "+tok, 0.5)
		}
	}
	normalizeL2(vec)
	return vec
}

// Dimension implements Embedder.
func (e *HashingEmbedder) Dimension() int { return e.dim }

// ModelName implements Embedder.
func (e *HashingEmbedder) ModelName() string { return fmt.Sprintf("hashing-%d", e.dim) }

// tokenizeWords lowercases and splits on anything that is not a letter or digit.
func tokenizeWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalizeL2 normalizes the slice in place to unit L2 norm.
func normalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range x {
		x[i] *= norm
	}
}

// RemoteEmbedder calls an OpenAI / Azure OpenAI embeddings endpoint.
type RemoteEmbedder struct {
	client    *azure.OpenAIClient
	dim       int
	batchSize int
}

// NewRemoteEmbedder creates an embedder backed by the REST client. dim is the
// vector size the deployment returns.
func NewRemoteEmbedder(client *azure.OpenAIClient, dim int) *RemoteEmbedder {
	return &RemoteEmbedder{client: client, dim: dim, batchSize: 64}
}

// Embed implements Embedder.
func (e *RemoteEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.client.CreateEmbeddings(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("埋め込みの生成に失敗: %w", err)
		}
		for _, v := range vecs {
			if e.dim > 0 && len(v) != e.dim {
				return nil, fmt.Errorf("埋め込みの次元が一致しません: want %d, got %d", e.dim, len(v))
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Dimension implements Embedder.
func (e *RemoteEmbedder) Dimension() int { return e.dim }

// ModelName implements Embedder.
func (e *RemoteEmbedder) ModelName() string {
	return string(e.client.Flavor()) + ":" + e.client.EmbeddingModel()
}

// EmbedderOptions select and configure an embedder.
type EmbedderOptions struct {
	Provider string // hashing / openai / azure / onnx
	Dim      int
	// Client is required for openai / azure.
	Client *azure.OpenAIClient
	// ModelDir holds model.onnx and vocab.txt for the onnx provider.
	ModelDir        string
	ONNXLibraryPath string
}

// NewEmbedder builds the embedder named by opts.Provider.
func NewEmbedder(opts EmbedderOptions) (Embedder, error) {
	switch strings.ToLower(opts.Provider) {
	case "", "hashing":
		return NewHashingEmbedder(opts.Dim), nil
	case "openai", "azure":
		if opts.Client == nil {
			return nil, fmt.Errorf("embedding provider %q requires API credentials", opts.Provider)
		}
		return NewRemoteEmbedder(opts.Client, opts.Dim), nil
	case "onnx":
		e, err := NewONNXEmbedder(opts.ModelDir, opts.ONNXLibraryPath, opts.Dim)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", opts.Provider)
	}
}
