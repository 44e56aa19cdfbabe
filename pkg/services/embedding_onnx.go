//go:build cgo
// +build cgo

package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const onnxMaxTokens = 128

var ortInitOnce sync.Once
var ortInitErr error

// ONNXEmbedder runs all-MiniLM-L6-v2 (or any BERT-style sentence model with
// a last_hidden_state output) through ONNX Runtime and mean-pools the tokens.
// Requires CGO and the onnxruntime shared library.
type ONNXEmbedder struct {
	mu        sync.Mutex
	session   *ort.AdvancedSession
	tokenizer *WordPieceTokenizer
	dim       int
	model     string

	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	hidden        *ort.Tensor[float32]
}

// NewONNXEmbedder loads model.onnx and vocab.txt from modelDir.
func NewONNXEmbedder(modelDir, libraryPath string, dim int) (*ONNXEmbedder, error) {
	if dim <= 0 {
		dim = DefaultEmbeddingDim
	}
	ortInitOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", ortInitErr)
	}

	modelPath := filepath.Join(modelDir, "model.onnx")
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("ONNX model not found: %w", err)
	}
	tokenizer, err := LoadWordPieceTokenizer(filepath.Join(modelDir, "vocab.txt"))
	if err != nil {
		return nil, err
	}

	shape := ort.NewShape(1, onnxMaxTokens)
	e := &ONNXEmbedder{tokenizer: tokenizer, dim: dim, model: filepath.Base(modelDir)}

	if e.inputIDs, err = ort.NewEmptyTensor[int64](shape); err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	if e.attentionMask, err = ort.NewEmptyTensor[int64](shape); err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	if e.tokenTypeIDs, err = ort.NewEmptyTensor[int64](shape); err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	if e.hidden, err = ort.NewEmptyTensor[float32](ort.NewShape(1, onnxMaxTokens, int64(dim))); err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	e.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		[]ort.ArbitraryTensor{e.inputIDs, e.attentionMask, e.tokenTypeIDs},
		[]ort.ArbitraryTensor{e.hidden},
		nil,
	)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return e, nil
}

// Embed implements Embedder.
func (e *ONNXEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids, mask, types := e.tokenizer.Tokenize(text, onnxMaxTokens)
		copy(e.inputIDs.GetData(), ids)
		copy(e.attentionMask.GetData(), mask)
		copy(e.tokenTypeIDs.GetData(), types)

		if err := e.session.Run(); err != nil {
			return nil, fmt.Errorf("inference failed: %w", err)
		}
		out[i] = meanPool(e.hidden.GetData(), mask, e.dim)
	}
	return out, nil
}

// meanPool averages token embeddings where mask is 1, then L2-normalises.
func meanPool(hidden []float32, mask []int64, dim int) []float32 {
	vec := make([]float32, dim)
	var count float32
	for tok, m := range mask {
		if m == 0 {
			continue
		}
		row := hidden[tok*dim : (tok+1)*dim]
		for j, v := range row {
			vec[j] += v
		}
		count++
	}
	if count > 0 {
		for j := range vec {
			vec[j] /= count
		}
	}
	normalizeL2(vec)
	return vec
}

// Dimension implements Embedder.
func (e *ONNXEmbedder) Dimension() int { return e.dim }

// ModelName implements Embedder.
func (e *ONNXEmbedder) ModelName() string { return "onnx:" + e.model }

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.inputIDs != nil {
		_ = e.inputIDs.Destroy()
		e.inputIDs = nil
	}
	if e.attentionMask != nil {
		_ = e.attentionMask.Destroy()
		e.attentionMask = nil
	}
	if e.tokenTypeIDs != nil {
		_ = e.tokenTypeIDs.Destroy()
		e.tokenTypeIDs = nil
	}
	if e.hidden != nil {
		_ = e.hidden.Destroy()
		e.hidden = nil
	}
	return err
}
