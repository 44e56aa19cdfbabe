//go:build !cgo
// +build !cgo

package services

import (
	"context"
	"errors"
)

// ONNXEmbedder stub type when built without CGO (see embedding_onnx.go).
type ONNXEmbedder struct{}

// NewONNXEmbedder returns an error when built without CGO.
func NewONNXEmbedder(_, _ string, _ int) (*ONNXEmbedder, error) {
	return nil, errors.New("ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}

// Embed implements Embedder.
func (e *ONNXEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("ONNX embedder unavailable")
}

// Dimension implements Embedder.
func (e *ONNXEmbedder) Dimension() int { return 0 }

// ModelName implements Embedder.
func (e *ONNXEmbedder) ModelName() string { return "onnx" }

// Close implements io.Closer.
func (e *ONNXEmbedder) Close() error { return nil }
