package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"supplychain-iq-api/pkg/models"
	"supplychain-iq-api/pkg/services"
)

// RAGHandler は検索拡張生成（RAG）のハンドラです。
type RAGHandler struct {
	rag *services.RAGService
}

// NewRAGHandler は新しいRAGHandlerを生成します。
func NewRAGHandler(rag *services.RAGService) *RAGHandler {
	return &RAGHandler{rag: rag}
}

// Query は質問に関連するチャンクを検索し、回答を返します。
// POST /rag/query {"query": "...", "k": 5}
func (h *RAGHandler) Query(c *gin.Context) {
	var req models.RAGQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	resp, err := h.rag.Query(c.Request.Context(), req.Query, req.K)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Rebuild はデータセットから検索インデックスを作り直します。
func (h *RAGHandler) Rebuild(c *gin.Context) {
	status, err := h.rag.Rebuild(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Status は現在のインデックスの状態を返します。
func (h *RAGHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.rag.Status())
}
