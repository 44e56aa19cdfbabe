package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"supplychain-iq-api/pkg/logging"
	"supplychain-iq-api/pkg/services"
)

// maxGenerateRows 1リクエストで生成できる行数の上限
const maxGenerateRows = 100000

// DataHandler は合成データの生成とエクスポートのハンドラです。
type DataHandler struct {
	datasets  *services.DatasetService
	retrieval *services.RetrievalService
	logger    *zap.Logger
}

// NewDataHandler は新しいDataHandlerを生成します。
func NewDataHandler(datasets *services.DatasetService, retrieval *services.RetrievalService, logger *zap.Logger) *DataHandler {
	return &DataHandler{datasets: datasets, retrieval: retrieval, logger: logging.OrNop(logger)}
}

// GenerateRequest は /data/generate の任意のリクエストボディです。
type GenerateRequest struct {
	Rows int   `json:"rows"`
	Seed int64 `json:"seed"`
}

// Generate は合成データを書き出し、検索インデックスを作り直します。
func (h *DataHandler) Generate(c *gin.Context) {
	var req GenerateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}
	if req.Rows < 0 || req.Rows > maxGenerateRows {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rows must be between 1 and 100000"})
		return
	}

	opts := services.DefaultGeneratorOptions()
	if req.Rows > 0 {
		opts.Items, opts.DemandRows, opts.Suppliers, opts.Shipments = req.Rows, req.Rows, req.Rows, req.Rows
	}
	if req.Seed != 0 {
		opts.Seed = req.Seed
	}

	ds := services.NewDataGenerator(opts).Generate(nil)
	if err := h.datasets.Save(ds); err != nil {
		respondError(c, err)
		return
	}

	status, err := h.retrieval.Rebuild(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	paths := make(map[string]string, len(services.TableNames()))
	for _, name := range services.TableNames() {
		paths[name] = filepath.Join(h.datasets.DataDir(), name+".csv")
	}
	h.logger.Info("synthetic data generated",
		zap.Int("inventory", len(ds.Inventory)),
		zap.Int("demand", len(ds.Demand)),
		zap.Uint64("generation", status.Generation),
	)
	c.JSON(http.StatusOK, gin.H{
		"message": "Synthetic data generated.",
		"paths":   paths,
		"index":   status,
	})
}

// ExportXLSX は現在のデータセットを1つのXLSXブックとして返します。
func (h *DataHandler) ExportXLSX(c *gin.Context) {
	ds, err := h.datasets.Load()
	if err != nil {
		respondError(c, err)
		return
	}

	tmp, err := os.CreateTemp("", "supplychain-*.xlsx")
	if err != nil {
		respondError(c, err)
		return
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	if err := services.ExportDatasetXLSX(path, ds); err != nil {
		respondError(c, err)
		return
	}
	c.FileAttachment(path, "supplychain_dataset.xlsx")
}
