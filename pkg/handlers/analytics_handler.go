package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"supplychain-iq-api/pkg/services"
)

// 一覧系エンドポイントの既定件数
const (
	defaultTopN          = 20
	defaultShipmentsTopN = 50
)

// AnalyticsHandler は在庫・需要・サプライヤー分析のハンドラです。
type AnalyticsHandler struct {
	service *services.AnalyticsService
}

// NewAnalyticsHandler は新しいAnalyticsHandlerを生成します。
func NewAnalyticsHandler(service *services.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{service: service}
}

// Summary は指定テーブルの概要統計を返すハンドラを作ります。
func (h *AnalyticsHandler) Summary(table string) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := h.service.Summary(table)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// topNList は top_n を読んで一覧を返す共通処理
func topNList[T any](c *gin.Context, defaultN int, fetch func(int) ([]T, error)) {
	topN, err := queryInt(c, "top_n", defaultN)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "top_n must be an integer"})
		return
	}
	rows, err := fetch(topN)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// StockoutRisk 在庫日数の少ない順
func (h *AnalyticsHandler) StockoutRisk(c *gin.Context) {
	topNList(c, defaultTopN, h.service.StockoutRisk)
}

// ExcessInventory 過剰在庫の多い順
func (h *AnalyticsHandler) ExcessInventory(c *gin.Context) {
	topNList(c, defaultTopN, h.service.ExcessInventory)
}

// Shrinkage ロス率の高い順
func (h *AnalyticsHandler) Shrinkage(c *gin.Context) {
	topNList(c, defaultTopN, h.service.Shrinkage)
}

// PromoLift プロモーション効果の高い順
func (h *AnalyticsHandler) PromoLift(c *gin.Context) {
	topNList(c, defaultTopN, h.service.PromoLift)
}

// SupplierRisk リスクスコアの高い順
func (h *AnalyticsHandler) SupplierRisk(c *gin.Context) {
	topNList(c, defaultTopN, h.service.SupplierRisk)
}

// ShipmentDelays 輸送日数の長い順
func (h *AnalyticsHandler) ShipmentDelays(c *gin.Context) {
	topNList(c, defaultShipmentsTopN, h.service.ShipmentDelays)
}

// Anomalies は需要履歴の異常値を返します。
func (h *AnalyticsHandler) Anomalies(c *gin.Context) {
	rows, err := h.service.Anomalies()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}
