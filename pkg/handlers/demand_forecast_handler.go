package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"supplychain-iq-api/pkg/services"
)

const defaultForecastPeriods = 7

// ForecastTierHeader 予測を作った段階を返すヘッダー
const ForecastTierHeader = "X-Forecast-Tier"

// DemandForecastHandler は需要予測と需要トレンドのハンドラです。
type DemandForecastHandler struct {
	forecasts *services.ForecastService
	analytics *services.AnalyticsService
}

// NewDemandForecastHandler は新しいDemandForecastHandlerを生成します。
func NewDemandForecastHandler(forecasts *services.ForecastService, analytics *services.AnalyticsService) *DemandForecastHandler {
	return &DemandForecastHandler{forecasts: forecasts, analytics: analytics}
}

// Forecast は品目の需要予測を {date, forecast_units} の配列で返します。
// 予測の段階は X-Forecast-Tier ヘッダーに入ります。
// GET /analytics/forecast?item_id=1&periods=7
func (h *DemandForecastHandler) Forecast(c *gin.Context) {
	itemID, err := queryInt(c, "item_id", 0)
	if err != nil || c.Query("item_id") == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item_id is required and must be an integer"})
		return
	}
	periods, err := queryInt(c, "periods", defaultForecastPeriods)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "periods must be an integer"})
		return
	}

	result, err := h.forecasts.ForecastItem(c.Request.Context(), itemID, periods)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header(ForecastTierHeader, string(result.Tier))
	c.JSON(http.StatusOK, result.Points)
}

// DemandTrend は品目の日次需要を週次・月次に集計して返します。
// GET /analytics/demand-trend?item_id=1&granularity=weekly&method=sum
func (h *DemandForecastHandler) DemandTrend(c *gin.Context) {
	itemID, err := queryInt(c, "item_id", 0)
	if err != nil || c.Query("item_id") == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item_id is required and must be an integer"})
		return
	}
	granularity := c.DefaultQuery("granularity", "weekly")
	method := c.DefaultQuery("method", "sum")
	if granularity != "weekly" && granularity != "monthly" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "granularity must be weekly or monthly"})
		return
	}
	if method != "sum" && method != "mean" && method != "last" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "method must be sum, mean or last"})
		return
	}

	points, err := h.analytics.DemandTrend(itemID, granularity, method)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"item_id":     itemID,
		"granularity": granularity,
		"method":      method,
		"points":      points,
	})
}
