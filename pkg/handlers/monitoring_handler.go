package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"supplychain-iq-api/pkg/services"
)

// maxDashboardHours ログの保持期間（7日）より長い期間は集計しない
const maxDashboardHours = 24 * 7

// MonitoringHandler はモニタリング関連の操作のハンドラです。
type MonitoringHandler struct {
	service *services.MonitoringService
}

// NewMonitoringHandler は新しいMonitoringHandlerを生成します。
func NewMonitoringHandler(service *services.MonitoringService) *MonitoringHandler {
	return &MonitoringHandler{service: service}
}

// GetLogs は集計されたログデータを返します。
// period は "1h" "24h" "7d" のほか "6h" のような時間指定も受け付けます。
func (h *MonitoringHandler) GetLogs(c *gin.Context) {
	hours := periodHours(c.DefaultQuery("period", "24h"))
	c.JSON(http.StatusOK, h.service.GetDashboardData(hours))
}

// periodHours 解釈できない期間は24時間として扱う
func periodHours(period string) int {
	switch period {
	case "1h":
		return 1
	case "24h":
		return 24
	case "7d":
		return maxDashboardHours
	}
	if strings.HasSuffix(period, "d") {
		period = strings.TrimSuffix(period, "d") + "h"
		if d, err := time.ParseDuration(period); err == nil && d > 0 {
			return clampHours(int(d.Hours()) * 24)
		}
		return 24
	}
	if d, err := time.ParseDuration(period); err == nil && d >= time.Hour {
		return clampHours(int(d.Hours()))
	}
	return 24
}

func clampHours(h int) int {
	if h > maxDashboardHours {
		return maxDashboardHours
	}
	return h
}
