package services

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"supplychain-iq-api/pkg/logging"
)

// RequestIDHeader リクエストIDを運ぶヘッダー
const RequestIDHeader = "X-Request-ID"

// 保持するログの上限と保持期間
const (
	maxLogEntries = 50000
	logRetention  = 7 * 24 * time.Hour
)

// monitoringExcludedPrefixes ダッシュボードの集計から除外するパス
var monitoringExcludedPrefixes = []string{"/admin", "/monitoring", "/metrics"}

// LogEntry は単一のリクエストログを表します。
type LogEntry struct {
	Timestamp    time.Time     `json:"timestamp"`
	RequestID    string        `json:"requestId"`
	Path         string        `json:"path"`
	Method       string        `json:"method"`
	StatusCode   int           `json:"statusCode"`
	ResponseTime time.Duration `json:"responseTime"`
}

// MonitoringService はリクエストログを保持し、ダッシュボード用に集計します。
// Prometheus と zap への記録も同じミドルウェアで行います。
type MonitoringService struct {
	logs     []LogEntry
	mu       sync.RWMutex
	location *time.Location
	metrics  *Metrics
	logger   *zap.Logger
}

// NewMonitoringService は新しいMonitoringServiceを生成します。
// 時間帯ごとの集計は location（nilならUTC）で区切ります。
func NewMonitoringService(location *time.Location, metrics *Metrics, logger *zap.Logger) *MonitoringService {
	if location == nil {
		location = time.UTC
	}
	return &MonitoringService{
		logs:     make([]LogEntry, 0),
		location: location,
		metrics:  metrics,
		logger:   logging.OrNop(logger),
	}
}

// LogRequest はリクエストを記録し、古いログを捨てます。
func (s *MonitoringService) LogRequest(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)

	cutoff := entry.Timestamp.Add(-logRetention)
	drop := 0
	for drop < len(s.logs) && (s.logs[drop].Timestamp.Before(cutoff) || len(s.logs)-drop > maxLogEntries) {
		drop++
	}
	if drop > 0 {
		s.logs = append(s.logs[:0:0], s.logs[drop:]...)
	}
}

// LoggingMiddleware はリクエストIDを付与し、結果をログ・メトリクス・ダッシュボードに記録するGinミドルウェアです。
func (s *MonitoringService) LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		path := c.Request.URL.Path
		elapsed := time.Since(start)
		status := c.Writer.Status()

		// ルート未登録のパスはラベルを固定してカーディナリティを抑える
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveHTTP(c.Request.Method, route, status, elapsed)

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
		}
		switch {
		case status >= 500:
			s.logger.Error("request", append(fields, zap.String("errors", c.Errors.String()))...)
		case status >= 400:
			s.logger.Warn("request", fields...)
		default:
			s.logger.Info("request", fields...)
		}

		for _, prefix := range monitoringExcludedPrefixes {
			if strings.HasPrefix(path, prefix) {
				return
			}
		}
		s.LogRequest(LogEntry{
			Timestamp:    start,
			RequestID:    requestID,
			Path:         path,
			Method:       c.Request.Method,
			StatusCode:   status,
			ResponseTime: elapsed,
		})
	}
}

// DashboardData はダッシュボードに表示するための集計済みデータです。
type DashboardData struct {
	RequestsOverTime []map[string]interface{} `json:"requestsOverTime"`
	Endpoints        map[string]int           `json:"endpoints"`
	StatusCodes      []map[string]interface{} `json:"statusCodes"`
	AvgResponseTimes []map[string]interface{} `json:"avgResponseTimes"`
	RecentErrors     []LogEntry               `json:"recentErrors"`
}

// statusClasses の順序でダッシュボードに並べる
var statusClasses = []string{"2xx Success", "4xx Client Error", "5xx Server Error"}

// GetDashboardData は指定された期間のログを集計してダッシュボード用データを返します。
func (s *MonitoringService) GetDashboardData(periodHours int) DashboardData {
	return s.dashboardAt(time.Now(), periodHours)
}

func (s *MonitoringService) dashboardAt(now time.Time, periodHours int) DashboardData {
	if periodHours <= 0 {
		periodHours = 24
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	now = now.In(s.location)
	since := now.Add(-time.Duration(periodHours) * time.Hour)

	filtered := make([]LogEntry, 0)
	for _, log := range s.logs {
		if log.Timestamp.After(since) {
			filtered = append(filtered, log)
		}
	}

	// 時間のバケットを過去から現在の順で用意する
	requestsOverTime := make([]map[string]interface{}, periodHours)
	bucketIndex := make(map[string]int, periodHours)
	for i := 0; i < periodHours; i++ {
		target := now.Add(-time.Duration(periodHours-1-i) * time.Hour)
		bucketIndex[target.Truncate(time.Hour).Format(time.RFC3339)] = i
		requestsOverTime[i] = map[string]interface{}{"time": target.Format("15:00"), "requests": 0}
	}

	endpoints := make(map[string]int)
	statusCounts := make(map[string]int, len(statusClasses))
	responseTimeSum := make(map[string]time.Duration)
	responseCount := make(map[string]int)

	for _, log := range filtered {
		key := log.Timestamp.In(s.location).Truncate(time.Hour).Format(time.RFC3339)
		if i, ok := bucketIndex[key]; ok {
			requestsOverTime[i]["requests"] = requestsOverTime[i]["requests"].(int) + 1
		}

		endpoints[log.Path]++

		switch {
		case log.StatusCode >= 200 && log.StatusCode < 300:
			statusCounts[statusClasses[0]]++
		case log.StatusCode >= 400 && log.StatusCode < 500:
			statusCounts[statusClasses[1]]++
		case log.StatusCode >= 500:
			statusCounts[statusClasses[2]]++
		}

		responseTimeSum[log.Path] += log.ResponseTime
		responseCount[log.Path]++
	}

	statusCodes := make([]map[string]interface{}, 0, len(statusClasses))
	for _, name := range statusClasses {
		statusCodes = append(statusCodes, map[string]interface{}{"name": name, "value": statusCounts[name]})
	}

	paths := make([]string, 0, len(responseTimeSum))
	for path := range responseTimeSum {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	avgResponseTimes := make([]map[string]interface{}, 0, len(paths))
	for _, path := range paths {
		avg := responseTimeSum[path].Milliseconds() / int64(responseCount[path])
		avgResponseTimes = append(avgResponseTimes, map[string]interface{}{"endpoint": path, "responseTime": avg})
	}

	// 新しい順に最大10件
	recentErrors := make([]LogEntry, 0)
	for i := len(filtered) - 1; i >= 0 && len(recentErrors) < 10; i-- {
		if filtered[i].StatusCode >= 500 {
			recentErrors = append(recentErrors, filtered[i])
		}
	}

	return DashboardData{
		RequestsOverTime: requestsOverTime,
		Endpoints:        endpoints,
		StatusCodes:      statusCodes,
		AvgResponseTimes: avgResponseTimes,
		RecentErrors:     recentErrors,
	}
}
