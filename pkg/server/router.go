package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"supplychain-iq-api/pkg/handlers"
	"supplychain-iq-api/pkg/services"
)

// Router はアプリケーションの全ルートを登録したGinエンジンを返します。
func (a *App) Router() *gin.Engine {
	if a.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	// ミドルウェアの登録
	r.Use(a.Monitoring.LoggingMiddleware())
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, handlers.APIKeyHeader, services.RequestIDHeader)
	corsConfig.ExposeHeaders = []string{services.RequestIDHeader}
	r.Use(cors.New(corsConfig))

	// ハンドラーの初期化
	analyticsHandler := handlers.NewAnalyticsHandler(a.Analytics)
	forecastHandler := handlers.NewDemandForecastHandler(a.Forecasts, a.Analytics)
	ragHandler := handlers.NewRAGHandler(a.RAG)
	dataHandler := handlers.NewDataHandler(a.Datasets, a.Retrieval, a.Logger.Named("data"))
	adminHandler := handlers.NewAdminHandler(a.Config, a.Logger.Named("admin"))
	monitoringHandler := handlers.NewMonitoringHandler(a.Monitoring)

	// ヘルスチェックとメトリクスは認証なし
	r.GET("/health", handlers.HealthCheck)
	r.GET("/metrics", gin.WrapH(a.Metrics.Handler()))
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Supply chain analytics API is running."})
	})

	api := r.Group("")
	api.Use(handlers.APIKeyMiddleware(a.Config.APIKey))
	{
		// 管理者向けAPI
		admin := api.Group("/admin")
		{
			admin.GET("/health-status", adminHandler.GetHealthStatus)
			admin.POST("/maintenance/start", adminHandler.StartMaintenance)
			admin.POST("/maintenance/stop", adminHandler.StopMaintenance)
		}

		// モニタリングAPI
		api.GET("/monitoring/logs", monitoringHandler.GetLogs)

		// 業務APIはメンテナンス中に止める
		business := api.Group("")
		business.Use(handlers.MaintenanceGuard())

		data := business.Group("/data")
		{
			data.POST("/generate", dataHandler.Generate)
			data.GET("/export.xlsx", dataHandler.ExportXLSX)
		}

		analytics := business.Group("/analytics")
		{
			analytics.GET("/inventory-summary", analyticsHandler.Summary(services.TableInventory))
			analytics.GET("/demand-summary", analyticsHandler.Summary(services.TableDemand))
			analytics.GET("/supplier-summary", analyticsHandler.Summary(services.TableSuppliers))
			analytics.GET("/shipments-summary", analyticsHandler.Summary(services.TableShipments))
			analytics.GET("/stockout-risk", analyticsHandler.StockoutRisk)
			analytics.GET("/excess-inventory", analyticsHandler.ExcessInventory)
			analytics.GET("/shrinkage", analyticsHandler.Shrinkage)
			analytics.GET("/promo-lift", analyticsHandler.PromoLift)
			analytics.GET("/anomalies", analyticsHandler.Anomalies)
			analytics.GET("/supplier-risk", analyticsHandler.SupplierRisk)
			analytics.GET("/shipment-delays", analyticsHandler.ShipmentDelays)
			analytics.GET("/forecast", forecastHandler.Forecast)
			analytics.GET("/demand-trend", forecastHandler.DemandTrend)
		}

		rag := business.Group("/rag")
		{
			rag.POST("/query", ragHandler.Query)
			rag.POST("/rebuild", ragHandler.Rebuild)
			rag.GET("/status", ragHandler.Status)
		}
	}

	return r
}
