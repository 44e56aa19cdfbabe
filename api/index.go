package handler

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	config "supplychain-iq-api/configs"
	"supplychain-iq-api/pkg/logging"
	"supplychain-iq-api/pkg/server"
)

var (
	app     *gin.Engine
	initErr error
	once    sync.Once
)

// setupApp はGinアプリケーションを初期化します。
// サーバーレス環境では、リクエストごとに初期化が走らないようsync.Onceで一度だけ実行します。
func setupApp() (*gin.Engine, error) {
	once.Do(func() {
		// 環境変数はデプロイ先の設定から読み込まれるため、ここではgodotenvを呼び出しません。
		cfg := config.LoadConfig()
		// サーバーレスではファイル監視を使わない
		cfg.WatchDataDir = false

		logger, err := logging.New(cfg.Environment, cfg.LogLevel)
		if err != nil {
			initErr = err
			return
		}

		a, err := server.New(context.Background(), cfg, logger)
		if err != nil {
			initErr = err
			return
		}
		app = a.Router()
	})
	return app, initErr
}

// Handler はサーバーレス関数のエントリポイントです。
func Handler(w http.ResponseWriter, r *http.Request) {
	engine, err := setupApp()
	if err != nil {
		log.Printf("failed to initialize application: %v", err)
		http.Error(w, `{"error":"service initialization failed"}`, http.StatusInternalServerError)
		return
	}
	engine.ServeHTTP(w, r)
}
