package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"supplychain-iq-api/pkg/services"
)

// queryInt はクエリパラメータを整数で読む。未指定ならデフォルト値
func queryInt(c *gin.Context, key string, defaultValue int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(raw)
}

// respondError はサービス層のエラーをHTTPステータスに変換して返す
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, services.ErrUnknownItem),
		errors.Is(err, services.ErrInvalidHorizon),
		errors.Is(err, services.ErrInsufficientHistory),
		errors.Is(err, services.ErrUnknownTable),
		errors.Is(err, services.ErrInvalidTopK):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrDatasetNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": err.Error(),
			"hint":  "generate synthetic data with POST /data/generate",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
