package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the HTTP surface. stream and metrics may be nil.
func NewRouter(h *Handler, stream http.Handler, metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", h.Health)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := r.Group("/v1")
	{
		v1.GET("/rates", h.ListRates)
		v1.GET("/rates/:from/:to", h.GetRate)
		v1.GET("/production-rates/:from/:to", h.GetProductionRate)
		v1.GET("/gas", h.GetGas)
		v1.GET("/gas-limit", h.GetGasLimit)
		v1.GET("/display", h.Display)
		v1.POST("/refresh", h.Refresh)
		if stream != nil {
			v1.GET("/stream", gin.WrapH(stream))
		}
	}
	return r
}

func requestLogger() gin.HandlerFunc {
	logger := slog.Default().With("module", "api")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request served",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
