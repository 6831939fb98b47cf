package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter wires the API routes. metrics may be nil.
func NewRouter(h *Handler, metrics http.Handler, log *zap.SugaredLogger) *gin.Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log.Named("http")))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/readings", h.SubmitReading)
		v1.POST("/classify", h.Classify)
		v1.POST("/support-requests", h.RequestSupport)

		v1.GET("/users/:userID/warnings/active", h.ListActive)

		v1.GET("/warnings/:id", h.GetWarning)
		v1.POST("/warnings/:id/channel", h.SelectChannel)
		v1.POST("/warnings/:id/resolve", h.Resolve)
		v1.POST("/warnings/:id/escalate", h.Escalate)
		v1.GET("/warnings/:id/advisory", h.GetAdvisory)
		v1.DELETE("/warnings/:id/advisory", h.CancelAdvisory)
	}

	return r
}
