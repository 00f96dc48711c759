package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"syntra-checkout/config"
	"syntra-checkout/internal/gateway/handlers"
	"syntra-checkout/internal/gateway/middleware"
	"syntra-checkout/internal/services/notifications/supervisor"
)

type routeDeps struct {
	pos           *handlers.POSHTTPHandler
	notifications *handlers.NotificationsHTTPHandler
	supervisor    *supervisor.Supervisor
	log           *zap.Logger
}

func setupRouter(cfg *config.Config, deps routeDeps) (*gin.Engine, error) {
	if cfg.Log.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	limit, err := middleware.RateLimit(cfg.HTTP.RateLimit)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(middleware.CORS())
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(limit)
	r.Use(eventStreamHeader(deps.supervisor))

	// --- Protected API Group ---
	protected := r.Group("/api/v1")
	protected.Use(middleware.JWTAuth([]byte(cfg.Auth.JWTSecret)))
	{
		posGroup := protected.Group("/pos")
		{
			sessions := posGroup.Group("/sessions")
			{
				sessions.POST("", deps.pos.CreateSession)
				sessions.GET("", deps.pos.ListSessions)
				sessions.GET("/:id", deps.pos.GetSession)
				sessions.DELETE("/:id", deps.pos.CloseSession)
				sessions.PUT("/:id/customer", deps.pos.SetCustomer)

				sessions.POST("/:id/items", deps.pos.AddItem)
				sessions.PATCH("/:id/items/:product_id", deps.pos.UpdateItem)
				sessions.DELETE("/:id/items/:product_id", deps.pos.RemoveItem)
				sessions.DELETE("/:id/items", deps.pos.ClearCart)

				sessions.POST("/:id/commit", deps.pos.Commit)
			}

			posGroup.GET("/discounts/evaluate", deps.pos.EvaluateDiscount)
		}

		notificationsGroup := protected.Group("/notifications")
		{
			notificationsGroup.GET("", deps.notifications.ListNotifications)
			notificationsGroup.GET("/unread", deps.notifications.UnreadCount)
			notificationsGroup.PATCH("/read", deps.notifications.MarkAllAsRead)
			notificationsGroup.PATCH("/:id/read", deps.notifications.MarkAsRead)
			notificationsGroup.DELETE("", deps.notifications.ClearAll)
			notificationsGroup.GET("/connection", deps.notifications.ConnectionState)
			notificationsGroup.POST("/connection/reconnect", deps.notifications.Reconnect)
		}
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", healthCheckHandler(deps.supervisor))

	deps.log.Info("routes registered", zap.Int("count", len(r.Routes())))
	return r, nil
}

func eventStreamHeader(sup *supervisor.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Event-Stream", string(sup.Status().State))
		c.Next()
	}
}

// healthCheckHandler reports degraded while the event stream is down.
// Checkout keeps working without it; only notifications stall.
func healthCheckHandler(sup *supervisor.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := sup.Status()
		status := "healthy"
		httpStatus := http.StatusOK
		if st.State != supervisor.StateConnected {
			status = "degraded"
			httpStatus = http.StatusPartialContent
		}

		c.JSON(httpStatus, gin.H{
			"status":       status,
			"message":      "Server is running",
			"event_stream": st,
			"timestamp":    time.Now(),
		})
	}
}
