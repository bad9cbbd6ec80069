package app

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"hailing/internal/auth"
	"hailing/internal/handler"
	"hailing/internal/middleware"
	internalRedis "hailing/internal/redis"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	TripHandler    *handler.TripHandler
	DriverHandler  *handler.DriverHandler
	WalletHandler  *handler.WalletHandler
	AdminHandler   *handler.AdminHandler
	WSHandler      *handler.WSHandler
	Authenticator  auth.Authenticator
	RedisClient    *redis.Client
	NewRelicApp    *newrelic.Application
	Logger         *zap.Logger
	AllowedOrigins []string
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	logger := deps.Logger
	if logger == nil {
		logger = zap.L()
	}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(cors.New(corsConfig(deps.AllowedOrigins)))
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	var idempotency middleware.IdempotencyStore
	if deps.RedisClient != nil {
		idempotency = internalRedis.NewIdempotencyStore(deps.RedisClient)
	}

	v1 := router.Group("/v1")
	v1.Use(middleware.Authenticate(deps.Authenticator))
	v1.Use(middleware.Idempotency(idempotency))
	{
		trips := v1.Group("/trips")
		{
			trips.POST("", deps.TripHandler.Create)
			trips.GET("", deps.TripHandler.List)
			trips.GET("/:id", deps.TripHandler.Get)
			trips.GET("/:id/events", deps.TripHandler.Events)
			trips.GET("/:id/receipt", deps.TripHandler.Receipt)
			trips.POST("/:id/assign", deps.TripHandler.Assign)
			trips.POST("/:id/accept", deps.TripHandler.Accept)
			trips.POST("/:id/arrive", deps.TripHandler.Arrive)
			trips.POST("/:id/start", deps.TripHandler.Start)
			trips.POST("/:id/complete", deps.TripHandler.Complete)
			trips.POST("/:id/cancel", deps.TripHandler.Cancel)
			trips.POST("/:id/location", deps.TripHandler.Location)
		}

		drivers := v1.Group("/drivers")
		{
			drivers.POST("", deps.DriverHandler.Register)
			drivers.GET("/me", deps.DriverHandler.Me)
			drivers.POST("/me/online", deps.DriverHandler.Online)
			drivers.POST("/me/offline", deps.DriverHandler.Offline)
			drivers.POST("/me/location", deps.DriverHandler.UpdateLocation)
			drivers.GET("/me/available-trips", deps.DriverHandler.AvailableTrips)
			drivers.POST("/:id/verify", deps.DriverHandler.Verify)
		}

		wallet := v1.Group("/wallet")
		{
			wallet.GET("", deps.WalletHandler.Get)
			wallet.GET("/transactions", deps.WalletHandler.Transactions)
			wallet.POST("/topup", deps.WalletHandler.TopUp)
			wallet.POST("/payout", deps.WalletHandler.Payout)
		}

		admin := v1.Group("/admin")
		{
			admin.POST("/wallets/:owner/reconcile", deps.AdminHandler.Reconcile)
			admin.POST("/trips/:id/refund", deps.AdminHandler.Refund)
			admin.GET("/statistics", deps.AdminHandler.Statistics)
		}

		if deps.WSHandler != nil {
			v1.GET("/ws", deps.WSHandler.Subscribe)
		}
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", "Accept", "Origin", "Idempotency-Key", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID", "Idempotent-Replayed"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
