// internal/router/router.go
package router

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/scrylabs/scry-backend/internal/config"
	"github.com/scrylabs/scry-backend/internal/events"
	"github.com/scrylabs/scry-backend/internal/handlers"
	"github.com/scrylabs/scry-backend/internal/i18n"
	"github.com/scrylabs/scry-backend/internal/ledger"
	"github.com/scrylabs/scry-backend/internal/middleware"
	"github.com/scrylabs/scry-backend/internal/services"
)

// Dependencies are the long-lived resources owned by the process. The
// router builds services on top of them but never closes them.
type Dependencies struct {
	Ledger          ledger.Ledger
	Hub             *events.Hub
	Signer          services.Signer
	DefaultVerifier *services.DefaultVerifier
	Metrics         *services.Metrics
	Gatherer        prometheus.Gatherer
	RateLimiter     *middleware.RateLimiter
	LedgerLimiter   *middleware.RateLimiter
	ContentStore    services.ContentStore
}

func Initialize(db *gorm.DB, cfg *config.Config, deps Dependencies) (*gin.Engine, error) {
	store := deps.ContentStore
	if store == nil {
		var err error
		if store, err = services.NewContentStore(cfg); err != nil {
			return nil, fmt.Errorf("failed to initialize content store: %w", err)
		}
	}

	// Initialize services
	notificationService := services.NewNotificationService(deps.Hub)
	ledgerService := services.NewLedgerService(deps.Ledger, cfg, deps.Metrics)
	authorizationService := services.NewAuthorizationService(deps.Signer)
	traderService := services.NewTraderService(db, cfg, ledgerService, deps.Signer, notificationService)
	listingService := services.NewListingService(db, cfg, store, notificationService)
	orderService := services.NewOrderService(db, cfg, ledgerService, authorizationService, deps.Signer,
		deps.DefaultVerifier, notificationService, deps.Metrics)

	// Registered traders join the event stream's role table
	if deps.Hub != nil {
		names, err := traderService.RoleAccounts(context.Background())
		if err != nil {
			return nil, err
		}
		deps.Hub.SetRoles(deps.Hub.Roles().With(names))
	}

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(traderService)
	traderHandler := handlers.NewTraderHandler(traderService)
	listingHandler := handlers.NewListingHandler(listingService)
	orderHandler := handlers.NewOrderHandler(orderService)
	ledgerHandler := handlers.NewLedgerHandler(ledgerService)
	verificationHandler := handlers.NewVerificationHandler(authorizationService)
	eventHandler := handlers.NewEventHandler(deps.Hub)

	// Initialize Gin router
	r := gin.New()
	r.MaxMultipartMemory = cfg.Storage.MaxUploadSize + 1<<20

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.I18nMiddleware())
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Middleware())
	}
	r.Use(middleware.AuditLogMiddleware(db))

	// Requests that submit ledger transactions are limited per account
	ledgerLimit := func(c *gin.Context) { c.Next() }
	if deps.LedgerLimiter != nil {
		ledgerLimit = deps.LedgerLimiter.PerAccount()
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		health := gin.H{
			"status":    "healthy",
			"version":   "1.0.0",
			"languages": i18n.GetSupportedLanguages(),
		}
		if deps.Hub != nil {
			health["subscribers"] = deps.Hub.Subscribers()
		}
		c.JSON(http.StatusOK, health)
	})

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Event streams
	r.GET("/subscribe", eventHandler.Stream)
	r.GET("/subscribe/ws", eventHandler.WebSocket)

	// API v1 routes
	v1 := r.Group("/v1")
	{
		v1.POST("/signup", authHandler.Signup)
		v1.POST("/login", authHandler.Login)
		v1.POST("/refresh", authHandler.RefreshToken)

		// Public catalogue
		v1.GET("/listings", listingHandler.GetListings)
		v1.GET("/listings/:id", listingHandler.GetListing)

		// Trader routes
		traders := v1.Group("/traders")
		traders.Use(middleware.AuthRequired())
		{
			traders.GET("", traderHandler.ListTraders)
			traders.GET("/me", traderHandler.Me)
			traders.PUT("/me/password", traderHandler.ChangePassword)
		}

		// Ledger routes
		ledgerRoutes := v1.Group("/ledger")
		{
			ledgerRoutes.GET("/info", ledgerHandler.Info)
			ledgerRoutes.GET("/channels/:buyer/:seller/:marker", ledgerHandler.ChannelInfo)
			ledgerRoutes.GET("/nonce/:account", ledgerHandler.Nonce)
			ledgerRoutes.POST("/raw-tx", ledgerLimit, ledgerHandler.SubmitRawTx)

			ledgerRoutes.GET("/balance", middleware.OptionalAuth(), ledgerHandler.Balance)
			ledgerRoutes.POST("/fund", middleware.AuthRequired(), ledgerLimit, ledgerHandler.Fund)
		}

		// Seller routes
		seller := v1.Group("/seller")
		{
			seller.POST("/verify-balance", verificationHandler.VerifyBalance)

			protected := seller.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.POST("/upload", listingHandler.Upload)
				protected.POST("/listings", listingHandler.CreateListing)
				protected.GET("/download/:cid", listingHandler.Download)
				protected.POST("/orders/:id/close", ledgerLimit, orderHandler.Close)
			}
		}

		// Buyer routes
		buyer := v1.Group("/buyer")
		buyer.Use(middleware.AuthRequired())
		{
			buyer.POST("/purchase", ledgerLimit, orderHandler.Purchase)
			buyer.POST("/authorize", verificationHandler.AuthorizeBalance)
		}

		// Verifier routes
		verifier := v1.Group("/verifier")
		{
			verifier.POST("/verify", verificationHandler.VerifyVerification)

			protected := verifier.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.POST("/sign", verificationHandler.SignVerification)
				protected.POST("/orders/:id/verify", ledgerLimit, orderHandler.Verify)
			}
		}

		// Order history
		history := v1.Group("/history")
		history.Use(middleware.AuthRequired())
		{
			history.GET("", orderHandler.History)
			history.GET("/:id", orderHandler.GetOrder)
		}
	}

	return r, nil
}
