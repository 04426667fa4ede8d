package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lendguard/fraud-engine/configs"
	"github.com/lendguard/fraud-engine/internal/analytics"
	"github.com/lendguard/fraud-engine/internal/auth"
	"github.com/lendguard/fraud-engine/internal/detection"
	"github.com/lendguard/fraud-engine/internal/intake"
	"github.com/lendguard/fraud-engine/internal/models"
	"github.com/lendguard/fraud-engine/internal/notify"
	"github.com/lendguard/fraud-engine/internal/queue"
	"github.com/lendguard/fraud-engine/internal/repositories"
	"github.com/lendguard/fraud-engine/internal/scoring"
	"github.com/lendguard/fraud-engine/internal/services"
)

func main() {
	_ = godotenv.Load()

	cfg := configs.Load()

	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting fraud engine API server")

	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	streamClient, err := queue.NewRedisStreamClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Stream")
	}
	defer streamClient.Close()

	cacheClient, err := queue.NewCacheClient(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Cache")
	}
	defer cacheClient.Close()

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	visitorRepo := repositories.NewVisitorRepository(db)
	appRepo := repositories.NewApplicationRepository(db)
	alertRepo := repositories.NewAlertRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	// Services
	jwtManager := auth.NewJWTManager(cfg.JWT)
	authService := services.NewAuthService(userRepo, jwtManager)
	engine := scoring.NewEngine(appRepo, cfg.Scoring)
	notifier := notify.NewStreamNotifier(streamClient)
	detector := detection.NewDetector(engine, appRepo, alertRepo, cacheClient, notifier, cfg.Detection)
	intakeService := intake.NewService(visitorRepo, appRepo, auditRepo, detector)
	analyticsService := analytics.NewService(appRepo, alertRepo, auditRepo, cacheClient)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	// Rate limiting: 100 requests per minute per IP
	rateLimiter := NewRateLimiter(100, time.Minute)
	router.Use(rateLimitMiddleware(rateLimiter))

	setupRoutes(router, jwtManager, authService, intakeService, analyticsService, visitorRepo, appRepo, alertRepo, auditRepo, db)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func setupRoutes(
	router *gin.Engine,
	jwtManager *auth.JWTManager,
	authService *services.AuthService,
	intakeService *intake.Service,
	analyticsService *analytics.Service,
	visitorRepo *repositories.VisitorRepository,
	appRepo *repositories.ApplicationRepository,
	alertRepo *repositories.AlertRepository,
	auditRepo *repositories.AuditRepository,
	db *repositories.Database,
) {
	router.GET("/health", func(c *gin.Context) {
		status := "healthy"
		code := http.StatusOK
		if err := db.HealthCheck(c.Request.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	v1 := router.Group("/api/v1")

	// Auth routes (public)
	authRoutes := v1.Group("/auth")
	{
		authRoutes.POST("/register", registerHandler(authService))
		authRoutes.POST("/login", loginHandler(authService))
		authRoutes.POST("/refresh", auth.Middleware(jwtManager), refreshTokenHandler(authService))
	}

	// Applicant-facing routes (public, rate limited globally)
	v1.POST("/applications", submitApplicationHandler(intakeService))
	v1.POST("/visitors/track", trackVisitorHandler(visitorRepo))

	// Reviewer routes
	protected := v1.Group("")
	protected.Use(auth.Middleware(jwtManager))

	appRoutes := protected.Group("/applications")
	{
		appRoutes.GET("", listApplicationsHandler(appRepo))
		appRoutes.GET("/:id", getApplicationHandler(appRepo))
		appRoutes.GET("/:id/audit", getApplicationAuditHandler(auditRepo))
		appRoutes.POST("/:id/review", reviewApplicationHandler(analyticsService))
	}

	alertRoutes := protected.Group("/alerts")
	{
		alertRoutes.GET("", listAlertsHandler(alertRepo))
		alertRoutes.GET("/:id", getAlertHandler(alertRepo))
		alertRoutes.POST("/:id/resolve", resolveAlertHandler(analyticsService))
	}

	visitorRoutes := protected.Group("/visitors")
	{
		visitorRoutes.GET("", listVisitorsHandler(visitorRepo))
		visitorRoutes.GET("/:id", getVisitorHandler(visitorRepo))
	}

	fraudRoutes := protected.Group("/fraud")
	fraudRoutes.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleReviewer))
	{
		fraudRoutes.GET("/statistics", fraudStatisticsHandler(analyticsService))
	}
}

// Middleware

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("request_id", c.GetString("request_id")).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter implements a simple in-memory token bucket per client IP
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*bucket
	rate    int
	window  time.Duration
}

type bucket struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*bucket),
		rate:    rate,
		window:  window,
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, b := range rl.clients {
			if time.Since(b.lastSeen) > rl.window*2 {
				delete(rl.clients, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.clients[ip]
	now := time.Now()

	if !exists {
		rl.clients[ip] = &bucket{tokens: rl.rate - 1, lastSeen: now}
		return true
	}

	elapsed := now.Sub(b.lastSeen)
	refill := int(elapsed / (rl.window / time.Duration(rl.rate)))
	b.tokens += refill
	if b.tokens > rl.rate {
		b.tokens = rl.rate
	}
	b.lastSeen = now

	if b.tokens > 0 {
		b.tokens--
		return true
	}

	return false
}

func rateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.Header("Retry-After", "60")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": 60,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Handlers

func registerHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := authService.Register(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, services.ErrWeakPassword) || errors.Is(err, repositories.ErrUserAlreadyExists) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func loginHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := authService.Login(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, services.ErrInvalidCredentials) {
				status = http.StatusUnauthorized
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func refreshTokenHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(auth.AuthorizationHeader)
		if len(token) > len(auth.BearerPrefix) {
			token = token[len(auth.BearerPrefix):]
		}

		resp, err := authService.RefreshToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func submitApplicationHandler(intakeService *intake.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req intake.ApplicationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		req.ClientIP = c.ClientIP()
		req.UserAgent = c.Request.UserAgent()
		req.RequestID = c.GetString("request_id")

		result, err := intakeService.Submit(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, intake.ErrInvalidAmount) || errors.Is(err, intake.ErrInvalidDuration) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"application_id": result.ApplicationID,
			"risk_score":     result.Outcome.RiskScore,
			"decision":       result.Outcome.Decision,
			"fraud_detected": result.Outcome.FraudDetected,
			"status":         result.Outcome.Status,
		})
	}
}

func trackVisitorHandler(visitorRepo *repositories.VisitorRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			VisitorToken string `json:"visitor_id"`
			Metadata     string `json:"metadata"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		metadata := models.ParseMetadata(req.Metadata)
		identity := &models.VisitorIdentity{
			ClientIP: c.ClientIP(),
		}
		if req.VisitorToken != "" {
			identity.Token = &req.VisitorToken
		}
		if name, ok := metadata["browser_name"].(string); ok {
			identity.BrowserName = name
		}
		if device, ok := metadata["device"].(string); ok {
			identity.Device = device
		}

		visitor, err := visitorRepo.GetOrCreate(c.Request.Context(), identity)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "Visitor tracked successfully",
			"visitor": visitor,
		})
	}
}

func listApplicationsHandler(appRepo *repositories.ApplicationRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 20)
		status := c.Query("status")

		if status != "" && !models.ValidStatus(status) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
			return
		}

		apps, total, err := appRepo.List(c.Request.Context(), status, page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"applications": apps,
			"pagination": gin.H{
				"page":      page,
				"page_size": pageSize,
				"total":     total,
			},
		})
	}
}

func getApplicationHandler(appRepo *repositories.ApplicationRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid application id"})
			return
		}

		app, err := appRepo.GetByID(c.Request.Context(), id)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrApplicationNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, app)
	}
}

func getApplicationAuditHandler(auditRepo *repositories.AuditRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid application id"})
			return
		}

		limit := getIntParam(c, "limit", 50)
		entries, err := auditRepo.ListByEntity(c.Request.Context(), id, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"audit_log": entries})
	}
}

func reviewApplicationHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid application id"})
			return
		}

		var req struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		reviewerID, _ := auth.UserIDFromContext(c)
		if err := analyticsService.ReviewApplication(c.Request.Context(), id, reviewerID, req.Status); err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, repositories.ErrInvalidStatus):
				status = http.StatusBadRequest
			case errors.Is(err, repositories.ErrApplicationNotFound):
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "Application reviewed", "status": req.Status})
	}
}

func listAlertsHandler(alertRepo *repositories.AlertRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 20)
		unresolvedOnly := c.Query("unresolved") == "true"

		alerts, total, err := alertRepo.List(c.Request.Context(), unresolvedOnly, page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"alerts": alerts,
			"pagination": gin.H{
				"page":      page,
				"page_size": pageSize,
				"total":     total,
			},
		})
	}
}

func getAlertHandler(alertRepo *repositories.AlertRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
			return
		}

		alert, err := alertRepo.GetByID(c.Request.Context(), id)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrAlertNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, alert)
	}
}

func resolveAlertHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
			return
		}

		reviewerID, _ := auth.UserIDFromContext(c)
		if err := analyticsService.ResolveAlert(c.Request.Context(), id, reviewerID); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrAlertNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "Alert resolved"})
	}
}

func listVisitorsHandler(visitorRepo *repositories.VisitorRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 50)

		visitors, total, err := visitorRepo.List(c.Request.Context(), page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"visitors": visitors,
			"pagination": gin.H{
				"page":      page,
				"page_size": pageSize,
				"total":     total,
			},
		})
	}
}

func getVisitorHandler(visitorRepo *repositories.VisitorRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid visitor id"})
			return
		}

		visitor, err := visitorRepo.GetByID(c.Request.Context(), id)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrVisitorNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, visitor)
	}
}

func fraudStatisticsHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := analyticsService.Statistics(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, stats)
	}
}

// Helper functions

func getIntParam(c *gin.Context, key string, defaultValue int) int {
	if val := c.Query(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil && result > 0 {
			return result
		}
	}
	return defaultValue
}
