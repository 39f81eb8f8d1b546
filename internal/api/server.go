package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/database"
	"bybit-trading-bot/internal/events"
)

// BotAPI is the status surface the trading loop exposes to the server.
type BotAPI interface {
	GetStatus() map[string]interface{}
}

// Server is the HTTP status server: health, per-symbol status, performance
// snapshots, recent trades and a websocket event stream.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	ledger     database.Ledger
	db         *database.DB
	riskStore  *database.RiskStateStore
	eventBus   *events.EventBus
	botAPI     BotAPI
	cfg        config.ServerConfig
	hub        *WSHub
	logger     zerolog.Logger
}

// NewServer creates the status server and registers all routes.
func NewServer(
	cfg config.ServerConfig,
	ledger database.Ledger,
	db *database.DB,
	riskStore *database.RiskStateStore,
	eventBus *events.EventBus,
	botAPI BotAPI,
	logger zerolog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:    router,
		ledger:    ledger,
		db:        db,
		riskStore: riskStore,
		eventBus:  eventBus,
		botAPI:    botAPI,
		cfg:       cfg,
		hub:       NewWSHub(logger),
		logger:    logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	go s.hub.Run()
	if eventBus != nil {
		eventBus.SubscribeAll(func(event events.Event) {
			s.hub.BroadcastEvent(event)
		})
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Bot is Running!")
	})
	s.router.GET("/health", s.handleHealth)

	apiGroup := s.router.Group("/api")
	{
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.GET("/performance/:symbol", s.handlePerformance)
		apiGroup.GET("/trades/:symbol", s.handleTrades)
	}

	s.router.GET("/ws", s.handleWebSocket)
}

func (s *Server) handleHealth(c *gin.Context) {
	components := gin.H{}
	healthy := true

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := s.db.Pool.Ping(ctx); err != nil {
			components["database"] = "down"
			healthy = false
		} else {
			components["database"] = "ok"
		}
	} else {
		components["database"] = "in-memory"
	}

	if s.riskStore != nil {
		if s.riskStore.Available() {
			components["redis"] = "ok"
		} else {
			components["redis"] = "fallback"
		}
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status":     overall,
		"components": components,
		"timestamp":  time.Now().UTC(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.botAPI == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "bot not running"})
		return
	}
	c.JSON(http.StatusOK, s.botAPI.GetStatus())
}

func (s *Server) handlePerformance(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	snap, err := s.ledger.GetPerformanceSnapshot(c.Request.Context(), symbol)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no performance data for " + symbol})
			return
		}
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to load performance snapshot")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load performance data"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleTrades(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = parsed
	}

	trades, err := s.ledger.GetRecentTrades(c.Request.Context(), symbol, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to load trades")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
		return
	}
	if trades == nil {
		trades = []*database.Trade{}
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "trades": trades})
}

// Start runs the HTTP server until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("status server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
