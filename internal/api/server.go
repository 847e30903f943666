// Package api exposes the single-operator HTTP control surface of spec.md
// §6: pause()/resume()/force_refresh()/stats()/export_csv(days)/shutdown(),
// plus a health check. Grounded on this package's own NewServer/Start/
// Shutdown shape (gin.New()+Logger()+Recovery(), cors.New, an http.Server
// wrapper with graceful Shutdown) and internal/auth/{jwt.go,middleware.go}'s
// Bearer-extract-and-validate-or-abort pattern — reduced from the
// teacher's multi-user/tier/billing/licensing surface (BotAPI, RateLimiter
// per endpoint, autopilot-per-user, Stripe billing, license tiers) to the
// six hooks a single operator needs, authenticated with one shared
// operator token instead of per-user accounts.
package api

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/tgparkk/stockbot/internal/apperr"
	"github.com/tgparkk/stockbot/internal/config"
	"github.com/tgparkk/stockbot/internal/logging"
	"github.com/tgparkk/stockbot/internal/store"
)

// defaultExportDays is used when export_csv's days query parameter is
// absent or invalid.
const defaultExportDays = 7

// Stats is the snapshot returned by stats() — one flattened view over
// the scheduler, subscription manager, candle universe and executor
// rather than four separate calls, since that's what an operator console
// actually wants to render in one shot.
type Stats struct {
	ActiveSlot            string `json:"active_slot"`
	OwnedSymbols          int    `json:"owned_symbols"`
	RealtimeCount         int    `json:"realtime_count"`
	PollingCount          int    `json:"polling_count"`
	WaitlistLength        int    `json:"waitlist_length"`
	PrioritySwaps         int64  `json:"priority_swaps"`
	CandleTotal           int    `json:"candle_total"`
	CandleActivePositions int    `json:"candle_active_positions"`
	CandleBuyReady        int    `json:"candle_buy_ready"`
	OpenPositions         int    `json:"open_positions"`
	Paused                bool   `json:"paused"`
}

// Core is the subset of the composition root's wiring the operator
// surface drives. The composition root supplies the implementation;
// tests supply a fake. Kept small and hook-shaped deliberately, mirroring
// how the teacher's BotAPI interface decouples this package from the
// bot's concrete types.
type Core interface {
	Pause()
	Resume()
	ForceRefresh(ctx context.Context) error
	Stats() Stats
	ExportTrades(ctx context.Context, since time.Time) ([]store.Trade, error)
	Shutdown()
}

// Server is the operator HTTP surface.
type Server struct {
	cfg        config.APIConfig
	core       Core
	router     *gin.Engine
	httpServer *http.Server
	log        *logging.Logger
}

// NewServer builds a Server with routes registered; call Run to serve.
func NewServer(cfg config.APIConfig, core Core) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:    cfg,
		core:   core,
		router: router,
		log:    logging.WithComponent("api"),
	}
	s.setupRoutes()
	return s
}

// MountMetrics exposes a Prometheus handler at /metrics on this server's
// own router, unauthenticated like /health, so a scraper needs no
// operator token and the process binds only one port.
func (s *Server) MountMetrics(handler http.Handler) {
	s.router.GET("/metrics", gin.WrapH(handler))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	operator := s.router.Group("/api")
	operator.Use(authMiddleware(s.cfg.JWTSecret))
	{
		operator.POST("/pause", s.handlePause)
		operator.POST("/resume", s.handleResume)
		operator.POST("/refresh", s.handleForceRefresh)
		operator.GET("/stats", s.handleStats)
		operator.GET("/export", s.handleExportCSV)
		operator.POST("/shutdown", s.handleShutdown)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handlePause(c *gin.Context) {
	s.core.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) handleResume(c *gin.Context) {
	s.core.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (s *Server) handleForceRefresh(c *gin.Context) {
	if err := s.core.ForceRefresh(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refreshed": true})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.core.Stats())
}

// handleExportCSV implements export_csv(days): streams every trade since
// now-days as CSV rather than buffering it, since the trade history for
// a long window can run to tens of thousands of rows.
func (s *Server) handleExportCSV(c *gin.Context) {
	days := defaultExportDays
	if raw := c.Query("days"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			days = n
		}
	}
	since := time.Now().AddDate(0, 0, -days)

	trades, err := s.core.ExportTrades(c.Request.Context(), since)
	if err != nil {
		s.writeError(c, err)
		return
	}

	filename := fmt.Sprintf("trades_%dd.csv", days)
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename="+filename)

	w := csv.NewWriter(c.Writer)
	defer w.Flush()

	_ = w.Write([]string{
		"id", "side", "symbol", "name", "qty", "price", "total", "strategy",
		"timestamp", "status", "pnl", "pnl_rate", "hold_minutes",
	})
	for _, t := range trades {
		_ = w.Write([]string{
			strconv.FormatInt(t.ID, 10),
			t.Side,
			t.Symbol,
			t.Name,
			strconv.FormatInt(t.Qty, 10),
			strconv.FormatFloat(t.Price, 'f', -1, 64),
			strconv.FormatFloat(t.Total, 'f', -1, 64),
			t.Strategy,
			t.Timestamp.Format(time.RFC3339),
			t.Status,
			formatNullableFloat(t.PnL),
			formatNullableFloat(t.PnLRate),
			formatNullableInt(t.HoldMinutes),
		})
	}
}

func formatNullableFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatNullableInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func (s *Server) handleShutdown(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{"shutting_down": true})
	go s.core.Shutdown()
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if apperr.IsKind(err, apperr.Validation) {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// drains in-flight requests for up to 10s before returning.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api server listening on %s", s.cfg.ListenAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
