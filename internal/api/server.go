// Package api implements the Binance Spot REST v3 compatible façade,
// translating HTTP requests into internal/exchange calls and formatting
// Binance-shaped JSON responses on a gin router, with CORS and rate-limiting
// middleware and HMAC-SHA256 query-signature authentication in place of a
// JWT bearer scheme.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/tradsys/vexchange/internal/config"
	"github.com/tradsys/vexchange/internal/exchange"
	"github.com/tradsys/vexchange/internal/wsgateway"
)

// Server is the REST v3 façade.
type Server struct {
	ex       *exchange.Exchange
	cfg      *config.Config
	logger   *zap.Logger
	validate *validator.Validate
	engine   *gin.Engine
	keys     *wsgateway.KeyManager
}

// NewServer builds a gin.Engine serving every REST route, wired to
// ex. keys mints the listenKeys returned by POST /userDataStream and must be
// the same KeyManager instance the WebSocket gateway authenticates private
// connections against. Callers own starting/stopping the HTTP listener
// (net/http.Server) and its graceful shutdown.
func NewServer(ex *exchange.Exchange, cfg *config.Config, keys *wsgateway.KeyManager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{ex: ex, cfg: cfg, logger: logger, validate: validator.New(), keys: keys}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(ginZapLogger(logger), gin.Recovery())

	if cfg.Server.EnableCORS {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.Server.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "X-MBX-APIKEY"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	if cfg.Server.RateLimitRPS > 0 {
		rate := limiter.Rate{Period: time.Second, Limit: int64(cfg.Server.RateLimitRPS)}
		store := memory.NewStore()
		r.Use(rateLimitMiddleware(limiter.New(store, rate), logger))
	}

	s.engine = r
	s.routes()
	return s
}

// Handler returns the underlying http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	v3 := s.engine.Group("/api/v3")
	v3.GET("/ping", s.handlePing)
	v3.GET("/time", s.handleTime)
	v3.GET("/exchangeInfo", s.handleExchangeInfo)
	v3.GET("/ticker/price", s.handleTickerPrice)
	v3.GET("/ticker/24hr", s.handleTicker24hr)
	v3.GET("/depth", s.handleDepth)
	v3.GET("/trades", s.handleTrades)
	v3.GET("/klines", s.handleKlines)
	v3.GET("/avgPrice", s.handleAvgPrice)

	signed := v3.Group("")
	signed.Use(s.signatureAuth())
	signed.GET("/account", s.handleAccount)
	signed.POST("/order", s.handleSubmitOrder)
	signed.GET("/order", s.handleQueryOrder)
	signed.DELETE("/order", s.handleCancelOrder)
	signed.GET("/openOrders", s.handleOpenOrders)
	signed.GET("/allOrders", s.handleAllOrders)
	signed.POST("/userDataStream", s.handleCreateListenKey)
	signed.PUT("/userDataStream", s.handleKeepAliveListenKey)
	signed.DELETE("/userDataStream", s.handleCloseListenKey)
}

func ginZapLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// errorResponse writes the Binance-shaped {"code":..,"msg":..} body.
func errorResponse(c *gin.Context, status int, code int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "msg": msg})
}

func (s *Server) userFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return "", false
	}
	uid, ok := v.(string)
	return uid, ok
}
