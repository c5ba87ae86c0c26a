package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tradecore/internal/engine"
	"tradecore/internal/events"
	"tradecore/internal/mode"
	"tradecore/internal/monitor"
	"tradecore/internal/order"
	"tradecore/internal/risk"
	"tradecore/internal/signal"
	"tradecore/internal/state"
	"tradecore/internal/strategy"
	"tradecore/pkg/db"
)

// Credentials identifies the single operator account allowed to log in.
type Credentials struct {
	Operator     string
	PasswordHash string // bcrypt
}

// Server wires HTTP endpoints around the engine and event bus.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	Engine    *engine.Engine
	Modes     *mode.Manager
	Orders    *order.Manager
	RiskMgr   *risk.Manager
	Signals   *signal.Processor
	Runner    *strategy.Runner
	Positions *state.Manager
	Metrics   *monitor.SystemMetrics
	Audit     *db.Database
	JWTSecret string
	Creds     Credentials

	// baseCtx parents the engine loop so HTTP-triggered starts outlive
	// the request.
	baseCtx context.Context
}

// Deps bundles constructor arguments for NewServer.
type Deps struct {
	Bus       *events.Bus
	Engine    *engine.Engine
	Modes     *mode.Manager
	Orders    *order.Manager
	RiskMgr   *risk.Manager
	Signals   *signal.Processor
	Runner    *strategy.Runner
	Positions *state.Manager
	Metrics   *monitor.SystemMetrics
	Audit     *db.Database
	JWTSecret string
	Creds     Credentials
	BaseCtx   context.Context
}

func NewServer(deps Deps) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(deps.Metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	baseCtx := deps.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	s := &Server{
		Router:    r,
		Bus:       deps.Bus,
		Engine:    deps.Engine,
		Modes:     deps.Modes,
		Orders:    deps.Orders,
		RiskMgr:   deps.RiskMgr,
		Signals:   deps.Signals,
		Runner:    deps.Runner,
		Positions: deps.Positions,
		Metrics:   deps.Metrics,
		Audit:     deps.Audit,
		JWTSecret: deps.JWTSecret,
		Creds:     deps.Creds,
		baseCtx:   baseCtx,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.POST("/auth/login", s.login)
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			// Engine lifecycle
			protected.POST("/engine/start", s.startEngine)
			protected.POST("/engine/stop", s.stopEngine)
			protected.POST("/engine/pause", s.pauseEngine)
			protected.POST("/engine/resume", s.resumeEngine)

			// Trading mode
			protected.GET("/mode", s.getMode)
			protected.POST("/mode", s.setMode)

			// Orders
			protected.POST("/orders", s.submitOrder)
			protected.GET("/orders", s.getOrders)
			protected.GET("/orders/:id", s.getOrder)
			protected.GET("/orders/:id/reports", s.getOrderReports)
			protected.DELETE("/orders/:id", s.cancelOrder)

			// Audit trail
			protected.GET("/audit/orders", s.getOrderHistory)

			// Positions and balance
			protected.GET("/positions", s.getPositions)
			protected.GET("/balance", s.getBalance)

			// Risk
			protected.GET("/risk", s.getRiskStatus)
			protected.GET("/risk/violations", s.getViolations)
			protected.GET("/risk/rules", s.getRules)
			protected.PUT("/risk/rules/:id/enabled", s.setRuleEnabled)
			protected.POST("/risk/emergency-stop", s.triggerEmergencyStop)
			protected.DELETE("/risk/emergency-stop", s.clearEmergencyStop)

			// Signals and strategies
			protected.GET("/signals/pending", s.getPendingSignals)
			protected.GET("/strategies", s.getStrategies)
			protected.POST("/strategies/:id/pause", s.pauseStrategy)
			protected.POST("/strategies/:id/resume", s.resumeStrategy)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s.Bus != nil {
		resp["dropped_events"] = s.Bus.Dropped()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
