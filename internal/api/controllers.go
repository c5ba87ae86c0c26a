package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tradecore/internal/engine"
	"tradecore/internal/mode"
	"tradecore/internal/order"
	"tradecore/internal/risk"
	"tradecore/pkg/exchange"
)

type loginRequest struct {
	Operator string `json:"operator" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operator and password required"})
		return
	}
	if req.Operator != s.Creds.Operator || checkPassword(s.Creds.PasswordHash, req.Password) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	expires := time.Now().Add(24 * time.Hour)
	token, err := generateToken(req.Operator, s.JWTSecret, expires)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expires})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Status())
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// --- Engine lifecycle ---

func (s *Server) startEngine(c *gin.Context) {
	if err := s.Engine.Start(s.baseCtx); err != nil {
		s.lifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.Engine.State()})
}

func (s *Server) stopEngine(c *gin.Context) {
	if err := s.Engine.Stop(); err != nil {
		s.lifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.Engine.State()})
}

func (s *Server) pauseEngine(c *gin.Context) {
	if err := s.Engine.Pause(); err != nil {
		s.lifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.Engine.State()})
}

func (s *Server) resumeEngine(c *gin.Context) {
	if err := s.Engine.Resume(); err != nil {
		s.lifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.Engine.State()})
}

func (s *Server) lifecycleError(c *gin.Context, err error) {
	if errors.Is(err, engine.ErrInvalidTransition) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// --- Trading mode ---

func (s *Server) getMode(c *gin.Context) {
	c.JSON(http.StatusOK, s.Modes.Status())
}

type setModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (s *Server) setMode(c *gin.Context) {
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode required"})
		return
	}
	if err := s.Modes.SetMode(c.Request.Context(), mode.Mode(req.Mode)); err != nil {
		if errors.Is(err, mode.ErrUnknownMode) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.Modes.Status())
}

// --- Orders ---

type submitOrderRequest struct {
	Symbol   string  `json:"symbol" binding:"required"`
	Side     string  `json:"side" binding:"required"`
	Type     string  `json:"type"`
	Amount   float64 `json:"amount" binding:"required"`
	Price    float64 `json:"price"`
	Priority int     `json:"priority"`
	Strategy string  `json:"strategy"`
}

func (s *Server) submitOrder(c *gin.Context) {
	var req submitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	side := exchange.Side(req.Side)
	if side != exchange.SideBuy && side != exchange.SideSell {
		c.JSON(http.StatusBadRequest, gin.H{"error": "side must be buy or sell"})
		return
	}
	typ := exchange.OrderType(req.Type)
	if req.Type == "" {
		typ = exchange.OrderTypeMarket
	}

	verdict := s.RiskMgr.ValidateTrade(c.Request.Context(), risk.ValidationRequest{
		Symbol: req.Symbol,
		Side:   req.Side,
		Amount: req.Amount,
		Price:  req.Price,
	})
	if !verdict.Approved {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      "rejected by risk",
			"reason":     verdict.Reason,
			"violations": verdict.Violations,
		})
		return
	}
	amount := req.Amount
	if verdict.Action == risk.ActionReduce && verdict.ApprovedAmount > 0 {
		amount = verdict.ApprovedAmount
	}

	o := order.New(req.Symbol, side, typ, amount, req.Price)
	o.StrategyName = req.Strategy
	if req.Priority >= int(order.PriorityLow) && req.Priority <= int(order.PriorityUrgent) {
		o.Priority = order.Priority(req.Priority)
	}

	if err := s.Orders.Submit(o); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap, _ := s.Orders.Get(o.ID)
	c.JSON(http.StatusAccepted, snap)
}

func (s *Server) getOrders(c *gin.Context) {
	f := order.Filter{
		Status:   order.Status(c.Query("status")),
		Symbol:   c.Query("symbol"),
		Strategy: c.Query("strategy"),
	}
	c.JSON(http.StatusOK, gin.H{"orders": s.Orders.List(f), "statistics": s.Orders.Statistics()})
}

func (s *Server) getOrder(c *gin.Context) {
	snap, err := s.Orders.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getOrderReports(c *gin.Context) {
	if _, err := s.Orders.Get(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": s.Orders.Reports(c.Param("id"))})
}

// getOrderHistory serves audited orders from the database, which
// outlive the in-memory retention window.
func (s *Server) getOrderHistory(c *gin.Context) {
	if s.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	records, err := s.Audit.ListOrders(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": records, "count": len(records)})
}

func (s *Server) cancelOrder(c *gin.Context) {
	err := s.Orders.Cancel(c.Request.Context(), c.Param("id"), "api request")
	switch {
	case err == nil:
		snap, _ := s.Orders.Get(c.Param("id"))
		c.JSON(http.StatusOK, snap)
	case errors.Is(err, order.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, order.ErrTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

// --- Positions and balance ---

func (s *Server) getPositions(c *gin.Context) {
	if s.Positions == nil {
		c.JSON(http.StatusOK, gin.H{"positions": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": s.Positions.Positions()})
}

func (s *Server) getBalance(c *gin.Context) {
	asset := c.DefaultQuery("asset", "USD")
	balance, err := s.Modes.GetBalance(c.Request.Context(), asset)
	if err != nil {
		if errors.Is(err, mode.ErrNoActiveMode) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": asset, "balance": balance})
}

// --- Risk ---

func (s *Server) getRiskStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.RiskMgr.Status())
}

func (s *Server) getViolations(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	c.JSON(http.StatusOK, gin.H{"violations": s.RiskMgr.ViolationHistory(limit)})
}

func (s *Server) getRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": s.RiskMgr.Rules()})
}

type enableRuleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) setRuleEnabled(c *gin.Context) {
	var req enableRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled required"})
		return
	}
	if !s.RiskMgr.SetRuleEnabled(c.Param("id"), *req.Enabled) {
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "enabled": *req.Enabled})
}

type emergencyStopRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) triggerEmergencyStop(c *gin.Context) {
	var req emergencyStopRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual trigger via api"
	}
	s.RiskMgr.TriggerEmergencyStop(req.Reason)
	c.JSON(http.StatusOK, s.RiskMgr.Status())
}

func (s *Server) clearEmergencyStop(c *gin.Context) {
	s.RiskMgr.ClearEmergencyStop("cleared via api")
	c.JSON(http.StatusOK, s.RiskMgr.Status())
}

// --- Signals and strategies ---

func (s *Server) getPendingSignals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pending":    s.Signals.PendingSignals(c.Query("symbol")),
		"statistics": s.Signals.Statistics(),
	})
}

func (s *Server) getStrategies(c *gin.Context) {
	if s.Runner == nil {
		c.JSON(http.StatusOK, gin.H{"strategies": gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": s.Runner.Strategies()})
}

func (s *Server) pauseStrategy(c *gin.Context) {
	if s.Runner == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no strategies configured"})
		return
	}
	s.Runner.Pause(c.Param("id"), true)
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "paused": true})
}

func (s *Server) resumeStrategy(c *gin.Context) {
	if s.Runner == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no strategies configured"})
		return
	}
	s.Runner.Pause(c.Param("id"), false)
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "paused": false})
}
