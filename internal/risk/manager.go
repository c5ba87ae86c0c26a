package risk

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"tradecore/internal/events"
)

const (
	healthWindow        = 5 * time.Minute
	healthViolationMax  = 5
	tradeHistoryMax     = 1000
	violationHistoryMax = 500
)

// BalanceSource supplies the account balance for snapshot refreshes.
// The mode manager satisfies it.
type BalanceSource interface {
	GetBalance(ctx context.Context, asset string) (float64, error)
}

// Config holds the risk manager's tunables.
type Config struct {
	InitialBalance float64
	Rules          []Rule
}

// Manager evaluates candidate trades against the configured rule set
// and owns the emergency stop latch.
type Manager struct {
	bus      *events.Bus
	balances BalanceSource

	mu              sync.RWMutex
	rules           map[string]Rule
	positions       map[string]PositionInfo
	tradeTimes      []time.Time
	violations      []Violation
	metrics         Metrics
	dailyPnL        float64
	emergencyStop   bool
	emergencyReason string
}

func NewManager(cfg Config, bus *events.Bus) *Manager {
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = 10000
	}
	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	m := &Manager{
		bus:       bus,
		rules:     make(map[string]Rule, len(rules)),
		positions: make(map[string]PositionInfo),
		metrics: Metrics{
			TotalBalance:     cfg.InitialBalance,
			AvailableBalance: cfg.InitialBalance,
			LastUpdated:      time.Now().UTC(),
		},
	}
	for _, r := range rules {
		m.rules[r.ID] = r
	}
	log.Printf("risk manager initialized: %d rules, balance %.2f", len(rules), cfg.InitialBalance)
	return m
}

// SetBalanceSource wires the live balance feed. Without one the
// manager keeps using the configured initial balance.
func (m *Manager) SetBalanceSource(src BalanceSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances = src
}

// ValidateTrade runs the full rule set against one candidate trade.
// The emergency latch short-circuits everything; otherwise every
// enabled rule is evaluated and the most restrictive action wins.
func (m *Manager) ValidateTrade(ctx context.Context, req ValidationRequest) ValidationResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.emergencyStop {
		return ValidationResult{
			Approved: false,
			Action:   ActionEmergencyStop,
			Reason:   fmt.Sprintf("emergency stop active: %s", m.emergencyReason),
		}
	}

	m.refreshMetricsLocked(ctx)

	rules := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	var (
		fired         []Violation
		finalAction   = ActionAllow
		reduceAmounts []float64
	)
	for _, rule := range rules {
		v, ok := m.checkRuleLocked(rule, req)
		if !ok {
			continue
		}
		fired = append(fired, v)
		m.recordViolationLocked(v)
		if rule.Action.Severity() > finalAction.Severity() {
			finalAction = rule.Action
		}
		if rule.Action == ActionReduce {
			reduceAmounts = append(reduceAmounts, m.reducedAmountLocked(rule, req))
		}
	}

	result := ValidationResult{
		Action:         finalAction,
		ApprovedAmount: req.Amount,
		Violations:     fired,
	}

	switch finalAction {
	case ActionAllow:
		result.Approved = true
		result.Reason = "trade approved"
	case ActionReduce:
		// Most conservative suggestion wins when several rules reduce.
		approved := req.Amount
		for _, a := range reduceAmounts {
			if a < approved {
				approved = a
			}
		}
		if approved < 0 {
			approved = 0
		}
		result.Approved = approved > 0
		result.ApprovedAmount = approved
		result.Reason = fmt.Sprintf("amount reduced from %v to %v to satisfy risk limits", req.Amount, approved)
	case ActionBlock:
		result.Approved = false
		result.ApprovedAmount = 0
		result.Reason = "trade blocked: " + violationNames(fired)
	case ActionEmergencyStop:
		result.Approved = false
		result.ApprovedAmount = 0
		result.Reason = "emergency stop triggered: " + violationNames(fired)
		m.setEmergencyLocked(result.Reason)
	}

	if len(fired) > 0 {
		log.Printf("risk: %s %s %.6f -> %s (%s)", req.Side, req.Symbol, req.Amount, finalAction, result.Reason)
	}
	return result
}

func violationNames(vs []Violation) string {
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = v.RuleName
	}
	return strings.Join(names, ", ")
}

// checkRuleLocked computes a rule's observed value and reports whether
// it exceeded the threshold.
func (m *Manager) checkRuleLocked(rule Rule, req ValidationRequest) (Violation, bool) {
	var observed float64
	switch rule.Kind {
	case KindBalance:
		if m.metrics.TotalBalance > 0 {
			observed = (m.metrics.AllocatedBalance + req.Amount*req.Price) / m.metrics.TotalBalance
		}
	case KindPositionCount:
		observed = float64(len(m.positions))
		if req.Side == "buy" {
			if _, held := m.positions[req.Symbol]; !held {
				observed++
			}
		}
	case KindPositionSize:
		if m.metrics.TotalBalance > 0 {
			observed = req.Amount * req.Price / m.metrics.TotalBalance
		}
	case KindTradeFrequency:
		observed = float64(m.countRecentTradesLocked(time.Hour))
	case KindDailyLoss:
		if m.dailyPnL < 0 && m.metrics.TotalBalance > 0 {
			observed = -m.dailyPnL / m.metrics.TotalBalance
		}
	}

	if observed <= rule.Threshold {
		return Violation{}, false
	}
	return Violation{
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		Symbol:     req.Symbol,
		Observed:   observed,
		Threshold:  rule.Threshold,
		OveragePct: (observed - rule.Threshold) / rule.Threshold * 100,
		Action:     rule.Action,
		Timestamp:  time.Now().UTC(),
	}, true
}

// reducedAmountLocked computes the largest amount that would satisfy
// the rule. Falls back to halving the request when the rule kind has
// no closed form.
func (m *Manager) reducedAmountLocked(rule Rule, req ValidationRequest) float64 {
	if req.Price <= 0 {
		return req.Amount * 0.5
	}
	switch rule.Kind {
	case KindPositionSize:
		maxValue := m.metrics.TotalBalance * rule.Threshold
		return min2(req.Amount, maxValue/req.Price)
	case KindBalance:
		available := m.metrics.TotalBalance*rule.Threshold - m.metrics.AllocatedBalance
		return min2(req.Amount, available/req.Price)
	}
	return req.Amount * 0.5
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func (m *Manager) refreshMetricsLocked(ctx context.Context) {
	if m.balances != nil {
		if balance, err := m.balances.GetBalance(ctx, ""); err == nil && balance > 0 {
			m.metrics.TotalBalance = balance
		} else if err != nil {
			log.Printf("risk: balance refresh failed, keeping last snapshot: %v", err)
		}
	}

	var allocated float64
	for _, pos := range m.positions {
		allocated += pos.MarketValue
	}
	m.metrics.AllocatedBalance = allocated
	m.metrics.AvailableBalance = m.metrics.TotalBalance - allocated
	if m.metrics.TotalBalance > 0 {
		m.metrics.AllocationPct = allocated / m.metrics.TotalBalance
	} else {
		m.metrics.AllocationPct = 0
	}
	m.metrics.OpenPositions = len(m.positions)
	m.metrics.HourlyTrades = m.countRecentTradesLocked(time.Hour)
	m.metrics.DailyTrades = m.countRecentTradesLocked(24 * time.Hour)
	m.metrics.DailyPnL = m.dailyPnL
	m.metrics.LastUpdated = time.Now().UTC()
}

func (m *Manager) countRecentTradesLocked(window time.Duration) int {
	cutoff := time.Now().Add(-window)
	n := 0
	for _, ts := range m.tradeTimes {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

func (m *Manager) recordViolationLocked(v Violation) {
	m.violations = append(m.violations, v)
	if len(m.violations) > violationHistoryMax {
		m.violations = m.violations[len(m.violations)-violationHistoryMax:]
	}
	if m.bus != nil {
		m.bus.Publish(events.EventRiskAlert, v)
	}
}

func (m *Manager) setEmergencyLocked(reason string) {
	m.emergencyStop = true
	m.emergencyReason = reason
	log.Printf("EMERGENCY STOP: %s", reason)
	if m.bus != nil {
		m.bus.Publish(events.EventEmergencyStop, reason)
	}
}

// TriggerEmergencyStop sets the latch by operator action.
func (m *Manager) TriggerEmergencyStop(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reason == "" {
		reason = "manual trigger"
	}
	m.setEmergencyLocked(reason)
}

// ClearEmergencyStop releases the latch. Only operators call this;
// the latch never clears on its own.
func (m *Manager) ClearEmergencyStop(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.emergencyStop {
		return
	}
	m.emergencyStop = false
	m.emergencyReason = ""
	// Clearing acknowledges the loss that tripped the latch. The daily
	// tally rebaselines to zero, otherwise the loss rule fires again on
	// the very next validation.
	m.dailyPnL = 0
	if reason == "" {
		reason = "manual clear"
	}
	log.Printf("emergency stop cleared: %s", reason)
}

// EmergencyStopped reports the latch state and reason.
func (m *Manager) EmergencyStopped() (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emergencyStop, m.emergencyReason
}

// Healthy is false while the latch is set or when violations cluster,
// which signals stress in the risk model rather than one bad trade.
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.emergencyStop {
		return false
	}
	cutoff := time.Now().Add(-healthWindow)
	recent := 0
	for _, v := range m.violations {
		if v.Timestamp.After(cutoff) {
			recent++
		}
	}
	return recent < healthViolationMax
}

// RecordTrade registers a completed trade for frequency tracking and
// daily P&L accounting.
func (m *Manager) RecordTrade(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradeTimes = append(m.tradeTimes, time.Now().UTC())
	if len(m.tradeTimes) > tradeHistoryMax {
		m.tradeTimes = m.tradeTimes[len(m.tradeTimes)-tradeHistoryMax:]
	}
	m.dailyPnL += pnl
}

// UpdatePosition replaces the risk view of one position.
func (m *Manager) UpdatePosition(pos PositionInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.Symbol] = pos
}

// RemovePosition drops a closed position from the snapshot.
func (m *Manager) RemovePosition(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, symbol)
}

// AddRule inserts or replaces a rule.
func (m *Manager) AddRule(r Rule) error {
	if err := validateRule(r); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = r
	return nil
}

// RemoveRule deletes a rule, reporting whether it existed.
func (m *Manager) RemoveRule(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return false
	}
	delete(m.rules, id)
	return true
}

// SetRuleEnabled toggles a rule, reporting whether it existed.
func (m *Manager) SetRuleEnabled(id string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return false
	}
	r.Enabled = enabled
	m.rules[id] = r
	return true
}

// Rules returns a copy of the configured rule set.
func (m *Manager) Rules() []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// ViolationHistory returns up to limit most recent violations.
func (m *Manager) ViolationHistory(limit int) []Violation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.violations) {
		limit = len(m.violations)
	}
	out := make([]Violation, limit)
	copy(out, m.violations[len(m.violations)-limit:])
	return out
}

// Metrics returns a copy of the current snapshot.
func (m *Manager) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// Status assembles the operator-facing risk summary.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := 0
	for _, r := range m.rules {
		if r.Enabled {
			active++
		}
	}
	cutoff := time.Now().Add(-healthWindow)
	recent := 0
	for _, v := range m.violations {
		if v.Timestamp.After(cutoff) {
			recent++
		}
	}
	return Status{
		EmergencyStop:    m.emergencyStop,
		EmergencyReason:  m.emergencyReason,
		Metrics:          m.metrics,
		ActiveRules:      active,
		TotalRules:       len(m.rules),
		RecentViolations: recent,
		OpenPositions:    len(m.positions),
		Healthy:          !m.emergencyStop && recent < healthViolationMax,
		LastUpdated:      time.Now().UTC(),
	}
}

// Cleanup resets mutable state. The rule set survives.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[string]PositionInfo)
	m.tradeTimes = nil
	m.violations = nil
	m.dailyPnL = 0
	log.Println("risk manager cleaned up")
}
