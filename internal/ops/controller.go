// Package ops coordinates the decision pipeline. The controller runs gap
// signals through cycle, session, quality, prediction and sizing gates in a
// fixed order, prepares orders for approved signals and exposes monitoring
// state for operators.
package ops

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gap-trading-bot/internal/confluence"
	"gap-trading-bot/internal/cycle"
	"gap-trading-bot/internal/events"
	"gap-trading-bot/internal/gap"
	"gap-trading-bot/internal/market"
	"gap-trading-bot/internal/prediction"
	"gap-trading-bot/internal/quality"
	"gap-trading-bot/internal/session"
	"gap-trading-bot/internal/sizing"
)

// Pipeline stages, in gate order. Rejections name the stage that fired.
// Sizing itself never rejects: it degrades to an emergency minimum instead.
const (
	StageState      = "state"
	StageCycle      = "cycle"
	StageSession    = "session"
	StageQuality    = "quality"
	StagePrediction = "prediction"
	StagePrepared   = "prepared"
)

// Signal is one detected gap plus its context, submitted for a decision
type Signal struct {
	Gap    gap.Event
	Group  *confluence.Group
	Market market.Context
}

// PreparedOrder is a fully specified order ready for an execution provider
type PreparedOrder struct {
	ID         string    `json:"id"`
	GapID      string    `json:"gap_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"` // BUY or SELL
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Lot        float64   `json:"lot"`
	PreparedAt time.Time `json:"prepared_at"`
	ExpiryTime time.Time `json:"expiry_time"`
}

// ExecutionResult is the provider's response to a submitted order
type ExecutionResult struct {
	OrderID    string    `json:"order_id"`
	Accepted   bool      `json:"accepted"`
	FillPrice  float64   `json:"fill_price"`
	ExecutedAt time.Time `json:"executed_at"`
	Message    string    `json:"message,omitempty"`
}

// ExecutionProvider carries prepared orders to a venue
type ExecutionProvider interface {
	Submit(ctx context.Context, order PreparedOrder) (ExecutionResult, error)
}

// PipelineResult is the structured outcome of one signal. Rejected signals
// carry the stage and reason; approved signals carry the prepared order.
type PipelineResult struct {
	GapID       string                 `json:"gap_id"`
	Symbol      string                 `json:"symbol"`
	Approved    bool                   `json:"approved"`
	Stage       string                 `json:"stage"`
	Reason      string                 `json:"reason,omitempty"`
	Assessment  *quality.Assessment    `json:"assessment,omitempty"`
	Prediction  *prediction.Prediction `json:"prediction,omitempty"`
	Sizing      *sizing.Result         `json:"sizing,omitempty"`
	Order       *PreparedOrder         `json:"order,omitempty"`
	Execution   *ExecutionResult       `json:"execution,omitempty"`
	ProcessedAt time.Time              `json:"processed_at"`
}

// Recorder persists pipeline outcomes. Implementations must tolerate
// being called concurrently.
type Recorder interface {
	SavePipelineResult(ctx context.Context, result PipelineResult) error
}

// Funnel counts signals through the pipeline stages
type Funnel struct {
	Received          int64            `json:"received"`
	RejectedByStage   map[string]int64 `json:"rejected_by_stage"`
	Approved          int64            `json:"approved"`
	Executed          int64            `json:"executed"`
	ExecutionFailures int64            `json:"execution_failures"`
}

// Heartbeat is the controller's liveness report
type Heartbeat struct {
	State         State     `json:"state"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	LastSignalAt  time.Time `json:"last_signal_at"`
	Timestamp     time.Time `json:"timestamp"`
}

// DashboardSnapshot aggregates the monitoring view
type DashboardSnapshot struct {
	State                State                  `json:"state"`
	StateReason          string                 `json:"state_reason,omitempty"`
	Funnel               Funnel                 `json:"funnel"`
	Cycle                cycle.Snapshot         `json:"cycle"`
	SessionCounts        map[market.Session]int `json:"session_counts"`
	ActiveSession        market.Session         `json:"active_session"`
	SessionRiskRemaining float64                `json:"session_risk_remaining"`
	RecentResults        []PipelineResult       `json:"recent_results"`
	GeneratedAt          time.Time              `json:"generated_at"`
}

// Config holds controller thresholds and the account figures sizing needs
type Config struct {
	MinQualityLevel    quality.Level `json:"min_quality_level"`
	MinFillProbability float64       `json:"min_fill_probability"`
	StopLossBuffer     float64       `json:"stop_loss_buffer"`     // fraction of gap size beyond the entry
	RecentResultsLimit int           `json:"recent_results_limit"`
	OrderExpiry        time.Duration `json:"order_expiry"`         // prepared orders lapse after this
	AccountEquity      float64       `json:"account_equity"`
	FreeMargin         float64       `json:"free_margin"`
	MarginPerLot       float64       `json:"margin_per_lot"`
	// Consecutive collaborator failures before escalating to EMERGENCY_STOP.
	// Zero disables the escalation.
	MaxCollaboratorFailures int `json:"max_collaborator_failures"`
}

// DefaultConfig returns the standard gating thresholds
func DefaultConfig() *Config {
	return &Config{
		MinQualityLevel:         quality.LevelMedium,
		MinFillProbability:      0.55,
		StopLossBuffer:          0.5,
		RecentResultsLimit:      50,
		OrderExpiry:             4 * time.Hour,
		AccountEquity:           10000,
		FreeMargin:              10000,
		MarginPerLot:            1000,
		MaxCollaboratorFailures: 5,
	}
}

// Validate checks threshold sanity
func (c *Config) Validate() error {
	if c.MinFillProbability < 0 || c.MinFillProbability > 1 {
		return fmt.Errorf("min fill probability must be in [0, 1], got %f", c.MinFillProbability)
	}
	if c.StopLossBuffer <= 0 {
		return fmt.Errorf("stop loss buffer must be positive, got %f", c.StopLossBuffer)
	}
	if c.RecentResultsLimit <= 0 {
		return fmt.Errorf("recent results limit must be positive, got %d", c.RecentResultsLimit)
	}
	if c.OrderExpiry <= 0 {
		return fmt.Errorf("order expiry must be positive, got %s", c.OrderExpiry)
	}
	if c.AccountEquity <= 0 {
		return fmt.Errorf("account equity must be positive, got %f", c.AccountEquity)
	}
	if c.FreeMargin <= 0 {
		return fmt.Errorf("free margin must be positive, got %f", c.FreeMargin)
	}
	if c.MarginPerLot <= 0 {
		return fmt.Errorf("margin per lot must be positive, got %f", c.MarginPerLot)
	}
	if c.MaxCollaboratorFailures < 0 {
		return fmt.Errorf("max collaborator failures must not be negative, got %d", c.MaxCollaboratorFailures)
	}
	return nil
}

var levelRank = map[quality.Level]int{
	quality.LevelPoor:    0,
	quality.LevelLow:     1,
	quality.LevelMedium:  2,
	quality.LevelHigh:    3,
	quality.LevelPremium: 4,
}

// Controller is the operations state machine and pipeline coordinator
type Controller struct {
	mu          sync.RWMutex
	state       State
	stateReason string
	startedAt   time.Time
	lastSignal  time.Time

	config    *Config
	cycles    *cycle.Tracker
	sessions  *session.Tracker
	scorer    *quality.Scorer
	predictor prediction.Predictor
	sizer     *sizing.Sizer
	exec      ExecutionProvider
	recorder  Recorder
	bus       *events.Bus
	logger    zerolog.Logger
	now       func() time.Time

	funnel         Funnel
	recent         []PipelineResult
	collabFailures int
}

// Deps bundles the controller's collaborators
type Deps struct {
	Cycles    *cycle.Tracker
	Sessions  *session.Tracker
	Scorer    *quality.Scorer
	Predictor prediction.Predictor
	Sizer     *sizing.Sizer
	Exec      ExecutionProvider
	Recorder  Recorder
	Bus       *events.Bus
	Logger    zerolog.Logger
}

// NewController creates a controller in INITIALIZING
func NewController(config *Config, deps Deps) *Controller {
	if config == nil {
		config = DefaultConfig()
	}
	c := &Controller{
		state:     StateInitializing,
		config:    config,
		cycles:    deps.Cycles,
		sessions:  deps.Sessions,
		scorer:    deps.Scorer,
		predictor: deps.Predictor,
		sizer:     deps.Sizer,
		exec:      deps.Exec,
		recorder:  deps.Recorder,
		bus:       deps.Bus,
		logger:    deps.Logger,
		now:       time.Now,
	}
	c.startedAt = c.now().UTC()
	c.funnel.RejectedByStage = make(map[string]int64)
	return c
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Transition moves the controller to a new state if the transition is valid
func (c *Controller) Transition(to State, reason string) error {
	c.mu.Lock()
	from := c.state
	if !CanTransition(from, to) {
		c.mu.Unlock()
		return &TransitionError{From: from, To: to}
	}
	c.state = to
	c.stateReason = reason
	c.mu.Unlock()

	c.logger.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("controller state changed")
	if c.bus != nil {
		c.bus.PublishStateChanged(string(from), string(to), reason)
	}
	return nil
}

// Start verifies the required collaborators are wired, then moves
// INITIALIZING to READY and on to ACTIVE_TRADING. A controller missing a
// gate collaborator stays in INITIALIZING.
func (c *Controller) Start() error {
	if err := c.checkDeps(); err != nil {
		return err
	}
	if err := c.Transition(StateReady, "startup complete"); err != nil {
		return err
	}
	return c.Transition(StateActiveTrading, "trading enabled")
}

func (c *Controller) checkDeps() error {
	switch {
	case c.cycles == nil:
		return fmt.Errorf("controller not ready: cycle tracker missing")
	case c.sessions == nil:
		return fmt.Errorf("controller not ready: session tracker missing")
	case c.scorer == nil:
		return fmt.Errorf("controller not ready: quality scorer missing")
	case c.predictor == nil:
		return fmt.Errorf("controller not ready: predictor missing")
	case c.sizer == nil:
		return fmt.Errorf("controller not ready: sizer missing")
	}
	return nil
}

// Pause suspends signal approval
func (c *Controller) Pause(reason string) error {
	return c.Transition(StatePaused, reason)
}

// Resume re-enables signal approval
func (c *Controller) Resume() error {
	return c.Transition(StateActiveTrading, "resumed by operator")
}

// Maintenance takes the controller out of trading for operator work
func (c *Controller) Maintenance(reason string) error {
	return c.Transition(StateMaintenance, reason)
}

// EmergencyStop halts everything; only SHUTDOWN may follow
func (c *Controller) EmergencyStop(reason string) error {
	return c.Transition(StateEmergencyStop, reason)
}

// Shutdown is terminal
func (c *Controller) Shutdown(reason string) error {
	return c.Transition(StateShutdown, reason)
}

// ProcessSignal runs one signal through the gates in order. It always
// returns a structured result; errors are reserved for collaborator
// failures that leave the outcome unknown.
func (c *Controller) ProcessSignal(ctx context.Context, sig Signal) (PipelineResult, error) {
	c.mu.Lock()
	c.funnel.Received++
	c.lastSignal = c.now().UTC()
	c.mu.Unlock()

	result := PipelineResult{
		GapID:       sig.Gap.ID,
		Symbol:      sig.Gap.Symbol,
		ProcessedAt: c.now().UTC(),
	}

	if state := c.State(); state != StateActiveTrading {
		return c.reject(ctx, result, StageState, fmt.Sprintf("controller in %s", state)), nil
	}

	if ce := c.cycles.CheckEligibility(); !ce.Allowed {
		return c.reject(ctx, result, StageCycle, ce.Reason), nil
	}

	if se := c.sessions.CheckEligibility(); !se.Allowed {
		return c.reject(ctx, result, StageSession, se.Reason), nil
	}

	assessment := c.scorer.Assess(sig.Gap, sig.Group, sig.Market)
	result.Assessment = &assessment
	if levelRank[assessment.Level] < levelRank[c.config.MinQualityLevel] {
		return c.reject(ctx, result, StageQuality,
			fmt.Sprintf("quality %s below minimum %s", assessment.Level, c.config.MinQualityLevel)), nil
	}

	pred, err := c.predictor.Predict(ctx, prediction.Input{
		Gap:        sig.Gap,
		Assessment: assessment,
		Market:     sig.Market,
	})
	if err != nil {
		c.noteCollaboratorFailure("prediction")
		// Both predictors down; the outcome is unknown, not a rejection
		return result, fmt.Errorf("prediction failed for gap %s: %w", sig.Gap.ID, err)
	}
	c.noteCollaboratorSuccess()
	result.Prediction = &pred
	if pred.ModelVersion == prediction.FallbackModelVersion && c.bus != nil {
		c.bus.Publish(events.Event{
			Type:     events.EventPredictorDegraded,
			Severity: events.SeverityWarning,
			Payload:  map[string]interface{}{"gap_id": sig.Gap.ID},
		})
	}
	if pred.FillProbability < c.config.MinFillProbability {
		return c.reject(ctx, result, StagePrediction,
			fmt.Sprintf("fill probability %.2f below minimum %.2f", pred.FillProbability, c.config.MinFillProbability)), nil
	}

	size := c.sizer.Size(sizing.Input{
		Quality:      assessment.Level,
		Session:      c.sessions.Active(),
		Posture:      c.cycles.Posture(),
		Volatility:   sig.Market.Volatility,
		Equity:       c.config.AccountEquity,
		FreeMargin:   c.config.FreeMargin,
		MarginPerLot: c.config.MarginPerLot,
		StopDistance: sig.Gap.Size * c.config.StopLossBuffer,
	})
	result.Sizing = &size
	if size.Emergency {
		// Sizing never blocks an otherwise approved signal; the minimum
		// lot proceeds.
		c.logger.Warn().
			Str("gap_id", sig.Gap.ID).
			Str("note", size.Note).
			Msg("sizing degraded to emergency minimum, proceeding at min lot")
	}

	// The early eligibility checks above are advisory. The budgets are
	// charged here, check and charge under one lock, so concurrent signals
	// cannot overrun them together.
	sessRes := c.sessions.TryReserve(size.RiskPct)
	if !sessRes.Allowed {
		return c.reject(ctx, result, StageSession, sessRes.Reason), nil
	}
	cycRes := c.cycles.ReserveTrade(size.RiskPct)
	if !cycRes.Allowed {
		c.sessions.Release(sessRes.Session, size.RiskPct)
		return c.reject(ctx, result, StageCycle, cycRes.Reason), nil
	}

	order := c.prepareOrder(sig, size)

	// An emergency or pause raised while the signal was in flight must
	// still win; re-check before committing.
	if state := c.State(); state != StateActiveTrading {
		c.sessions.Release(sessRes.Session, size.RiskPct)
		c.cycles.ReleaseTrade(size.RiskPct)
		return c.reject(ctx, result, StageState, fmt.Sprintf("controller moved to %s during processing", state)), nil
	}

	result.Approved = true
	result.Stage = StagePrepared
	result.Order = &order

	c.mu.Lock()
	c.funnel.Approved++
	c.mu.Unlock()

	c.logger.Info().
		Str("gap_id", sig.Gap.ID).
		Str("symbol", sig.Gap.Symbol).
		Str("side", order.Side).
		Float64("lot", order.Lot).
		Float64("entry", order.EntryPrice).
		Msg("signal approved")
	if c.bus != nil {
		c.bus.Publish(events.Event{
			Type: events.EventOrderPrepared,
			Payload: map[string]interface{}{
				"order_id": order.ID,
				"gap_id":   order.GapID,
				"symbol":   order.Symbol,
				"side":     order.Side,
				"lot":      order.Lot,
			},
		})
	}

	if c.exec != nil {
		execResult, execErr := c.exec.Submit(ctx, order)
		if execErr != nil {
			c.mu.Lock()
			c.funnel.ExecutionFailures++
			c.mu.Unlock()
			// The trade never happened; return its budget reservations
			c.sessions.Release(sessRes.Session, size.RiskPct)
			c.cycles.ReleaseTrade(size.RiskPct)
			c.logger.Error().Err(execErr).Str("order_id", order.ID).Msg("order submission failed")
			if c.bus != nil {
				c.bus.PublishError("execution", "order submission failed", execErr)
			}
			c.noteCollaboratorFailure("execution")
		} else {
			c.noteCollaboratorSuccess()
			result.Execution = &execResult
			c.mu.Lock()
			c.funnel.Executed++
			c.mu.Unlock()
			if c.bus != nil {
				c.bus.Publish(events.Event{
					Type: events.EventOrderExecuted,
					Payload: map[string]interface{}{
						"order_id":   order.ID,
						"fill_price": execResult.FillPrice,
					},
				})
			}
		}
	}

	c.remember(result)
	c.persist(ctx, result)
	return result, nil
}

// RecordTradeClosed feeds a realized result back into the cycle tracker
func (c *Controller) RecordTradeClosed(pnl float64) {
	c.cycles.RecordResult(pnl)
	snap := c.cycles.Snapshot()
	if snap.Status != cycle.StatusOpen && c.bus != nil {
		c.bus.Publish(events.Event{
			Type:     events.EventCycleHalted,
			Severity: events.SeverityWarning,
			Payload: map[string]interface{}{
				"status":      string(snap.Status),
				"realized_pl": snap.RealizedPL,
				"trades":      snap.Trades,
			},
		})
	}
}

// Heartbeat reports controller liveness
func (c *Controller) Heartbeat() Heartbeat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now().UTC()
	return Heartbeat{
		State:         c.state,
		UptimeSeconds: now.Sub(c.startedAt).Seconds(),
		LastSignalAt:  c.lastSignal,
		Timestamp:     now,
	}
}

// Snapshot builds the full dashboard view
func (c *Controller) Snapshot() DashboardSnapshot {
	c.mu.RLock()
	snap := DashboardSnapshot{
		State:       c.state,
		StateReason: c.stateReason,
		Funnel: Funnel{
			Received:          c.funnel.Received,
			Approved:          c.funnel.Approved,
			Executed:          c.funnel.Executed,
			ExecutionFailures: c.funnel.ExecutionFailures,
			RejectedByStage:   make(map[string]int64, len(c.funnel.RejectedByStage)),
		},
		RecentResults: append([]PipelineResult(nil), c.recent...),
		GeneratedAt:   c.now().UTC(),
	}
	for stage, n := range c.funnel.RejectedByStage {
		snap.Funnel.RejectedByStage[stage] = n
	}
	c.mu.RUnlock()

	snap.Cycle = c.cycles.Snapshot()
	snap.SessionCounts = c.sessions.Counts()
	snap.ActiveSession = c.sessions.Active()
	snap.SessionRiskRemaining = c.sessions.RiskBudgetRemaining()
	return snap
}

// FunnelCounts returns a copy of the stage counters
func (c *Controller) FunnelCounts() Funnel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f := Funnel{
		Received:          c.funnel.Received,
		Approved:          c.funnel.Approved,
		Executed:          c.funnel.Executed,
		ExecutionFailures: c.funnel.ExecutionFailures,
		RejectedByStage:   make(map[string]int64, len(c.funnel.RejectedByStage)),
	}
	for stage, n := range c.funnel.RejectedByStage {
		f.RejectedByStage[stage] = n
	}
	return f
}

// prepareOrder derives entry, stop and target from the gap geometry: enter
// toward the gap, target its far edge, stop a buffer beyond the near edge.
func (c *Controller) prepareOrder(sig Signal, size sizing.Result) PreparedOrder {
	g := sig.Gap
	buffer := g.Size * c.config.StopLossBuffer

	preparedAt := c.now().UTC()
	order := PreparedOrder{
		ID:         uuid.New().String(),
		GapID:      g.ID,
		Symbol:     g.Symbol,
		EntryPrice: sig.Market.CurrentPrice,
		Lot:        size.Lot,
		PreparedAt: preparedAt,
		ExpiryTime: preparedAt.Add(c.config.OrderExpiry),
	}
	if g.Direction == market.DirectionUp {
		// Price above an upward gap is expected to trade back down into it
		order.Side = "SELL"
		order.TakeProfit = g.PriceLow
		order.StopLoss = sig.Market.CurrentPrice + buffer
	} else {
		order.Side = "BUY"
		order.TakeProfit = g.PriceHigh
		order.StopLoss = sig.Market.CurrentPrice - buffer
	}
	return order
}

// noteCollaboratorFailure counts consecutive collaborator failures and
// escalates to EMERGENCY_STOP once the configured limit is reached
func (c *Controller) noteCollaboratorFailure(component string) {
	c.mu.Lock()
	c.collabFailures++
	failures := c.collabFailures
	limit := c.config.MaxCollaboratorFailures
	c.mu.Unlock()
	if limit > 0 && failures >= limit {
		_ = c.EmergencyStop(fmt.Sprintf("%d consecutive %s failures", failures, component))
	}
}

func (c *Controller) noteCollaboratorSuccess() {
	c.mu.Lock()
	c.collabFailures = 0
	c.mu.Unlock()
}

func (c *Controller) reject(ctx context.Context, result PipelineResult, stage, reason string) PipelineResult {
	result.Approved = false
	result.Stage = stage
	result.Reason = reason

	c.mu.Lock()
	c.funnel.RejectedByStage[stage]++
	c.mu.Unlock()

	c.logger.Debug().
		Str("gap_id", result.GapID).
		Str("stage", stage).
		Str("reason", reason).
		Msg("signal rejected")
	if c.bus != nil {
		c.bus.PublishRejection(result.GapID, stage, reason)
	}
	c.remember(result)
	c.persist(ctx, result)
	return result
}

func (c *Controller) remember(result PipelineResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent = append(c.recent, result)
	if len(c.recent) > c.config.RecentResultsLimit {
		c.recent = c.recent[len(c.recent)-c.config.RecentResultsLimit:]
	}
}

func (c *Controller) persist(ctx context.Context, result PipelineResult) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.SavePipelineResult(ctx, result); err != nil {
		c.logger.Warn().Err(err).Str("gap_id", result.GapID).Msg("failed to persist pipeline result")
	}
}
