// Package engine runs the polling loop: it pulls candles for every
// configured symbol and timeframe, detects and tracks gaps, scores
// confluence, and hands fresh gaps to the operations controller for a
// decision.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gap-trading-bot/internal/confluence"
	"gap-trading-bot/internal/events"
	"gap-trading-bot/internal/gap"
	"gap-trading-bot/internal/market"
	"gap-trading-bot/internal/ops"
)

// Deduper suppresses re-processing of gaps already seen. Implementations
// may be remote; errors are treated as "not seen" so a cache outage never
// blocks detection.
type Deduper interface {
	Seen(ctx context.Context, fingerprint string) (bool, error)
	Mark(ctx context.Context, fingerprint string, ttl time.Duration) error
}

// GapRecorder persists gap lifecycle events
type GapRecorder interface {
	SaveGapEvent(ctx context.Context, event gap.Event) error
}

// Config holds the engine's polling layout
type Config struct {
	Symbols      []string           `json:"symbols"`
	Timeframes   []market.Timeframe `json:"timeframes"`
	PollInterval time.Duration      `json:"poll_interval"`
	CandleCount  int                `json:"candle_count"`
	DedupTTL     time.Duration      `json:"dedup_ttl"`
}

// DefaultConfig returns a single-symbol multi-timeframe layout
func DefaultConfig() *Config {
	return &Config{
		Symbols:      []string{"BTCUSDT"},
		Timeframes:   []market.Timeframe{market.Timeframe5m, market.Timeframe15m, market.Timeframe1h},
		PollInterval: 30 * time.Second,
		CandleCount:  100,
		DedupTTL:     48 * time.Hour,
	}
}

// Validate checks the polling layout
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol required")
	}
	if len(c.Timeframes) == 0 {
		return fmt.Errorf("at least one timeframe required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.CandleCount < 3 {
		return fmt.Errorf("candle count must be at least 3, got %d", c.CandleCount)
	}
	return nil
}

// Deps bundles the engine's collaborators
type Deps struct {
	Source     market.Source
	Detector   *gap.Detector
	Tracker    *gap.Tracker
	Scorer     *confluence.Scorer
	Controller *ops.Controller
	Deduper    Deduper
	Recorder   GapRecorder
	Bus        *events.Bus
	Logger     zerolog.Logger
}

// Engine drives the pipeline
type Engine struct {
	config     *Config
	source     market.Source
	detector   *gap.Detector
	tracker    *gap.Tracker
	scorer     *confluence.Scorer
	controller *ops.Controller
	deduper    Deduper
	recorder   GapRecorder
	bus        *events.Bus
	logger     zerolog.Logger

	wg sync.WaitGroup
}

// New creates an engine
func New(config *Config, deps Deps) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{
		config:     config,
		source:     deps.Source,
		detector:   deps.Detector,
		tracker:    deps.Tracker,
		scorer:     deps.Scorer,
		controller: deps.Controller,
		deduper:    deps.Deduper,
		recorder:   deps.Recorder,
		bus:        deps.Bus,
		logger:     deps.Logger,
	}
}

// Run polls until the context is cancelled. One worker per symbol; all
// workers share the tracker and controller, which are safe for concurrent
// use.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info().
		Strs("symbols", e.config.Symbols).
		Dur("poll_interval", e.config.PollInterval).
		Msg("engine started")

	for _, symbol := range e.config.Symbols {
		e.wg.Add(1)
		go func(symbol string) {
			defer e.wg.Done()
			e.pollSymbol(ctx, symbol)
		}(symbol)
	}
	e.wg.Wait()
	e.logger.Info().Msg("engine stopped")
}

func (e *Engine) pollSymbol(ctx context.Context, symbol string) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	// First poll immediately, then on the tick
	e.Poll(ctx, symbol)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Poll(ctx, symbol)
		}
	}
}

// Poll runs one detection and decision pass for a symbol
func (e *Engine) Poll(ctx context.Context, symbol string) {
	var fresh []gap.Event
	var primary []market.Candle

	for i, tf := range e.config.Timeframes {
		candles, err := e.source.GetRecentCandles(ctx, symbol, tf, e.config.CandleCount)
		if err != nil {
			e.logger.Warn().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).Msg("candle fetch failed")
			if e.bus != nil {
				e.bus.PublishError("engine", "candle fetch failed", err)
			}
			continue
		}
		if i == 0 {
			primary = candles
		}

		detected, err := e.detector.Detect(symbol, tf, candles)
		if err != nil {
			e.logger.Warn().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).Msg("detection failed")
			continue
		}
		fresh = append(fresh, e.admit(ctx, detected)...)

		if len(candles) > 0 {
			e.applyTransitions(ctx, e.tracker.Update(candles[len(candles)-1]))
		}
	}

	if len(primary) == 0 {
		return
	}
	activeSession := market.SessionOffHours
	if e.controller != nil {
		activeSession = e.controller.Snapshot().ActiveSession
	}
	mctx := market.BuildContext(symbol, primary, activeSession, time.Now().UTC())

	active := e.tracker.ActiveFor(symbol)
	groups := e.scorer.Score(active)

	for _, g := range fresh {
		if g.Status != gap.StatusActive {
			continue
		}
		sig := ops.Signal{
			Gap:    g,
			Group:  confluence.GroupFor(g.ID, groups),
			Market: mctx,
		}
		if _, err := e.controller.ProcessSignal(ctx, sig); err != nil {
			e.logger.Error().Err(err).Str("gap_id", g.ID).Msg("signal processing failed")
			if e.bus != nil {
				e.bus.PublishError("engine", "signal processing failed", err)
			}
		}
	}
}

// admit filters detected gaps through dedup, registers them with the
// tracker and announces them
func (e *Engine) admit(ctx context.Context, detected []gap.Event) []gap.Event {
	var fresh []gap.Event
	for _, g := range detected {
		fp := g.Fingerprint()
		if e.deduper != nil {
			if seen, err := e.deduper.Seen(ctx, fp); err == nil && seen {
				continue
			}
			if err := e.deduper.Mark(ctx, fp, e.config.DedupTTL); err != nil {
				e.logger.Debug().Err(err).Str("gap_id", g.ID).Msg("dedup mark failed")
			}
		}

		if g.Status == gap.StatusActive {
			e.tracker.Add([]gap.Event{g})
		}
		fresh = append(fresh, g)

		e.logger.Info().
			Str("gap_id", g.ID).
			Str("symbol", g.Symbol).
			Str("timeframe", string(g.Timeframe)).
			Str("direction", string(g.Direction)).
			Float64("size", g.Size).
			Str("status", string(g.Status)).
			Msg("gap detected")
		if e.bus != nil {
			e.bus.PublishGapDetected(g.ID, g.Symbol, string(g.Timeframe), string(g.Direction), g.Size)
		}
		e.record(ctx, g)
	}
	return fresh
}

// applyTransitions publishes and persists fill and expiry transitions
func (e *Engine) applyTransitions(ctx context.Context, transitions []gap.Event) {
	for _, g := range transitions {
		switch g.Status {
		case gap.StatusFilled:
			fillPrice := 0.0
			if g.FillPrice != nil {
				fillPrice = *g.FillPrice
			}
			e.logger.Info().Str("gap_id", g.ID).Float64("fill_price", fillPrice).Msg("gap filled")
			if e.bus != nil {
				e.bus.PublishGapFilled(g.ID, g.Symbol, fillPrice)
			}
		case gap.StatusExpired:
			e.logger.Debug().Str("gap_id", g.ID).Msg("gap expired")
			if e.bus != nil {
				e.bus.Publish(events.Event{
					Type:    events.EventGapExpired,
					Payload: map[string]interface{}{"gap_id": g.ID, "symbol": g.Symbol},
				})
			}
		}
		e.record(ctx, g)
	}
}

func (e *Engine) record(ctx context.Context, g gap.Event) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.SaveGapEvent(ctx, g); err != nil {
		e.logger.Warn().Err(err).Str("gap_id", g.ID).Msg("failed to persist gap event")
	}
}
