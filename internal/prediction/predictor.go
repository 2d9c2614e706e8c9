// Package prediction estimates the probability that an active gap will be
// filled. A model-backed predictor consults an external inference service;
// a heuristic predictor derives the probability from the quality level. The
// fallback decorator composes the two so inference outages never stall the
// pipeline.
package prediction

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gap-trading-bot/internal/gap"
	"gap-trading-bot/internal/market"
	"gap-trading-bot/internal/quality"
)

// FallbackModelVersion marks predictions produced by the heuristic after a
// model failure
const FallbackModelVersion = "fallback"

// Prediction is the fill-probability estimate for one gap
type Prediction struct {
	GapID           string    `json:"gap_id"`
	FillProbability float64   `json:"fill_probability"` // 0-1
	ConfidenceLevel float64   `json:"confidence_level"` // 0-1
	ModelVersion    string    `json:"model_version"`
	PredictedAt     time.Time `json:"predicted_at"`
}

// Input bundles everything a predictor may consult
type Input struct {
	Gap        gap.Event
	Assessment quality.Assessment
	Market     market.Context
}

// Predictor estimates fill probability for a gap
type Predictor interface {
	Predict(ctx context.Context, in Input) (Prediction, error)
}

// Inference is the external model service collaborator
type Inference interface {
	// Infer returns probability, confidence and model version for the
	// given feature vector
	Infer(ctx context.Context, features map[string]float64) (prob, confidence float64, version string, err error)
}

// ModelPredictor asks a remote inference service for predictions
type ModelPredictor struct {
	inference Inference
	timeout   time.Duration
	now       func() time.Time
}

// NewModelPredictor creates a model-backed predictor
func NewModelPredictor(inference Inference, timeout time.Duration) *ModelPredictor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ModelPredictor{inference: inference, timeout: timeout, now: time.Now}
}

var _ Predictor = (*ModelPredictor)(nil)

// Predict extracts features and defers to the inference service
func (p *ModelPredictor) Predict(ctx context.Context, in Input) (Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	prob, conf, version, err := p.inference.Infer(ctx, Features(in))
	if err != nil {
		return Prediction{}, &market.CollaboratorError{Collaborator: "inference", Err: err}
	}
	if prob < 0 || prob > 1 {
		return Prediction{}, &market.CollaboratorError{
			Collaborator: "inference",
			Err:          fmt.Errorf("probability %f out of range", prob),
		}
	}
	return Prediction{
		GapID:           in.Gap.ID,
		FillProbability: prob,
		ConfidenceLevel: clamp01(conf),
		ModelVersion:    version,
		PredictedAt:     p.now().UTC(),
	}, nil
}

// Features flattens the input into the model's feature vector
func Features(in Input) map[string]float64 {
	direction := 1.0
	if in.Gap.Direction == market.DirectionDown {
		direction = -1.0
	}
	return map[string]float64{
		"gap_size":       in.Gap.Size,
		"gap_direction":  direction,
		"quality_score":  in.Assessment.Score,
		"confluence":     in.Assessment.Factors.Confluence,
		"distance":       in.Assessment.Factors.Distance,
		"trend_strength": in.Market.TrendStrength,
		"atr":            in.Market.ATR,
	}
}

// HeuristicPredictor maps quality levels to fixed fill probabilities
type HeuristicPredictor struct {
	table map[quality.Level]float64
	now   func() time.Time
}

// NewHeuristicPredictor creates a heuristic predictor with the standard
// probability table
func NewHeuristicPredictor() *HeuristicPredictor {
	return &HeuristicPredictor{
		table: map[quality.Level]float64{
			quality.LevelPremium: 0.85,
			quality.LevelHigh:    0.75,
			quality.LevelMedium:  0.60,
			quality.LevelLow:     0.45,
			quality.LevelPoor:    0.30,
		},
		now: time.Now,
	}
}

var _ Predictor = (*HeuristicPredictor)(nil)

// Predict never fails; unknown levels fall back to the POOR probability
func (p *HeuristicPredictor) Predict(_ context.Context, in Input) (Prediction, error) {
	prob, ok := p.table[in.Assessment.Level]
	if !ok {
		prob = p.table[quality.LevelPoor]
	}
	return Prediction{
		GapID:           in.Gap.ID,
		FillProbability: prob,
		ConfidenceLevel: 0.5,
		ModelVersion:    "heuristic-v1",
		PredictedAt:     p.now().UTC(),
	}, nil
}

// FallbackPredictor tries the primary predictor and substitutes the
// secondary on failure, tagging the result so downstream consumers can see
// the substitution
type FallbackPredictor struct {
	primary   Predictor
	secondary Predictor
	logger    zerolog.Logger
}

// NewFallbackPredictor composes primary and secondary predictors
func NewFallbackPredictor(primary, secondary Predictor, logger zerolog.Logger) *FallbackPredictor {
	return &FallbackPredictor{primary: primary, secondary: secondary, logger: logger}
}

var _ Predictor = (*FallbackPredictor)(nil)

// Predict returns the primary result when available, otherwise the secondary
// result with ModelVersion forced to "fallback"
func (p *FallbackPredictor) Predict(ctx context.Context, in Input) (Prediction, error) {
	pred, err := p.primary.Predict(ctx, in)
	if err == nil {
		return pred, nil
	}
	p.logger.Warn().
		Err(err).
		Str("gap_id", in.Gap.ID).
		Msg("primary predictor failed, using fallback")

	pred, ferr := p.secondary.Predict(ctx, in)
	if ferr != nil {
		return Prediction{}, fmt.Errorf("fallback predictor failed after primary error %v: %w", err, ferr)
	}
	pred.ModelVersion = FallbackModelVersion
	return pred, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
