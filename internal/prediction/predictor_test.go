package prediction

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"gap-trading-bot/internal/gap"
	"gap-trading-bot/internal/market"
	"gap-trading-bot/internal/quality"
)

type stubInference struct {
	prob       float64
	confidence float64
	version    string
	err        error
	features   map[string]float64
}

func (s *stubInference) Infer(_ context.Context, features map[string]float64) (float64, float64, string, error) {
	s.features = features
	if s.err != nil {
		return 0, 0, "", s.err
	}
	return s.prob, s.confidence, s.version, nil
}

func testInput(level quality.Level) Input {
	return Input{
		Gap:        gap.Event{ID: "gap-1", Direction: market.DirectionUp, Size: 2.0},
		Assessment: quality.Assessment{GapID: "gap-1", Score: 0.7, Level: level},
		Market:     market.Context{TrendStrength: 0.4, ATR: 1.5},
	}
}

func TestModelPredictor(t *testing.T) {
	inf := &stubInference{prob: 0.72, confidence: 0.9, version: "gbm-3"}
	p := NewModelPredictor(inf, 0)

	pred, err := p.Predict(context.Background(), testInput(quality.LevelHigh))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pred.FillProbability != 0.72 || pred.ModelVersion != "gbm-3" {
		t.Errorf("got %+v", pred)
	}
	if pred.GapID != "gap-1" {
		t.Errorf("gap id = %s", pred.GapID)
	}
	if _, ok := inf.features["quality_score"]; !ok {
		t.Error("feature vector missing quality_score")
	}
}

func TestModelPredictorRejectsOutOfRange(t *testing.T) {
	inf := &stubInference{prob: 1.4, version: "gbm-3"}
	p := NewModelPredictor(inf, 0)

	_, err := p.Predict(context.Background(), testInput(quality.LevelHigh))
	if err == nil {
		t.Fatal("expected error for out-of-range probability")
	}
	var ce *market.CollaboratorError
	if !errors.As(err, &ce) {
		t.Errorf("expected CollaboratorError, got %T", err)
	}
}

func TestHeuristicTable(t *testing.T) {
	p := NewHeuristicPredictor()
	tests := []struct {
		level quality.Level
		want  float64
	}{
		{quality.LevelPremium, 0.85},
		{quality.LevelHigh, 0.75},
		{quality.LevelMedium, 0.60},
		{quality.LevelLow, 0.45},
		{quality.LevelPoor, 0.30},
	}
	for _, tt := range tests {
		pred, err := p.Predict(context.Background(), testInput(tt.level))
		if err != nil {
			t.Fatalf("heuristic must not fail: %v", err)
		}
		if pred.FillProbability != tt.want {
			t.Errorf("level %s: probability = %f, want %f", tt.level, pred.FillProbability, tt.want)
		}
	}
}

func TestFallbackOnModelFailure(t *testing.T) {
	inf := &stubInference{err: errors.New("inference unavailable")}
	primary := NewModelPredictor(inf, 0)
	p := NewFallbackPredictor(primary, NewHeuristicPredictor(), zerolog.Nop())

	pred, err := p.Predict(context.Background(), testInput(quality.LevelPremium))
	if err != nil {
		t.Fatalf("fallback should absorb primary failure: %v", err)
	}
	if pred.ModelVersion != FallbackModelVersion {
		t.Errorf("model version = %s, want %s", pred.ModelVersion, FallbackModelVersion)
	}
	if pred.FillProbability != 0.85 {
		t.Errorf("probability = %f, want heuristic 0.85", pred.FillProbability)
	}
}

func TestFallbackPassesThroughPrimary(t *testing.T) {
	inf := &stubInference{prob: 0.66, confidence: 0.8, version: "gbm-3"}
	p := NewFallbackPredictor(NewModelPredictor(inf, 0), NewHeuristicPredictor(), zerolog.Nop())

	pred, err := p.Predict(context.Background(), testInput(quality.LevelHigh))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pred.ModelVersion != "gbm-3" {
		t.Errorf("model version = %s, want gbm-3", pred.ModelVersion)
	}
}
