package record

import (
	"context"

	"gap-trading-bot/internal/exec"
	"gap-trading-bot/internal/gap"
	"gap-trading-bot/internal/ops"
)

// Noop discards all records. Used when persistence is disabled.
type Noop struct{}

func (Noop) SaveGapEvent(context.Context, gap.Event) error                { return nil }
func (Noop) SavePipelineResult(context.Context, ops.PipelineResult) error { return nil }
func (Noop) SaveTradeOutcome(context.Context, exec.ClosedTrade) error     { return nil }

var _ ops.Recorder = Noop{}
