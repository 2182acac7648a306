package analyzer

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"
)

// DefaultEscalateLength is the snippet length above which Deep always runs.
const DefaultEscalateLength = 200

// Pipeline runs a fast classifier and escalates to a slower one.
//
// The slow stage's verdict is final when it succeeds. If it fails, the fast
// verdict stands.
type Pipeline struct {
	Fast           Classifier
	Slow           Classifier
	EscalateLength int
	Log            *zap.Logger
}

// NewPipeline returns Quick → Deep with default thresholds.
func NewPipeline(log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		Fast:           &Quick{},
		Slow:           NewDeep(),
		EscalateLength: DefaultEscalateLength,
		Log:            log,
	}
}

func (p *Pipeline) Classify(ctx context.Context, text string) (Verdict, error) {
	fast, err := p.Fast.Classify(ctx, text)
	if err != nil {
		return Verdict{}, err
	}
	if p.Slow == nil {
		return fast, nil
	}
	if !fast.Suspicious && utf8.RuneCountInString(text) <= p.EscalateLength {
		return fast, nil
	}
	slow, err := p.Slow.Classify(ctx, text)
	if err != nil {
		if p.Log != nil {
			p.Log.Debug("deep analysis failed, using quick verdict", zap.Error(err))
		}
		return fast, nil
	}
	return slow, nil
}
