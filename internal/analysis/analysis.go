// Package analysis triages blood requests for urgency and writes the
// summaries shown to operators and donors.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nabd/blood-bot/internal/models"
)

// Neutral is substituted whenever an analysis cannot be produced
var Neutral = models.Analysis{
	Urgency:          models.UrgencyMedium,
	Summary:          "Manual review required",
	SuggestedMessage: "",
}

// Input is what the analyzer gets to see about a request
type Input struct {
	Description   string
	BloodType     models.BloodType
	Hospital      string
	Region        string
	Source        models.RequestSource
	TotalQuantity int
	Details       []models.RequestDetail
}

// Requirements renders the blood needs as a single sentence fragment.
func (in Input) Requirements() string {
	if len(in.Details) == 0 {
		qty := in.TotalQuantity
		if qty <= 0 {
			qty = 1
		}
		return fmt.Sprintf("%d units of %s", qty, in.BloodType)
	}

	parts := make([]string, 0, len(in.Details))
	for _, d := range in.Details {
		parts = append(parts, fmt.Sprintf("%d units of %s", d.Quantity, d.BloodType))
	}
	return strings.Join(parts, ", ")
}

// Client may fail; callers outside this package only ever see an Analyzer.
type Client interface {
	Analyze(ctx context.Context, in Input) (models.Analysis, error)
}

// Analyzer never fails.
type Analyzer interface {
	Analyze(ctx context.Context, in Input) models.Analysis
}

type fallback struct {
	client Client
	logger *zap.Logger
}

// WithFallback turns a Client into an Analyzer. Any error, panic or empty
// urgency yields Neutral.
func WithFallback(client Client, logger *zap.Logger) Analyzer {
	return &fallback{client: client, logger: logger}
}

func (f *fallback) Analyze(ctx context.Context, in Input) (result models.Analysis) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("analysis panicked, using neutral result", zap.Any("panic", r))
			result = Neutral
		}
	}()

	if f.client == nil {
		return Neutral
	}

	a, err := f.client.Analyze(ctx, in)
	if err != nil {
		f.logger.Warn("analysis failed, using neutral result", zap.Error(err))
		return Neutral
	}

	a.Urgency = models.ParseUrgency(string(a.Urgency))
	if strings.TrimSpace(a.Summary) == "" {
		a.Summary = "Request received"
	}
	return a
}
