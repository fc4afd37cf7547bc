package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/nabd/blood-bot/internal/models"
)

// RuleBased is the offline classifier used when no model API key is configured
type RuleBased struct {
	criticalKeywords []string
	highKeywords     []string
	lowKeywords      []string
}

func NewRuleBased() *RuleBased {
	return &RuleBased{
		criticalKeywords: []string{
			"hemorrhage", "haemorrhage", "bleeding", "accident", "surgery now",
			"unconscious", "icu", "dying", "critical", "trauma",
		},
		highKeywords: []string{
			"surgery", "operation", "delivery", "birth", "thalassemia",
			"dialysis", "urgent", "today", "emergency",
		},
		lowKeywords: []string{
			"stock", "next week", "scheduled", "routine", "reserve",
		},
	}
}

// Analyze always succeeds.
func (c *RuleBased) Analyze(ctx context.Context, in Input) (models.Analysis, error) {
	desc := strings.ToLower(in.Description)

	urgency := models.UrgencyMedium
	switch {
	case containsAny(desc, c.criticalKeywords):
		urgency = models.UrgencyCritical
	case containsAny(desc, c.highKeywords):
		urgency = models.UrgencyHigh
	case containsAny(desc, c.lowKeywords):
		urgency = models.UrgencyLow
	}

	// big or rare shortages never rank below High
	if urgency.Rank() < models.UrgencyHigh.Rank() && (in.TotalQuantity >= 10 || hasRareType(in)) {
		urgency = models.UrgencyHigh
	}

	who := "Patient"
	if in.Source == models.SourceHospital {
		who = "Hospital"
	}

	return models.Analysis{
		Urgency: urgency,
		Summary: fmt.Sprintf("%s request at %s: %s", who, in.Hospital, in.Requirements()),
		SuggestedMessage: fmt.Sprintf("%s in %s needs %s. If you can donate, please get in touch.",
			in.Hospital, in.Region, in.Requirements()),
	}, nil
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func hasRareType(in Input) bool {
	if in.BloodType == models.ABNeg || in.BloodType == models.ONeg {
		return true
	}
	for _, d := range in.Details {
		if d.BloodType == models.ABNeg || d.BloodType == models.ONeg {
			return true
		}
	}
	return false
}
