package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/go-resty/resty/v2"

	"github.com/nabd/blood-bot/internal/models"
)

const (
	defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiTimeout  = 30 * time.Second
)

var (
	// ErrInvalidConfiguration is returned when the API key is missing
	ErrInvalidConfiguration = errors.New("invalid model configuration")

	// ErrEmptyResponse is returned when the model produced no candidate text
	ErrEmptyResponse = errors.New("model returned no content")
)

type GeminiConfig struct {
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration
}

// Gemini calls generateContent in JSON mode.
type Gemini struct {
	httpClient *resty.Client
	apiKey     string
	model      string
}

func NewGemini(cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.Wrap(ErrInvalidConfiguration, "APIKey is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultGeminiEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultGeminiTimeout
	}
	if cfg.Model == "" {
		return nil, errors.Wrap(ErrInvalidConfiguration, "Model is required")
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Endpoint, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	return &Gemini{
		httpClient: client,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}, nil
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	ResponseMimeType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

var analysisSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"urgency": map[string]any{
			"type": "STRING",
			"enum": []string{"Low", "Medium", "High", "Critical"},
		},
		"summary":          map[string]any{"type": "STRING"},
		"suggestedMessage": map[string]any{"type": "STRING"},
	},
	"required": []string{"urgency", "summary", "suggestedMessage"},
}

// Prompt builds the instruction sent to the model.
func Prompt(in Input) string {
	source := "Individual"
	if in.Source == models.SourceHospital {
		source = "Hospital"
	}

	return fmt.Sprintf(`Analyze this blood donation request for urgency and provide a brief internal summary and a suggested empathetic message for potential donors.

Details:
- Source: %s
- Location: %s, %s
- Requirements: %s
- Description: %q

Return:
1. Urgency level: Low, Medium, High, Critical.
2. A very short one-sentence internal summary for the admin dashboard.
3. A suggested empathetic message for potential donors.`,
		source, in.Region, in.Hospital, in.Requirements(), in.Description)
}

func (g *Gemini) Analyze(ctx context.Context, in Input) (models.Analysis, error) {
	req := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: Prompt(in)}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   analysisSchema,
		},
	}

	var out geminiResponse
	var apiErr geminiError
	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetQueryParam("key", g.apiKey).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post(fmt.Sprintf("/models/%s:generateContent", g.model))
	if err != nil {
		return models.Analysis{}, errors.Wrap(err, "call gemini")
	}
	if resp.IsError() {
		return models.Analysis{}, errors.Errorf("gemini API error: %s (status %d)",
			apiErr.Error.Message, resp.StatusCode())
	}

	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return models.Analysis{}, ErrEmptyResponse
	}

	var raw struct {
		Urgency          string `json:"urgency"`
		Summary          string `json:"summary"`
		SuggestedMessage string `json:"suggestedMessage"`
	}
	text := out.Candidates[0].Content.Parts[0].Text
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return models.Analysis{}, errors.Wrap(err, "decode gemini analysis")
	}

	return models.Analysis{
		Urgency:          models.ParseUrgency(raw.Urgency),
		Summary:          raw.Summary,
		SuggestedMessage: raw.SuggestedMessage,
	}, nil
}
