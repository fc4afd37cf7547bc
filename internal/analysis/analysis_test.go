package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	errors "github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nabd/blood-bot/internal/models"
)

type clientFunc func(ctx context.Context, in Input) (models.Analysis, error)

func (f clientFunc) Analyze(ctx context.Context, in Input) (models.Analysis, error) {
	return f(ctx, in)
}

func sampleInput() Input {
	return Input{
		Description:   "car accident, heavy bleeding",
		BloodType:     models.OPos,
		Hospital:      "Afak General Hospital",
		Region:        "Al-Diwaniyah",
		Source:        models.SourceIndividual,
		TotalQuantity: 1,
	}
}

func TestWithFallback_Error(t *testing.T) {
	a := WithFallback(clientFunc(func(context.Context, Input) (models.Analysis, error) {
		return models.Analysis{}, errors.New("quota exceeded")
	}), zap.NewNop())

	assert.Equal(t, Neutral, a.Analyze(context.Background(), sampleInput()))
}

func TestWithFallback_Panic(t *testing.T) {
	a := WithFallback(clientFunc(func(context.Context, Input) (models.Analysis, error) {
		panic("malformed response")
	}), zap.NewNop())

	assert.Equal(t, Neutral, a.Analyze(context.Background(), sampleInput()))
}

func TestWithFallback_NilClient(t *testing.T) {
	assert.Equal(t, Neutral, WithFallback(nil, zap.NewNop()).Analyze(context.Background(), sampleInput()))
}

func TestWithFallback_NormalizesResult(t *testing.T) {
	a := WithFallback(clientFunc(func(context.Context, Input) (models.Analysis, error) {
		return models.Analysis{Urgency: "extreme"}, nil
	}), zap.NewNop())

	got := a.Analyze(context.Background(), sampleInput())
	assert.Equal(t, models.UrgencyMedium, got.Urgency)
	assert.Equal(t, "Request received", got.Summary)
}

func TestRequirements(t *testing.T) {
	in := Input{Details: []models.RequestDetail{
		{BloodType: models.OPos, Quantity: 5},
		{BloodType: models.ANeg, Quantity: 2},
	}}
	assert.Equal(t, "5 units of O+, 2 units of A-", in.Requirements())

	in = Input{BloodType: models.BPos}
	assert.Equal(t, "1 units of B+", in.Requirements())
}

func TestRuleBased(t *testing.T) {
	rb := NewRuleBased()

	got, err := rb.Analyze(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, models.UrgencyCritical, got.Urgency)
	assert.Contains(t, got.Summary, "1 units of O+")

	in := sampleInput()
	in.Description = "routine reserve for next week"
	got, _ = rb.Analyze(context.Background(), in)
	assert.Equal(t, models.UrgencyLow, got.Urgency)

	in.BloodType = models.ONeg
	got, _ = rb.Analyze(context.Background(), in)
	assert.Equal(t, models.UrgencyHigh, got.Urgency)

	in = sampleInput()
	in.Description = ""
	in.Source = models.SourceHospital
	in.Details = []models.RequestDetail{{BloodType: models.APos, Quantity: 12}}
	in.TotalQuantity = 12
	got, _ = rb.Analyze(context.Background(), in)
	assert.Equal(t, models.UrgencyHigh, got.Urgency)
	assert.Contains(t, got.Summary, "Hospital request")
}

func TestGemini_Analyze(t *testing.T) {
	var gotPath, gotKey string
	var gotBody geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"urgency\":\"High\",\"summary\":\"O+ needed\",\"suggestedMessage\":\"Please help\"}"}]}}]}`))
	}))
	defer srv.Close()

	g, err := NewGemini(GeminiConfig{APIKey: "k", Model: "gemini-test", Endpoint: srv.URL})
	require.NoError(t, err)

	got, err := g.Analyze(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, models.UrgencyHigh, got.Urgency)
	assert.Equal(t, "O+ needed", got.Summary)
	assert.Equal(t, "Please help", got.SuggestedMessage)

	assert.Equal(t, "/models/gemini-test:generateContent", gotPath)
	assert.Equal(t, "k", gotKey)
	require.NotNil(t, gotBody.GenerationConfig)
	assert.Equal(t, "application/json", gotBody.GenerationConfig.ResponseMimeType)
	assert.Contains(t, gotBody.Contents[0].Parts[0].Text, "Afak General Hospital")
}

func TestGemini_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	g, err := NewGemini(GeminiConfig{APIKey: "k", Model: "m", Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = g.Analyze(context.Background(), sampleInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")

	// behind the fallback the caller never sees it
	assert.Equal(t, Neutral, WithFallback(g, zap.NewNop()).Analyze(context.Background(), sampleInput()))
}

func TestGemini_BadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"not json"}]}}]}`))
	}))
	defer srv.Close()

	g, err := NewGemini(GeminiConfig{APIKey: "k", Model: "m", Endpoint: srv.URL})
	require.NoError(t, err)
	_, err = g.Analyze(context.Background(), sampleInput())
	assert.Error(t, err)
}

func TestNewGemini_RequiresKey(t *testing.T) {
	_, err := NewGemini(GeminiConfig{Model: "m"})
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
}
