package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	errors "github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nabd/blood-bot/internal/models"
)

type recordedCall struct {
	Path string
	Body map[string]any
}

type fakeBotAPI struct {
	mu        sync.Mutex
	calls     []recordedCall
	responses []func(w http.ResponseWriter)
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.calls = append(f.calls, recordedCall{Path: r.URL.Path, Body: body})

	idx := len(f.calls) - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.responses[idx](w)
}

func reply(status int, payload string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(payload))
	}
}

var testCfg = models.AppConfig{BotToken: "123:abc", ChatID: "-1001"}

func setupTelegram(t *testing.T, responses ...func(w http.ResponseWriter)) (*fakeBotAPI, *Telegram) {
	fake := &fakeBotAPI{responses: responses}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, NewTelegram(srv.URL, 0, zap.NewNop())
}

func TestSend_SuccessFirstAttempt(t *testing.T) {
	fake, tg := setupTelegram(t, reply(http.StatusOK, `{"ok":true,"result":{"message_id":1}}`))

	res := tg.Send(context.Background(), "*hello*", testCfg)
	require.True(t, res.Success)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, res.Attempts)

	require.Len(t, fake.calls, 1)
	assert.Equal(t, "/bot123:abc/sendMessage", fake.calls[0].Path)
	assert.Equal(t, "-1001", fake.calls[0].Body["chat_id"])
	assert.Equal(t, "*hello*", fake.calls[0].Body["text"])
	assert.Equal(t, "Markdown", fake.calls[0].Body["parse_mode"])
}

func TestSend_ParseFailureFallsBackToPlainText(t *testing.T) {
	fake, tg := setupTelegram(t,
		reply(http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities: Can't find end of the entity starting at byte offset 12"}`),
		reply(http.StatusOK, `{"ok":true}`),
	)

	res := tg.Send(context.Background(), "text with *unclosed", testCfg)
	require.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)

	require.Len(t, fake.calls, 2)
	assert.Equal(t, fake.calls[0].Body["text"], fake.calls[1].Body["text"])
	assert.Equal(t, "Markdown", fake.calls[0].Body["parse_mode"])
	_, hasParseMode := fake.calls[1].Body["parse_mode"]
	assert.False(t, hasParseMode)
}

func TestSend_ParseFailureTwice(t *testing.T) {
	fake, tg := setupTelegram(t,
		reply(http.StatusBadRequest, `{"ok":false,"description":"Bad Request: can't parse entities"}`),
	)

	res := tg.Send(context.Background(), "x", testCfg)
	assert.False(t, res.Success)
	assert.Len(t, fake.calls, 2)

	var derr *DeliveryError
	require.True(t, errors.As(res.Err, &derr))
	assert.Equal(t, Rejected, derr.Kind)
	assert.Contains(t, res.Err.Error(), "can't parse entities")
}

func TestSend_OtherFailureSingleAttempt(t *testing.T) {
	fake, tg := setupTelegram(t,
		reply(http.StatusForbidden, `{"ok":false,"error_code":403,"description":"Forbidden: bot is not a member of the channel chat"}`),
	)

	res := tg.Send(context.Background(), "x", testCfg)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, fake.calls, 1)

	var derr *DeliveryError
	require.True(t, errors.As(res.Err, &derr))
	assert.Equal(t, Rejected, derr.Kind)
	assert.Equal(t, http.StatusForbidden, derr.StatusCode)
	assert.Equal(t, "Telegram error: Forbidden: bot is not a member of the channel chat", res.Err.Error())
}

func TestSend_UnknownError(t *testing.T) {
	_, tg := setupTelegram(t, reply(http.StatusInternalServerError, `<html>oops</html>`))

	res := tg.Send(context.Background(), "x", testCfg)
	assert.False(t, res.Success)
	assert.Equal(t, "Telegram error: Unknown error", res.Err.Error())
}

func TestSend_NotConfigured(t *testing.T) {
	fake, tg := setupTelegram(t, reply(http.StatusOK, `{"ok":true}`))

	for _, cfg := range []models.AppConfig{{}, {BotToken: "t"}, {ChatID: "c"}} {
		res := tg.Send(context.Background(), "x", cfg)
		assert.False(t, res.Success)
		assert.Equal(t, 0, res.Attempts)
		assert.True(t, errors.Is(res.Err, ErrNotConfigured))
	}
	assert.Empty(t, fake.calls)
}

func TestSend_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	tg := NewTelegram(base, 0, zap.NewNop())
	res := tg.Send(context.Background(), "x", testCfg)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)

	var derr *DeliveryError
	require.True(t, errors.As(res.Err, &derr))
	assert.Equal(t, NetworkFailure, derr.Kind)
	assert.NotContains(t, res.Err.Error(), testCfg.BotToken)
}
