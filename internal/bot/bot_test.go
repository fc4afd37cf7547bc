package bot

import (
	"context"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nabd/blood-bot/internal/analysis"
	"github.com/nabd/blood-bot/internal/db"
	"github.com/nabd/blood-bot/internal/message"
	"github.com/nabd/blood-bot/internal/models"
	"github.com/nabd/blood-bot/internal/notify"
	"github.com/nabd/blood-bot/internal/requests"
)

const (
	coordinatorID int64 = 42
	strangerID    int64 = 7
	chatID        int64 = 1001
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) last() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].Text
}

type fakeDispatcher struct {
	result notify.Result
}

func (f *fakeDispatcher) Send(context.Context, string, models.AppConfig) notify.Result {
	return f.result
}

func setupBot(t *testing.T, cfg models.AppConfig, d *fakeDispatcher) (*Bot, *fakeSender, *db.DB) {
	store, err := db.New(":memory:", cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	l := requests.New(store,
		analysis.WithFallback(analysis.NewRuleBased(), zap.NewNop()),
		message.NewComposer("Al-Diwaniyah"), d, zap.NewNop(), requests.Options{})

	sender := &fakeSender{}
	return NewWithSender(sender, []int64{coordinatorID}, l, zap.NewNop()), sender, store
}

func seed(t *testing.T, store *db.DB, id string, status models.RequestStatus) {
	require.NoError(t, store.Save(context.Background(), models.BloodRequest{
		ID:            id,
		PatientName:   "Sara",
		HospitalName:  "Afak General Hospital",
		BloodType:     models.ONeg,
		Quantity:      1,
		ContactNumber: "07701234567",
		Source:        models.SourceIndividual,
		Status:        status,
		CreatedAt:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
}

func commandUpdate(from int64, text string) tgbotapi.Update {
	length := len(text)
	for i, c := range text {
		if c == ' ' {
			length = i
			break
		}
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		From:     &tgbotapi.User{ID: from},
		Chat:     &tgbotapi.Chat{ID: chatID},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}},
	}}
}

func TestBot_Help(t *testing.T) {
	b, sender, _ := setupBot(t, models.AppConfig{}, &fakeDispatcher{})

	b.HandleUpdate(context.Background(), commandUpdate(strangerID, "/help"))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, chatID, sender.sent[0].ChatID)
	assert.Contains(t, sender.last(), "/send <id>")
}

func TestBot_RejectsNonCoordinator(t *testing.T) {
	b, sender, store := setupBot(t, models.AppConfig{}, &fakeDispatcher{})
	seed(t, store, "aaaa1111-0000", models.StatusPending)

	b.HandleUpdate(context.Background(), commandUpdate(strangerID, "/done aaaa"))
	assert.Contains(t, sender.last(), "Only coordinators")

	r, err := store.Get(context.Background(), "aaaa1111-0000")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, r.Status)
}

func TestBot_List(t *testing.T) {
	b, sender, store := setupBot(t, models.AppConfig{}, &fakeDispatcher{})
	ctx := context.Background()

	b.HandleUpdate(ctx, commandUpdate(coordinatorID, "/list"))
	assert.Contains(t, sender.last(), "No open requests")

	seed(t, store, "aaaa1111-0000", models.StatusPending)
	seed(t, store, "bbbb2222-0000", models.StatusSent)
	seed(t, store, "cccc3333-0000", models.StatusFulfilled)

	b.HandleUpdate(ctx, commandUpdate(coordinatorID, "/list"))
	text := sender.last()
	assert.Contains(t, text, "OPEN REQUESTS (2)")
	assert.Contains(t, text, "/send aaaa1111")
	assert.NotContains(t, text, "/send bbbb2222")
	assert.Contains(t, text, "/done bbbb2222")
	assert.NotContains(t, text, "cccc3333")
}

func TestBot_SendAndDone(t *testing.T) {
	d := &fakeDispatcher{result: notify.Result{Success: true, Attempts: 1}}
	b, sender, store := setupBot(t, models.AppConfig{BotToken: "t", ChatID: "-1"}, d)
	ctx := context.Background()
	seed(t, store, "aaaa1111-0000", models.StatusPending)

	b.HandleUpdate(ctx, commandUpdate(coordinatorID, "/send aaaa"))
	assert.Contains(t, sender.last(), "now Sent")

	b.HandleUpdate(ctx, commandUpdate(coordinatorID, "/done aaaa1111"))
	assert.Contains(t, sender.last(), "now Fulfilled")

	b.HandleUpdate(ctx, commandUpdate(coordinatorID, "/cancel aaaa1111"))
	assert.Contains(t, sender.last(), "not allowed")

	r, err := store.Get(ctx, "aaaa1111-0000")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFulfilled, r.Status)
}

func TestBot_SendFailure(t *testing.T) {
	d := &fakeDispatcher{result: notify.Result{Attempts: 1, Err: &notify.DeliveryError{Kind: notify.Rejected, Description: "chat not found"}}}
	b, sender, store := setupBot(t, models.AppConfig{BotToken: "t", ChatID: "-1"}, d)
	seed(t, store, "aaaa1111-0000", models.StatusPending)

	b.HandleUpdate(context.Background(), commandUpdate(coordinatorID, "/send aaaa"))
	assert.Contains(t, sender.last(), "chat not found")
}

func TestBot_IDErrors(t *testing.T) {
	b, sender, store := setupBot(t, models.AppConfig{}, &fakeDispatcher{})
	ctx := context.Background()
	seed(t, store, "aaaa1111-0000", models.StatusPending)
	seed(t, store, "aaaa2222-0000", models.StatusPending)

	b.HandleUpdate(ctx, commandUpdate(coordinatorID, "/done"))
	assert.Contains(t, sender.last(), "Usage: /done")

	b.HandleUpdate(ctx, commandUpdate(coordinatorID, "/done aaaa"))
	assert.Contains(t, sender.last(), "several requests match")

	b.HandleUpdate(ctx, commandUpdate(coordinatorID, "/done zzzz"))
	assert.Contains(t, sender.last(), "not found")

	b.HandleUpdate(ctx, commandUpdate(coordinatorID, "/send aaaa1111"))
	assert.Contains(t, sender.last(), "not configured")
}

func TestBot_LinkAndConfig(t *testing.T) {
	b, sender, store := setupBot(t, models.AppConfig{BotToken: "secret", WhatsAppNumber: "9647700000000"}, &fakeDispatcher{})
	ctx := context.Background()
	seed(t, store, "aaaa1111-0000", models.StatusPending)

	b.HandleUpdate(ctx, commandUpdate(coordinatorID, "/link aaaa"))
	assert.Contains(t, sender.last(), "https://wa.me/9647700000000?text=")

	b.HandleUpdate(ctx, commandUpdate(coordinatorID, "/config"))
	text := sender.last()
	assert.Contains(t, text, "Bot token: set")
	assert.Contains(t, text, "Chat ID: not set")
	assert.NotContains(t, text, "secret")
}

func TestBot_IgnoresPlainText(t *testing.T) {
	b, sender, _ := setupBot(t, models.AppConfig{}, &fakeDispatcher{})

	b.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Text: "hello",
		From: &tgbotapi.User{ID: coordinatorID},
		Chat: &tgbotapi.Chat{ID: chatID},
	}})
	assert.Contains(t, sender.last(), "/help")

	b.HandleUpdate(context.Background(), tgbotapi.Update{})
	assert.Len(t, sender.sent, 1)
}
