package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nabd/blood-bot/internal/models"
)

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "", maskToken(""))
	assert.Equal(t, "***", maskToken("abc"))
	assert.Equal(t, "*****6789", maskToken("123456789"))
}

func TestApplyConfigFlags(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("bot-token", "", "")
	cmd.Flags().String("chat-id", "", "")
	cmd.Flags().String("whatsapp", "", "")
	require.NoError(t, cmd.Flags().Parse([]string{"--chat-id", " -100 ", "--whatsapp", ""}))

	got := applyConfigFlags(cmd, models.AppConfig{BotToken: "keep", ChatID: "old", WhatsAppNumber: "9647700000000"})
	assert.Equal(t, models.AppConfig{BotToken: "keep", ChatID: "-100"}, got)
}

func TestPrintRequests(t *testing.T) {
	list := []models.BloodRequest{
		{
			ID: "a1", Source: models.SourceIndividual, Status: models.StatusSent,
			HospitalName: "Afak General Hospital", BloodType: models.OPos, Quantity: 1,
			Analysis:  &models.Analysis{Urgency: models.UrgencyHigh},
			CreatedAt: time.Date(2025, 5, 1, 8, 30, 0, 0, time.UTC),
		},
		{
			ID: "b2", Source: models.SourceHospital, Status: models.StatusPending,
			HospitalName: "Al-Hamza General Hospital", BloodType: models.ANeg,
			Details:   []models.RequestDetail{{BloodType: models.ANeg, Quantity: 3}},
			CreatedAt: time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, printRequests(&buf, list, ""))
	out := buf.String()
	assert.Contains(t, out, "2025-05-01 08:30")
	assert.Contains(t, out, "High")
	assert.Contains(t, out, "A- ×3")

	buf.Reset()
	require.NoError(t, printRequests(&buf, list, models.StatusPending))
	assert.NotContains(t, buf.String(), "a1")
	assert.Contains(t, buf.String(), "b2")
}
