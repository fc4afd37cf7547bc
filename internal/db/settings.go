package db

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/nabd/blood-bot/internal/models"
)

// legacyTelegramConfig is the shape saved before WhatsApp support existed
type legacyTelegramConfig struct {
	BotToken string `json:"botToken"`
	ChatID   string `json:"chatId"`
}

// resolveConfig applies the lookup order shared by every backend:
// saved config, then legacy config, then defaults. Undecodable values are
// treated as absent.
func resolveConfig(current, legacy []byte, defaults models.AppConfig, logger *zap.Logger) models.AppConfig {
	if len(current) > 0 {
		var cfg models.AppConfig
		err := json.Unmarshal(current, &cfg)
		if err == nil {
			return cfg
		}
		logger.Warn("ignore corrupt app config", zap.Error(err))
	}

	if len(legacy) > 0 {
		var old legacyTelegramConfig
		err := json.Unmarshal(legacy, &old)
		if err == nil {
			return models.AppConfig{BotToken: old.BotToken, ChatID: old.ChatID}
		}
		logger.Warn("ignore corrupt legacy config", zap.Error(err))
	}

	return defaults
}
