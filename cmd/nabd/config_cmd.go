package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nabd/blood-bot/internal/models"
)

var configCMD = &cobra.Command{
	Use:   "config",
	Short: "show or edit the donor channel settings",
}

var configShowCMD = &cobra.Command{
	Use:   "show",
	Short: "print the effective channel settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		ctx := context.Background()
		st, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		cfg := st.GetConfig(ctx)
		cfg.BotToken = maskToken(cfg.BotToken)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	},
}

var configSetCMD = &cobra.Command{
	Use:   "set",
	Short: "update channel settings; unset flags keep their value",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		ctx := context.Background()
		st, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		cfg := applyConfigFlags(cmd, st.GetConfig(ctx))
		if err := st.SaveConfig(ctx, cfg); err != nil {
			return err
		}
		a.logger.Info("channel settings saved")
		return nil
	},
}

func init() {
	configSetCMD.Flags().String("bot-token", "", "Telegram bot token for the donor channel")
	configSetCMD.Flags().String("chat-id", "", "donor channel chat id")
	configSetCMD.Flags().String("whatsapp", "", "WhatsApp number for deep links, international format")

	configCMD.AddCommand(configShowCMD, configSetCMD)
}

func applyConfigFlags(cmd *cobra.Command, cfg models.AppConfig) models.AppConfig {
	if cmd.Flags().Changed("bot-token") {
		cfg.BotToken, _ = cmd.Flags().GetString("bot-token")
	}
	if cmd.Flags().Changed("chat-id") {
		cfg.ChatID, _ = cmd.Flags().GetString("chat-id")
	}
	if cmd.Flags().Changed("whatsapp") {
		cfg.WhatsAppNumber, _ = cmd.Flags().GetString("whatsapp")
	}
	cfg.BotToken = strings.TrimSpace(cfg.BotToken)
	cfg.ChatID = strings.TrimSpace(cfg.ChatID)
	cfg.WhatsAppNumber = strings.TrimSpace(cfg.WhatsAppNumber)
	return cfg
}

func maskToken(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", len(token)-4) + token[len(token)-4:]
}
