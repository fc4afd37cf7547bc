package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nabd/blood-bot/internal/analysis"
	"github.com/nabd/blood-bot/internal/api"
	"github.com/nabd/blood-bot/internal/bot"
	"github.com/nabd/blood-bot/internal/message"
	"github.com/nabd/blood-bot/internal/notify"
	"github.com/nabd/blood-bot/internal/requests"
)

var serveCMD = &cobra.Command{
	Use:   "serve",
	Short: "run the HTTP API and the operator bot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.logger.Sync() //nolint:errcheck

		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			a.cfg.Addr = addr
		}
		return a.serve()
	},
}

func init() {
	serveCMD.Flags().String("addr", "", "listen address, overrides NABD_ADDR")
}

func (a *app) analyzer() analysis.Analyzer {
	if a.cfg.GeminiAPIKey == "" {
		a.logger.Info("no Gemini key, using keyword triage")
		return analysis.WithFallback(analysis.NewRuleBased(), a.logger)
	}

	g, err := analysis.NewGemini(analysis.GeminiConfig{
		APIKey:  a.cfg.GeminiAPIKey,
		Model:   a.cfg.GeminiModel,
		Timeout: a.cfg.HTTPTimeout,
	})
	if err != nil {
		a.logger.Warn("Gemini unavailable, using keyword triage", zap.Error(err))
		return analysis.WithFallback(analysis.NewRuleBased(), a.logger)
	}
	a.logger.Info("using Gemini triage", zap.String("model", a.cfg.GeminiModel))
	return analysis.WithFallback(g, a.logger)
}

func (a *app) serve() error {
	// Set up a context that will be canceled on SIGINT or SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	lifecycle := requests.New(st,
		a.analyzer(),
		message.NewComposer(a.cfg.Region),
		notify.NewTelegram(a.cfg.TelegramAPI, a.cfg.HTTPTimeout, a.logger),
		a.logger,
		requests.Options{Region: a.cfg.Region, EnforceHospitals: a.cfg.EnforceHospitals})

	if a.cfg.AdminPIN == "" {
		a.logger.Warn("NABD_ADMIN_PIN is empty, admin routes are open")
	}
	handler := api.NewHandler(lifecycle, a.cfg.AdminPIN, a.logger)

	server := &http.Server{
		Addr:         a.cfg.Addr,
		Handler:      api.NewRouter(handler, a.logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if a.cfg.OperatorBotToken != "" {
		operator, err := bot.New(bot.Config{
			Token:          a.cfg.OperatorBotToken,
			CoordinatorIDs: a.cfg.CoordinatorIDs,
		}, lifecycle, a.logger)
		if err != nil {
			return errors.Wrap(err, "start operator bot")
		}
		go func() {
			if err := operator.Run(ctx); err != nil {
				a.logger.Error("operator bot stopped", zap.Error(err))
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", zap.String("addr", a.cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return errors.Wrap(err, "server error")
		}
	case <-ctx.Done():
	}
	a.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server shutdown failed")
	}

	a.logger.Info("server gracefully stopped")
	return nil
}
