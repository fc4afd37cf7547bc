package main

import (
	"context"
	"fmt"
	"os"

	errors "github.com/Laisky/errors/v2"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nabd/blood-bot/internal/config"
	"github.com/nabd/blood-bot/internal/db"
	"github.com/nabd/blood-bot/internal/logger"
	"github.com/nabd/blood-bot/internal/requests"
)

const serviceName = "nabd"

var rootCMD = &cobra.Command{
	Use:           "nabd",
	Short:         "nabd blood request relay",
	Long:          `Collects blood donation requests and relays them to a Telegram donor channel.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCMD.PersistentFlags().String("env-file", ".env", "optional file with NABD_* variables")
	rootCMD.PersistentFlags().String("log-level", "", "`debug/info/warn/error`, overrides NABD_LOG_LEVEL")
	rootCMD.PersistentFlags().String("log-format", "", "`json/console`, overrides NABD_LOG_FORMAT")

	rootCMD.AddCommand(serveCMD, configCMD, requestsCMD)
}

// Execute runs the root command
func Execute() {
	if err := rootCMD.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type app struct {
	cfg    config.Config
	logger *zap.Logger
}

// setup loads configuration and builds the logger shared by every command.
func setup(cmd *cobra.Command) (*app, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadEnvFile(envFile); err != nil && !errors.Is(err, config.ErrEnvFileNotFound) {
		return nil, errors.Wrapf(err, "load %s", envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		return nil, errors.Wrap(err, "create logger")
	}
	return &app{cfg: cfg, logger: log}, nil
}

type store interface {
	requests.Store
	Close() error
}

func (a *app) openStore(ctx context.Context) (store, error) {
	switch a.cfg.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, errors.Wrapf(err, "connect redis %s", a.cfg.RedisAddr)
		}
		a.logger.Info("using redis store", zap.String("addr", a.cfg.RedisAddr), zap.Int("db", a.cfg.RedisDB))
		return db.NewRedis(client, a.cfg.DefaultApp, a.logger), nil
	default:
		s, err := db.New(a.cfg.DBPath, a.cfg.DefaultApp, a.logger)
		if err != nil {
			return nil, err
		}
		a.logger.Info("using sqlite store", zap.String("path", a.cfg.DBPath))
		return s, nil
	}
}
