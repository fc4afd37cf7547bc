package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"

	"github.com/nabd/blood-bot/internal/models"
)

// ErrEnvFileNotFound is returned by LoadEnvFile when the file does not exist
var ErrEnvFileNotFound = errors.New(".env file not found")

type Config struct {
	Addr  string
	Store string // sqlite or redis

	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Region           string
	EnforceHospitals bool

	// Default channel settings used when nothing was saved by an operator
	DefaultApp models.AppConfig

	TelegramAPI string
	HTTPTimeout time.Duration

	GeminiAPIKey string
	GeminiModel  string

	OperatorBotToken string
	CoordinatorIDs   []int64
	AdminPIN         string

	LogLevel  string
	LogFormat string
}

const (
	DefaultRegion      = "Al-Diwaniyah"
	DefaultTelegramAPI = "https://api.telegram.org"
	DefaultGeminiModel = "gemini-2.5-flash"
)

// Load reads the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Addr:             getEnvOrDefault("NABD_ADDR", ":8080"),
		Store:            getEnvOrDefault("NABD_STORE", "sqlite"),
		DBPath:           getEnvOrDefault("NABD_DB_PATH", "./data/nabd.db"),
		RedisAddr:        getEnvOrDefault("NABD_REDIS_ADDR", "localhost:6379"),
		RedisPassword:    os.Getenv("NABD_REDIS_PASSWORD"),
		Region:           getEnvOrDefault("NABD_REGION", DefaultRegion),
		EnforceHospitals: true,
		DefaultApp: models.AppConfig{
			BotToken:       os.Getenv("NABD_DEFAULT_BOT_TOKEN"),
			ChatID:         os.Getenv("NABD_DEFAULT_CHAT_ID"),
			WhatsAppNumber: os.Getenv("NABD_DEFAULT_WHATSAPP"),
		},
		TelegramAPI:      getEnvOrDefault("NABD_TELEGRAM_API", DefaultTelegramAPI),
		GeminiAPIKey:     os.Getenv("NABD_GEMINI_API_KEY"),
		GeminiModel:      getEnvOrDefault("NABD_GEMINI_MODEL", DefaultGeminiModel),
		OperatorBotToken: os.Getenv("NABD_OPERATOR_BOT_TOKEN"),
		AdminPIN:         os.Getenv("NABD_ADMIN_PIN"),
		LogLevel:         getEnvOrDefault("NABD_LOG_LEVEL", "info"),
		LogFormat:        getEnvOrDefault("NABD_LOG_FORMAT", "json"),
	}

	if v := os.Getenv("NABD_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return cfg, errors.Wrap(err, "invalid NABD_REDIS_DB")
		}
		cfg.RedisDB = db
	}

	if v := os.Getenv("NABD_ENFORCE_HOSPITALS"); v != "" {
		enforce, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, errors.Wrap(err, "invalid NABD_ENFORCE_HOSPITALS")
		}
		cfg.EnforceHospitals = enforce
	}

	if v := os.Getenv("NABD_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, errors.Wrap(err, "invalid NABD_HTTP_TIMEOUT")
		}
		cfg.HTTPTimeout = d
	}

	ids, err := ParseIDs(os.Getenv("NABD_COORDINATOR_IDS"))
	if err != nil {
		return cfg, err
	}
	cfg.CoordinatorIDs = ids

	switch cfg.Store {
	case "sqlite", "redis":
	default:
		return cfg, errors.Errorf("unknown NABD_STORE %q", cfg.Store)
	}

	return cfg, nil
}

// ParseIDs parses a comma-separated list of Telegram user IDs.
func ParseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, idStr := range strings.Split(s, ",") {
		idStr = strings.TrimSpace(idStr)
		if idStr == "" {
			continue
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid coordinator ID '%s'", idStr)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// LoadEnvFile sets variables from a dotenv file without overriding
// ones already present in the environment.
func LoadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrEnvFileNotFound
		}
		return errors.Wrap(err, "open env file")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if len(value) > 1 && (value[0] == '"' && value[len(value)-1] == '"' ||
			value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}

		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read env file")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
