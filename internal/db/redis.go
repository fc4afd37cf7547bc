package db

import (
	"context"
	"encoding/json"

	errors "github.com/Laisky/errors/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/nabd/blood-bot/internal/models"
)

const (
	redisRequestsKey     = "nabd:requests"
	redisConfigKey       = "nabd:" + configKey
	redisLegacyConfigKey = "nabd:" + legacyConfigKey

	maxUpdateRetries = 5
)

// RedisStore keeps requests as a Redis list, newest at the head.
type RedisStore struct {
	c        *redis.Client
	defaults models.AppConfig
	logger   *zap.Logger
}

// NewRedis wraps an existing client.
func NewRedis(c *redis.Client, defaults models.AppConfig, logger *zap.Logger) *RedisStore {
	return &RedisStore{c: c, defaults: defaults, logger: logger}
}

func (r *RedisStore) List(ctx context.Context) []models.BloodRequest {
	items, err := r.c.LRange(ctx, redisRequestsKey, 0, -1).Result()
	if err != nil {
		r.logger.Error("list requests", zap.Error(err))
		return []models.BloodRequest{}
	}

	requests := make([]models.BloodRequest, 0, len(items))
	for i, item := range items {
		var req models.BloodRequest
		if err := json.Unmarshal([]byte(item), &req); err != nil {
			r.logger.Warn("skip corrupt request entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		requests = append(requests, req)
	}
	return requests
}

func (r *RedisStore) Get(ctx context.Context, id string) (models.BloodRequest, error) {
	items, err := r.c.LRange(ctx, redisRequestsKey, 0, -1).Result()
	if err != nil {
		return models.BloodRequest{}, errors.Wrapf(err, "get request %s", id)
	}
	if idx, req := findRequest(items, id); idx >= 0 {
		return req, nil
	}
	return models.BloodRequest{}, ErrNotFound
}

func (r *RedisStore) Save(ctx context.Context, req models.BloodRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}
	if err := r.c.LPush(ctx, redisRequestsKey, payload).Err(); err != nil {
		return errors.Wrapf(err, "push request %s", req.ID)
	}
	return nil
}

// Update rewrites the first entry with the request's id inside a WATCH
// transaction, retrying when a concurrent writer touched the list.
func (r *RedisStore) Update(ctx context.Context, req models.BloodRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}

	txf := func(tx *redis.Tx) error {
		items, err := tx.LRange(ctx, redisRequestsKey, 0, -1).Result()
		if err != nil {
			return err
		}
		idx, _ := findRequest(items, req.ID)
		if idx < 0 {
			r.logger.Debug("update for unknown request ignored", zap.String("id", req.ID))
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LSet(ctx, redisRequestsKey, int64(idx), payload)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err = r.c.Watch(ctx, txf, redisRequestsKey)
		if err != redis.TxFailedErr {
			break
		}
	}
	if err != nil {
		return errors.Wrapf(err, "update request %s", req.ID)
	}
	return nil
}

func (r *RedisStore) GetConfig(ctx context.Context) models.AppConfig {
	current, err := r.value(ctx, redisConfigKey)
	if err != nil {
		r.logger.Error("read app config", zap.Error(err))
	}
	legacy, err := r.value(ctx, redisLegacyConfigKey)
	if err != nil {
		r.logger.Error("read legacy config", zap.Error(err))
	}
	return resolveConfig(current, legacy, r.defaults, r.logger)
}

func (r *RedisStore) SaveConfig(ctx context.Context, cfg models.AppConfig) error {
	value, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	if err := r.c.Set(ctx, redisConfigKey, value, 0).Err(); err != nil {
		return errors.Wrap(err, "save config")
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.c.Close()
}

func (r *RedisStore) value(ctx context.Context, key string) ([]byte, error) {
	val, err := r.c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}

func findRequest(items []string, id string) (int, models.BloodRequest) {
	for i, item := range items {
		var req models.BloodRequest
		if err := json.Unmarshal([]byte(item), &req); err != nil {
			continue
		}
		if req.ID == id {
			return i, req
		}
	}
	return -1, models.BloodRequest{}
}
