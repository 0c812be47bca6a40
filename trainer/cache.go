package trainer

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"ratelimiter-trainer/config"
	"ratelimiter-trainer/models"
)

const predictionKeyPrefix = "prediction:"

// CacheService publishes each user's latest prediction to Redis in the
// format the serving backend reads.
type CacheService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCacheService(ctx context.Context, cfg config.RedisConfig, logger logrus.FieldLogger) (*CacheService, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	var lastErr error
	for i := 0; i < cfg.ConnectAttempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		lastErr = client.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			return &CacheService{client: client, ttl: cfg.TTL}, nil
		}
		logger.Warnf("redis ping attempt %d/%d failed: %v", i+1, cfg.ConnectAttempts, lastErr)
		if i+1 < cfg.ConnectAttempts {
			time.Sleep(time.Second)
		}
	}

	client.Close()
	return nil, fmt.Errorf("redis ping failed after %d attempts: %w", cfg.ConnectAttempts, lastErr)
}

// NewCacheServiceWithClient wraps an existing client. A nil client gives a
// disabled cache whose operations are no-ops.
func NewCacheServiceWithClient(client *redis.Client, ttl time.Duration) *CacheService {
	return &CacheService{client: client, ttl: ttl}
}

func (s *CacheService) Available() bool {
	return s != nil && s.client != nil
}

// PublishPredictions stores the latest prediction per user and reports how
// many keys were written.
func (s *CacheService) PublishPredictions(ctx context.Context, preds []models.Prediction) (int, error) {
	if !s.Available() {
		return 0, nil
	}
	latest := latestPerUser(preds)
	if len(latest) == 0 {
		return 0, nil
	}

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range latest {
			pipe.Set(ctx, PredictionKey(p.UserID), fmt.Sprintf("%v", p.PredictedAllowed), s.ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis pipeline: %w", err)
	}
	return len(latest), nil
}

func (s *CacheService) Close() error {
	if !s.Available() {
		return nil
	}
	return s.client.Close()
}

func PredictionKey(userID string) string {
	return predictionKeyPrefix + userID
}

// latestPerUser keeps, per user, the prediction with the greatest valid
// timestamp. Later rows win ties, and a valid timestamp beats a null one.
// Users are returned in order of first appearance.
func latestPerUser(preds []models.Prediction) []models.Prediction {
	index := make(map[string]int)
	var out []models.Prediction
	for _, p := range preds {
		i, seen := index[p.UserID]
		if !seen {
			index[p.UserID] = len(out)
			out = append(out, p)
			continue
		}
		cur := out[i]
		switch {
		case !p.Timestamp.Valid && cur.Timestamp.Valid:
		case p.Timestamp.Valid && cur.Timestamp.Valid && p.Timestamp.Time.Before(cur.Timestamp.Time):
		default:
			out[i] = p
		}
	}
	return out
}
