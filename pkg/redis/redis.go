package redis

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"PoseService/internal/entity"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultChannel = "pose:detections"

// IRedis publishes detection events for out-of-process consumers.
type IRedis interface {
	PublishDetection(ctx context.Context, event entity.DetectionEvent) error
	Close() error
}

type redisClient struct {
	client  *redis.Client
	channel string
	log     *logrus.Logger
}

// New connects using REDIS_ADDRESS, REDIS_PASSWORD, REDIS_DB and
// POSE_REDIS_CHANNEL. A failed ping is logged; publishing retries on use.
func New(log *logrus.Logger) IRedis {
	db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	redisAddr := os.Getenv("REDIS_ADDRESS")

	channel := os.Getenv("POSE_REDIS_CHANNEL")
	if channel == "" {
		channel = DefaultChannel
	}

	log.Info(fmt.Sprintf("Connecting to Redis at %s...", redisAddr))

	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		log.Error(fmt.Sprintf("Failed to connect to Redis: %v", err))
	} else {
		log.Info("Successfully connected to Redis")
	}

	return &redisClient{client: client, channel: channel, log: log}
}

func (r *redisClient) PublishDetection(ctx context.Context, event entity.DetectionEvent) error {
	payload, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(event)
	if err != nil {
		return err
	}

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.log.WithFields(logrus.Fields{
			"channel":    r.channel,
			"session_id": event.SessionID,
			"error":      err.Error(),
		}).Warn("Failed to publish detection event")
		return err
	}

	return nil
}

func (r *redisClient) Close() error {
	return r.client.Close()
}
