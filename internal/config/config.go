package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	AppEnv string

	CommandDir   string        `validate:"required"`
	ResponseDir  string        `validate:"required"`
	PIDFile      string        `validate:"required"`
	PollInterval time.Duration `validate:"gt=0"`

	WSHost            string  `validate:"required"`
	WSPort            int     `validate:"min=0,max=65535"`
	WSMaxMessageBytes int64   `validate:"gt=0"`
	WSMaxConnections  int     `validate:"gt=0"`
	WSRate            float64 `validate:"gt=0"`
	WSBurst           int     `validate:"gt=0"`
	WSSecret          string

	EngineCommand     string
	EngineArgs        []string
	EngineStopTimeout time.Duration `validate:"gt=0"`
	DefaultModel      string
	ModelCacheDir     string `validate:"required"`

	AWSRegion    string
	RedisAddress string
	DatabaseURL  string
}

// LoadEnv reads .env when present. A missing file only warrants a warning.
func LoadEnv(log *logrus.Logger) {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug("No .env file found, using process environment")
			return
		}
		log.WithField("error", err.Error()).Warn("Failed to load .env file")
	}
}

// Load builds the configuration from the environment and validates it.
func Load(validate *validator.Validate) (*Config, error) {
	var errs []error

	cfg := &Config{
		AppEnv: getEnv("APP_ENV", "development"),

		CommandDir:   getEnv("POSE_COMMAND_DIR", "/tmp/posture_commands"),
		ResponseDir:  getEnv("POSE_RESPONSE_DIR", "/tmp/posture_responses"),
		PIDFile:      getEnv("POSE_PID_FILE", "/tmp/posture_python.pid"),
		PollInterval: getDuration("POSE_POLL_INTERVAL", 100*time.Millisecond, &errs),

		WSHost:            getEnv("POSE_WS_HOST", "127.0.0.1"),
		WSPort:            getInt("POSE_WS_PORT", 8765, &errs),
		WSMaxMessageBytes: int64(getInt("POSE_WS_MAX_MESSAGE_BYTES", 8*1024*1024, &errs)),
		WSMaxConnections:  getInt("POSE_WS_MAX_CONNECTIONS", 16, &errs),
		WSRate:            getFloat("POSE_WS_RATE", 5, &errs),
		WSBurst:           getInt("POSE_WS_BURST", 10, &errs),
		WSSecret:          os.Getenv("POSE_WS_SECRET"),

		EngineCommand:     getEnv("POSE_ENGINE_COMMAND", "python3"),
		EngineArgs:        strings.Fields(getEnv("POSE_ENGINE_ARGS", "-u pose_worker.py")),
		EngineStopTimeout: getDuration("POSE_ENGINE_STOP_TIMEOUT", 2*time.Second, &errs),
		DefaultModel:      getEnv("POSE_DEFAULT_MODEL", "pose_landmarker_full.task"),
		ModelCacheDir:     getEnv("POSE_MODEL_CACHE_DIR", "/tmp/posed-models"),

		AWSRegion:    os.Getenv("AWS_REGION"),
		RedisAddress: os.Getenv("REDIS_ADDRESS"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if validate == nil {
		validate = validator.New()
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ListenAddr is the host:port of the channel transport.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.WSHost, c.WSPort)
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int, errs *[]error) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not an integer", key, raw))
		return def
	}
	return v
}

func getFloat(key string, def float64, errs *[]error) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a number", key, raw))
		return def
	}
	return v
}

// getDuration accepts Go durations ("250ms") and bare milliseconds ("250").
func getDuration(key string, def time.Duration, errs *[]error) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a duration", key, raw))
		return def
	}
	return v
}
