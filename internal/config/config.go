// Package config loads service configuration from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// LogConfig controls the zap logger.
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
}

// HTTPConfig holds listener settings shared by all servers.
type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"required,gt=0,lte=65535"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// Addr returns the host:port listen address.
func (c HTTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ModelConfig describes an ONNX model and its session pool.
type ModelConfig struct {
	Path        string `mapstructure:"path" validate:"required"`
	OnnxLibrary string `mapstructure:"onnx_library"`
	PoolSize    int    `mapstructure:"pool_size" validate:"gte=1"`
}

// ClassifierConfig configures the image classification service.
type ClassifierConfig struct {
	Log            LogConfig   `mapstructure:"log"`
	HTTP           HTTPConfig  `mapstructure:"http"`
	Model          ModelConfig `mapstructure:"model"`
	DBPath         string      `mapstructure:"db_path" validate:"required"`
	MaxUploadBytes int64       `mapstructure:"max_upload_bytes" validate:"gt=0"`
}

// RTCConfig configures WebRTC sessions and the frame codecs.
type RTCConfig struct {
	ICEServers  []string `mapstructure:"ice_servers"`
	FrameWidth  int      `mapstructure:"frame_width" validate:"gt=0"`
	FrameHeight int      `mapstructure:"frame_height" validate:"gt=0"`
	FPS         int      `mapstructure:"fps" validate:"gt=0"`
}

// RedisConfig configures the optional Redis detection cache.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// CacheConfig selects the detection cache backend.
type CacheConfig struct {
	Backend string      `mapstructure:"backend" validate:"required,oneof=memory redis"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// StorageConfig locates uploaded and processed files.
type StorageConfig struct {
	UploadDir      string `mapstructure:"upload_dir" validate:"required"`
	ProcessedDir   string `mapstructure:"processed_dir" validate:"required"`
	DBPath         string `mapstructure:"db_path" validate:"required"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes" validate:"gt=0"`
}

// JanitorConfig controls cleanup of old files.
type JanitorConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
	MaxAge   time.Duration `mapstructure:"max_age" validate:"gt=0"`
}

// DetectorConfig configures the real-time object detection service.
type DetectorConfig struct {
	Log                 LogConfig     `mapstructure:"log"`
	HTTP                HTTPConfig    `mapstructure:"http"`
	Model               ModelConfig   `mapstructure:"model"`
	LabelsPath          string        `mapstructure:"labels_path"`
	InputSize           int           `mapstructure:"input_size" validate:"gt=0"`
	DetectionConfidence float64       `mapstructure:"detection_confidence" validate:"gt=0,lte=1"`
	IoUThreshold        float64       `mapstructure:"iou_threshold" validate:"gt=0,lte=1"`
	DetectionInterval   int           `mapstructure:"detection_interval" validate:"gte=1"`
	LogInterval         time.Duration `mapstructure:"log_interval" validate:"gt=0"`
	PushInterval        time.Duration `mapstructure:"push_interval" validate:"gt=0"`
	RTC                 RTCConfig     `mapstructure:"rtc"`
	Cache               CacheConfig   `mapstructure:"cache"`
	Storage             StorageConfig `mapstructure:"storage"`
	Janitor             JanitorConfig `mapstructure:"janitor"`
}

// GatewayConfig configures the public submit/stream API.
type GatewayConfig struct {
	Log            LogConfig     `mapstructure:"log"`
	HTTP           HTTPConfig    `mapstructure:"http"`
	InferenceURL   string        `mapstructure:"ml_inference_api_url" validate:"required,url"`
	GeminiAPIKey   string        `mapstructure:"gemini_api_key"`
	GeminiModel    string        `mapstructure:"gemini_model" validate:"required"`
	MaxFileBytes   int64         `mapstructure:"max_file_bytes" validate:"gt=0"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

// newViper returns a viper instance reading the environment and ./.env (or $ENV_PATH).
// Nested keys use "__", so LOG__LEVEL maps to log.level.
func newViper() (*viper.Viper, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	v.AddConfigPath(".")
	v.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		v.SetConfigFile(path)
	}
	v.SetConfigType("env")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

func setCommonDefaults(v *viper.Viper, port int) {
	v.SetDefault("LOG__LEVEL", "info")
	v.SetDefault("LOG__FILE", "")
	v.SetDefault("LOG__MAX_SIZE_MB", 100)
	v.SetDefault("LOG__MAX_BACKUPS", 3)

	v.SetDefault("HTTP__HOST", "0.0.0.0")
	v.SetDefault("HTTP__PORT", port)
	v.SetDefault("HTTP__SHUTDOWN_TIMEOUT", 10*time.Second)
}

func setModelDefaults(v *viper.Viper, path string, poolSize int) {
	v.SetDefault("MODEL__PATH", path)
	v.SetDefault("MODEL__ONNX_LIBRARY", "")
	v.SetDefault("MODEL__POOL_SIZE", poolSize)
}

// load unmarshals and validates a config struct.
func load[T any](defaults func(*viper.Viper)) (*T, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	defaults(v)

	var cfg T
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadClassifier reads the classification service configuration.
func LoadClassifier() (*ClassifierConfig, error) {
	return load[ClassifierConfig](func(v *viper.Viper) {
		setCommonDefaults(v, 8000)
		setModelDefaults(v, "resnet34_ewaste.onnx", 2)
		v.SetDefault("DB_PATH", "classifier.db")
		v.SetDefault("MAX_UPLOAD_BYTES", 10<<20)
	})
}

// LoadDetector reads the detection service configuration.
func LoadDetector() (*DetectorConfig, error) {
	return load[DetectorConfig](func(v *viper.Viper) {
		setCommonDefaults(v, 5005)
		setModelDefaults(v, "weights.onnx", 2)
		v.SetDefault("LABELS_PATH", "")
		v.SetDefault("INPUT_SIZE", 640)
		v.SetDefault("DETECTION_CONFIDENCE", 0.25)
		v.SetDefault("IOU_THRESHOLD", 0.45)
		v.SetDefault("DETECTION_INTERVAL", 5)
		v.SetDefault("LOG_INTERVAL", time.Second)
		v.SetDefault("PUSH_INTERVAL", 100*time.Millisecond)

		v.SetDefault("RTC__ICE_SERVERS", []string{"stun:stun.l.google.com:19302"})
		v.SetDefault("RTC__FRAME_WIDTH", 640)
		v.SetDefault("RTC__FRAME_HEIGHT", 480)
		v.SetDefault("RTC__FPS", 30)

		v.SetDefault("CACHE__BACKEND", "memory")
		v.SetDefault("CACHE__REDIS__ADDR", "localhost:6379")
		v.SetDefault("CACHE__REDIS__PASSWORD", "")
		v.SetDefault("CACHE__REDIS__DB", 0)
		v.SetDefault("CACHE__REDIS__TTL", 10*time.Minute)

		v.SetDefault("STORAGE__UPLOAD_DIR", "uploads")
		v.SetDefault("STORAGE__PROCESSED_DIR", "processed")
		v.SetDefault("STORAGE__DB_PATH", "detector.db")
		v.SetDefault("STORAGE__MAX_UPLOAD_BYTES", 200<<20)

		v.SetDefault("JANITOR__INTERVAL", 15*time.Minute)
		v.SetDefault("JANITOR__MAX_AGE", time.Hour)
	})
}

// LoadGateway reads the gateway configuration.
func LoadGateway() (*GatewayConfig, error) {
	return load[GatewayConfig](func(v *viper.Viper) {
		setCommonDefaults(v, 3000)
		v.SetDefault("ML_INFERENCE_API_URL", "http://localhost:8000")
		v.SetDefault("GEMINI_API_KEY", "")
		v.SetDefault("GEMINI_MODEL", "gemini-1.5-flash")
		v.SetDefault("MAX_FILE_BYTES", 5000000)
		v.SetDefault("REQUEST_TIMEOUT", 30*time.Second)
	})
}
