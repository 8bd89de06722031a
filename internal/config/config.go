package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	OpenAI    OpenAIConfig
	Replicate ReplicateConfig
	Speech    SpeechConfig
	Music     MusicConfig
	R2        R2Config
	Pipeline  PipelineConfig
	Composer  ComposerConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	GeneratePerHour   int
	RegeneratePerHour int
	StatusPerMin      int
}

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	ChatModel  string
	ImageModel string
	Timeout    int // seconds
}

type ReplicateConfig struct {
	APIToken        string
	BaseURL         string
	ModelVersion    string
	PollIntervalSec int
	MaxWaitSec      int
}

type SpeechConfig struct {
	APIKey  string
	BaseURL string
	VoiceID string
	Timeout int // seconds
}

type MusicConfig struct {
	APIKey          string
	BaseURL         string
	PollIntervalSec int
	MaxWaitSec      int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// PipelineConfig holds the orchestrator's retry and concurrency knobs.
// Retry policy is explicit configuration rather than queue defaults so its
// bounds are testable.
type PipelineConfig struct {
	MaxAttempts        int
	BackoffBaseMs      int
	BackoffMaxMs       int
	ReferenceImages    int
	ReferenceImageMin  int
	FanoutConcurrency  int
	SceneFailurePolicy string // "fail_job" or "degrade"
}

type ComposerConfig struct {
	FFmpegBin    string
	WorkDir      string
	Width        int
	Height       int
	FPS          int
	CrossfadeSec float64
	MusicGain    float64
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("OPENAI_API_KEY")
	readSecret("REPLICATE_API_TOKEN")
	readSecret("SPEECH_API_KEY")
	readSecret("MUSIC_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.generate_per_hour", "RATELIMIT_GENERATE_PER_HOUR")
	_ = viper.BindEnv("ratelimit.regenerate_per_hour", "RATELIMIT_REGENERATE_PER_HOUR")
	_ = viper.BindEnv("ratelimit.status_per_min", "RATELIMIT_STATUS_PER_MIN")
	_ = viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = viper.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	_ = viper.BindEnv("openai.chat_model", "OPENAI_CHAT_MODEL")
	_ = viper.BindEnv("openai.image_model", "OPENAI_IMAGE_MODEL")
	_ = viper.BindEnv("openai.timeout", "OPENAI_TIMEOUT")
	_ = viper.BindEnv("replicate.api_token", "REPLICATE_API_TOKEN")
	_ = viper.BindEnv("replicate.base_url", "REPLICATE_BASE_URL")
	_ = viper.BindEnv("replicate.model_version", "REPLICATE_MODEL_VERSION")
	_ = viper.BindEnv("replicate.poll_interval_sec", "REPLICATE_POLL_INTERVAL")
	_ = viper.BindEnv("replicate.max_wait_sec", "REPLICATE_MAX_WAIT")
	_ = viper.BindEnv("speech.api_key", "SPEECH_API_KEY")
	_ = viper.BindEnv("speech.base_url", "SPEECH_BASE_URL")
	_ = viper.BindEnv("speech.voice_id", "SPEECH_VOICE_ID")
	_ = viper.BindEnv("speech.timeout", "SPEECH_TIMEOUT")
	_ = viper.BindEnv("music.api_key", "MUSIC_API_KEY")
	_ = viper.BindEnv("music.base_url", "MUSIC_BASE_URL")
	_ = viper.BindEnv("music.poll_interval_sec", "MUSIC_POLL_INTERVAL")
	_ = viper.BindEnv("music.max_wait_sec", "MUSIC_MAX_WAIT")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("pipeline.max_attempts", "PIPELINE_MAX_ATTEMPTS")
	_ = viper.BindEnv("pipeline.backoff_base_ms", "PIPELINE_BACKOFF_BASE_MS")
	_ = viper.BindEnv("pipeline.backoff_max_ms", "PIPELINE_BACKOFF_MAX_MS")
	_ = viper.BindEnv("pipeline.reference_images", "PIPELINE_REFERENCE_IMAGES")
	_ = viper.BindEnv("pipeline.reference_image_min", "PIPELINE_REFERENCE_IMAGE_MIN")
	_ = viper.BindEnv("pipeline.fanout_concurrency", "PIPELINE_FANOUT_CONCURRENCY")
	_ = viper.BindEnv("pipeline.scene_failure_policy", "PIPELINE_SCENE_FAILURE_POLICY")
	_ = viper.BindEnv("composer.ffmpeg_bin", "FFMPEG_BIN")
	_ = viper.BindEnv("composer.work_dir", "COMPOSER_WORK_DIR")
	_ = viper.BindEnv("composer.width", "COMPOSER_WIDTH")
	_ = viper.BindEnv("composer.height", "COMPOSER_HEIGHT")
	_ = viper.BindEnv("composer.fps", "COMPOSER_FPS")
	_ = viper.BindEnv("composer.crossfade_sec", "COMPOSER_CROSSFADE_SEC")
	_ = viper.BindEnv("composer.music_gain", "COMPOSER_MUSIC_GAIN")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.generate_per_hour", 5)
	viper.SetDefault("ratelimit.regenerate_per_hour", 20)
	viper.SetDefault("ratelimit.status_per_min", 120)

	// OpenAI defaults
	viper.SetDefault("openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("openai.chat_model", "gpt-4o")
	viper.SetDefault("openai.image_model", "dall-e-3")
	viper.SetDefault("openai.timeout", 120)

	// Replicate defaults
	viper.SetDefault("replicate.base_url", "https://api.replicate.com")
	viper.SetDefault("replicate.poll_interval_sec", 5)
	viper.SetDefault("replicate.max_wait_sec", 600)

	// Speech defaults
	viper.SetDefault("speech.base_url", "https://api.elevenlabs.io")
	viper.SetDefault("speech.voice_id", "narrator-default")
	viper.SetDefault("speech.timeout", 120)

	// Music defaults
	viper.SetDefault("music.base_url", "https://api.sunoapi.org")
	viper.SetDefault("music.poll_interval_sec", 5)
	viper.SetDefault("music.max_wait_sec", 600)

	// Pipeline defaults
	viper.SetDefault("pipeline.max_attempts", 3)
	viper.SetDefault("pipeline.backoff_base_ms", 500)
	viper.SetDefault("pipeline.backoff_max_ms", 15000)
	viper.SetDefault("pipeline.reference_images", 3)
	viper.SetDefault("pipeline.reference_image_min", 2)
	viper.SetDefault("pipeline.fanout_concurrency", 3)
	viper.SetDefault("pipeline.scene_failure_policy", "fail_job")

	// Composer defaults
	viper.SetDefault("composer.ffmpeg_bin", "ffmpeg")
	viper.SetDefault("composer.work_dir", os.TempDir())
	viper.SetDefault("composer.width", 1080)
	viper.SetDefault("composer.height", 1920)
	viper.SetDefault("composer.fps", 30)
	viper.SetDefault("composer.crossfade_sec", 0.5)
	viper.SetDefault("composer.music_gain", 0.3)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour:   viper.GetInt("ratelimit.generate_per_hour"),
			RegeneratePerHour: viper.GetInt("ratelimit.regenerate_per_hour"),
			StatusPerMin:      viper.GetInt("ratelimit.status_per_min"),
		},
		OpenAI: OpenAIConfig{
			APIKey:     viper.GetString("openai.api_key"),
			BaseURL:    viper.GetString("openai.base_url"),
			ChatModel:  viper.GetString("openai.chat_model"),
			ImageModel: viper.GetString("openai.image_model"),
			Timeout:    viper.GetInt("openai.timeout"),
		},
		Replicate: ReplicateConfig{
			APIToken:        viper.GetString("replicate.api_token"),
			BaseURL:         viper.GetString("replicate.base_url"),
			ModelVersion:    viper.GetString("replicate.model_version"),
			PollIntervalSec: viper.GetInt("replicate.poll_interval_sec"),
			MaxWaitSec:      viper.GetInt("replicate.max_wait_sec"),
		},
		Speech: SpeechConfig{
			APIKey:  viper.GetString("speech.api_key"),
			BaseURL: viper.GetString("speech.base_url"),
			VoiceID: viper.GetString("speech.voice_id"),
			Timeout: viper.GetInt("speech.timeout"),
		},
		Music: MusicConfig{
			APIKey:          viper.GetString("music.api_key"),
			BaseURL:         viper.GetString("music.base_url"),
			PollIntervalSec: viper.GetInt("music.poll_interval_sec"),
			MaxWaitSec:      viper.GetInt("music.max_wait_sec"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Pipeline: PipelineConfig{
			MaxAttempts:        viper.GetInt("pipeline.max_attempts"),
			BackoffBaseMs:      viper.GetInt("pipeline.backoff_base_ms"),
			BackoffMaxMs:       viper.GetInt("pipeline.backoff_max_ms"),
			ReferenceImages:    viper.GetInt("pipeline.reference_images"),
			ReferenceImageMin:  viper.GetInt("pipeline.reference_image_min"),
			FanoutConcurrency:  viper.GetInt("pipeline.fanout_concurrency"),
			SceneFailurePolicy: viper.GetString("pipeline.scene_failure_policy"),
		},
		Composer: ComposerConfig{
			FFmpegBin:    viper.GetString("composer.ffmpeg_bin"),
			WorkDir:      viper.GetString("composer.work_dir"),
			Width:        viper.GetInt("composer.width"),
			Height:       viper.GetInt("composer.height"),
			FPS:          viper.GetInt("composer.fps"),
			CrossfadeSec: viper.GetFloat64("composer.crossfade_sec"),
			MusicGain:    viper.GetFloat64("composer.music_gain"),
		},
	}

	return cfg, nil
}
