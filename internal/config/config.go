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
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server      ServerConfig
	Redis       RedisConfig
	JWT         JWTConfig
	RateLimit   RateLimitConfig
	Segment     SegmentConfig
	Transcriber TranscriberConfig
	Diarizer    DiarizerConfig
	Media       MediaConfig
	R2          R2Config
	Worker      WorkerConfig
}

type ServerConfig struct {
	Port        string
	Env         string
	LogLevel    string
	VersionFile string
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
	TranscribePerHour int
	UploadPerHour     int
}

// SegmentConfig holds the default resegmentation budgets
type SegmentConfig struct {
	MaxChars   int
	MaxSeconds float64
}

type TranscriberConfig struct {
	ServiceURL string
	Model      string
	Timeout    int // seconds
}

type DiarizerConfig struct {
	ServiceURL string
	Token      string
	Timeout    int // seconds
}

// Configured reports whether diarization can be scheduled
func (d DiarizerConfig) Configured() bool {
	return d.ServiceURL != ""
}

type MediaConfig struct {
	Dir            string
	YtDlpPath      string
	FFmpegPath     string
	FFprobePath    string
	MaxUploadMB    int
	AcquireTimeout int // seconds
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// Configured reports whether media archiving to R2 is enabled
func (r R2Config) Configured() bool {
	return r.AccountID != "" && r.AccessKeyID != "" && r.SecretAccessKey != "" && r.BucketName != ""
}

type WorkerConfig struct {
	Concurrency int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("DIARIZER_TOKEN")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.version_file", "VERSION_FILE")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = v.BindEnv("ratelimit.transcribe_per_hour", "RATELIMIT_TRANSCRIBE_PER_HOUR")
	_ = v.BindEnv("ratelimit.upload_per_hour", "RATELIMIT_UPLOAD_PER_HOUR")
	_ = v.BindEnv("segment.max_chars", "MAX_SEGMENT_LENGTH")
	_ = v.BindEnv("segment.max_seconds", "MAX_SEGMENT_TIME")
	_ = v.BindEnv("transcriber.service_url", "TRANSCRIBER_SERVICE_URL")
	_ = v.BindEnv("transcriber.model", "TRANSCRIBER_MODEL")
	_ = v.BindEnv("transcriber.timeout", "TRANSCRIBER_TIMEOUT")
	_ = v.BindEnv("diarizer.service_url", "DIARIZER_SERVICE_URL")
	_ = v.BindEnv("diarizer.token", "DIARIZER_TOKEN")
	_ = v.BindEnv("diarizer.timeout", "DIARIZER_TIMEOUT")
	_ = v.BindEnv("media.dir", "MEDIA_DIR")
	_ = v.BindEnv("media.ytdlp_path", "YTDLP_PATH")
	_ = v.BindEnv("media.ffmpeg_path", "FFMPEG_PATH")
	_ = v.BindEnv("media.ffprobe_path", "FFPROBE_PATH")
	_ = v.BindEnv("media.max_upload_mb", "MAX_UPLOAD_MB")
	_ = v.BindEnv("media.acquire_timeout", "ACQUIRE_TIMEOUT")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.version_file", "VERSION")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("ratelimit.transcribe_per_hour", 20)
	v.SetDefault("ratelimit.upload_per_hour", 20)

	// Segment budgets
	v.SetDefault("segment.max_chars", 120)
	v.SetDefault("segment.max_seconds", 10.0)

	// Model services
	v.SetDefault("transcriber.service_url", "http://localhost:9000")
	v.SetDefault("transcriber.model", "base")
	v.SetDefault("transcriber.timeout", 3600)
	v.SetDefault("diarizer.service_url", "")
	v.SetDefault("diarizer.timeout", 3600)

	// Media tools
	v.SetDefault("media.dir", "./media")
	v.SetDefault("media.ytdlp_path", "yt-dlp")
	v.SetDefault("media.ffmpeg_path", "ffmpeg")
	v.SetDefault("media.ffprobe_path", "ffprobe")
	v.SetDefault("media.max_upload_mb", 500)
	v.SetDefault("media.acquire_timeout", 900)

	v.SetDefault("worker.concurrency", 2)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetString("server.port"),
			Env:         v.GetString("server.env"),
			LogLevel:    v.GetString("server.log_level"),
			VersionFile: v.GetString("server.version_file"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			TranscribePerHour: v.GetInt("ratelimit.transcribe_per_hour"),
			UploadPerHour:     v.GetInt("ratelimit.upload_per_hour"),
		},
		Segment: SegmentConfig{
			MaxChars:   v.GetInt("segment.max_chars"),
			MaxSeconds: v.GetFloat64("segment.max_seconds"),
		},
		Transcriber: TranscriberConfig{
			ServiceURL: v.GetString("transcriber.service_url"),
			Model:      v.GetString("transcriber.model"),
			Timeout:    v.GetInt("transcriber.timeout"),
		},
		Diarizer: DiarizerConfig{
			ServiceURL: v.GetString("diarizer.service_url"),
			Token:      v.GetString("diarizer.token"),
			Timeout:    v.GetInt("diarizer.timeout"),
		},
		Media: MediaConfig{
			Dir:            v.GetString("media.dir"),
			YtDlpPath:      v.GetString("media.ytdlp_path"),
			FFmpegPath:     v.GetString("media.ffmpeg_path"),
			FFprobePath:    v.GetString("media.ffprobe_path"),
			MaxUploadMB:    v.GetInt("media.max_upload_mb"),
			AcquireTimeout: v.GetInt("media.acquire_timeout"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Worker: WorkerConfig{
			Concurrency: v.GetInt("worker.concurrency"),
		},
	}

	return cfg, nil
}
