package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Paths     PathsConfig     `yaml:"paths"`
	TTS       TTSConfig       `yaml:"tts"`
	Bible     BibleConfig     `yaml:"bible"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Queue     QueueConfig     `yaml:"queue"`
	Media     MediaConfig     `yaml:"media"`
	Logging   LoggingConfig   `yaml:"logging"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	Auth      AuthConfig      `yaml:"auth"`
	Retention RetentionConfig `yaml:"retention"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type PathsConfig struct {
	OutputDir string `yaml:"output_dir"`
	TempDir   string `yaml:"temp_dir"`
	DBPath    string `yaml:"db_path"`
}

type TTSConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	VoiceModelID string        `yaml:"voice_model_id"`
	Timeout      time.Duration `yaml:"timeout"`
	Interval     time.Duration `yaml:"interval"`
	Bitrate      int           `yaml:"bitrate"`
}

type BibleConfig struct {
	Source          string        `yaml:"source"` // gateway|local
	GatewayURL      string        `yaml:"gateway_url"`
	LocalURL        string        `yaml:"local_url"`
	DefaultVersion  string        `yaml:"default_version"`
	RequestInterval time.Duration `yaml:"request_interval"`
	Timeout         time.Duration `yaml:"timeout"`
}

type ChunkingConfig struct {
	MaxChars            int `yaml:"max_chars"`
	DefaultMaxSentences int `yaml:"default_max_sentences"`
}

type QueueConfig struct {
	MaxCompletedJobs   int           `yaml:"max_completed_jobs"`
	RecentCompleted    int           `yaml:"recent_completed"`
	ProgressCloseDelay time.Duration `yaml:"progress_close_delay"`
	StageTimeout       time.Duration `yaml:"stage_timeout"`
	MinutesPerJob      int           `yaml:"minutes_per_job"`
}

type MediaConfig struct {
	FFmpegPath     string `yaml:"ffmpeg_path"`
	FFprobePath    string `yaml:"ffprobe_path"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	File           string `yaml:"file"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxBackups int    `yaml:"file_max_backups"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
	FileCompress   bool   `yaml:"file_compress"`
}

type WebhooksConfig struct {
	Workers    int             `yaml:"workers"`
	MaxRetries int             `yaml:"max_retries"`
	RetryDelay time.Duration   `yaml:"retry_delay"`
	Timeout    time.Duration   `yaml:"timeout"`
	Targets    []WebhookTarget `yaml:"targets"`
}

type WebhookTarget struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"` // empty means all
}

type AuthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PasswordHash string        `yaml:"password_hash"`
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

type RetentionConfig struct {
	MaxAgeDays int           `yaml:"max_age_days"` // 0 disables
	Interval   time.Duration `yaml:"interval"`
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3005,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Paths: PathsConfig{
			OutputDir: "./output",
			TempDir:   "./uploads",
			DBPath:    "./data/narrator.db",
		},
		TTS: TTSConfig{
			BaseURL:  "https://api.fish.audio/v1",
			Timeout:  60 * time.Second,
			Interval: time.Second,
			Bitrate:  128,
		},
		Bible: BibleConfig{
			Source:          "gateway",
			GatewayURL:      "https://www.biblegateway.com",
			LocalURL:        "http://localhost:3005/api",
			DefaultVersion:  "NIV",
			RequestInterval: time.Second,
			Timeout:         30 * time.Second,
		},
		Chunking: ChunkingConfig{
			MaxChars:            4500,
			DefaultMaxSentences: 5,
		},
		Queue: QueueConfig{
			MaxCompletedJobs:   50,
			RecentCompleted:    5,
			ProgressCloseDelay: 2 * time.Second,
			StageTimeout:       15 * time.Minute,
			MinutesPerJob:      3,
		},
		Media: MediaConfig{
			FFmpegPath:     "ffmpeg",
			FFprobePath:    "ffprobe",
			MaxUploadBytes: 10 << 20,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			FileMaxSizeMB:  50,
			FileMaxBackups: 5,
			FileMaxAgeDays: 14,
		},
		Webhooks: WebhooksConfig{
			Workers:    2,
			MaxRetries: 3,
			RetryDelay: 5 * time.Second,
			Timeout:    10 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Retention: RetentionConfig{
			Interval: 24 * time.Hour,
		},
	}
}

// Load reads the YAML file at configPath on top of the defaults. A missing
// file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads envFile into the process environment when it exists.
// Variables that are already set win.
func LoadDotEnv(envFile string) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to load .env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides file values with the process environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("FISH_AUDIO_API_KEY"); v != "" {
		c.TTS.APIKey = v
	}

	if v := os.Getenv("FISH_AUDIO_VOICE_MODEL_ID"); v != "" {
		c.TTS.VoiceModelID = v
	}

	if v := os.Getenv("CHUNK_SIZE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chunking.MaxChars = n
		}
	}

	if v := os.Getenv("TEMP_AUDIO_DIR"); v != "" {
		c.Paths.TempDir = v
	}

	if v := os.Getenv("AUDIO_OUTPUT_DIR"); v != "" {
		c.Paths.OutputDir = v
	}

	if v := os.Getenv("NARRATOR_DB_PATH"); v != "" {
		c.Paths.DBPath = v
	}

	if v := os.Getenv("BIBLE_SOURCE"); v != "" {
		c.Bible.Source = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	if v := os.Getenv("NARRATOR_ADMIN_PASSWORD_HASH"); v != "" {
		c.Auth.PasswordHash = v
	}

	if v := os.Getenv("NARRATOR_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Paths.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}

	if c.Paths.TempDir == "" {
		return fmt.Errorf("temp directory is required")
	}

	if c.Paths.DBPath == "" {
		return fmt.Errorf("database path is required")
	}

	if c.TTS.Timeout < 0 || c.TTS.Interval < 0 {
		return fmt.Errorf("tts timeout and interval must be non-negative")
	}

	validSources := map[string]bool{
		"gateway": true,
		"local":   true,
	}

	if !validSources[c.Bible.Source] {
		return fmt.Errorf("invalid bible source: %s (valid: gateway, local)", c.Bible.Source)
	}

	if c.Chunking.MaxChars < 1 {
		return fmt.Errorf("chunk size limit must be at least 1")
	}

	if c.Chunking.DefaultMaxSentences < 0 {
		return fmt.Errorf("default max sentences must be non-negative")
	}

	if c.Queue.MaxCompletedJobs < 1 {
		return fmt.Errorf("max completed jobs must be at least 1")
	}

	if c.Queue.RecentCompleted < 0 {
		return fmt.Errorf("recent completed must be non-negative")
	}

	if c.Queue.ProgressCloseDelay < 0 {
		return fmt.Errorf("progress close delay must be non-negative")
	}

	if c.Queue.StageTimeout < 0 {
		return fmt.Errorf("stage timeout must be non-negative")
	}

	if c.Media.MaxUploadBytes < 1 {
		return fmt.Errorf("max upload size must be positive")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Logging.Format)
	}

	for i, t := range c.Webhooks.Targets {
		if t.URL == "" {
			return fmt.Errorf("webhook target %d: url is required", i)
		}
	}

	if c.Auth.Enabled {
		if c.Auth.PasswordHash == "" {
			return fmt.Errorf("auth enabled but no password hash configured")
		}
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth enabled but no jwt secret configured")
		}
	}

	if c.Retention.MaxAgeDays < 0 {
		return fmt.Errorf("retention max age days must be non-negative")
	}

	if c.Retention.MaxAgeDays > 0 && c.Retention.Interval <= 0 {
		return fmt.Errorf("retention interval must be positive when retention is enabled")
	}

	return nil
}
