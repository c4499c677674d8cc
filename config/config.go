package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/jonas747/dca"
	"github.com/samber/lo"
)

// Config holds all application configuration
type Config struct {
	Discord  DiscordConfig `json:"discord"`
	YouTube  YouTubeConfig `json:"youtube"`
	Catbox   CatboxConfig  `json:"catbox"`
	Audio    AudioConfig   `json:"audio"`
	Queue    QueueConfig   `json:"queue"`
	Cache    CacheConfig   `json:"cache"`
	Lyrics   LyricsConfig  `json:"lyrics"`
	Display  DisplayConfig `json:"display"`
	Logging  LoggingConfig `json:"logging"`
	Features FeatureConfig `json:"features"`
}

// DiscordConfig holds Discord-specific configuration
type DiscordConfig struct {
	Token         string `json:"token" env:"BOT_TOKEN"`
	CommandPrefix string `json:"command_prefix" env:"COMMAND_PREFIX"`
	EmbedColor    int    `json:"embed_color" env:"EMBED_COLOR"`
}

// YouTubeConfig holds YouTube resolver configuration. APIKey is optional;
// without it metadata comes from the player API.
type YouTubeConfig struct {
	APIKey         string        `json:"api_key" env:"YT_TOKEN"`
	RequestTimeout time.Duration `json:"request_timeout" env:"YT_REQUEST_TIMEOUT"`
	EnableFallback bool          `json:"enable_fallback" env:"YT_ENABLE_FALLBACK"`
	AudioQuality   string        `json:"audio_quality" env:"YT_AUDIO_QUALITY"`
}

// CatboxConfig holds direct-file resolver configuration
type CatboxConfig struct {
	Host          string        `json:"host" env:"CATBOX_HOST"`
	Timeout       time.Duration `json:"timeout" env:"CATBOX_TIMEOUT"`
	ProbeMetadata bool          `json:"probe_metadata" env:"CATBOX_PROBE_METADATA"`
	ProbeBytes    int64         `json:"probe_bytes" env:"CATBOX_PROBE_BYTES"`
}

// AudioConfig holds encoder and voice connection configuration
type AudioConfig struct {
	Bitrate          int           `json:"bitrate" env:"AUDIO_BITRATE"`
	Volume           int           `json:"volume" env:"AUDIO_VOLUME"`
	Channels         int           `json:"channels"`
	FrameRate        int           `json:"frame_rate"`
	FrameDuration    int           `json:"frame_duration"`
	Application      string        `json:"application" env:"AUDIO_APPLICATION"`
	CompressionLevel int           `json:"compression_level" env:"AUDIO_COMPRESSION_LEVEL"`
	PacketLoss       int           `json:"packet_loss"`
	BufferedFrames   int           `json:"buffered_frames" env:"AUDIO_BUFFERED_FRAMES"`
	EnableVBR        bool          `json:"enable_vbr" env:"AUDIO_VBR"`
	ConnectTimeout   time.Duration `json:"connect_timeout" env:"VOICE_CONNECT_TIMEOUT"`
	InactiveTimeout  time.Duration `json:"inactive_timeout" env:"VOICE_INACTIVE_TIMEOUT"`
}

// QueueConfig holds queue management configuration
type QueueConfig struct {
	MaxSize      int `json:"max_size" env:"MAX_QUEUE_SIZE"`
	DisplayLimit int `json:"display_limit" env:"QUEUE_DISPLAY_LIMIT"`
}

// CacheConfig holds temp file configuration
type CacheConfig struct {
	TempDirectory   string        `json:"temp_directory" env:"TEMP_DIR"`
	MaxFileAge      time.Duration `json:"max_file_age" env:"TEMP_MAX_FILE_AGE"`
	CleanupInterval time.Duration `json:"cleanup_interval" env:"TEMP_CLEANUP_INTERVAL"`
}

// LyricsConfig holds lyrics lookup configuration
type LyricsConfig struct {
	SearchURL string        `json:"search_url" env:"LYRICS_SEARCH_URL"`
	LyricsURL string        `json:"lyrics_url" env:"LYRICS_URL"`
	Timeout   time.Duration `json:"timeout" env:"LYRICS_TIMEOUT"`
	CacheSize int           `json:"cache_size" env:"LYRICS_CACHE_SIZE"`
}

// DisplayConfig holds the now-playing display configuration
type DisplayConfig struct {
	UpdateInterval       time.Duration `json:"update_interval" env:"DISPLAY_UPDATE_INTERVAL"`
	MaxUpdates           int           `json:"max_updates" env:"DISPLAY_MAX_UPDATES"`
	BarLength            int           `json:"bar_length"`
	RateLimitBackoff     time.Duration `json:"rate_limit_backoff"`
	MaxLyricLength       int           `json:"max_lyric_length"`
	MissedLyricLines     int           `json:"missed_lyric_lines"`
	ProgressEditInterval time.Duration `json:"progress_edit_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `json:"level" env:"LOG_LEVEL"`
	OutputFile       string `json:"output_file" env:"LOG_FILE"`
	MaxFileSizeMB    int    `json:"max_file_size_mb"`
	MaxBackups       int    `json:"max_backups"`
	MaxAgeDays       int    `json:"max_age_days"`
	Compress         bool   `json:"compress"`
	EnableConsole    bool   `json:"enable_console" env:"LOG_CONSOLE"`
	EnableJSON       bool   `json:"enable_json" env:"LOG_JSON"`
	EnableStackTrace bool   `json:"enable_stack_trace"`
}

// FeatureConfig holds feature flags
type FeatureConfig struct {
	EnableMetrics         bool `json:"enable_metrics" env:"ENABLE_METRICS"`
	EnableLyrics          bool `json:"enable_lyrics" env:"ENABLE_LYRICS"`
	EnableProgressDisplay bool `json:"enable_progress_display" env:"ENABLE_PROGRESS_DISPLAY"`
	Debug                 bool `json:"debug" env:"DEBUG"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Discord: DiscordConfig{
			CommandPrefix: "!music",
			EmbedColor:    0x1DB954,
		},
		YouTube: YouTubeConfig{
			RequestTimeout: 30 * time.Second,
			EnableFallback: true,
			AudioQuality:   "256K",
		},
		Catbox: CatboxConfig{
			Host:          "files.catbox.moe",
			Timeout:       15 * time.Second,
			ProbeMetadata: true,
			ProbeBytes:    256 * 1024,
		},
		Audio: AudioConfig{
			Bitrate:          128,
			Volume:           256,
			Channels:         2,
			FrameRate:        48000,
			FrameDuration:    20,
			Application:      "lowdelay",
			CompressionLevel: 10,
			PacketLoss:       1,
			BufferedFrames:   100,
			EnableVBR:        true,
			ConnectTimeout:   10 * time.Second,
			InactiveTimeout:  30 * time.Minute,
		},
		Queue: QueueConfig{
			MaxSize:      100,
			DisplayLimit: 10,
		},
		Cache: CacheConfig{
			TempDirectory:   "./temp",
			MaxFileAge:      time.Hour,
			CleanupInterval: 15 * time.Minute,
		},
		Lyrics: LyricsConfig{
			SearchURL: "http://music.163.com/api/search/get",
			LyricsURL: "https://api.paugram.com/netease/",
			Timeout:   10 * time.Second,
			CacheSize: 512,
		},
		Display: DisplayConfig{
			UpdateInterval:       5 * time.Second,
			MaxUpdates:           120,
			BarLength:            12,
			RateLimitBackoff:     10 * time.Second,
			MaxLyricLength:       200,
			MissedLyricLines:     2,
			ProgressEditInterval: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:            "INFO",
			OutputFile:       "logs/songbird.log",
			MaxFileSizeMB:    100,
			MaxBackups:       5,
			MaxAgeDays:       30,
			Compress:         true,
			EnableConsole:    true,
			EnableStackTrace: true,
		},
		Features: FeatureConfig{
			EnableLyrics:          true,
			EnableProgressDisplay: true,
		},
	}
}

// LoadConfig reads .env (if present) and overlays environment variables on
// the defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := DefaultConfig()
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if config.Features.Debug {
		config.Logging.Level = "DEBUG"
	}
	config.Logging.Level = strings.ToUpper(config.Logging.Level)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

var validLogLevels = []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errors []string

	if c.Discord.Token == "" {
		errors = append(errors, "Discord token (BOT_TOKEN) is required")
	}
	if strings.TrimSpace(c.Discord.CommandPrefix) == "" {
		errors = append(errors, "command prefix must not be empty")
	}

	if c.Audio.Bitrate < 8 || c.Audio.Bitrate > 512 {
		errors = append(errors, "audio bitrate must be between 8 and 512 kbps")
	}
	if c.Audio.Volume < 0 || c.Audio.Volume > 1024 {
		errors = append(errors, "audio volume must be between 0 and 1024")
	}
	if c.Audio.BufferedFrames <= 0 {
		errors = append(errors, "buffered frames must be greater than 0")
	}
	if c.Audio.ConnectTimeout <= 0 {
		errors = append(errors, "voice connect timeout must be positive")
	}

	if c.Queue.MaxSize <= 0 {
		errors = append(errors, "max queue size must be greater than 0")
	}
	if c.Queue.DisplayLimit <= 0 {
		errors = append(errors, "queue display limit must be greater than 0")
	}

	if c.Cache.TempDirectory == "" {
		errors = append(errors, "temp directory (TEMP_DIR) is required")
	}

	if c.Lyrics.CacheSize <= 0 {
		errors = append(errors, "lyrics cache size must be greater than 0")
	}

	if c.Display.UpdateInterval < time.Second {
		errors = append(errors, "display update interval must be at least 1s")
	}
	if c.Display.MaxUpdates <= 0 {
		errors = append(errors, "display max updates must be greater than 0")
	}
	if c.Display.BarLength < 2 {
		errors = append(errors, "progress bar length must be at least 2")
	}

	if !lo.Contains(validLogLevels, c.Logging.Level) {
		errors = append(errors, fmt.Sprintf("log level must be one of: %s", strings.Join(validLogLevels, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// DCAOptions returns encoder options built from the audio section. The
// package-level dca.StdEncodeOptions is never mutated.
func (c *Config) DCAOptions() *dca.EncodeOptions {
	opts := *dca.StdEncodeOptions
	opts.Volume = c.Audio.Volume
	opts.Channels = c.Audio.Channels
	opts.FrameRate = c.Audio.FrameRate
	opts.FrameDuration = c.Audio.FrameDuration
	opts.Bitrate = c.Audio.Bitrate
	opts.Application = dca.AudioApplication(c.Audio.Application)
	opts.CompressionLevel = c.Audio.CompressionLevel
	opts.PacketLoss = c.Audio.PacketLoss
	opts.BufferedFrames = c.Audio.BufferedFrames
	opts.VBR = c.Audio.EnableVBR
	return &opts
}

// GetRedactedToken returns a redacted version of the token for logging
func (c *Config) GetRedactedToken() string {
	if len(c.Discord.Token) < 8 {
		return "***"
	}
	return c.Discord.Token[:8] + "***"
}

// GetRedactedAPIKey returns a redacted version of the API key for logging
func (c *Config) GetRedactedAPIKey() string {
	if c.YouTube.APIKey == "" {
		return ""
	}
	if len(c.YouTube.APIKey) < 8 {
		return "***"
	}
	return c.YouTube.APIKey[:8] + "***"
}

// Summary returns the loggable subset of the configuration.
func (c *Config) Summary() map[string]interface{} {
	return map[string]interface{}{
		"token":            c.GetRedactedToken(),
		"youtube_api_key":  c.GetRedactedAPIKey(),
		"command_prefix":   c.Discord.CommandPrefix,
		"temp_directory":   c.Cache.TempDirectory,
		"max_queue_size":   c.Queue.MaxSize,
		"lyrics_enabled":   c.Features.EnableLyrics,
		"display_enabled":  c.Features.EnableProgressDisplay,
		"metrics_enabled":  c.Features.EnableMetrics,
		"ytdlp_fallback":   c.YouTube.EnableFallback,
		"update_interval":  c.Display.UpdateInterval.String(),
		"log_level":        c.Logging.Level,
	}
}
