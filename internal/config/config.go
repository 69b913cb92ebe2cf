// Package config provides configuration management for airwav using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort       = 3000
	defaultServerTimeout    = 30 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultLLMModel         = "gpt-4o-mini"
	defaultTTSBaseURL       = "http://localhost:8000"
	defaultRTMPURL          = "rtmp://localhost:1935/live/radio"
	defaultStationName      = "AIRWAV"
	defaultCadence          = 2
	defaultTargetBufferSec  = 600
	defaultMinBufferSec     = 180
	defaultWorkDir          = "/tmp/rj"
	defaultMasterWindowSec  = 2
	defaultMQTTTopic        = "airwav/nowplaying"
	defaultJanitorSchedule  = "@every 10m"
	defaultJanitorMaxAge    = 30 * time.Minute
	defaultJanitorMaxBytes  = 2 * 1024 * 1024 * 1024 // 2GB
	defaultCatalogDebounce  = 500 * time.Millisecond
	defaultMQTTPublishWait  = 2 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	TTS     TTSConfig     `mapstructure:"tts"`
	RTMP    RTMPConfig    `mapstructure:"rtmp"`
	Station StationConfig `mapstructure:"station"`
	Buffer  BufferConfig  `mapstructure:"buffer"`
	WorkDir string        `mapstructure:"work_dir"`
	Engine  EngineConfig  `mapstructure:"engine"`
	FFmpeg  FFmpegConfig  `mapstructure:"ffmpeg"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Janitor JanitorConfig `mapstructure:"janitor"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LLMConfig holds commentary LLM endpoint configuration.
type LLMConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"` // empty = provider default
}

// CatalogConfig holds track catalog configuration.
type CatalogConfig struct {
	Path     string        `mapstructure:"path"`
	Watch    bool          `mapstructure:"watch"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// TTSConfig holds text-to-speech endpoint configuration.
type TTSConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RTMPConfig holds the live ingest target configuration.
type RTMPConfig struct {
	URL string `mapstructure:"url"`
}

// StationConfig holds on-air identity configuration.
type StationConfig struct {
	Name              string `mapstructure:"name"`
	IDWavPath         string `mapstructure:"id_wav"`    // optional station-ID jingle
	LinerDir          string `mapstructure:"liner_dir"` // optional emergency liners
	CommentaryCadence int    `mapstructure:"commentary_cadence"`
}

// BufferConfig holds build-ahead buffer thresholds in seconds.
type BufferConfig struct {
	TargetSec float64 `mapstructure:"target_sec"`
	MinSec    float64 `mapstructure:"min_sec"`
}

// EngineConfig holds playout engine feature flags.
type EngineConfig struct {
	TimelineV2      bool    `mapstructure:"timeline_v2"`
	AudioV2         bool    `mapstructure:"audio_v2"`
	MasterWindowSec float64 `mapstructure:"master_window_sec"`
	CarryOverOffset bool    `mapstructure:"carry_over_offset"`
}

// FFmpegConfig holds external tool binary configuration.
type FFmpegConfig struct {
	BinaryPath     string `mapstructure:"binary_path"`     // ffmpeg path (empty = auto-detect)
	ProbePath      string `mapstructure:"probe_path"`      // ffprobe path (empty = auto-detect)
	DownloaderPath string `mapstructure:"downloader_path"` // yt-dlp path (empty = auto-detect)
}

// MQTTConfig holds the optional now-playing publisher configuration.
type MQTTConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Broker      string        `mapstructure:"broker"`
	Topic       string        `mapstructure:"topic"`
	ClientID    string        `mapstructure:"client_id"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Retain      bool          `mapstructure:"retain"`
	PublishWait time.Duration `mapstructure:"publish_wait"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// JanitorConfig holds work-directory reaper configuration.
type JanitorConfig struct {
	Schedule string   `mapstructure:"schedule"` // cron spec
	MaxAge   Duration `mapstructure:"max_age"`
	MaxBytes ByteSize `mapstructure:"max_bytes"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with AIRWAV_ and use underscores for
// nesting. Example: AIRWAV_SERVER_PORT=3000.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/airwav")
		v.AddConfigPath("$HOME/.airwav")
	}

	v.SetEnvPrefix("AIRWAV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	return FromViper(v)
}

// FromViper unmarshals and validates a Config from an already-populated
// Viper instance. The CLI uses this against the global Viper so flag
// bindings done by commands are honored.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Decode unmarshals a Config from v without validating it. The config
// dump command uses it so an incomplete config can still be printed.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	// TextUnmarshallerHookFunc lets Duration and ByteSize fields accept
	// human-readable strings like "45m" or "500MB".
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file so defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// LLM defaults
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", defaultLLMModel)
	v.SetDefault("llm.base_url", "")

	// Catalog defaults
	v.SetDefault("catalog.path", "")
	v.SetDefault("catalog.watch", true)
	v.SetDefault("catalog.debounce", defaultCatalogDebounce)

	// TTS defaults
	v.SetDefault("tts.base_url", defaultTTSBaseURL)
	v.SetDefault("tts.timeout", 60*time.Second)

	// RTMP defaults
	v.SetDefault("rtmp.url", defaultRTMPURL)

	// Station defaults
	v.SetDefault("station.name", defaultStationName)
	v.SetDefault("station.id_wav", "")
	v.SetDefault("station.liner_dir", "")
	v.SetDefault("station.commentary_cadence", defaultCadence)

	// Buffer defaults
	v.SetDefault("buffer.target_sec", defaultTargetBufferSec)
	v.SetDefault("buffer.min_sec", defaultMinBufferSec)

	v.SetDefault("work_dir", defaultWorkDir)

	// Engine defaults
	v.SetDefault("engine.timeline_v2", false)
	v.SetDefault("engine.audio_v2", false)
	v.SetDefault("engine.master_window_sec", defaultMasterWindowSec)
	v.SetDefault("engine.carry_over_offset", false)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.downloader_path", "")

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", defaultMQTTTopic)
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.retain", true)
	v.SetDefault("mqtt.publish_wait", defaultMQTTPublishWait)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)

	// Janitor defaults
	v.SetDefault("janitor.schedule", defaultJanitorSchedule)
	v.SetDefault("janitor.max_age", defaultJanitorMaxAge)
	v.SetDefault("janitor.max_bytes", defaultJanitorMaxBytes)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}

	if c.WorkDir == "" {
		return fmt.Errorf("work_dir is required")
	}

	if c.RTMP.URL == "" {
		return fmt.Errorf("rtmp.url is required")
	}

	if c.Station.CommentaryCadence < 1 {
		return fmt.Errorf("station.commentary_cadence must be at least 1")
	}

	if c.Buffer.TargetSec <= 0 {
		return fmt.Errorf("buffer.target_sec must be positive")
	}
	if c.Buffer.MinSec < 0 || c.Buffer.MinSec > c.Buffer.TargetSec {
		return fmt.Errorf("buffer.min_sec must be in [0, buffer.target_sec]")
	}

	if c.Engine.MasterWindowSec <= 0 {
		return fmt.Errorf("engine.master_window_sec must be positive")
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enabled is true")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CacheDir returns the track WAV cache directory inside the work directory.
func (c *Config) CacheDir() string {
	return filepath.Join(c.WorkDir, "yt-cache")
}

// FIFOPath returns the named-pipe path the RTMP ingest reads from.
func (c *Config) FIFOPath() string {
	return filepath.Join(c.WorkDir, "live.pcm")
}
