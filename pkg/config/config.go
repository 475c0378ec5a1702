package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"huddle/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
	} `yaml:"server"`

	Session struct {
		RoomID            string        `yaml:"room_id"`
		DisplayName       string        `yaml:"display_name"`
		StartVideo        bool          `yaml:"start_video"`
		StartAudio        bool          `yaml:"start_audio"`
		AutoMount         bool          `yaml:"auto_mount"`
		SettleDelay       time.Duration `yaml:"settle_delay"`
		PermissionTimeout time.Duration `yaml:"permission_timeout"`
		MaxNotices        int           `yaml:"max_notices"`

		InUseRetry struct {
			MaxRetries   int           `yaml:"max_retries"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"in_use_retry"`
	} `yaml:"session"`

	Capture struct {
		Driver     string `yaml:"driver"` // synthetic | pion
		CameraID   string `yaml:"camera_id"`
		MicID      string `yaml:"microphone_id"`
		Width      int    `yaml:"width"`
		Height     int    `yaml:"height"`
		FrameRate  int    `yaml:"frame_rate"`
		VideoCodec string `yaml:"video_codec"`
		AudioCodec string `yaml:"audio_codec"`
	} `yaml:"capture"`

	ScreenShare struct {
		Quality      string `yaml:"quality"`
		FrameRate    int    `yaml:"frame_rate"`
		IncludeAudio bool   `yaml:"include_audio"`
		Cursor       string `yaml:"cursor"`
		Optimization string `yaml:"optimization"`
	} `yaml:"screen_share"`

	Recording struct {
		Formats         []string      `yaml:"formats"`
		Timeslice       time.Duration `yaml:"timeslice"`
		FinalizeTimeout time.Duration `yaml:"finalize_timeout"`
		DeliverTimeout  time.Duration `yaml:"deliver_timeout"`
		OutputDir       string        `yaml:"output_dir"`
		Catalog         string        `yaml:"catalog"` // memory | redis
	} `yaml:"recording"`

	Monitoring struct {
		PrometheusEnabled   bool          `yaml:"prometheus_enabled"`
		PrometheusPort      int           `yaml:"prometheus_port"`
		HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint"`
		SampleRate     float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		TokenSecret    string        `yaml:"token_secret"`
		TokenTTL       time.Duration `yaml:"token_ttl"`
		Issuer         string        `yaml:"issuer"`
		RequireToken   bool          `yaml:"require_token"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MaxConcurrent       int   `yaml:"max_concurrent_connections"`
			MaxMessageSizeBytes int64 `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}
	if c.Server.PingInterval <= 0 || c.Server.PongTimeout <= c.Server.PingInterval {
		return fmt.Errorf("server.pong_timeout must be > server.ping_interval > 0")
	}

	// Session
	if err := validation.ValidateRoomID(c.Session.RoomID); err != nil {
		return fmt.Errorf("session.room_id: %w", err)
	}
	if err := validation.ValidateDisplayName(c.Session.DisplayName); err != nil {
		return fmt.Errorf("session.display_name: %w", err)
	}
	if c.Session.SettleDelay < 0 {
		return fmt.Errorf("session.settle_delay must be >= 0")
	}
	if c.Session.PermissionTimeout <= 0 {
		return fmt.Errorf("session.permission_timeout must be > 0")
	}
	if c.Session.MaxNotices <= 0 {
		return fmt.Errorf("session.max_notices must be > 0")
	}
	if c.Session.InUseRetry.MaxRetries < 0 {
		return fmt.Errorf("session.in_use_retry.max_retries must be >= 0")
	}

	// Capture
	switch c.Capture.Driver {
	case "synthetic", "pion":
	default:
		return fmt.Errorf("capture.driver must be synthetic or pion, got %q", c.Capture.Driver)
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("capture.width and capture.height must be > 0")
	}
	if c.Capture.VideoCodec != "vp8" && c.Capture.VideoCodec != "vp9" {
		return fmt.Errorf("capture.video_codec must be vp8 or vp9, got %q", c.Capture.VideoCodec)
	}
	if c.Capture.AudioCodec != "opus" {
		return fmt.Errorf("capture.audio_codec must be opus, got %q", c.Capture.AudioCodec)
	}

	// Recording
	if c.Recording.Timeslice <= 0 {
		return fmt.Errorf("recording.timeslice must be > 0")
	}
	if c.Recording.FinalizeTimeout <= 0 {
		return fmt.Errorf("recording.finalize_timeout must be > 0")
	}
	if c.Recording.OutputDir == "" {
		return fmt.Errorf("recording.output_dir must not be empty")
	}
	switch c.Recording.Catalog {
	case "memory", "redis":
	default:
		return fmt.Errorf("recording.catalog must be memory or redis, got %q", c.Recording.Catalog)
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}
	if c.Monitoring.HealthCheckInterval <= 0 {
		return fmt.Errorf("monitoring.health_check_interval must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Tracing
	if c.Tracing.Enabled {
		if err := validation.ValidateURL(c.Tracing.JaegerEndpoint); err != nil {
			return fmt.Errorf("tracing.jaeger_endpoint: %w", err)
		}
	}

	// Redis
	if c.Recording.Catalog == "redis" {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when recording.catalog=redis")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when recording.catalog=redis")
		}
	}

	// Auth
	if c.Auth.TokenSecret == "" {
		return fmt.Errorf("auth.token_secret must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = "127.0.0.1:8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 60 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.PingInterval = 30 * time.Second
	cfg.Server.PongTimeout = 60 * time.Second

	cfg.Session.RoomID = "lobby"
	cfg.Session.DisplayName = "Guest"
	cfg.Session.StartVideo = true
	cfg.Session.StartAudio = true
	cfg.Session.AutoMount = false
	cfg.Session.SettleDelay = 100 * time.Millisecond
	cfg.Session.PermissionTimeout = 30 * time.Second
	cfg.Session.MaxNotices = 20
	cfg.Session.InUseRetry.MaxRetries = 3
	cfg.Session.InUseRetry.InitialDelay = 200 * time.Millisecond
	cfg.Session.InUseRetry.MaxDelay = time.Second

	cfg.Capture.Driver = "synthetic"
	cfg.Capture.Width = 1280
	cfg.Capture.Height = 720
	cfg.Capture.FrameRate = 30
	cfg.Capture.VideoCodec = "vp8"
	cfg.Capture.AudioCodec = "opus"

	cfg.ScreenShare.Quality = "high"
	cfg.ScreenShare.FrameRate = 30
	cfg.ScreenShare.IncludeAudio = true
	cfg.ScreenShare.Cursor = "motion"
	cfg.ScreenShare.Optimization = "auto"

	cfg.Recording.Timeslice = time.Second
	cfg.Recording.FinalizeTimeout = 10 * time.Second
	cfg.Recording.DeliverTimeout = 30 * time.Second
	cfg.Recording.OutputDir = "./recordings"
	cfg.Recording.Catalog = "memory"

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090
	cfg.Monitoring.HealthCheckInterval = 30 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.TokenSecret = "change-me-in-production"
	cfg.Auth.TokenTTL = 6 * time.Hour
	cfg.Auth.Issuer = "huddle"
	cfg.Auth.RequireToken = false
	cfg.Auth.AllowedOrigins = []string{"*"}

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 20
	cfg.RateLimiting.HTTP.Burst = 40
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxConcurrent = 8
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 4 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("HUDDLE_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if room := os.Getenv("HUDDLE_ROOM_ID"); room != "" {
		c.Session.RoomID = room
	}
	if name := os.Getenv("HUDDLE_DISPLAY_NAME"); name != "" {
		c.Session.DisplayName = name
	}
	if driver := os.Getenv("HUDDLE_CAPTURE_DRIVER"); driver != "" {
		c.Capture.Driver = driver
	}
	if dir := os.Getenv("HUDDLE_RECORDING_DIR"); dir != "" {
		c.Recording.OutputDir = dir
	}
	if level := os.Getenv("HUDDLE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("HUDDLE_TOKEN_SECRET"); secret != "" {
		c.Auth.TokenSecret = secret
	}
	if addr := os.Getenv("HUDDLE_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if v := os.Getenv("HUDDLE_TRACING_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Tracing.Enabled = enabled
		}
	}
}
