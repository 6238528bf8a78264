package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the system-wide settings coordinator. Precedence when loading:
// file > environment > defaults.
type Config struct {
	Database   *DatabaseConfig   `json:"database"`
	HTTP       *HTTPConfig       `json:"http"`
	WebSocket  *WebSocketConfig  `json:"websocket"`
	Auth       *AuthConfig       `json:"auth"`
	Engagement *EngagementConfig `json:"engagement"`
	Question   *QuestionConfig   `json:"question"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

type AuthConfig struct {
	Secret string `json:"secret"`
}

// EngagementConfig controls popup scheduling. The delay is drawn uniformly
// from [MinDelay, MaxDelay] each cycle.
type EngagementConfig struct {
	MinDelay         time.Duration `json:"min_delay"`
	MaxDelay         time.Duration `json:"max_delay"`
	ResponseDeadline time.Duration `json:"response_deadline"`
}

type QuestionConfig struct {
	Deadline         time.Duration `json:"deadline"`
	PointsPerCorrect int           `json:"points_per_correct"`
}

// DefaultConfig returns the production defaults: 3-7 minute popup windows
// with a 15 second response deadline, 60 second question deadline, 10 points
// per correct answer.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./data/classboard.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Auth: &AuthConfig{
			Secret: "dev-secret-change-me",
		},
		Engagement: &EngagementConfig{
			MinDelay:         3 * time.Minute,
			MaxDelay:         7 * time.Minute,
			ResponseDeadline: 15 * time.Second,
		},
		Question: &QuestionConfig{
			Deadline:         60 * time.Second,
			PointsPerCorrect: 10,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Database == nil || c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket timeouts must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.Auth == nil || c.Auth.Secret == "" {
		return fmt.Errorf("auth secret cannot be empty")
	}
	if c.Engagement == nil {
		return fmt.Errorf("engagement configuration is required")
	}
	if c.Engagement.MinDelay <= 0 || c.Engagement.MaxDelay < c.Engagement.MinDelay {
		return fmt.Errorf("engagement delay window must be positive with max >= min")
	}
	if c.Engagement.ResponseDeadline <= 0 {
		return fmt.Errorf("engagement response deadline must be positive")
	}
	if c.Question == nil || c.Question.Deadline <= 0 {
		return fmt.Errorf("question deadline must be positive")
	}
	if c.Question.PointsPerCorrect < 0 {
		return fmt.Errorf("points per correct answer cannot be negative")
	}
	return nil
}

// LoadFromEnv returns the defaults overridden by CLASSBOARD_* environment
// variables where set.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	envString("CLASSBOARD_DATABASE_PATH", &config.Database.Path)
	envDuration("CLASSBOARD_DATABASE_TIMEOUT", &config.Database.Timeout)
	envString("CLASSBOARD_HTTP_HOST", &config.HTTP.Host)
	envInt("CLASSBOARD_HTTP_PORT", &config.HTTP.Port)
	envDuration("CLASSBOARD_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("CLASSBOARD_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	envDuration("CLASSBOARD_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("CLASSBOARD_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("CLASSBOARD_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("CLASSBOARD_WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	envString("CLASSBOARD_AUTH_SECRET", &config.Auth.Secret)
	envDuration("CLASSBOARD_ENGAGEMENT_MIN_DELAY", &config.Engagement.MinDelay)
	envDuration("CLASSBOARD_ENGAGEMENT_MAX_DELAY", &config.Engagement.MaxDelay)
	envDuration("CLASSBOARD_ENGAGEMENT_RESPONSE_DEADLINE", &config.Engagement.ResponseDeadline)
	envDuration("CLASSBOARD_QUESTION_DEADLINE", &config.Question.Deadline)
	envInt("CLASSBOARD_QUESTION_POINTS", &config.Question.PointsPerCorrect)

	return config
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// configFile mirrors Config with string durations for JSON parsing.
type configFile struct {
	Database *struct {
		Path    string `json:"path"`
		Timeout string `json:"timeout"`
	} `json:"database"`
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval string `json:"ping_interval"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
		BufferSize   int    `json:"buffer_size"`
	} `json:"websocket"`
	Auth *struct {
		Secret string `json:"secret"`
	} `json:"auth"`
	Engagement *struct {
		MinDelay         string `json:"min_delay"`
		MaxDelay         string `json:"max_delay"`
		ResponseDeadline string `json:"response_deadline"`
	} `json:"engagement"`
	Question *struct {
		Deadline         string `json:"deadline"`
		PointsPerCorrect int    `json:"points_per_correct"`
	} `json:"question"`
}

// LoadFromFile reads a JSON configuration file on top of the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if file.Database != nil {
		if file.Database.Path != "" {
			config.Database.Path = file.Database.Path
		}
		parseDuration(file.Database.Timeout, &config.Database.Timeout)
	}
	if file.HTTP != nil {
		if file.HTTP.Host != "" {
			config.HTTP.Host = file.HTTP.Host
		}
		if file.HTTP.Port > 0 {
			config.HTTP.Port = file.HTTP.Port
		}
		parseDuration(file.HTTP.ReadTimeout, &config.HTTP.ReadTimeout)
		parseDuration(file.HTTP.WriteTimeout, &config.HTTP.WriteTimeout)
	}
	if file.WebSocket != nil {
		if file.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = file.WebSocket.BufferSize
		}
		parseDuration(file.WebSocket.PingInterval, &config.WebSocket.PingInterval)
		parseDuration(file.WebSocket.ReadTimeout, &config.WebSocket.ReadTimeout)
		parseDuration(file.WebSocket.WriteTimeout, &config.WebSocket.WriteTimeout)
	}
	if file.Auth != nil && file.Auth.Secret != "" {
		config.Auth.Secret = file.Auth.Secret
	}
	if file.Engagement != nil {
		parseDuration(file.Engagement.MinDelay, &config.Engagement.MinDelay)
		parseDuration(file.Engagement.MaxDelay, &config.Engagement.MaxDelay)
		parseDuration(file.Engagement.ResponseDeadline, &config.Engagement.ResponseDeadline)
	}
	if file.Question != nil {
		parseDuration(file.Question.Deadline, &config.Question.Deadline)
		if file.Question.PointsPerCorrect > 0 {
			config.Question.PointsPerCorrect = file.Question.PointsPerCorrect
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

func parseDuration(s string, dst *time.Duration) {
	if s == "" {
		return
	}
	if d, err := time.ParseDuration(s); err == nil {
		*dst = d
	}
}

// LoadWithPrecedence loads configuration with file > environment > defaults.
// File errors are ignored so environment and defaults still apply.
func LoadWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}
