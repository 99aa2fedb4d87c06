package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Store      StoreConfig      `yaml:"store"`
	Minio      MinioConfig      `yaml:"minio"`
	Mineru     MineruConfig     `yaml:"mineru"`
	Obligation ObligationConfig `yaml:"obligation"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Calendar   CalendarConfig   `yaml:"calendar"`
	Auth       AuthConfig       `yaml:"auth"`
	Users      []User           `yaml:"users"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// Requests per minute per client
	RateLimit int `yaml:"rate_limit"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StoreConfig struct {
	MaxSessions int `yaml:"max_sessions"`
}

type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"use_ssl"`
	Region     string `yaml:"region"`
	ExpireDays int    `yaml:"expire_days"`
}

type MineruConfig struct {
	APIURL              string `yaml:"api_url"`
	APIToken            string `yaml:"api_token"`
	ModelVersion        string `yaml:"model_version"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	MaxPollAttempts     int    `yaml:"max_poll_attempts"`
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
}

// ObligationConfig selects and configures the deliverable extraction service.
// Provider is "gemini" or "clause" (offline pattern matching).
type ObligationConfig struct {
	Provider       string `yaml:"provider"`
	APIURL         string `yaml:"api_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	MaxChars       int    `yaml:"max_chars"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Retries        int    `yaml:"retries"` // 0 means default; negative disables retry
}

type TrackerConfig struct {
	Timezone        string   `yaml:"timezone"`
	SubmitKeywords  []string `yaml:"submit_keywords"`
	ApproveKeywords []string `yaml:"approve_keywords"`
}

type CalendarConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	CalendarID      string `yaml:"calendar_id"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Tenant   string `yaml:"tenant"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Store.MaxSessions == 0 {
		c.Store.MaxSessions = 100
	}
	if c.Minio.Region == "" {
		c.Minio.Region = "us-east-1"
	}
	if c.Minio.ExpireDays == 0 {
		c.Minio.ExpireDays = 7
	}
	if c.Mineru.ModelVersion == "" {
		c.Mineru.ModelVersion = "vlm"
	}
	if c.Mineru.PollIntervalSeconds == 0 {
		c.Mineru.PollIntervalSeconds = 5
	}
	if c.Mineru.MaxPollAttempts == 0 {
		c.Mineru.MaxPollAttempts = 60
	}
	if c.Mineru.TimeoutSeconds == 0 {
		c.Mineru.TimeoutSeconds = 300
	}
	if c.Obligation.Provider == "" {
		c.Obligation.Provider = "gemini"
	}
	if c.Obligation.APIURL == "" {
		c.Obligation.APIURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if c.Obligation.Model == "" {
		c.Obligation.Model = "gemini-1.5-flash"
	}
	if c.Obligation.MaxChars == 0 {
		c.Obligation.MaxChars = 8000
	}
	if c.Obligation.TimeoutSeconds == 0 {
		c.Obligation.TimeoutSeconds = 60
	}
	if c.Obligation.Retries == 0 {
		c.Obligation.Retries = 1
	}
	if c.Tracker.Timezone == "" {
		c.Tracker.Timezone = "Asia/Taipei"
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24
	}
}

// Location returns the tracker's time zone, falling back to UTC
func (c *TrackerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}
