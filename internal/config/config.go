// Package config reads and writes the TOML files under ~/.roomsync: the
// global config.toml and each profile's profile.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.roomsync/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
}

// Profile is one profile's profile.toml.
type Profile struct {
	User     User    `toml:"user"`
	Redis    Redis   `toml:"redis"`
	Typing   Typing  `toml:"typing"`
	Privacy  Privacy `toml:"privacy"`
	Metrics  Metrics `toml:"metrics"`
	Outbox   Outbox  `toml:"outbox"`
	LogLevel string  `toml:"log_level"`
}

type User struct {
	ID       string `toml:"id"`
	Nickname string `toml:"nickname"`
	Avatar   string `toml:"avatar"`
}

type Redis struct {
	Addr     string `toml:"addr"`
	DB       int    `toml:"db"`
	Password string `toml:"password"`

	// Reconnect backoff bounds. MaxAttempts 0 retries forever.
	BackoffMin   Duration `toml:"backoff_min"`
	BackoffMax   Duration `toml:"backoff_max"`
	MaxAttempts  int      `toml:"max_attempts"`
	PingInterval Duration `toml:"ping_interval"`
}

type Typing struct {
	Timeout Duration `toml:"timeout"`
}

type Privacy struct {
	PresenceHidden bool `toml:"presence_hidden"`
	TypingHidden   bool `toml:"typing_hidden"`
}

type Metrics struct {
	// Addr is the HTTP listen address for /metrics and /status. Empty
	// disables the endpoint.
	Addr string `toml:"addr"`
}

type Outbox struct {
	Retain Duration `toml:"retain"`
}

// Duration is a time.Duration written as a string such as "3s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DefaultProfile returns the settings used for missing keys.
func DefaultProfile() Profile {
	return Profile{
		Redis: Redis{
			Addr:         "127.0.0.1:6379",
			BackoffMin:   Duration{500 * time.Millisecond},
			BackoffMax:   Duration{30 * time.Second},
			PingInterval: Duration{5 * time.Second},
		},
		Typing:   Typing{Timeout: Duration{3 * time.Second}},
		Metrics:  Metrics{Addr: "127.0.0.1:9464"},
		Outbox:   Outbox{Retain: Duration{24 * time.Hour}},
		LogLevel: "info",
	}
}

// ErrNoUser is returned by Validate when the profile has no user id.
var ErrNoUser = errors.New("profile has no user id")

// Validate checks the settings the engine cannot run without.
func (p *Profile) Validate() error {
	if p.User.ID == "" {
		return ErrNoUser
	}
	if p.Redis.BackoffMin.Duration > p.Redis.BackoffMax.Duration {
		return fmt.Errorf("redis.backoff_min %s exceeds backoff_max %s", p.Redis.BackoffMin, p.Redis.BackoffMax)
	}
	if p.Redis.MaxAttempts < 0 {
		return fmt.Errorf("redis.max_attempts must not be negative")
	}
	return nil
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	return writeTOML(path, cfg)
}

// LoadProfile reads a profile.toml over the defaults. Unknown keys are an
// error so typos do not silently fall back to defaults.
func LoadProfile(path string) (*Profile, error) {
	p := DefaultProfile()
	md, err := toml.DecodeFile(path, &p)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	return &p, nil
}

// SaveProfile writes p to path with 0600 permissions.
func SaveProfile(path string, p *Profile) error {
	return writeTOML(path, p)
}

func writeTOML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
