/*
config.go - Server configuration loading

PURPOSE:
  Loads server settings from a YAML file and fills in production
  defaults for anything the file omits. Flags in cmd/server/main.go can
  still override the listen port and database path after loading.

FORMAT:
  port: 8080
  database: market.db
  tx_timeout_seconds: 15
  mint:
    monthly_limit: 35
  reward:
    cooldown_minutes: 60
    jackpot_prob: 0.001
    jackpot_points: 100000
    gold_prob: 0.2
    gold_min: 1000
    gold_max: 10000
    silver_min: 100
    silver_max: 900
  stream:
    heartbeat_seconds: 25
    backfill_limit: 10

SEE ALSO:
  - cmd/server/main.go: flag handling and wiring
  - reward/draw.go: what the draw settings mean
*/
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/card-market/notify"
	"github.com/warp/card-market/reward"
	"github.com/warp/card-market/trade"
)

// Config is the full server configuration.
type Config struct {
	Port             int    `yaml:"port"`
	Database         string `yaml:"database"`
	TxTimeoutSeconds int    `yaml:"tx_timeout_seconds"`

	Mint   MintConfig   `yaml:"mint"`
	Reward RewardConfig `yaml:"reward"`
	Stream StreamConfig `yaml:"stream"`
}

// MintConfig bounds card creation.
type MintConfig struct {
	MonthlyLimit int `yaml:"monthly_limit"`
}

// RewardConfig tunes the random point draw and its cooldown.
type RewardConfig struct {
	CooldownMinutes int     `yaml:"cooldown_minutes"`
	JackpotProb     float64 `yaml:"jackpot_prob"`
	JackpotPoints   int64   `yaml:"jackpot_points"`
	GoldProb        float64 `yaml:"gold_prob"`
	GoldMin         int64   `yaml:"gold_min"`
	GoldMax         int64   `yaml:"gold_max"`
	SilverMin       int64   `yaml:"silver_min"`
	SilverMax       int64   `yaml:"silver_max"`
}

// StreamConfig tunes the SSE notification stream.
type StreamConfig struct {
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`
	BackfillLimit    int `yaml:"backfill_limit"`
}

// Default returns the production configuration.
func Default() Config {
	policy := reward.DefaultDrawPolicy()
	return Config{
		Port:             8080,
		Database:         "market.db",
		TxTimeoutSeconds: 15,
		Mint: MintConfig{
			MonthlyLimit: trade.DefaultMonthlyMintLimit,
		},
		Reward: RewardConfig{
			CooldownMinutes: int(reward.DefaultCooldown / time.Minute),
			JackpotProb:     policy.JackpotProb,
			JackpotPoints:   policy.JackpotPoints,
			GoldProb:        policy.GoldProb,
			GoldMin:         policy.GoldMin,
			GoldMax:         policy.GoldMax,
			SilverMin:       policy.SilverMin,
			SilverMax:       policy.SilverMax,
		},
		Stream: StreamConfig{
			HeartbeatSeconds: int(notify.DefaultHeartbeat / time.Second),
			BackfillLimit:    notify.DefaultBackfillLimit,
		},
	}
}

// Load reads path and merges it over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Database == "" {
		return fmt.Errorf("database path is required")
	}
	if c.TxTimeoutSeconds <= 0 {
		return fmt.Errorf("tx_timeout_seconds must be positive")
	}
	if c.Mint.MonthlyLimit <= 0 {
		return fmt.Errorf("mint.monthly_limit must be positive")
	}
	if c.Reward.CooldownMinutes <= 0 {
		return fmt.Errorf("reward.cooldown_minutes must be positive")
	}
	if c.Stream.HeartbeatSeconds <= 0 {
		return fmt.Errorf("stream.heartbeat_seconds must be positive")
	}
	if c.Stream.BackfillLimit <= 0 {
		return fmt.Errorf("stream.backfill_limit must be positive")
	}
	return c.DrawPolicy().Validate()
}

// DrawPolicy converts the reward section into the engine's policy type.
func (c Config) DrawPolicy() reward.DrawPolicy {
	return reward.DrawPolicy{
		JackpotProb:   c.Reward.JackpotProb,
		JackpotPoints: c.Reward.JackpotPoints,
		GoldProb:      c.Reward.GoldProb,
		GoldMin:       c.Reward.GoldMin,
		GoldMax:       c.Reward.GoldMax,
		SilverMin:     c.Reward.SilverMin,
		SilverMax:     c.Reward.SilverMax,
	}
}

// TxTimeout returns the transaction deadline as a duration.
func (c Config) TxTimeout() time.Duration {
	return time.Duration(c.TxTimeoutSeconds) * time.Second
}

// Heartbeat returns the SSE heartbeat interval as a duration.
func (c Config) Heartbeat() time.Duration {
	return time.Duration(c.Stream.HeartbeatSeconds) * time.Second
}

// RewardCooldown returns the claim window as a duration.
func (c Config) RewardCooldown() time.Duration {
	return time.Duration(c.Reward.CooldownMinutes) * time.Minute
}
