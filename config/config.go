package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port            string        `mapstructure:"port"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Database struct {
		// DSN 为空时使用内存存储
		DSN     string `mapstructure:"dsn"`
		MaxOpen int    `mapstructure:"max_open"`
	} `mapstructure:"database"`
	Redis struct {
		// Addr 为空时待写队列和去重走内存实现
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Prefix   string `mapstructure:"prefix"`
	} `mapstructure:"redis"`
	JWT struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"jwt"`
	Credential struct {
		// URL 为空时本地校验 JWT
		URL           string        `mapstructure:"url"`
		ServiceID     string        `mapstructure:"service_id"`
		Secret        string        `mapstructure:"secret"`
		TokenLifetime time.Duration `mapstructure:"token_lifetime"`
		RefreshMargin time.Duration `mapstructure:"refresh_margin"`
	} `mapstructure:"credential"`
	Game struct {
		Decks            int           `mapstructure:"decks"`
		StartingBalance  int64         `mapstructure:"starting_balance"`
		JoinGrace        time.Duration `mapstructure:"join_grace"`
		BettingCountdown time.Duration `mapstructure:"betting_countdown"`
		TurnTimeout      time.Duration `mapstructure:"turn_timeout"`
		DealerPacing     time.Duration `mapstructure:"dealer_pacing"`
		RoundDelay       time.Duration `mapstructure:"round_delay"`
		TickInterval     time.Duration `mapstructure:"tick_interval"`
		WheelSize        int64         `mapstructure:"wheel_size"`
	} `mapstructure:"game"`
	Bridge struct {
		CheckInterval time.Duration `mapstructure:"check_interval"`
		Threshold     int           `mapstructure:"threshold"`
		UnhealthyWait time.Duration `mapstructure:"unhealthy_wait"`
		BaseBackoff   time.Duration `mapstructure:"base_backoff"`
		MaxBackoff    time.Duration `mapstructure:"max_backoff"`
		MaxAttempts   int           `mapstructure:"max_attempts"`
		PollWait      time.Duration `mapstructure:"poll_wait"`
		DedupTTL      time.Duration `mapstructure:"dedup_ttl"`
		PoolSize      int           `mapstructure:"pool_size"`
	} `mapstructure:"bridge"`
	Registry struct {
		EvictionGrace time.Duration `mapstructure:"eviction_grace"`
		RetainRecords int           `mapstructure:"retain_records"`
		RetainFor     time.Duration `mapstructure:"retain_for"`
		Shards        int           `mapstructure:"shards"`
	} `mapstructure:"registry"`
	Lobby struct {
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"lobby"`
	WS struct {
		SendBuffer   int     `mapstructure:"send_buffer"`
		CommandRate  float64 `mapstructure:"command_rate"`
		CommandBurst int     `mapstructure:"command_burst"`
	} `mapstructure:"ws"`
	Log struct {
		Level      string `mapstructure:"level"`
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
		MaxBackups int    `mapstructure:"max_backups"`
	} `mapstructure:"log"`
}

var C Config

var defaults = map[string]any{
	"server.port":             ":8080",
	"server.shutdown_timeout": 10 * time.Second,

	"database.dsn":      "",
	"database.max_open": 10,

	"redis.addr":     "",
	"redis.password": "",
	"redis.db":       0,
	"redis.prefix":   "blockjack",

	"jwt.secret": "",

	"credential.url":            "",
	"credential.service_id":     "blockjack-game",
	"credential.secret":         "",
	"credential.token_lifetime": 24 * time.Hour,
	"credential.refresh_margin": 5 * time.Minute,

	"game.decks":             6,
	"game.starting_balance":  1000,
	"game.join_grace":        2 * time.Second,
	"game.betting_countdown": 30 * time.Second,
	"game.turn_timeout":      30 * time.Second,
	"game.dealer_pacing":     time.Second,
	"game.round_delay":       5 * time.Second,
	"game.tick_interval":     10 * time.Millisecond,
	"game.wheel_size":        512,

	"bridge.check_interval": 5 * time.Second,
	"bridge.threshold":      2,
	"bridge.unhealthy_wait": 5 * time.Second,
	"bridge.base_backoff":   time.Second,
	"bridge.max_backoff":    time.Minute,
	"bridge.max_attempts":   5,
	"bridge.poll_wait":      time.Second,
	"bridge.dedup_ttl":      24 * time.Hour,
	"bridge.pool_size":      64,

	"registry.eviction_grace": time.Minute,
	"registry.retain_records": 256,
	"registry.retain_for":     time.Hour,
	"registry.shards":         16,

	"lobby.cache_ttl": 24 * time.Hour,

	"ws.send_buffer":   64,
	"ws.command_rate":  10.0,
	"ws.command_burst": 20,

	"log.level":        "info",
	"log.file":         "",
	"log.max_size_mb":  10,
	"log.max_age_days": 7,
	"log.max_backups":  3,
}

// Load 读取配置文件并应用 BLOCKJACK_* 环境变量，例如 BLOCKJACK_REDIS_ADDR。
// 文件不存在时只用默认值和环境变量
func Load(path string) error {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("BLOCKJACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if c.JWT.Secret == "" {
		return errors.New("config: jwt.secret is required")
	}
	C = c
	return nil
}
