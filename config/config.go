package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Game      GameConfig      `mapstructure:"game"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
}

type ServerConfig struct {
	HTTPAddress    string        `mapstructure:"http_address"`
	MetricsAddress string        `mapstructure:"metrics_address"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
}

type StoreConfig struct {
	// Backend selects the room store implementation: "redis" for
	// multi-instance deployments, "memory" for single-process dev runs.
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type GameConfig struct {
	// StartOffset covers the client-side roulette/explainer/countdown UI
	// between the start command and the round visibly beginning.
	StartOffset    time.Duration `mapstructure:"start_offset"`
	CreatedTTL     time.Duration `mapstructure:"created_ttl"`
	WaitingTTL     time.Duration `mapstructure:"waiting_ttl"`
	PlayingTTL     time.Duration `mapstructure:"playing_ttl"`
	EndedTTL       time.Duration `mapstructure:"ended_ttl"`
	PlayerTTL      time.Duration `mapstructure:"player_ttl"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
	TopK           int           `mapstructure:"top_k"`
}

type SchedulerConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	LockMinHold     time.Duration `mapstructure:"lock_min_hold"`
	LockMaxHold     time.Duration `mapstructure:"lock_max_hold"`
	MaxRoomsPerTick int           `mapstructure:"max_rooms_per_tick"`
	WorkerCount     int           `mapstructure:"worker_count"`
}

type BroadcastConfig struct {
	WorkerCount   int `mapstructure:"worker_count"`
	QueueCapacity int `mapstructure:"queue_capacity"`
}

func LoadConfig(path string) (config *Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	setDefaults()
	viper.AutomaticEnv()

	err = viper.ReadInConfig()
	if err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
	}

	err = viper.Unmarshal(&config)
	return
}

func setDefaults() {
	viper.SetDefault("server.http_address", ":8080")
	viper.SetDefault("server.metrics_address", ":9100")
	viper.SetDefault("server.ping_interval", "5s")

	viper.SetDefault("store.backend", "redis")
	viper.SetDefault("store.redis.address", "localhost:6379")
	viper.SetDefault("store.redis.db", 0)

	viper.SetDefault("game.start_offset", "30s")
	viper.SetDefault("game.created_ttl", "15m")
	viper.SetDefault("game.waiting_ttl", "30m")
	viper.SetDefault("game.playing_ttl", "40m")
	viper.SetDefault("game.ended_ttl", "5m")
	viper.SetDefault("game.player_ttl", "2h")
	viper.SetDefault("game.idempotency_ttl", "10m")
	viper.SetDefault("game.top_k", 3)

	viper.SetDefault("scheduler.tick_interval", "1s")
	viper.SetDefault("scheduler.lock_min_hold", "2s")
	viper.SetDefault("scheduler.lock_max_hold", "15s")
	viper.SetDefault("scheduler.max_rooms_per_tick", 10)
	viper.SetDefault("scheduler.worker_count", 5)

	viper.SetDefault("broadcast.worker_count", 20)
	viper.SetDefault("broadcast.queue_capacity", 1000)
}
