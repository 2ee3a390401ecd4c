package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Redis struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	// Channel shared by every server process for cross-process fan-out.
	BroadcastChannel string `yaml:"broadcastChannel"`
}

type SessionsConfig struct {
	SendBufferSize           int           `yaml:"sendBufferSize"`
	WebSocketReadBufferSize  int           `yaml:"webSocketReadBufferSize"`
	WebSocketWriteBufferSize int           `yaml:"webSocketWriteBufferSize"`
	MaxConnections           int           `yaml:"maxConnections"`
	WriteWait                time.Duration `yaml:"writeWait"`
	PingPeriod               time.Duration `yaml:"pingPeriod"`
	MaxMessageSize           int64         `yaml:"maxMessageSize"`
}

type Cache struct {
	Tokens      time.Duration `yaml:"tokens"`
	StandardTTL time.Duration `yaml:"standard-ttl"`
}

type RateLimiterConfig struct {
	Limit float64 `yaml:"limit"` // Requests per second
	Burst int     `yaml:"burst"` // Burst size
}

type RateLimiters struct {
	Api     RateLimiterConfig `yaml:"api"`
	Actions RateLimiterConfig `yaml:"actions"` // inbound websocket actions per session
	Default RateLimiterConfig `yaml:"default"`
}

type WorkersConfig struct {
	ProofStageDelay    time.Duration `yaml:"proofStageDelay"`
	SettlementInterval time.Duration `yaml:"settlementInterval"`
	HeartbeatInterval  time.Duration `yaml:"heartbeatInterval"`
	HeartbeatWindow    time.Duration `yaml:"heartbeatWindow"`
	RewardInterval     time.Duration `yaml:"rewardInterval"`
	RewardPerProof     float64       `yaml:"rewardPerProof"`
}

type Server struct {
	HttpBinding  string         `yaml:"httpBinding"`
	RootKey      string         `yaml:"rootKey"` // operator token, never stored
	DataDir      string         `yaml:"dataDir"`
	Redis        Redis          `yaml:"redis"`
	Sessions     SessionsConfig `yaml:"sessions"`
	Cache        Cache          `yaml:"cache"`
	RateLimiters RateLimiters   `yaml:"rateLimiters"`
	Workers      WorkersConfig  `yaml:"workers"`
}

var (
	ErrConfigFileUnreadable       = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable   = errors.New("config file is unmarshallable")
	ErrHttpBindingMissing         = errors.New("httpBinding is missing in config")
	ErrRootKeyMissing             = errors.New("rootKey is missing in config")
	ErrDataDirMissing             = errors.New("dataDir is missing in config and is required for the value store")
	ErrCacheTokensMissing         = errors.New("cache.tokens is missing in config")
	ErrCacheStandardTTLMissing    = errors.New("cache.standardTTL is missing in config")
	ErrRateLimitersApiMissing     = errors.New("rateLimiters.api.limit is missing in config")
	ErrRateLimitersActionsMissing = errors.New("rateLimiters.actions.limit is missing in config")
	ErrRateLimitersDefaultMissing = errors.New("rateLimiters.default.limit is missing in config")
	ErrSessionsSendBufferMissing  = errors.New("sessions.sendBufferSize is missing or invalid in config")
	ErrSessionsReadBufferMissing  = errors.New("sessions.webSocketReadBufferSize is missing or invalid in config")
	ErrSessionsWriteBufferMissing = errors.New("sessions.webSocketWriteBufferSize is missing or invalid in config")
	ErrSessionsMaxConnsMissing    = errors.New("sessions.maxConnections is missing or invalid in config")
)

const DefaultBroadcastChannel = "verifai:ws:broadcast"

func LoadConfig(configFile string) (*Server, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, ErrConfigFileUnreadable
	}

	var cfg Server
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, ErrConfigFileUnmarshallable
	}

	if cfg.HttpBinding == "" {
		return nil, ErrHttpBindingMissing
	}
	if cfg.RootKey == "" {
		return nil, ErrRootKeyMissing
	}
	if cfg.DataDir == "" {
		return nil, ErrDataDirMissing
	}

	if cfg.Cache.Tokens == 0 {
		return nil, ErrCacheTokensMissing
	}
	if cfg.Cache.StandardTTL == 0 {
		return nil, ErrCacheStandardTTLMissing
	}

	if cfg.RateLimiters.Api.Limit == 0 {
		return nil, ErrRateLimitersApiMissing
	}
	if cfg.RateLimiters.Actions.Limit == 0 {
		return nil, ErrRateLimitersActionsMissing
	}
	if cfg.RateLimiters.Default.Limit == 0 {
		return nil, ErrRateLimitersDefaultMissing
	}

	if cfg.Sessions.SendBufferSize <= 0 {
		return nil, ErrSessionsSendBufferMissing
	}
	if cfg.Sessions.WebSocketReadBufferSize <= 0 {
		return nil, ErrSessionsReadBufferMissing
	}
	if cfg.Sessions.WebSocketWriteBufferSize <= 0 {
		return nil, ErrSessionsWriteBufferMissing
	}
	if cfg.Sessions.MaxConnections <= 0 {
		return nil, ErrSessionsMaxConnsMissing
	}

	// The session timing knobs and worker intervals have workable
	// defaults so operators only set them when tuning.
	if cfg.Sessions.WriteWait == 0 {
		cfg.Sessions.WriteWait = 10 * time.Second
	}
	if cfg.Sessions.PingPeriod == 0 {
		cfg.Sessions.PingPeriod = 54 * time.Second
	}
	if cfg.Sessions.MaxMessageSize == 0 {
		cfg.Sessions.MaxMessageSize = 512
	}
	if cfg.Redis.BroadcastChannel == "" {
		cfg.Redis.BroadcastChannel = DefaultBroadcastChannel
	}
	if cfg.Workers.ProofStageDelay == 0 {
		cfg.Workers.ProofStageDelay = 2 * time.Second
	}
	if cfg.Workers.SettlementInterval == 0 {
		cfg.Workers.SettlementInterval = 30 * time.Second
	}
	if cfg.Workers.HeartbeatInterval == 0 {
		cfg.Workers.HeartbeatInterval = 60 * time.Second
	}
	if cfg.Workers.HeartbeatWindow == 0 {
		cfg.Workers.HeartbeatWindow = 5 * time.Minute
	}
	if cfg.Workers.RewardInterval == 0 {
		cfg.Workers.RewardInterval = 5 * time.Minute
	}
	if cfg.Workers.RewardPerProof == 0 {
		cfg.Workers.RewardPerProof = 10
	}

	return &cfg, nil
}
