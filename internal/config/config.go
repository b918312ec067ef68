package config

import (
	"fmt"

	"github.com/Netflix/go-env"
	"github.com/churnguard/intervention-engine/internal/domain"
)

type Config struct {
	DatabaseDSN      string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL      string `env:"RABBITMQ_URL,required=true"`
	RedisURL         string `env:"REDIS_URL,required=true"`
	RiskAPIURL       string `env:"RISK_API_URL,required=true"`
	NotifyWebhookURL string `env:"NOTIFY_WEBHOOK_URL,required=true"`
	NotifyRatePerSec int    `env:"NOTIFY_RATE_PER_SEC,default=20"`
	APIPort          int    `env:"API_PORT,default=8080"`
	LogLevel         string `env:"LOG_LEVEL,default=info"`

	SentinelEnabled            bool    `env:"SENTINEL_ENABLED,default=false"`
	SentinelDryRun             bool    `env:"SENTINEL_DRY_RUN,default=true"`
	SentinelIntervalMinutes    int     `env:"SENTINEL_INTERVAL_MINUTES,default=15"`
	SentinelChunkSize          int     `env:"SENTINEL_CHUNK_SIZE,default=50"`
	SentinelMaxActionsPerRun   int     `env:"SENTINEL_MAX_ACTIONS_PER_RUN,default=10"`
	SentinelCooldownHours      int     `env:"SENTINEL_COOLDOWN_HOURS,default=24"`
	SentinelHumanPriorityHours int     `env:"SENTINEL_HUMAN_PRIORITY_HOURS,default=48"`
	ThresholdNudge             float64 `env:"THRESHOLD_NUDGE,default=0.85"`
	ThresholdSupport           float64 `env:"THRESHOLD_SUPPORT,default=0.90"`
	ThresholdOffer             float64 `env:"THRESHOLD_OFFER,default=0.95"`

	OptimizerIntervalHours int `env:"OPTIMIZER_INTERVAL_HOURS,default=24"`
	OptimizerBatchSize     int `env:"OPTIMIZER_BATCH_SIZE,default=200"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// SentinelDefaults assembles the initial runtime configuration the config
// store is seeded with.
func (c *Config) SentinelDefaults() domain.SentinelConfig {
	return domain.SentinelConfig{
		Enabled: c.SentinelEnabled,
		DryRun:  c.SentinelDryRun,
		Thresholds: domain.Thresholds{
			Nudge:   c.ThresholdNudge,
			Support: c.ThresholdSupport,
			Offer:   c.ThresholdOffer,
		},
		IntervalMinutes:    c.SentinelIntervalMinutes,
		ChunkSize:          c.SentinelChunkSize,
		MaxActionsPerRun:   c.SentinelMaxActionsPerRun,
		CooldownHours:      c.SentinelCooldownHours,
		HumanPriorityHours: c.SentinelHumanPriorityHours,
	}
}
