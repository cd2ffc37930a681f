package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// TrackingConfig is the operator-tunable attribution policy. It lives in a
// mounted yaml file and reloads without a restart; per-offer settings
// (window days, commission rules) always win over these globals.
type TrackingConfig struct {
	DefaultWindowDays    int  `mapstructure:"defaultWindowDays"`
	FingerprintEnabled   bool `mapstructure:"fingerprintEnabled"`
	ClickRetentionDays   int  `mapstructure:"clickRetentionDays"`
	FraudAutoFlagEnabled bool `mapstructure:"fraudAutoFlagEnabled"`
	// Orders carrying a risk score at or above this create an unresolved
	// fraud flag alongside the commission.
	FraudAutoFlagMinScore float64 `mapstructure:"fraudAutoFlagMinScore"`
}

func DefaultTrackingConfig() TrackingConfig {
	return TrackingConfig{
		DefaultWindowDays:     30,
		FingerprintEnabled:    true,
		ClickRetentionDays:    180,
		FraudAutoFlagEnabled:  false,
		FraudAutoFlagMinScore: 75,
	}
}

type TrackingConfigHolder struct {
	current atomic.Value // holds TrackingConfig
}

func NewTrackingConfigHolder() (*TrackingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("tracking")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/partnerly/config") // Volume-mounted config
	v.AddConfigPath("/etc/partnerly")            // System config
	v.AddConfigPath(".")                         // Current directory (dev mode)

	v.SetEnvPrefix("PARTNERLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultTrackingConfig()
		v.SetDefault("tracking.defaultWindowDays", defaults.DefaultWindowDays)
		v.SetDefault("tracking.fingerprintEnabled", defaults.FingerprintEnabled)
		v.SetDefault("tracking.clickRetentionDays", defaults.ClickRetentionDays)
		v.SetDefault("tracking.fraudAutoFlagEnabled", defaults.FraudAutoFlagEnabled)
		v.SetDefault("tracking.fraudAutoFlagMinScore", defaults.FraudAutoFlagMinScore)
	}

	var cfg TrackingConfig
	if err := v.UnmarshalKey("tracking", &cfg); err != nil {
		return nil, err
	}
	if err := validateTrackingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &TrackingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated TrackingConfig
		if err := v.UnmarshalKey("tracking", &updated); err != nil {
			log.Printf("[tracking-config] reload failed: %v", err)
			return
		}
		if err := validateTrackingConfig(updated); err != nil {
			log.Printf("[tracking-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[tracking-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *TrackingConfigHolder) Get() TrackingConfig {
	return h.current.Load().(TrackingConfig)
}

// NewStaticTrackingConfigHolder wraps a fixed config with no file watching.
func NewStaticTrackingConfigHolder(cfg TrackingConfig) *TrackingConfigHolder {
	holder := &TrackingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateTrackingConfig(cfg TrackingConfig) error {
	if cfg.DefaultWindowDays <= 0 {
		return errors.New("tracking.defaultWindowDays must be positive")
	}
	if cfg.ClickRetentionDays < cfg.DefaultWindowDays {
		return errors.New("tracking.clickRetentionDays must cover the attribution window")
	}
	if cfg.FraudAutoFlagMinScore < 0 || cfg.FraudAutoFlagMinScore > 100 {
		return errors.New("tracking.fraudAutoFlagMinScore must be within [0,100]")
	}
	return nil
}
