package config

import (
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Policy holds the operator-tunable business limits. It is reloaded from
// policy.yml without a restart.
type Policy struct {
	MaxIntentAmount             float64       `mapstructure:"maxIntentAmount"`
	DefaultCommissionPercentage float64       `mapstructure:"defaultCommissionPercentage"`
	PendingGrace                time.Duration `mapstructure:"pendingGrace"`
	HeartbeatUnstableAfter      time.Duration `mapstructure:"heartbeatUnstableAfter"`
	HeartbeatOfflineAfter       time.Duration `mapstructure:"heartbeatOfflineAfter"`
	RecentSalesLimit            int           `mapstructure:"recentSalesLimit"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxIntentAmount:             999999,
		DefaultCommissionPercentage: 10,
		PendingGrace:                10 * time.Minute,
		HeartbeatUnstableAfter:      5 * time.Minute,
		HeartbeatOfflineAfter:       10 * time.Minute,
		RecentSalesLimit:            10,
	}
}

type PolicyHolder struct {
	current atomic.Value // holds Policy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(p Policy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(p)
	return holder
}

func NewPolicyHolder(cfg Config, log *zap.Logger) (*PolicyHolder, error) {
	v := viper.New()

	if cfg.PolicyPath != "" {
		v.SetConfigFile(cfg.PolicyPath)
	} else {
		v.SetConfigName("policy")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/captiva")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CAPTIVA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicy()
	v.SetDefault("policy.maxIntentAmount", defaults.MaxIntentAmount)
	v.SetDefault("policy.defaultCommissionPercentage", defaults.DefaultCommissionPercentage)
	v.SetDefault("policy.pendingGrace", defaults.PendingGrace)
	v.SetDefault("policy.heartbeatUnstableAfter", defaults.HeartbeatUnstableAfter)
	v.SetDefault("policy.heartbeatOfflineAfter", defaults.HeartbeatOfflineAfter)
	v.SetDefault("policy.recentSalesLimit", defaults.RecentSalesLimit)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	policy, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !fileLoaded {
		return holder, nil
	}

	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.policy")
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePolicy(v)
		if err != nil {
			log.Warn("policy reload ignored", zap.String("file", filepath.Base(e.Name)), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("policy reloaded", zap.String("file", filepath.Base(e.Name)))
	})

	return holder, nil
}

func (h *PolicyHolder) Get() Policy {
	if h == nil {
		return DefaultPolicy()
	}
	p, ok := h.current.Load().(Policy)
	if !ok {
		return DefaultPolicy()
	}
	return p
}

func decodePolicy(v *viper.Viper) (Policy, error) {
	var p Policy
	if err := v.UnmarshalKey("policy", &p); err != nil {
		return Policy{}, err
	}
	if err := ValidatePolicy(p); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func ValidatePolicy(p Policy) error {
	if p.MaxIntentAmount <= 0 {
		return errors.New("policy.maxIntentAmount must be positive")
	}
	if p.DefaultCommissionPercentage < 0 || p.DefaultCommissionPercentage > 100 {
		return errors.New("policy.defaultCommissionPercentage must be within [0,100]")
	}
	if p.PendingGrace <= 0 {
		return errors.New("policy.pendingGrace must be positive")
	}
	if p.HeartbeatUnstableAfter <= 0 || p.HeartbeatOfflineAfter < p.HeartbeatUnstableAfter {
		return errors.New("policy heartbeat thresholds are inconsistent")
	}
	if p.RecentSalesLimit <= 0 || p.RecentSalesLimit > 100 {
		return errors.New("policy.recentSalesLimit must be within [1,100]")
	}
	return nil
}
