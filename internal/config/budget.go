package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BudgetPolicy sets the hard spend ceilings enforced by the budget guard.
// Amounts are in the policy currency's major unit.
type BudgetPolicy struct {
	Currency          string  `mapstructure:"currency"`
	PerEpisodeCeiling float64 `mapstructure:"perEpisodeCeiling"`
	OrgDailyCeiling   float64 `mapstructure:"orgDailyCeiling"`
	// EstimatedEpisodeCost feeds the preflight check before actual usage is
	// known from the provider.
	EstimatedEpisodeCost float64 `mapstructure:"estimatedEpisodeCost"`
}

func DefaultBudgetPolicy() BudgetPolicy {
	return BudgetPolicy{
		Currency:             "GBP",
		PerEpisodeCeiling:    2.0,
		OrgDailyCeiling:      50.0,
		EstimatedEpisodeCost: 0.5,
	}
}

// BudgetPolicyHolder serves the current policy and hot-reloads it when the
// policy file changes.
type BudgetPolicyHolder struct {
	current atomic.Value // holds BudgetPolicy
}

func NewBudgetPolicyHolder() (*BudgetPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("budget")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/foresight/config")
	v.AddConfigPath("/etc/foresight")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FORESIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBudgetPolicy()
	v.SetDefault("budget.currency", defaults.Currency)
	v.SetDefault("budget.perEpisodeCeiling", defaults.PerEpisodeCeiling)
	v.SetDefault("budget.orgDailyCeiling", defaults.OrgDailyCeiling)
	v.SetDefault("budget.estimatedEpisodeCost", defaults.EstimatedEpisodeCost)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var policy BudgetPolicy
	if err := v.UnmarshalKey("budget", &policy); err != nil {
		return nil, err
	}
	if err := validateBudgetPolicy(policy); err != nil {
		return nil, err
	}

	holder := &BudgetPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BudgetPolicy
		if err := v.UnmarshalKey("budget", &updated); err != nil {
			log.Printf("[budget-policy] reload failed: %v", err)
			return
		}
		if err := validateBudgetPolicy(updated); err != nil {
			log.Printf("[budget-policy] invalid policy ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[budget-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *BudgetPolicyHolder) Get() BudgetPolicy {
	return h.current.Load().(BudgetPolicy)
}

// Store replaces the active policy. Used by tests.
func (h *BudgetPolicyHolder) Store(policy BudgetPolicy) {
	h.current.Store(policy)
}

// NewStaticBudgetPolicyHolder returns a holder preloaded with the given
// policy and no file watching.
func NewStaticBudgetPolicyHolder(policy BudgetPolicy) *BudgetPolicyHolder {
	holder := &BudgetPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func validateBudgetPolicy(policy BudgetPolicy) error {
	if policy.PerEpisodeCeiling <= 0 {
		return errors.New("budget.perEpisodeCeiling must be positive")
	}
	if policy.OrgDailyCeiling <= 0 {
		return errors.New("budget.orgDailyCeiling must be positive")
	}
	if policy.EstimatedEpisodeCost < 0 {
		return errors.New("budget.estimatedEpisodeCost cannot be negative")
	}
	if policy.EstimatedEpisodeCost > policy.PerEpisodeCeiling {
		return errors.New("budget.estimatedEpisodeCost exceeds perEpisodeCeiling")
	}
	return nil
}
