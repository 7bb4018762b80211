package plancatalog

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

func DefaultCatalog() Catalog {
	return Catalog{
		Plans: []Plan{
			{Handle: "starter", Name: "Starter", Price: 19.00, Currency: "USD", Interval: IntervalMonthly, TrialDays: 30, IncludedCredits: 200},
			{Handle: "growth", Name: "Growth", Price: 49.00, Currency: "USD", Interval: IntervalMonthly, TrialDays: 30, IncludedCredits: 600},
			{Handle: "growth-annual", Name: "Growth (Annual)", Price: 490.00, Currency: "USD", Interval: IntervalAnnual, TrialDays: 30, IncludedCredits: 600},
		},
		Overage: OveragePolicy{
			PerUnitPrice: 0.08,
			MinCharge:    0.50,
			MaxCharge:    10000,
			Currency:     "USD",
		},
		CreditPacks: []CreditPack{
			{Handle: "pack-100", Name: "100 Try-On Credits", Credits: 100, Price: 9.00, Currency: "USD"},
			{Handle: "pack-500", Name: "500 Try-On Credits", Credits: 500, Price: 39.00, Currency: "USD"},
		},
		Trial: TrialPolicy{Credits: 100, Days: 30},
	}
}

// Holder serves the current catalog and hot-reloads it on file change.
type Holder struct {
	current atomic.Value // holds Catalog
}

func NewHolder() (*Holder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/fitglance/config")
	v.AddConfigPath("/etc/fitglance")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FITGLANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := DefaultCatalog()
	if v.IsSet("billing") {
		if err := v.UnmarshalKey("billing", &cfg); err != nil {
			return nil, err
		}
	}
	if err := validateCatalog(cfg); err != nil {
		return nil, err
	}

	holder := &Holder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Catalog
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[plan-catalog] reload failed: %v", err)
			return
		}
		if err := validateCatalog(updated); err != nil {
			log.Printf("[plan-catalog] invalid catalog ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[plan-catalog] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticHolder wraps a fixed catalog, used by tests.
func NewStaticHolder(cfg Catalog) *Holder {
	holder := &Holder{}
	holder.current.Store(cfg)
	return holder
}

func (h *Holder) Get() Catalog {
	return h.current.Load().(Catalog)
}

func validateCatalog(cfg Catalog) error {
	if len(cfg.Plans) == 0 {
		return errors.New("billing.plans cannot be empty")
	}
	if cfg.Overage.PerUnitPrice <= 0 {
		return errors.New("billing.overage.perUnitPrice must be positive")
	}
	if cfg.Overage.MinCharge < 0 || cfg.Overage.MaxCharge <= cfg.Overage.MinCharge {
		return errors.New("billing.overage charge thresholds are inconsistent")
	}
	if cfg.Trial.Credits <= 0 || cfg.Trial.Days <= 0 {
		return errors.New("billing.trial policy must be positive")
	}
	return nil
}
