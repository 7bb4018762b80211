// Package plancatalog holds the static plan, overage and credit-pack
// configuration. Plans are policy values, not ledger state.
package plancatalog

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Interval is the billing interval of a plan.
type Interval string

const (
	IntervalMonthly Interval = "EVERY_30_DAYS"
	IntervalAnnual  Interval = "ANNUAL"
)

// Plan is an immutable catalog entry.
type Plan struct {
	Handle          string   `mapstructure:"handle"`
	Name            string   `mapstructure:"name"`
	Price           float64  `mapstructure:"price"`
	Currency        string   `mapstructure:"currency"`
	Interval        Interval `mapstructure:"interval"`
	TrialDays       int      `mapstructure:"trialDays"`
	IncludedCredits int64    `mapstructure:"includedCredits"`
}

func (p Plan) PriceAmount() decimal.Decimal {
	return decimal.NewFromFloat(p.Price)
}

func (p Plan) IsAnnual() bool { return p.Interval == IntervalAnnual }

// OveragePolicy controls per-unit pricing and one-time charge thresholds.
type OveragePolicy struct {
	PerUnitPrice float64 `mapstructure:"perUnitPrice"`
	MinCharge    float64 `mapstructure:"minCharge"`
	MaxCharge    float64 `mapstructure:"maxCharge"`
	Currency     string  `mapstructure:"currency"`
}

func (o OveragePolicy) PerUnit() decimal.Decimal { return decimal.NewFromFloat(o.PerUnitPrice) }
func (o OveragePolicy) Min() decimal.Decimal     { return decimal.NewFromFloat(o.MinCharge) }
func (o OveragePolicy) Max() decimal.Decimal     { return decimal.NewFromFloat(o.MaxCharge) }

// CreditPack is a one-time purchasable bundle of credits.
type CreditPack struct {
	Handle   string  `mapstructure:"handle"`
	Name     string  `mapstructure:"name"`
	Credits  int64   `mapstructure:"credits"`
	Price    float64 `mapstructure:"price"`
	Currency string  `mapstructure:"currency"`
}

// TrialPolicy bounds the signup trial window.
type TrialPolicy struct {
	Credits int64 `mapstructure:"credits"`
	Days    int   `mapstructure:"days"`
}

func (t TrialPolicy) Duration() time.Duration {
	return time.Duration(t.Days) * 24 * time.Hour
}

// Catalog is the full billing policy document.
type Catalog struct {
	Plans       []Plan        `mapstructure:"plans"`
	Overage     OveragePolicy `mapstructure:"overage"`
	CreditPacks []CreditPack  `mapstructure:"creditPacks"`
	Trial       TrialPolicy   `mapstructure:"trial"`
}

// ByHandle looks up a plan by its handle.
func (c Catalog) ByHandle(handle string) (Plan, bool) {
	handle = strings.TrimSpace(strings.ToLower(handle))
	for _, p := range c.Plans {
		if strings.ToLower(p.Handle) == handle {
			return p, true
		}
	}
	return Plan{}, false
}

// PackByHandle looks up a credit pack by its handle.
func (c Catalog) PackByHandle(handle string) (CreditPack, bool) {
	handle = strings.TrimSpace(strings.ToLower(handle))
	for _, p := range c.CreditPacks {
		if strings.ToLower(p.Handle) == handle {
			return p, true
		}
	}
	return CreditPack{}, false
}

// Match resolves a webhook payload back to a catalog plan by price, interval
// and currency. Best-effort: two plans sharing the triple resolve to the
// first declared one. Unmatched payloads are treated as no active plan.
func (c Catalog) Match(price decimal.Decimal, interval Interval, currency string) (Plan, bool) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	for _, p := range c.Plans {
		if p.Interval != interval {
			continue
		}
		if strings.ToUpper(p.Currency) != currency {
			continue
		}
		if p.PriceAmount().Equal(price) {
			return p, true
		}
	}
	return Plan{}, false
}
