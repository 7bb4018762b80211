// Package domain contains the credit account model persisted in the
// installation's namespaced metafield store.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Namespace owns every ledger metafield of the app installation.
const Namespace = "fitglance"

// CouponRedemption is one append-only entry of the account's redemption list.
type CouponRedemption struct {
	Code       string    `json:"code"`
	Credits    int64     `json:"credits"`
	RedeemedAt time.Time `json:"redeemedAt"`
}

// Account is the per-installation credit ledger. Balances are partitioned by
// credit type; TotalBalance is always the sum of the four partitions.
type Account struct {
	TotalBalance     int64
	TrialBalance     int64
	TrialUsed        int64
	PlanBalance      int64
	PurchasedBalance int64
	CouponBalance    int64

	IncludedPerPeriod int64
	UsedThisPeriod    int64

	// PeriodEnd tracks monthly plans. Annual plans reset credits monthly
	// despite annual billing and track MonthlyPeriodEnd instead.
	PeriodEnd        *time.Time
	MonthlyPeriodEnd *time.Time

	SubscriptionLineItemID string

	IsTrialPeriod  bool
	TrialStartDate *time.Time

	OverageCount      int64
	OverageAmount     decimal.Decimal
	LastOverageBilled *time.Time

	CouponRedemptions []CouponRedemption
	NotificationsSent []int

	// Exists reports whether any ledger field was present in the store.
	Exists bool
}

// BalancesConsistent reports the partition invariant:
// total == trial + plan + purchased + coupon.
func (a Account) BalancesConsistent() bool {
	return a.TotalBalance == a.TrialBalance+a.PlanBalance+a.PurchasedBalance+a.CouponBalance
}

// IsAnnualPlan reports whether the account bills overage on the
// accumulate-and-settle path.
func (a Account) IsAnnualPlan() bool {
	return a.MonthlyPeriodEnd != nil
}

// RedemptionCount counts prior redemptions of code by this installation.
func (a Account) RedemptionCount(code string) int {
	count := 0
	for _, r := range a.CouponRedemptions {
		if r.Code == code {
			count++
		}
	}
	return count
}

// HasNotification reports whether the trial threshold was already alerted.
func (a Account) HasNotification(threshold int) bool {
	for _, t := range a.NotificationsSent {
		if t == threshold {
			return true
		}
	}
	return false
}
