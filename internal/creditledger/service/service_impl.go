package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/fitglance/fitglance/internal/clock"
	creditledgerdomain "github.com/fitglance/fitglance/internal/creditledger/domain"
	"github.com/fitglance/fitglance/internal/shopify"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Metafield keys of the credit account schema.
const (
	keyTotalBalance     = "total_balance"
	keyTrialBalance     = "trial_balance"
	keyTrialUsed        = "trial_used"
	keyPlanBalance      = "plan_balance"
	keyPurchasedBalance = "purchased_balance"
	keyCouponBalance    = "coupon_balance"

	keyIncludedPerPeriod = "included_per_period"
	keyUsedThisPeriod    = "used_this_period"

	keyPeriodEnd        = "period_end"
	keyMonthlyPeriodEnd = "monthly_period_end"

	keyLineItemID = "subscription_line_item_id"

	keyIsTrialPeriod  = "is_trial_period"
	keyTrialStartDate = "trial_start_date"

	keyOverageCount      = "overage_count"
	keyOverageAmount     = "overage_amount"
	keyLastOverageBilled = "last_overage_billed"

	keyCouponRedemptions = "coupon_redemptions"
	keyNotificationsSent = "notifications_sent"
)

var accountKeys = []string{
	keyTotalBalance, keyTrialBalance, keyTrialUsed, keyPlanBalance,
	keyPurchasedBalance, keyCouponBalance, keyIncludedPerPeriod,
	keyUsedThisPeriod, keyPeriodEnd, keyMonthlyPeriodEnd, keyLineItemID,
	keyIsTrialPeriod, keyTrialStartDate, keyOverageCount, keyOverageAmount,
	keyLastOverageBilled, keyCouponRedemptions, keyNotificationsSent,
}

type Params struct {
	fx.In

	Store creditledgerdomain.StoreClient
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	store creditledgerdomain.StoreClient
	log   *zap.Logger
	clock clock.Clock
}

func NewService(p Params) creditledgerdomain.Service {
	return &Service{
		store: p.Store,
		log:   p.Log.Named("creditledger.service"),
		clock: p.Clock,
	}
}

// Get reads the full account. Absent fields decode to zero values; a store
// with none of the keys yields Exists=false.
func (s *Service) Get(ctx context.Context, installationID string) (creditledgerdomain.Account, error) {
	if strings.TrimSpace(installationID) == "" {
		return creditledgerdomain.Account{}, creditledgerdomain.ErrInvalidInstallation
	}

	fields, err := s.store.GetMetafields(ctx, creditledgerdomain.Namespace, accountKeys)
	if err != nil {
		return creditledgerdomain.Account{}, err
	}

	acct := creditledgerdomain.Account{Exists: len(fields) > 0}
	acct.TotalBalance = parseInt(fields, keyTotalBalance)
	acct.TrialBalance = parseInt(fields, keyTrialBalance)
	acct.TrialUsed = parseInt(fields, keyTrialUsed)
	acct.PlanBalance = parseInt(fields, keyPlanBalance)
	acct.PurchasedBalance = parseInt(fields, keyPurchasedBalance)
	acct.CouponBalance = parseInt(fields, keyCouponBalance)
	acct.IncludedPerPeriod = parseInt(fields, keyIncludedPerPeriod)
	acct.UsedThisPeriod = parseInt(fields, keyUsedThisPeriod)
	acct.PeriodEnd = parseTime(fields, keyPeriodEnd)
	acct.MonthlyPeriodEnd = parseTime(fields, keyMonthlyPeriodEnd)
	acct.SubscriptionLineItemID = parseString(fields, keyLineItemID)
	acct.IsTrialPeriod = parseBool(fields, keyIsTrialPeriod)
	acct.TrialStartDate = parseTime(fields, keyTrialStartDate)
	acct.OverageCount = parseInt(fields, keyOverageCount)
	acct.OverageAmount = parseDecimal(fields, keyOverageAmount)
	acct.LastOverageBilled = parseTime(fields, keyLastOverageBilled)

	if raw := parseString(fields, keyCouponRedemptions); raw != "" {
		if err := json.Unmarshal([]byte(raw), &acct.CouponRedemptions); err != nil {
			s.log.Warn("corrupt coupon_redemptions metafield ignored", zap.Error(err))
		}
	}
	if raw := parseString(fields, keyNotificationsSent); raw != "" {
		if err := json.Unmarshal([]byte(raw), &acct.NotificationsSent); err != nil {
			s.log.Warn("corrupt notifications_sent metafield ignored", zap.Error(err))
		}
	}

	return acct, nil
}

// Apply writes the set fields of update as one batch-set. The store offers no
// multi-field transaction; a partial failure is surfaced, not compensated.
func (s *Service) Apply(ctx context.Context, installationID string, update creditledgerdomain.Update) error {
	if strings.TrimSpace(installationID) == "" {
		return creditledgerdomain.ErrInvalidInstallation
	}

	ownerID, err := s.store.InstallationID(ctx)
	if err != nil {
		return err
	}

	entries := buildEntries(ownerID, update)
	if len(entries) == 0 {
		return nil
	}
	return s.store.SetMetafields(ctx, entries)
}

// Initialize seeds the trial allotment. Existing credits are added to, never
// overwritten; the trial window markers are only set once.
func (s *Service) Initialize(ctx context.Context, installationID string, trialCredits int64) (creditledgerdomain.Account, error) {
	if trialCredits < 0 {
		return creditledgerdomain.Account{}, creditledgerdomain.ErrInvalidAmount
	}

	acct, err := s.Get(ctx, installationID)
	if err != nil {
		return creditledgerdomain.Account{}, err
	}

	update := creditledgerdomain.Update{}
	if acct.TrialStartDate == nil {
		now := s.clock.Now()
		update.TrialStartDate = &now
		isTrial := true
		update.IsTrialPeriod = &isTrial

		trial := acct.TrialBalance + trialCredits
		total := acct.TotalBalance + trialCredits
		update.TrialBalance = &trial
		update.TotalBalance = &total
		acct.TrialBalance = trial
		acct.TotalBalance = total
		acct.TrialStartDate = &now
		acct.IsTrialPeriod = true

		s.log.Info("credit account initialized",
			zap.String("installation_id", installationID),
			zap.Int64("trial_credits", trialCredits))
	}

	if err := s.Apply(ctx, installationID, update); err != nil {
		return creditledgerdomain.Account{}, err
	}
	acct.Exists = true
	return acct, nil
}

// AddCreditsForPeriod grants the period allotment additively and resets the
// per-period usage counter. Plan balances are never assigned, only
// incremented: unused credits carry forward.
func (s *Service) AddCreditsForPeriod(ctx context.Context, installationID string, amount int64, markers creditledgerdomain.PeriodMarkers) error {
	if amount < 0 {
		return creditledgerdomain.ErrInvalidAmount
	}

	acct, err := s.Get(ctx, installationID)
	if err != nil {
		return err
	}

	plan := acct.PlanBalance + amount
	total := acct.TotalBalance + amount
	usedThisPeriod := int64(0)

	update := creditledgerdomain.Update{
		PlanBalance:    &plan,
		TotalBalance:   &total,
		UsedThisPeriod: &usedThisPeriod,
	}
	if markers.IncludedPerPeriod > 0 {
		update.IncludedPerPeriod = &markers.IncludedPerPeriod
	}
	if markers.PeriodEnd != nil {
		update.PeriodEnd = markers.PeriodEnd
	}
	if markers.MonthlyPeriodEnd != nil {
		update.MonthlyPeriodEnd = markers.MonthlyPeriodEnd
	}
	if markers.SubscriptionLineItemID != "" {
		update.SubscriptionLineItemID = &markers.SubscriptionLineItemID
	}

	s.log.Info("period credits granted",
		zap.String("installation_id", installationID),
		zap.Int64("amount", amount),
		zap.Int64("plan_balance", plan))

	return s.Apply(ctx, installationID, update)
}

func buildEntries(ownerID string, update creditledgerdomain.Update) []shopify.MetafieldInput {
	var entries []shopify.MetafieldInput

	addInt := func(key string, v *int64) {
		if v != nil {
			entries = append(entries, field(ownerID, key, shopify.TypeInteger, strconv.FormatInt(*v, 10)))
		}
	}
	addTime := func(key string, v *time.Time) {
		if v != nil {
			entries = append(entries, field(ownerID, key, shopify.TypeDateTime, v.UTC().Format(time.RFC3339)))
		}
	}

	addInt(keyTotalBalance, update.TotalBalance)
	addInt(keyTrialBalance, update.TrialBalance)
	addInt(keyTrialUsed, update.TrialUsed)
	addInt(keyPlanBalance, update.PlanBalance)
	addInt(keyPurchasedBalance, update.PurchasedBalance)
	addInt(keyCouponBalance, update.CouponBalance)
	addInt(keyIncludedPerPeriod, update.IncludedPerPeriod)
	addInt(keyUsedThisPeriod, update.UsedThisPeriod)
	addInt(keyOverageCount, update.OverageCount)

	addTime(keyPeriodEnd, update.PeriodEnd)
	addTime(keyMonthlyPeriodEnd, update.MonthlyPeriodEnd)
	addTime(keyTrialStartDate, update.TrialStartDate)
	addTime(keyLastOverageBilled, update.LastOverageBilled)

	if update.SubscriptionLineItemID != nil {
		entries = append(entries, field(ownerID, keyLineItemID, shopify.TypeText, *update.SubscriptionLineItemID))
	}
	if update.IsTrialPeriod != nil {
		entries = append(entries, field(ownerID, keyIsTrialPeriod, shopify.TypeBoolean, strconv.FormatBool(*update.IsTrialPeriod)))
	}
	if update.OverageAmount != nil {
		entries = append(entries, field(ownerID, keyOverageAmount, shopify.TypeDecimal, update.OverageAmount.String()))
	}
	if update.CouponRedemptions != nil {
		raw, _ := json.Marshal(*update.CouponRedemptions)
		entries = append(entries, field(ownerID, keyCouponRedemptions, shopify.TypeJSON, string(raw)))
	}
	if update.NotificationsSent != nil {
		raw, _ := json.Marshal(*update.NotificationsSent)
		entries = append(entries, field(ownerID, keyNotificationsSent, shopify.TypeJSON, string(raw)))
	}

	return entries
}

func field(ownerID, key, fieldType, value string) shopify.MetafieldInput {
	return shopify.MetafieldInput{
		OwnerID:   ownerID,
		Namespace: creditledgerdomain.Namespace,
		Key:       key,
		Type:      fieldType,
		Value:     value,
	}
}

func parseString(fields map[string]shopify.Metafield, key string) string {
	if f, ok := fields[key]; ok {
		return f.Value
	}
	return ""
}

func parseInt(fields map[string]shopify.Metafield, key string) int64 {
	raw := parseString(fields, key)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseDecimal(fields map[string]shopify.Metafield, key string) decimal.Decimal {
	raw := parseString(fields, key)
	if raw == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func parseBool(fields map[string]shopify.Metafield, key string) bool {
	return parseString(fields, key) == "true"
}

func parseTime(fields map[string]shopify.Metafield, key string) *time.Time {
	raw := parseString(fields, key)
	if raw == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &ts
}
