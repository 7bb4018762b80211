package shopify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrCappedAmountExceeded is returned when a metered usage record would push
// the subscription past its capped amount.
var ErrCappedAmountExceeded = errors.New("capped_amount_exceeded")

// ReplacementBehavior values accepted by appSubscriptionCreate.
const (
	ReplacementApplyImmediately = "APPLY_IMMEDIATELY"
	ReplacementStandard         = "STANDARD"
)

type SubscriptionCreateRequest struct {
	Name                string
	Price               decimal.Decimal
	CurrencyCode        string
	Interval            string
	TrialDays           int
	ReplacementBehavior string
	ReturnURL           string
	CappedAmount        decimal.Decimal
	UsageTerms          string
}

type SubscriptionCreateResponse struct {
	ConfirmationURL string
	SubscriptionID  string
	LineItemIDs     []string
}

type OneTimeChargeResponse struct {
	ConfirmationURL string
	PurchaseID      string
}

type SubscriptionLineItem struct {
	ID       string
	PlanType string // RECURRING or USAGE
}

type ActiveSubscription struct {
	ID               string
	Status           string
	CurrentPeriodEnd *time.Time
	Price            decimal.Decimal
	Interval         string
	CurrencyCode     string
	LineItems        []SubscriptionLineItem
}

const subscriptionCreateMutation = `
mutation AppSubscriptionCreate($name: String!, $lineItems: [AppSubscriptionLineItemInput!]!, $returnUrl: URL!, $trialDays: Int, $replacementBehavior: AppSubscriptionReplacementBehavior, $test: Boolean) {
  appSubscriptionCreate(name: $name, lineItems: $lineItems, returnUrl: $returnUrl, trialDays: $trialDays, replacementBehavior: $replacementBehavior, test: $test) {
    confirmationUrl
    appSubscription { id lineItems { id plan { pricingDetails { __typename } } } }
    userErrors { field message code }
  }
}`

const oneTimeChargeMutation = `
mutation AppPurchaseOneTimeCreate($name: String!, $price: MoneyInput!, $returnUrl: URL!, $test: Boolean) {
  appPurchaseOneTimeCreate(name: $name, price: $price, returnUrl: $returnUrl, test: $test) {
    confirmationUrl
    appPurchaseOneTime { id }
    userErrors { field message code }
  }
}`

const usageRecordMutation = `
mutation AppUsageRecordCreate($subscriptionLineItemId: ID!, $price: MoneyInput!, $description: String!, $idempotencyKey: String) {
  appUsageRecordCreate(subscriptionLineItemId: $subscriptionLineItemId, price: $price, description: $description, idempotencyKey: $idempotencyKey) {
    appUsageRecord { id }
    userErrors { field message code }
  }
}`

const activeSubscriptionQuery = `
query ActiveSubscription {
  currentAppInstallation {
    activeSubscriptions {
      id
      status
      currentPeriodEnd
      lineItems {
        id
        plan {
          pricingDetails {
            __typename
            ... on AppRecurringPricing {
              interval
              price { amount currencyCode }
            }
          }
        }
      }
    }
  }
}`

// CreateRecurringSubscription creates a subscription offer consisting of a
// recurring line and a usage line (for monthly overage). The merchant approves
// it at the returned confirmation URL.
func (c *Client) CreateRecurringSubscription(ctx context.Context, req SubscriptionCreateRequest) (*SubscriptionCreateResponse, error) {
	lineItems := []map[string]any{
		{
			"plan": map[string]any{
				"appRecurringPricingDetails": map[string]any{
					"price":    map[string]any{"amount": req.Price.StringFixed(2), "currencyCode": req.CurrencyCode},
					"interval": req.Interval,
				},
			},
		},
	}
	if req.CappedAmount.IsPositive() {
		lineItems = append(lineItems, map[string]any{
			"plan": map[string]any{
				"appUsagePricingDetails": map[string]any{
					"cappedAmount": map[string]any{"amount": req.CappedAmount.StringFixed(2), "currencyCode": req.CurrencyCode},
					"terms":        req.UsageTerms,
				},
			},
		})
	}

	vars := map[string]any{
		"name":      req.Name,
		"lineItems": lineItems,
		"returnUrl": req.ReturnURL,
		"test":      c.test,
	}
	if req.TrialDays > 0 {
		vars["trialDays"] = req.TrialDays
	}
	if req.ReplacementBehavior != "" {
		vars["replacementBehavior"] = req.ReplacementBehavior
	}

	var out struct {
		AppSubscriptionCreate struct {
			ConfirmationURL string `json:"confirmationUrl"`
			AppSubscription struct {
				ID        string `json:"id"`
				LineItems []struct {
					ID string `json:"id"`
				} `json:"lineItems"`
			} `json:"appSubscription"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"appSubscriptionCreate"`
	}
	if err := c.execute(ctx, subscriptionCreateMutation, vars, &out); err != nil {
		return nil, err
	}
	if len(out.AppSubscriptionCreate.UserErrors) > 0 {
		return nil, errors.New(userErrorMessages(out.AppSubscriptionCreate.UserErrors))
	}

	resp := &SubscriptionCreateResponse{
		ConfirmationURL: out.AppSubscriptionCreate.ConfirmationURL,
		SubscriptionID:  out.AppSubscriptionCreate.AppSubscription.ID,
	}
	for _, li := range out.AppSubscriptionCreate.AppSubscription.LineItems {
		resp.LineItemIDs = append(resp.LineItemIDs, li.ID)
	}
	return resp, nil
}

// CreateOneTimeCharge creates a one-time purchase (credit packs, overage
// settlement) pending merchant approval.
func (c *Client) CreateOneTimeCharge(ctx context.Context, name string, amount decimal.Decimal, currency, returnURL string) (*OneTimeChargeResponse, error) {
	vars := map[string]any{
		"name":      name,
		"price":     map[string]any{"amount": amount.StringFixed(2), "currencyCode": currency},
		"returnUrl": returnURL,
		"test":      c.test,
	}

	var out struct {
		AppPurchaseOneTimeCreate struct {
			ConfirmationURL    string `json:"confirmationUrl"`
			AppPurchaseOneTime struct {
				ID string `json:"id"`
			} `json:"appPurchaseOneTime"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"appPurchaseOneTimeCreate"`
	}
	if err := c.execute(ctx, oneTimeChargeMutation, vars, &out); err != nil {
		return nil, err
	}
	if len(out.AppPurchaseOneTimeCreate.UserErrors) > 0 {
		return nil, errors.New(userErrorMessages(out.AppPurchaseOneTimeCreate.UserErrors))
	}

	return &OneTimeChargeResponse{
		ConfirmationURL: out.AppPurchaseOneTimeCreate.ConfirmationURL,
		PurchaseID:      out.AppPurchaseOneTimeCreate.AppPurchaseOneTime.ID,
	}, nil
}

// CreateUsageRecord bills one metered unit against the subscription's usage
// line item. The idempotency key makes retried calls safe; records are
// append-only and cannot be reversed.
func (c *Client) CreateUsageRecord(ctx context.Context, lineItemID string, amount decimal.Decimal, currency, description, idempotencyKey string) (string, error) {
	vars := map[string]any{
		"subscriptionLineItemId": lineItemID,
		"price":                  map[string]any{"amount": amount.StringFixed(2), "currencyCode": currency},
		"description":            description,
		"idempotencyKey":         idempotencyKey,
	}

	var out struct {
		AppUsageRecordCreate struct {
			AppUsageRecord struct {
				ID string `json:"id"`
			} `json:"appUsageRecord"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"appUsageRecordCreate"`
	}
	if err := c.execute(ctx, usageRecordMutation, vars, &out); err != nil {
		return "", err
	}
	if len(out.AppUsageRecordCreate.UserErrors) > 0 {
		msg := userErrorMessages(out.AppUsageRecordCreate.UserErrors)
		if strings.Contains(strings.ToLower(msg), "capped amount") {
			return "", ErrCappedAmountExceeded
		}
		return "", errors.New(msg)
	}
	return out.AppUsageRecordCreate.AppUsageRecord.ID, nil
}

// GetActiveSubscription returns the installation's active subscription, or
// nil when the shop has none.
func (c *Client) GetActiveSubscription(ctx context.Context) (*ActiveSubscription, error) {
	var out struct {
		CurrentAppInstallation struct {
			ActiveSubscriptions []struct {
				ID               string  `json:"id"`
				Status           string  `json:"status"`
				CurrentPeriodEnd *string `json:"currentPeriodEnd"`
				LineItems        []struct {
					ID   string `json:"id"`
					Plan struct {
						PricingDetails struct {
							Typename string `json:"__typename"`
							Interval string `json:"interval"`
							Price    struct {
								Amount       string `json:"amount"`
								CurrencyCode string `json:"currencyCode"`
							} `json:"price"`
						} `json:"pricingDetails"`
					} `json:"plan"`
				} `json:"lineItems"`
			} `json:"activeSubscriptions"`
		} `json:"currentAppInstallation"`
	}
	if err := c.execute(ctx, activeSubscriptionQuery, nil, &out); err != nil {
		return nil, err
	}

	subs := out.CurrentAppInstallation.ActiveSubscriptions
	if len(subs) == 0 {
		return nil, nil
	}
	raw := subs[0]

	sub := &ActiveSubscription{ID: raw.ID, Status: raw.Status}
	if raw.CurrentPeriodEnd != nil {
		if ts, err := time.Parse(time.RFC3339, *raw.CurrentPeriodEnd); err == nil {
			sub.CurrentPeriodEnd = &ts
		}
	}
	for _, li := range raw.LineItems {
		details := li.Plan.PricingDetails
		if details.Typename == "AppRecurringPricing" {
			sub.LineItems = append(sub.LineItems, SubscriptionLineItem{ID: li.ID, PlanType: "RECURRING"})
			sub.Interval = details.Interval
			sub.CurrencyCode = details.Price.CurrencyCode
			if amount, err := decimal.NewFromString(details.Price.Amount); err == nil {
				sub.Price = amount
			}
			continue
		}
		sub.LineItems = append(sub.LineItems, SubscriptionLineItem{ID: li.ID, PlanType: "USAGE"})
	}
	return sub, nil
}
