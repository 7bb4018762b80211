package server

import (
	"net/http"
	"strings"

	purchasedomain "github.com/fitglance/fitglance/internal/purchase/domain"
	subscriptiondomain "github.com/fitglance/fitglance/internal/subscription/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type subscriptionWebhook struct {
	AppSubscription struct {
		AdminGraphqlAPIID string `json:"admin_graphql_api_id"`
		Status            string `json:"status"`
	} `json:"app_subscription"`
}

// handleSubscriptionUpdate processes the subscription-status webhook. The
// webhook body only carries the status; price, interval and line items are
// fetched from the billing API before the update is applied.
func (s *Server) handleSubscriptionUpdate(c *gin.Context) {
	var payload subscriptionWebhook
	if err := c.ShouldBindJSON(&payload); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	installation, err := s.shop.InstallationID(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	update := subscriptiondomain.UpdatePayload{
		InstallationID: installation,
		Status:         payload.AppSubscription.Status,
	}
	if strings.EqualFold(payload.AppSubscription.Status, "ACTIVE") {
		sub, err := s.shop.GetActiveSubscription(ctx)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if sub == nil {
			// Status raced with a cancellation; nothing to grant.
			s.log.Info("active webhook but no active subscription found",
				zap.String("installation_id", installation))
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		update.Price = sub.Price
		update.Interval = sub.Interval
		update.CurrencyCode = sub.CurrencyCode
		update.CurrentPeriodEnd = sub.CurrentPeriodEnd
		update.LineItems = sub.LineItems
	}

	if err := s.subscription.ProcessSubscriptionUpdate(ctx, update); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type purchaseWebhook struct {
	AppPurchaseOneTime struct {
		AdminGraphqlAPIID string `json:"admin_graphql_api_id"`
		Status            string `json:"status"`
	} `json:"app_purchase_one_time"`
}

func (s *Server) handlePurchaseUpdate(c *gin.Context) {
	var payload purchaseWebhook
	if err := c.ShouldBindJSON(&payload); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.purchase.HandlePurchaseUpdate(
		c.Request.Context(),
		payload.AppPurchaseOneTime.AdminGraphqlAPIID,
		purchasedomain.Status(strings.ToUpper(payload.AppPurchaseOneTime.Status)),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
