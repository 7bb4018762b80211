package server

import (
	"net/http"

	deductiondomain "github.com/fitglance/fitglance/internal/deduction/domain"
	purchasedomain "github.com/fitglance/fitglance/internal/purchase/domain"
	subscriptiondomain "github.com/fitglance/fitglance/internal/subscription/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type balanceResponse struct {
	TotalBalance     int64 `json:"totalBalance"`
	TrialBalance     int64 `json:"trialBalance"`
	PlanBalance      int64 `json:"planBalance"`
	PurchasedBalance int64 `json:"purchasedBalance"`
	CouponBalance    int64 `json:"couponBalance"`

	IncludedPerPeriod int64 `json:"includedPerPeriod"`
	UsedThisPeriod    int64 `json:"usedThisPeriod"`

	IsTrialPeriod bool   `json:"isTrialPeriod"`
	OverageCount  int64  `json:"overageCount"`
	OverageAmount string `json:"overageAmount"`
}

func (s *Server) getBalance(c *gin.Context) {
	acct, err := s.ledger.Get(c.Request.Context(), installationID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !acct.BalancesConsistent() {
		s.log.Warn("balance partitions out of sync",
			zap.String("installation_id", installationID(c)),
			zap.Int64("total", acct.TotalBalance))
	}

	c.JSON(http.StatusOK, balanceResponse{
		TotalBalance:      acct.TotalBalance,
		TrialBalance:      acct.TrialBalance,
		PlanBalance:       acct.PlanBalance,
		PurchasedBalance:  acct.PurchasedBalance,
		CouponBalance:     acct.CouponBalance,
		IncludedPerPeriod: acct.IncludedPerPeriod,
		UsedThisPeriod:    acct.UsedThisPeriod,
		IsTrialPeriod:     acct.IsTrialPeriod,
		OverageCount:      acct.OverageCount,
		OverageAmount:     acct.OverageAmount.StringFixed(2),
	})
}

type deductRequest struct {
	OperationID string `json:"operationId"`
	UnitCost    int64  `json:"unitCost"`
	ShopContact string `json:"shopContact"`
}

type deductResponse struct {
	deductiondomain.DeductResult
	Replacement *subscriptiondomain.ReplacementOutcome `json:"replacement,omitempty"`
}

func (s *Server) deductCredit(c *gin.Context) {
	var req deductRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	result, err := s.deduction.Deduct(c.Request.Context(), deductiondomain.DeductRequest{
		InstallationID: installationID(c),
		OperationID:    req.OperationID,
		UnitCost:       req.UnitCost,
		ShopContact:    req.ShopContact,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := deductResponse{DeductResult: result}
	if result.TrialReplacementNeeded {
		replacement, err := s.subscription.CheckAndReplaceTrialIfNeeded(c.Request.Context(), subscriptiondomain.ReplacementRequest{
			InstallationID: installationID(c),
		})
		if err != nil {
			// The deduction already succeeded; replacement retries on the
			// next use.
			s.log.Warn("trial replacement deferred",
				zap.String("installation_id", installationID(c)),
				zap.Error(err))
		} else {
			resp.Replacement = replacement
		}
	}

	c.JSON(http.StatusOK, resp)
}

type refundRequest struct {
	Source   string `json:"source"`
	Reason   string `json:"reason"`
	UnitCost int64  `json:"unitCost"`

	// Breakdown echoes the deduct response's breakdown so spanning
	// deductions reverse per source.
	Breakdown []deductiondomain.SourceAmount `json:"breakdown"`
}

func (s *Server) refundCredit(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.deduction.Refund(c.Request.Context(), deductiondomain.RefundRequest{
		InstallationID: installationID(c),
		Source:         deductiondomain.Source(req.Source),
		Reason:         req.Reason,
		UnitCost:       req.UnitCost,
		Breakdown:      req.Breakdown,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type purchaseRequest struct {
	PackHandle string `json:"packHandle"`
	ReturnURL  string `json:"returnUrl"`
}

func (s *Server) purchaseCredits(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.purchase.Create(c.Request.Context(), purchasedomain.CreateRequest{
		InstallationID: installationID(c),
		PackHandle:     req.PackHandle,
		ReturnURL:      req.ReturnURL,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) settleOverage(c *gin.Context) {
	result, err := s.billingcycle.BillAccumulatedOverage(c.Request.Context(), installationID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
