package server

import (
	"net/http"

	coupondomain "github.com/fitglance/fitglance/internal/coupon/domain"
	"github.com/gin-gonic/gin"
)

type redeemCouponRequest struct {
	Code string `json:"code"`
}

func (s *Server) redeemCoupon(c *gin.Context) {
	var req redeemCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.coupon.Redeem(c.Request.Context(), coupondomain.RedeemRequest{
		InstallationID: installationID(c),
		Code:           req.Code,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
