package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) getTrialStatus(c *gin.Context) {
	acct, err := s.ledger.Get(c.Request.Context(), installationID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.trial.StatusOf(acct, s.clock.Now()))
}
