package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/mivvo/expertiz/internal/credit/domain"
	"github.com/mivvo/expertiz/pkg/db/pagination"
	"github.com/shopspring/decimal"
)

func (s *Server) CreditSummary(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.creditSvc.Summary(c.Request.Context(), creditdomain.SummaryRequest{
		UserID: userID,
		Page:   page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type purchaseRequest struct {
	Amount      string `json:"amount" binding:"required"`
	ReferenceID string `json:"reference_id"`
}

// PurchaseCredits records a completed credit purchase. Payment collection
// happens upstream; this endpoint trusts the caller's own account only.
func (s *Server) PurchaseCredits(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || !amount.IsPositive() {
		AbortWithError(c, creditdomain.ErrInvalidAmount)
		return
	}

	ledger, err := s.creditSvc.Credit(c.Request.Context(), creditdomain.CreditRequest{
		UserID:      userID,
		Amount:      amount,
		ReferenceID: strings.TrimSpace(req.ReferenceID),
		Description: "credit purchase",
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ledger)
}
