package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quantfolio/indexd/internal/domain"
)

// respondError maps domain errors to HTTP statuses. Unrecognized errors
// are treated as internal and their detail withheld.
func respondError(c *gin.Context, err error) {
	var (
		notFound        *domain.NotFoundError
		noPrice         *domain.NoPriceDataError
		nonPositive     *domain.NonPositivePriceError
		beforeInception *domain.BeforeInceptionError
		noActiveSet     *domain.NoActiveSetError
		duplicate       *domain.DuplicatePriceError
		outOfOrder      *domain.OutOfOrderRebalanceError
	)

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &beforeInception), errors.As(err, &noActiveSet),
		errors.As(err, &noPrice), errors.As(err, &nonPositive):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &duplicate), errors.As(err, &outOfOrder):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case isValidation(err):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// isValidation covers the plain-error rejections the domain constructors
// return for malformed input (bad weights, zero prices, duplicate ids)
func isValidation(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"invalid", "cannot be", "must be", "already exists", "unknown weight strategy"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
