package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	ledgerdomain "github.com/clinicore/clinicore/internal/ledger/domain"
	obligationdomain "github.com/clinicore/clinicore/internal/obligation/domain"
	orgdomain "github.com/clinicore/clinicore/internal/organisation/domain"
	patientdomain "github.com/clinicore/clinicore/internal/patient/domain"
	paymentdomain "github.com/clinicore/clinicore/internal/payment/domain"
	walletdomain "github.com/clinicore/clinicore/internal/wallet/domain"
	"github.com/clinicore/clinicore/pkg/db"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	State   any    `json:"state,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrInvalidRequest = errors.New("invalid_request")

const contextErrorStateKey = "error_state"

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if state, ok := c.Get(contextErrorStateKey); ok {
			payload.State = state
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

// AbortWithErrorState records err together with the entity as currently
// stored, so a rejected caller can see the authoritative state and
// decide whether to retry, split differently, or escalate.
func AbortWithErrorState(c *gin.Context, err error, state any) {
	if state != nil {
		c.Set(contextErrorStateKey, state)
	}
	AbortWithError(c, err)
}

// mapError projects the domain error taxonomy onto HTTP. Validation
// failures are 400, missing entities 404, state machine violations 409,
// balance violations 422, and ledger integrity failures 500 because they
// mean stored money state can no longer be trusted.
func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    err.Error(),
			Message: "validation error",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    "not_found",
			Message: "not found",
		}
	case isStateConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "state_conflict",
			Code:    err.Error(),
			Message: "operation not allowed in current state",
		}
	case isBalanceError(err):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "balance_violation",
			Code:    err.Error(),
			Message: "operation would violate a balance rule",
		}
	case isIntegrityError(err):
		return http.StatusInternalServerError, errorPayload{
			Type:    "integrity_error",
			Code:    err.Error(),
			Message: "ledger integrity failure",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Code:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidObligation),
		errors.Is(err, paymentdomain.ErrMissingPayer),
		errors.Is(err, paymentdomain.ErrMissingOrganisation),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidMethod),
		errors.Is(err, paymentdomain.ErrInvalidReference),
		errors.Is(err, paymentdomain.ErrAmountMismatch),
		errors.Is(err, paymentdomain.ErrDuplicateMethodInSplit),
		errors.Is(err, paymentdomain.ErrEmptySplit),
		errors.Is(err, obligationdomain.ErrInvalidType),
		errors.Is(err, obligationdomain.ErrInvalidRef),
		errors.Is(err, obligationdomain.ErrInvalidAmount),
		errors.Is(err, walletdomain.ErrInvalidPatient),
		errors.Is(err, walletdomain.ErrInvalidAmount),
		errors.Is(err, orgdomain.ErrInvalidName),
		errors.Is(err, orgdomain.ErrInvalidOrgType),
		errors.Is(err, orgdomain.ErrInvalidID),
		errors.Is(err, orgdomain.ErrInvalidAmount),
		errors.Is(err, orgdomain.ErrInvalidSettleAt):
		return true
	}
	return false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, paymentdomain.ErrNotFound),
		errors.Is(err, obligationdomain.ErrNotFound),
		errors.Is(err, walletdomain.ErrNotFound),
		errors.Is(err, orgdomain.ErrNotFound),
		errors.Is(err, patientdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	}
	return false
}

func isStateConflictError(err error) bool {
	switch {
	case errors.Is(err, paymentdomain.ErrStateConflict),
		errors.Is(err, paymentdomain.ErrAlreadySplit),
		errors.Is(err, paymentdomain.ErrPaymentIsLeg),
		errors.Is(err, obligationdomain.ErrObligationSettled),
		errors.Is(err, walletdomain.ErrAccountFrozen),
		errors.Is(err, orgdomain.ErrAccountFrozen),
		errors.Is(err, db.ErrConcurrentModification):
		return true
	}
	return false
}

func isBalanceError(err error) bool {
	switch {
	case errors.Is(err, paymentdomain.ErrInsufficientWalletBalance),
		errors.Is(err, paymentdomain.ErrAmountExceedsPayable),
		errors.Is(err, paymentdomain.ErrRefundExceedsAmount),
		errors.Is(err, walletdomain.ErrInsufficientFunds),
		errors.Is(err, orgdomain.ErrOversettlement):
		return true
	}
	return false
}

func isIntegrityError(err error) bool {
	switch {
	case errors.Is(err, walletdomain.ErrLedgerMismatch),
		errors.Is(err, orgdomain.ErrLedgerMismatch),
		errors.Is(err, ledgerdomain.ErrBrokenChain),
		errors.Is(err, ledgerdomain.ErrUnbalancedEntry),
		errors.Is(err, paymentdomain.ErrReferenceGenerationExhausted):
		return true
	}
	return false
}
