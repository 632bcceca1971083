package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	obligationdomain "github.com/clinicore/clinicore/internal/obligation/domain"
	orgdomain "github.com/clinicore/clinicore/internal/organisation/domain"
	paymentdomain "github.com/clinicore/clinicore/internal/payment/domain"
	walletdomain "github.com/clinicore/clinicore/internal/wallet/domain"
	"github.com/clinicore/clinicore/pkg/db"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestMapErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
		typ    string
	}{
		{ErrInvalidRequest, http.StatusBadRequest, "validation_error"},
		{paymentdomain.ErrMissingPayer, http.StatusBadRequest, "validation_error"},
		{paymentdomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{walletdomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{paymentdomain.ErrStateConflict, http.StatusConflict, "state_conflict"},
		{walletdomain.ErrAccountFrozen, http.StatusConflict, "state_conflict"},
		{db.ErrConcurrentModification, http.StatusConflict, "state_conflict"},
		{obligationdomain.ErrObligationSettled, http.StatusConflict, "state_conflict"},
		{paymentdomain.ErrInsufficientWalletBalance, http.StatusUnprocessableEntity, "balance_violation"},
		{paymentdomain.ErrAmountExceedsPayable, http.StatusUnprocessableEntity, "balance_violation"},
		{orgdomain.ErrOversettlement, http.StatusUnprocessableEntity, "balance_violation"},
		{walletdomain.ErrLedgerMismatch, http.StatusInternalServerError, "integrity_error"},
		{paymentdomain.ErrReferenceGenerationExhausted, http.StatusInternalServerError, "integrity_error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		status, payload := mapError(tc.err)
		require.Equal(t, tc.status, status, "status for %v", tc.err)
		require.Equal(t, tc.typ, payload.Type, "type for %v", tc.err)
	}
}

func TestErrorHandlingMiddlewareWritesTaxonomyResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/boom", func(c *gin.Context) {
		AbortWithError(c, paymentdomain.ErrRefundExceedsAmount)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.JSONEq(t, `{"error":{"type":"balance_violation","code":"refund_exceeds_amount","message":"operation would violate a balance rule"}}`, rec.Body.String())
}

func TestErrorResponseCarriesEntityState(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/conflict", func(c *gin.Context) {
		AbortWithErrorState(c, paymentdomain.ErrStateConflict, paymentdomain.Payment{
			ID:     42,
			Status: paymentdomain.StatusCreated,
			Amount: 1500,
		})
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conflict", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)

	var body struct {
		Error struct {
			Code  string `json:"code"`
			State struct {
				ID     snowflake.ID `json:"id"`
				Status string       `json:"status"`
				Amount int64        `json:"amount"`
			} `json:"state"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "state_conflict", body.Error.Code)
	require.Equal(t, snowflake.ID(42), body.Error.State.ID)
	require.Equal(t, "created", body.Error.State.Status)
	require.Equal(t, int64(1500), body.Error.State.Amount)
}

func TestActorIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ActorID())

	var seen string
	router.GET("/whoami", func(c *gin.Context) {
		seen = actorFrom(c)
		c.Status(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(HeaderActorID, "cashier-1")
	router.ServeHTTP(rec, req)
	require.Equal(t, "cashier-1", seen)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	router.ServeHTTP(rec, req)
	require.Equal(t, "system", seen)
}

func TestRequestIDMiddlewareEchoesOrGenerates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	router.ServeHTTP(rec, req)
	require.Equal(t, "req-123", rec.Header().Get(HeaderRequestID))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	router.ServeHTTP(rec, req)
	require.NotEmpty(t, rec.Header().Get(HeaderRequestID))
}
