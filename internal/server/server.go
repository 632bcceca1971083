package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinicore/clinicore/internal/audit"
	auditdomain "github.com/clinicore/clinicore/internal/audit/domain"
	"github.com/clinicore/clinicore/internal/config"
	"github.com/clinicore/clinicore/internal/ledger"
	ledgerdomain "github.com/clinicore/clinicore/internal/ledger/domain"
	"github.com/clinicore/clinicore/internal/obligation"
	obligationdomain "github.com/clinicore/clinicore/internal/obligation/domain"
	"github.com/clinicore/clinicore/internal/observability"
	"github.com/clinicore/clinicore/internal/organisation"
	orgdomain "github.com/clinicore/clinicore/internal/organisation/domain"
	"github.com/clinicore/clinicore/internal/patient"
	"github.com/clinicore/clinicore/internal/payment"
	paymentdomain "github.com/clinicore/clinicore/internal/payment/domain"
	"github.com/clinicore/clinicore/internal/wallet"
	walletdomain "github.com/clinicore/clinicore/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	observability.Module,
	audit.Module,
	ledger.Module,
	obligation.Module,
	patient.Module,
	wallet.Module,
	organisation.Module,
	payment.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))
	r.Use(ActorID())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	genID         *snowflake.Node
	paymentSvc    paymentdomain.Service
	obligationSvc obligationdomain.Service
	walletSvc     walletdomain.Service
	orgSvc        orgdomain.Service
	ledgerSvc     ledgerdomain.Service
	auditSvc      auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	GenID         *snowflake.Node
	PaymentSvc    paymentdomain.Service
	ObligationSvc obligationdomain.Service
	WalletSvc     walletdomain.Service
	OrgSvc        orgdomain.Service
	LedgerSvc     ledgerdomain.Service
	AuditSvc      auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		genID:         p.GenID,
		paymentSvc:    p.PaymentSvc,
		obligationSvc: p.ObligationSvc,
		walletSvc:     p.WalletSvc,
		orgSvc:        p.OrgSvc,
		ledgerSvc:     p.LedgerSvc,
		auditSvc:      p.AuditSvc,
	}

	svc.registerRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	payments := v1.Group("/payments")
	{
		payments.POST("", s.OpenPayment)
		payments.GET("/:id", s.GetPayment)
		payments.GET("/by-reference/:reference", s.GetPaymentByReference)
		payments.POST("/:id/method", s.ChoosePaymentMethod)
		payments.POST("/:id/split", s.SplitPayment)
		payments.POST("/:id/confirm", s.ConfirmPayment)
		payments.POST("/:id/unconfirm", s.UnconfirmPayment)
		payments.POST("/:id/refund", s.RefundPayment)
		payments.POST("/:id/cancel", s.CancelPayment)
		payments.POST("/:id/fail", s.FailPayment)
		payments.PATCH("/:id/amount-payable", s.UpdatePaymentAmountPayable)
	}

	obligations := v1.Group("/obligations")
	{
		obligations.POST("", s.CreateObligation)
		obligations.GET("/:id", s.GetObligation)
		obligations.PATCH("/:id/amount", s.ReviseObligationAmount)
	}

	wallets := v1.Group("/wallets")
	{
		wallets.POST("", s.OpenWallet)
		wallets.GET("/:patientID", s.GetWallet)
		wallets.POST("/:patientID/credit", s.CreditWallet)
		wallets.POST("/:patientID/debit", s.DebitWallet)
		wallets.POST("/:patientID/charge", s.ChargeWallet)
		wallets.POST("/:patientID/settle-outstanding", s.SettleWalletOutstanding)
		wallets.POST("/:patientID/reconcile", s.ReconcileWallet)
		wallets.GET("/:patientID/ledger", s.ListWalletLedger)
	}

	organisations := v1.Group("/organisations")
	{
		organisations.POST("", s.CreateOrganisation)
		organisations.GET("/:id/balance", s.GetOrganisationBalance)
		organisations.POST("/:id/charge", s.ChargeOrganisation)
		organisations.POST("/:id/settle", s.SettleOrganisation)
		organisations.GET("/:id/settlements", s.ListOrganisationSettlements)
		organisations.POST("/:id/reconcile", s.ReconcileOrganisation)
		organisations.GET("/:id/ledger", s.ListOrganisationLedger)
	}

	v1.GET("/audit-logs", s.ListAuditLogs)
}
