package payment

import (
	"github.com/clinicore/clinicore/internal/payment/repository"
	paymentservice "github.com/clinicore/clinicore/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(paymentservice.NewService),
)
