package organisation

import (
	"github.com/clinicore/clinicore/internal/organisation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organisation.service",
	fx.Provide(service.NewService),
)
