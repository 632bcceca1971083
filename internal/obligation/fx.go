package obligation

import (
	"github.com/clinicore/clinicore/internal/obligation/domain"
	"github.com/clinicore/clinicore/internal/obligation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("obligation.service",
	fx.Provide(domain.NewHookRegistry),
	fx.Provide(service.NewService),
)
