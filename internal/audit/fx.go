package audit

import (
	"github.com/clinicore/clinicore/internal/audit/repository"
	"github.com/clinicore/clinicore/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
