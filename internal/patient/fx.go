package patient

import (
	"github.com/clinicore/clinicore/internal/patient/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("patient.repository",
	fx.Provide(repository.NewRepository),
)
