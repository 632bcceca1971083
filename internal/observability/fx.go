package observability

import (
	"github.com/clinicore/clinicore/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(metrics.NewMetrics),
)
