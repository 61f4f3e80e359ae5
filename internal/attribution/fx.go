package attribution

import (
	"github.com/opsbase/tally/internal/attribution/repository"
	"github.com/opsbase/tally/internal/attribution/service"
	"go.uber.org/fx"
)

var Module = fx.Module("attribution.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
