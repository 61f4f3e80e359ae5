package allocation

import (
	"github.com/opsbase/tally/internal/allocation/repository"
	"github.com/opsbase/tally/internal/allocation/service"
	"github.com/opsbase/tally/internal/allocation/sweeper"
	"go.uber.org/fx"
)

var Module = fx.Module("allocation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	sweeper.Module,
)
