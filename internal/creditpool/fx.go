package creditpool

import (
	"github.com/opsbase/tally/internal/creditpool/repository"
	"github.com/opsbase/tally/internal/creditpool/service"
	"go.uber.org/fx"
)

var Module = fx.Module("creditpool.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
