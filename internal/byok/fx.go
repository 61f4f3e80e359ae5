package byok

import (
	"github.com/opsbase/tally/internal/byok/repository"
	"github.com/opsbase/tally/internal/byok/service"
	"github.com/opsbase/tally/internal/cache"
	"go.uber.org/fx"
)

var Module = fx.Module("byok.service",
	fx.Provide(cache.NewRouteResolverCache),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
