package catalog

import (
	"github.com/smallbiznis/captiva/internal/cache"
	"github.com/smallbiznis/captiva/internal/catalog/repository"
	"github.com/smallbiznis/captiva/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.service",
	fx.Provide(repository.Provide),
	fx.Provide(cache.NewPlanCache),
	fx.Provide(service.NewService),
)
