package session

import (
	"github.com/smallbiznis/captiva/internal/session/repository"
	"github.com/smallbiznis/captiva/internal/session/service"
	"go.uber.org/fx"
)

var Module = fx.Module("session.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
