package marketplace

import (
	"github.com/smallbiznis/gigledger/internal/marketplace/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("marketplace",
	fx.Provide(repository.New),
)
