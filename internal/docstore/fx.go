package docstore

import (
	"github.com/smallbiznis/gigledger/internal/docstore/domain"
	"github.com/smallbiznis/gigledger/internal/docstore/memory"
	"github.com/smallbiznis/gigledger/internal/docstore/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("docstore",
	fx.Provide(NewStore),
)

type Params struct {
	fx.In

	DB  *gorm.DB `optional:"true"`
	Log *zap.Logger
}

// NewStore picks the gorm-backed store when a database handle exists and the
// in-memory store otherwise.
func NewStore(p Params) domain.Store {
	if p.DB == nil {
		p.Log.Named("docstore").Warn("docstore.memory", zap.String("reason", "no database handle"))
		return memory.New()
	}
	return repository.NewGormStore(p.DB)
}
