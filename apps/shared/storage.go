package shared

import (
	"github.com/pkg/errors"

	"github.com/trezcool/tabula/core"
	"github.com/trezcool/tabula/core/dataset"
	"github.com/trezcool/tabula/core/upload"
	"github.com/trezcool/tabula/storage/database"
	inmemdb "github.com/trezcool/tabula/storage/database/inmem"
	"github.com/trezcool/tabula/storage/database/sqlxrepos"
)

const (
	EnginePostgres = "postgres"
	EngineMemory   = "memory"
)

// Stores groups the repositories of the configured database engine.
type Stores struct {
	Sessions upload.Repository
	Rows     dataset.Repository
	DB       core.Pinger
	close    func() error
}

func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStores connects to the configured database engine.
// With postgres, the database is created if needed and migrated when migrate is set.
func OpenStores(conf *core.Config, migrate bool) (*Stores, error) {
	switch conf.Database.Engine {
	case EngineMemory:
		db := inmemdb.Open()
		return &Stores{
			Sessions: inmemdb.NewUploadRepository(db),
			Rows:     inmemdb.NewDatasetRepository(db),
			DB:       db,
		}, nil

	case EnginePostgres, "":
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, errors.Wrap(err, "creating database")
		}
		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err = database.Migrate(db); err != nil {
				_ = db.Close()
				return nil, errors.Wrap(err, "migrating database")
			}
		}
		return &Stores{
			Sessions: sqlxrepos.NewUploadRepository(db),
			Rows:     sqlxrepos.NewDatasetRepository(db),
			DB:       db,
			close:    db.Close,
		}, nil

	default:
		return nil, errors.Errorf("unknown database engine %q", conf.Database.Engine)
	}
}
