package storage

import (
	"fmt"

	"bambuwatch/common/config"
	"bambuwatch/common/logger"
	"bambuwatch/server/internal/db"
)

// Open returns the registry backend selected by cfg. File paths resolve
// inside dataDir.
func Open(cfg config.DatabaseConfig, dataDir string) (Registry, error) {
	drv, err := db.ChooseDriverFromConfig(cfg, dataDir)
	if err != nil {
		return nil, err
	}

	switch drv.Kind {
	case db.KindJSON:
		registryLog(logger.INFO, "Using JSON printer registry", "path", drv.DSN)
		return NewJSONRegistry(drv.DSN)
	case db.KindSQLite:
		return NewSQLiteRegistry(drv.DSN)
	case db.KindPostgres:
		return NewPostgresRegistry(drv.DSN)
	default:
		return nil, fmt.Errorf("unsupported registry backend %q", drv.Kind)
	}
}
