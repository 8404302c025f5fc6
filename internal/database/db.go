package database

import (
	"fmt"

	"reconpipe/internal/config"
	"reconpipe/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Init opens the Postgres connection and migrates the asset graph schema.
func Init(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Target{},
		&models.Seed{},
		&models.Subdomain{},
		&models.IP{},
		&models.Port{},
		&models.URLResult{},
		&models.Form{},
		&models.Link{},
		&models.ScriptRef{},
		&models.HTMLComment{},
		&models.MetaTag{},
		&models.Iframe{},
		&models.AnalysisFinding{},
		&models.Vulnerability{},
		&models.ScanRecord{},
	); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return db, nil
}
