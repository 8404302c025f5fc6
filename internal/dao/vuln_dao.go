package dao

import (
	"reconpipe/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type VulnDAO interface {
	// Upsert writes one finding keyed by its content fingerprint, so
	// replayed scan lines never duplicate. Reports whether the finding is
	// new.
	Upsert(v *models.Vulnerability) (bool, error)
	ListBySeverity(severity string, limit int) ([]models.Vulnerability, error)
}

type vulnDAO struct {
	db *gorm.DB
}

func NewVulnDAO(db *gorm.DB) VulnDAO {
	return &vulnDAO{db: db}
}

func (dao *vulnDAO) Upsert(v *models.Vulnerability) (bool, error) {
	var existing int64
	if err := dao.db.Model(&models.Vulnerability{}).
		Where("fingerprint = ?", v.Fingerprint).
		Count(&existing).Error; err != nil {
		return false, err
	}

	err := dao.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "fingerprint"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "severity", "extracted_results", "request", "response", "scan_id",
		}),
	}).Create(v).Error
	if err != nil {
		return false, err
	}
	return existing == 0, nil
}

func (dao *vulnDAO) ListBySeverity(severity string, limit int) ([]models.Vulnerability, error) {
	var vulns []models.Vulnerability
	q := dao.db.Order("created_at desc").Limit(limit)
	if severity != "" {
		q = q.Where("severity = ?", severity)
	}
	err := q.Find(&vulns).Error
	return vulns, err
}
