package dao

import (
	"fmt"

	"reconpipe/internal/models"

	"gorm.io/gorm"
)

// TargetLookup answers whether a polymorphic scan target exists at all,
// without loading it.
type TargetLookup interface {
	TargetExists(kind models.TargetKind, id uint) (bool, error)
}

type targetLookup struct {
	db *gorm.DB
}

func NewTargetLookup(db *gorm.DB) TargetLookup {
	return &targetLookup{db: db}
}

func (l *targetLookup) TargetExists(kind models.TargetKind, id uint) (bool, error) {
	var model interface{}
	switch kind {
	case models.KindSeed:
		model = &models.Seed{}
	case models.KindSubdomain:
		model = &models.Subdomain{}
	case models.KindIP:
		model = &models.IP{}
	case models.KindURL:
		model = &models.URLResult{}
	default:
		return false, fmt.Errorf("unknown target kind %q", kind)
	}

	var count int64
	if err := l.db.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
