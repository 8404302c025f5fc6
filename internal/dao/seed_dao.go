package dao

import (
	stderrors "errors"

	"reconpipe/internal/models"
	"reconpipe/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SeedDAO interface {
	CreateTarget(target *models.Target) error
	GetTarget(id uint) (*models.Target, error)
	ListTargets() ([]models.Target, error)
	CreateSeed(seed *models.Seed) error
	GetSeed(id uint) (*models.Seed, error)
}

type seedDAO struct {
	db *gorm.DB
}

func NewSeedDAO(db *gorm.DB) SeedDAO {
	return &seedDAO{db: db}
}

func (dao *seedDAO) CreateTarget(target *models.Target) error {
	return dao.db.Create(target).Error
}

func (dao *seedDAO) GetTarget(id uint) (*models.Target, error) {
	var target models.Target
	if err := dao.db.Preload("Seeds").First(&target, id).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrNotFound
		}
		return nil, err
	}
	return &target, nil
}

func (dao *seedDAO) ListTargets() ([]models.Target, error) {
	var targets []models.Target
	err := dao.db.Preload("Seeds").Order("created_at desc").Find(&targets).Error
	return targets, err
}

func (dao *seedDAO) CreateSeed(seed *models.Seed) error {
	return dao.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "target_id"}, {Name: "value"}},
		DoUpdates: clause.AssignmentColumns([]string{"active", "type"}),
	}).Create(seed).Error
}

func (dao *seedDAO) GetSeed(id uint) (*models.Seed, error) {
	var seed models.Seed
	if err := dao.db.First(&seed, id).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrNotFound
		}
		return nil, err
	}
	return &seed, nil
}
