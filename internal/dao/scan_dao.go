// Package dao provides the query layer over the asset graph.
package dao

import (
	stderrors "errors"
	"time"

	"reconpipe/internal/models"
	"reconpipe/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ScanDAO interface {
	// CreateIfNoActive creates a PENDING scan record unless an active one
	// already exists for the same target+tool.
	CreateIfNoActive(target models.TargetRef, tool string) (*models.ScanRecord, error)
	MarkRunning(uuid string) error
	Complete(uuid string, itemsFound int, rawOutput string) error
	Fail(uuid string, message string) error
	GetByUUID(uuid string) (*models.ScanRecord, error)
	ActiveScanExists(target models.TargetRef, tool string) (bool, error)
	ListByTarget(target models.TargetRef) ([]models.ScanRecord, error)
}

type scanDAO struct {
	db *gorm.DB
}

func NewScanDAO(db *gorm.DB) ScanDAO {
	return &scanDAO{db: db}
}

func (dao *scanDAO) CreateIfNoActive(target models.TargetRef, tool string) (*models.ScanRecord, error) {
	scan := &models.ScanRecord{
		UUID:   uuid.NewString(),
		Target: target,
		Tool:   tool,
		Status: models.ScanPending,
	}

	err := dao.db.Transaction(func(tx *gorm.DB) error {
		// Lock the matching rows, not an aggregate: Postgres rejects
		// FOR UPDATE combined with count(*).
		var active []models.ScanRecord
		if err := activeScans(tx, target, tool).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Find(&active).Error; err != nil {
			return err
		}
		if len(active) > 0 {
			return errors.NewDuplicateActiveScanError(tool, string(target.Kind), itoa(target.ID))
		}
		return tx.Create(scan).Error
	})
	if err != nil {
		return nil, err
	}
	return scan, nil
}

func (dao *scanDAO) MarkRunning(id string) error {
	now := time.Now().UTC()
	return dao.db.Model(&models.ScanRecord{}).
		Where("uuid = ? AND status = ?", id, models.ScanPending).
		Updates(map[string]interface{}{
			"status":     models.ScanRunning,
			"started_at": now,
		}).Error
}

func (dao *scanDAO) Complete(id string, itemsFound int, rawOutput string) error {
	return dao.finalize(id, models.ScanCompleted, map[string]interface{}{
		"items_found": itemsFound,
		"raw_output":  rawOutput,
	})
}

func (dao *scanDAO) Fail(id string, message string) error {
	return dao.finalize(id, models.ScanFailed, map[string]interface{}{
		"error_message": message,
	})
}

// finalize locks the scan row before writing the terminal state so two
// completions cannot race.
func (dao *scanDAO) finalize(id string, status models.ScanStatus, extra map[string]interface{}) error {
	return dao.db.Transaction(func(tx *gorm.DB) error {
		var scan models.ScanRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("uuid = ?", id).
			First(&scan).Error; err != nil {
			return err
		}
		if scan.Terminal() {
			return nil
		}

		// Terminal states are only reachable from RUNNING. A scan that
		// dies before a worker picks it up gets the transition stamped
		// here.
		if scan.Status == models.ScanPending {
			if err := tx.Model(&scan).Updates(map[string]interface{}{
				"status":     models.ScanRunning,
				"started_at": time.Now().UTC(),
			}).Error; err != nil {
				return err
			}
		}

		updates := map[string]interface{}{
			"status":       status,
			"completed_at": time.Now().UTC(),
		}
		for k, v := range extra {
			updates[k] = v
		}
		return tx.Model(&scan).Updates(updates).Error
	})
}

func (dao *scanDAO) GetByUUID(id string) (*models.ScanRecord, error) {
	var scan models.ScanRecord
	if err := dao.db.Where("uuid = ?", id).First(&scan).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrNotFound
		}
		return nil, err
	}
	return &scan, nil
}

func (dao *scanDAO) ActiveScanExists(target models.TargetRef, tool string) (bool, error) {
	var count int64
	err := activeScans(dao.db, target, tool).Count(&count).Error
	return count > 0, err
}

// activeScans filters to the PENDING and RUNNING records for one target+tool.
func activeScans(db *gorm.DB, target models.TargetRef, tool string) *gorm.DB {
	return db.Model(&models.ScanRecord{}).
		Where("target_kind = ? AND target_id = ? AND tool = ? AND status IN ?",
			target.Kind, target.ID, tool,
			[]models.ScanStatus{models.ScanPending, models.ScanRunning})
}

func (dao *scanDAO) ListByTarget(target models.TargetRef) ([]models.ScanRecord, error) {
	var scans []models.ScanRecord
	err := dao.db.
		Where("target_kind = ? AND target_id = ?", target.Kind, target.ID).
		Order("created_at desc").
		Find(&scans).Error
	return scans, err
}
