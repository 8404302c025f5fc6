package dao

import (
	stderrors "errors"
	"strings"

	"reconpipe/internal/models"
	"reconpipe/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type IPDAO interface {
	GetByID(id uint) (*models.IP, error)
	Upsert(address string) (*models.IP, error)

	// ReplacePorts commits one port-scan result atomically: every parsed
	// port upserted by (ip, number, protocol), all within one transaction.
	ReplacePorts(ipID uint, ports []models.Port, scanID string) error

	// WithoutScan returns IPs with no scan record for the given tool,
	// newest first.
	WithoutScan(tool string, limit int) ([]models.IP, error)
}

type ipDAO struct {
	db *gorm.DB
}

func NewIPDAO(db *gorm.DB) IPDAO {
	return &ipDAO{db: db}
}

func (dao *ipDAO) GetByID(id uint) (*models.IP, error) {
	var ip models.IP
	if err := dao.db.Preload("Ports").First(&ip, id).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrNotFound
		}
		return nil, err
	}
	return &ip, nil
}

func (dao *ipDAO) Upsert(address string) (*models.IP, error) {
	return upsertIP(dao.db, address)
}

func upsertIP(tx *gorm.DB, address string) (*models.IP, error) {
	ip := models.IP{
		Address: address,
		Version: ipVersion(address),
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoNothing: true,
	}).Create(&ip).Error; err != nil {
		return nil, err
	}
	// DoNothing leaves ID zero on conflict; reload by natural key.
	if ip.ID == 0 {
		if err := tx.Where("address = ?", address).First(&ip).Error; err != nil {
			return nil, err
		}
	}
	return &ip, nil
}

func ipVersion(address string) int {
	if strings.Contains(address, ":") {
		return 6
	}
	return 4
}

func (dao *ipDAO) ReplacePorts(ipID uint, ports []models.Port, scanID string) error {
	return dao.db.Transaction(func(tx *gorm.DB) error {
		for i := range ports {
			ports[i].IPID = ipID
			ports[i].LastScanID = scanID
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "ip_id"}, {Name: "number"}, {Name: "protocol"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"state", "service_name", "service_version", "last_scan_id",
				}),
			}).Create(&ports[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (dao *ipDAO) WithoutScan(tool string, limit int) ([]models.IP, error) {
	var ips []models.IP
	err := dao.db.Model(&models.IP{}).
		Where("NOT EXISTS (SELECT 1 FROM scan_records WHERE scan_records.target_kind = ? AND scan_records.target_id = ips.id AND scan_records.tool = ?)",
			models.KindIP, tool).
		Order("created_at desc").
		Limit(limit).
		Find(&ips).Error
	return ips, err
}
