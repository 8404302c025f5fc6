package dao

import (
	stderrors "errors"

	"reconpipe/internal/models"
	"reconpipe/pkg/errors"

	"gorm.io/gorm"
)

// ResolutionUpdate carries one host's DNS answer into the store.
type ResolutionUpdate struct {
	Name       string
	Addresses  []string
	CNAME      string
	RawRecords string
	Resolvable bool
}

// Classification carries one host's CDN/WAF verdict.
type Classification struct {
	IsCDN   bool
	CDNName string
	IsWAF   bool
	WAFName string
}

type SubdomainDAO interface {
	GetByID(id uint) (*models.Subdomain, error)
	BySeed(seedID uint, activeOnly bool) ([]models.Subdomain, error)
	ActiveResolvable(seedID uint) ([]models.Subdomain, error)

	// ApplyDiscovery commits one enumerator run as a single diff: new hosts
	// inserted active, reappearing hosts reactivated with sources unioned,
	// missing hosts deactivated. Returns the count of newly added hosts.
	ApplyDiscovery(seedID uint, hostSources map[string][]string, scanID string) (int, error)

	// ApplyResolution upserts IPs, links them, stores raw records, and
	// recomputes resolvability. Hosts named in unresolved are explicitly
	// marked unresolvable.
	ApplyResolution(seedID uint, updates []ResolutionUpdate, unresolved []string, scanID string) error

	// UpdateClassification writes a CDN/WAF verdict only when it changed.
	// Returns whether a write happened.
	UpdateClassification(id uint, c Classification, scanID string) (bool, error)

	// SeedsWithoutScan returns seed ids that still have active subdomains
	// but no scan record for the given seed-level tool, newest first.
	SeedsWithoutScan(tool string, limit int, resolvableOnly bool) ([]uint, error)
}

type subdomainDAO struct {
	db *gorm.DB
}

func NewSubdomainDAO(db *gorm.DB) SubdomainDAO {
	return &subdomainDAO{db: db}
}

func (dao *subdomainDAO) GetByID(id uint) (*models.Subdomain, error) {
	var sub models.Subdomain
	if err := dao.db.Preload("IPs").First(&sub, id).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (dao *subdomainDAO) BySeed(seedID uint, activeOnly bool) ([]models.Subdomain, error) {
	q := dao.db.Where("seed_id = ?", seedID)
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var subs []models.Subdomain
	err := q.Find(&subs).Error
	return subs, err
}

func (dao *subdomainDAO) ActiveResolvable(seedID uint) ([]models.Subdomain, error) {
	var subs []models.Subdomain
	err := dao.db.
		Where("seed_id = ? AND active = ? AND is_resolvable = ?", seedID, true, true).
		Find(&subs).Error
	return subs, err
}

func (dao *subdomainDAO) ApplyDiscovery(seedID uint, hostSources map[string][]string, scanID string) (int, error) {
	var added int

	err := dao.db.Transaction(func(tx *gorm.DB) error {
		var known []models.Subdomain
		if err := tx.Where("seed_id = ?", seedID).Find(&known).Error; err != nil {
			return err
		}

		knownByName := make(map[string]*models.Subdomain, len(known))
		for i := range known {
			knownByName[known[i].Name] = &known[i]
		}

		for host, sources := range hostSources {
			existing, ok := knownByName[host]
			if !ok {
				sub := models.Subdomain{
					SeedID:       seedID,
					Name:         host,
					Active:       true,
					Sources:      encodeJSON(sources),
					LastScanType: "discovery",
					LastScanID:   scanID,
				}
				if err := tx.Create(&sub).Error; err != nil {
					return err
				}
				added++
				continue
			}

			merged := unionStrings(decodeStringList(existing.Sources), sources)
			if err := tx.Model(existing).Updates(map[string]interface{}{
				"active":         true,
				"sources":        encodeJSON(merged),
				"last_scan_type": "discovery",
				"last_scan_id":   scanID,
			}).Error; err != nil {
				return err
			}
		}

		// Soft tombstone for hosts this run no longer sees.
		for name, sub := range knownByName {
			if _, seen := hostSources[name]; seen {
				continue
			}
			if !sub.Active {
				continue
			}
			if err := tx.Model(sub).Update("active", false).Error; err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func (dao *subdomainDAO) ApplyResolution(seedID uint, updates []ResolutionUpdate, unresolved []string, scanID string) error {
	return dao.db.Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			var sub models.Subdomain
			err := tx.Where("seed_id = ? AND name = ?", seedID, u.Name).First(&sub).Error
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			for _, addr := range u.Addresses {
				ip, err := upsertIP(tx, addr)
				if err != nil {
					return err
				}
				if err := tx.Model(&sub).Association("IPs").Append(ip); err != nil {
					return err
				}
			}

			resolvable := u.Resolvable
			if err := tx.Model(&sub).Updates(map[string]interface{}{
				"is_resolvable":  resolvable,
				"dns_records":    u.RawRecords,
				"cname":          u.CNAME,
				"last_scan_type": "resolution",
				"last_scan_id":   scanID,
			}).Error; err != nil {
				return err
			}
		}

		// Absence from resolver output is a result, not a gap.
		if len(unresolved) > 0 {
			if err := tx.Model(&models.Subdomain{}).
				Where("seed_id = ? AND name IN ?", seedID, unresolved).
				Updates(map[string]interface{}{
					"is_resolvable":  false,
					"last_scan_type": "resolution",
					"last_scan_id":   scanID,
				}).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

func (dao *subdomainDAO) UpdateClassification(id uint, c Classification, scanID string) (bool, error) {
	var sub models.Subdomain
	if err := dao.db.First(&sub, id).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return false, errors.ErrNotFound
		}
		return false, err
	}

	if sub.IsCDN == c.IsCDN && sub.CDNName == c.CDNName &&
		sub.IsWAF == c.IsWAF && sub.WAFName == c.WAFName {
		return false, nil
	}

	err := dao.db.Model(&sub).Updates(map[string]interface{}{
		"is_cdn":         c.IsCDN,
		"cdn_name":       c.CDNName,
		"is_waf":         c.IsWAF,
		"waf_name":       c.WAFName,
		"last_scan_type": "classification",
		"last_scan_id":   scanID,
	}).Error
	if err != nil {
		return false, err
	}
	return true, nil
}

func (dao *subdomainDAO) SeedsWithoutScan(tool string, limit int, resolvableOnly bool) ([]uint, error) {
	q := dao.db.Model(&models.Subdomain{}).
		Select("seed_id").
		Where("active = ?", true).
		Where("NOT EXISTS (SELECT 1 FROM scan_records WHERE scan_records.target_kind = ? AND scan_records.target_id = subdomains.seed_id AND scan_records.tool = ?)",
			models.KindSeed, tool)
	if resolvableOnly {
		q = q.Where("is_resolvable = ?", true)
	}

	var seedIDs []uint
	err := q.Group("seed_id").
		Order("MAX(subdomains.created_at) DESC").
		Limit(limit).
		Scan(&seedIDs).Error
	return seedIDs, err
}
