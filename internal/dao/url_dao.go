package dao

import (
	stderrors "errors"

	"reconpipe/internal/models"
	"reconpipe/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// URLChildren groups everything replaced wholesale when a URL is
// re-analyzed.
type URLChildren struct {
	Forms    []models.Form
	Links    []models.Link
	Scripts  []models.ScriptRef
	Comments []models.HTMLComment
	MetaTags []models.MetaTag
	Iframes  []models.Iframe
	Findings []models.AnalysisFinding
}

type URLDAO interface {
	GetByID(id uint) (*models.URLResult, error)

	// Upsert creates the URL row if absent and links it to the subdomain.
	// Reports whether the row is new.
	Upsert(url string, subdomainID uint) (*models.URLResult, bool, error)

	Save(result *models.URLResult) error

	// ReplaceChildren deletes and re-inserts all child records for the URL
	// in one transaction. Re-analysis is the unit of freshness.
	ReplaceChildren(urlID uint, children URLChildren) error

	// PendingFetch returns URLs never fetched, newest first.
	PendingFetch(limit int) ([]models.URLResult, error)
}

type urlDAO struct {
	db *gorm.DB
}

func NewURLDAO(db *gorm.DB) URLDAO {
	return &urlDAO{db: db}
}

func (dao *urlDAO) GetByID(id uint) (*models.URLResult, error) {
	var result models.URLResult
	if err := dao.db.First(&result, id).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

func (dao *urlDAO) Upsert(url string, subdomainID uint) (*models.URLResult, bool, error) {
	result := models.URLResult{
		URL:                url,
		ContentFetchStatus: models.FetchPending,
	}

	created := false
	err := dao.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "url"}},
			DoNothing: true,
		}).Create(&result).Error; err != nil {
			return err
		}
		if result.ID == 0 {
			if err := tx.Where("url = ?", url).First(&result).Error; err != nil {
				return err
			}
		} else {
			created = true
		}

		if subdomainID != 0 {
			sub := models.Subdomain{ID: subdomainID}
			if err := tx.Model(&result).Association("Subdomains").Append(&sub); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &result, created, nil
}

func (dao *urlDAO) Save(result *models.URLResult) error {
	return dao.db.Save(result).Error
}

func (dao *urlDAO) ReplaceChildren(urlID uint, children URLChildren) error {
	return dao.db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{
			&models.Form{}, &models.Link{}, &models.ScriptRef{},
			&models.HTMLComment{}, &models.MetaTag{}, &models.Iframe{},
			&models.AnalysisFinding{},
		} {
			if err := tx.Where("url_result_id = ?", urlID).Delete(model).Error; err != nil {
				return err
			}
		}

		for i := range children.Forms {
			children.Forms[i].URLResultID = urlID
		}
		for i := range children.Links {
			children.Links[i].URLResultID = urlID
		}
		for i := range children.Scripts {
			children.Scripts[i].URLResultID = urlID
		}
		for i := range children.Comments {
			children.Comments[i].URLResultID = urlID
		}
		for i := range children.MetaTags {
			children.MetaTags[i].URLResultID = urlID
		}
		for i := range children.Iframes {
			children.Iframes[i].URLResultID = urlID
		}
		for i := range children.Findings {
			children.Findings[i].URLResultID = urlID
		}

		batches := []struct {
			count int
			value interface{}
		}{
			{len(children.Forms), &children.Forms},
			{len(children.Links), &children.Links},
			{len(children.Scripts), &children.Scripts},
			{len(children.Comments), &children.Comments},
			{len(children.MetaTags), &children.MetaTags},
			{len(children.Iframes), &children.Iframes},
			{len(children.Findings), &children.Findings},
		}
		for _, b := range batches {
			if b.count == 0 {
				continue
			}
			if err := tx.Create(b.value).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (dao *urlDAO) PendingFetch(limit int) ([]models.URLResult, error) {
	var results []models.URLResult
	err := dao.db.
		Where("content_fetch_status = ?", models.FetchPending).
		Order("created_at desc").
		Limit(limit).
		Find(&results).Error
	return results, err
}
