package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/scrapewatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SiteRepository handles target site records.
type SiteRepository struct {
	db *gorm.DB
}

// NewSiteRepository creates a new SiteRepository.
func NewSiteRepository(db *gorm.DB) *SiteRepository {
	return &SiteRepository{db: db}
}

// FindOrCreate returns the site with the given URL, creating it if needed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - url: normalized site URL.
// Returns:
//   - *domain.Site: existing or newly created site.
//   - error: non-nil if the lookup or insert fails.
func (r *SiteRepository) FindOrCreate(ctx context.Context, url string) (*domain.Site, error) {
	site := &domain.Site{ID: uuid.NewString(), URL: url, CreatedAt: time.Now().UTC()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		DoNothing: true,
	}).Create(site).Error
	if err != nil {
		return nil, err
	}

	var existing domain.Site
	if err := r.db.WithContext(ctx).First(&existing, "url = ?", url).Error; err != nil {
		return nil, translate(err)
	}
	return &existing, nil
}

// SetTitle updates the page title of a site.
func (r *SiteRepository) SetTitle(ctx context.Context, id, title string) error {
	return r.db.WithContext(ctx).Model(&domain.Site{}).Where("id = ?", id).Update("title", title).Error
}
