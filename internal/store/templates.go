package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nebari-dev/canvas-templates/internal/models"
	"gorm.io/gorm"
)

// Filter selects templates. Zero-valued fields do not constrain the result.
type Filter struct {
	Category string
}

// FindOptions pages through a listing.
type FindOptions struct {
	Limit int
	Skip  int
}

// ListTemplates returns templates matching filter, most recently updated first.
func (s *Store) ListTemplates(ctx context.Context, filter Filter, opts FindOptions) ([]models.Template, error) {
	return s.list(ctx, filter, opts, "Failed to fetch templates")
}

// ListTemplatesByCategory returns the templates in category, most recently
// updated first.
func (s *Store) ListTemplatesByCategory(ctx context.Context, category string) ([]models.Template, error) {
	return s.list(ctx, Filter{Category: category}, FindOptions{}, "Failed to fetch templates by category")
}

func (s *Store) list(ctx context.Context, filter Filter, opts FindOptions, failure string) ([]models.Template, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	query := conn.Where(&models.Template{Category: filter.Category}).Order("updated_at DESC")
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Skip > 0 {
		query = query.Offset(opts.Skip)
	}

	templates := []models.Template{}
	if err := query.Find(&templates).Error; err != nil {
		slog.Error("Error fetching templates", "category", filter.Category, "error", err)
		return nil, &Error{Message: failure, Err: err}
	}
	return templates, nil
}

// GetTemplate returns the template with the given id, or ErrNotFound.
func (s *Store) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var tpl models.Template
	if err := conn.Where("id = ?", id).First(&tpl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		slog.Error("Error fetching template", "id", id, "error", err)
		return nil, &Error{Message: "Failed to fetch template", Err: err}
	}
	return &tpl, nil
}

// AddTemplate inserts tpl with createdAt and updatedAt set to the current
// time and returns the stored document. A store-generated id is assigned when
// tpl has none.
func (s *Store) AddTemplate(ctx context.Context, tpl *models.Template) (*models.Template, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	doc := *tpl
	if doc.ID == "" {
		doc.ID = s.newID()
	}
	now := s.now()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	if err := conn.Create(&doc).Error; err != nil {
		slog.Error("Error adding template", "id", doc.ID, "error", err)
		return nil, &Error{Message: "Failed to add template", Err: err}
	}
	return &doc, nil
}

// UpdateTemplate merges updates into the stored template, refreshes updatedAt
// and returns the updated document.
//
// When no template has the given id nothing is written and (nil, nil) is
// returned; unlike DeleteTemplate there is no distinct not-found error.
func (s *Store) UpdateTemplate(ctx context.Context, id string, updates map[string]any) (*models.Template, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var updated *models.Template
	err = conn.Transaction(func(tx *gorm.DB) error {
		var tpl models.Template
		if err := tx.Where("id = ?", id).First(&tpl).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		tpl.Apply(updates)
		tpl.UpdatedAt = s.nextUpdate(tpl.UpdatedAt)

		if err := tx.Save(&tpl).Error; err != nil {
			return err
		}
		updated = &tpl
		return nil
	})
	if err != nil {
		slog.Error("Error updating template", "id", id, "error", err)
		return nil, &Error{Message: "Failed to update template", Err: err}
	}
	return updated, nil
}

// DeleteTemplate removes the template with the given id. A missing template is
// reported as an Error wrapping ErrNotFound.
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}

	result := conn.Where("id = ?", id).Delete(&models.Template{})
	if result.Error != nil {
		slog.Error("Error deleting template", "id", id, "error", result.Error)
		return &Error{Message: "Failed to delete template", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		slog.Error("Error deleting template", "id", id, "error", ErrNotFound)
		return &Error{Message: "Failed to delete template", Err: ErrNotFound}
	}
	return nil
}

// nextUpdate returns the current time, moved past prev when the clock has not
// advanced since the last write.
func (s *Store) nextUpdate(prev time.Time) time.Time {
	now := s.now()
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}
