package service

import (
	"context"
	"errors"

	"github.com/nebari-dev/canvas-templates/internal/filestore"
	"github.com/nebari-dev/canvas-templates/internal/models"
	"github.com/nebari-dev/canvas-templates/internal/store"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentFetches bounds the content fetches issued by one bulk request.
const maxConcurrentFetches = 16

// MetadataStore is the template metadata persistence used by the service.
type MetadataStore interface {
	ListTemplates(ctx context.Context, filter store.Filter, opts store.FindOptions) ([]models.Template, error)
	ListTemplatesByCategory(ctx context.Context, category string) ([]models.Template, error)
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	AddTemplate(ctx context.Context, tpl *models.Template) (*models.Template, error)
	UpdateTemplate(ctx context.Context, id string, updates map[string]any) (*models.Template, error)
	DeleteTemplate(ctx context.Context, id string) error
}

// TemplateService keeps template metadata and content objects linked through
// fileUrl.
type TemplateService struct {
	store MetadataStore
	files filestore.FileStore
}

// New creates a new TemplateService.
func New(s MetadataStore, files filestore.FileStore) *TemplateService {
	return &TemplateService{store: s, files: files}
}

// Create saves doc as a content object, records its location as the
// metadata's fileUrl and inserts the metadata. doc.Metadata must already carry
// a fileUrl; the saved location replaces it.
func (s *TemplateService) Create(ctx context.Context, doc filestore.Document) (*models.Template, error) {
	tpl, err := models.FromMap(doc.Metadata)
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	location, err := s.files.SaveJSON(ctx, doc)
	if err != nil {
		return nil, err
	}
	tpl.SetFileURL(location)

	return s.store.AddTemplate(ctx, tpl)
}

// List returns every template, most recently updated first.
func (s *TemplateService) List(ctx context.Context) ([]models.Template, error) {
	return s.store.ListTemplates(ctx, store.Filter{}, store.FindOptions{})
}

// Get returns a single template by id.
func (s *TemplateService) Get(ctx context.Context, id string) (*models.Template, error) {
	return s.store.GetTemplate(ctx, id)
}

// ListByCategory returns the templates in category.
func (s *TemplateService) ListByCategory(ctx context.Context, category string) ([]models.Template, error) {
	return s.store.ListTemplatesByCategory(ctx, category)
}

// Contents returns the content objects of the given templates in id order.
// Unknown ids and templates without a fileUrl are omitted. Any other failure
// fails the whole call.
func (s *TemplateService) Contents(ctx context.Context, ids []string) ([]filestore.Document, error) {
	results := make([]*filestore.Document, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, id := range ids {
		g.Go(func() error {
			tpl, err := s.store.GetTemplate(gctx, id)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return nil
				}
				return err
			}
			doc, err := s.content(gctx, tpl)
			results[i] = doc
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return compact(results), nil
}

// AllContents returns the content object of every template that has one,
// most recently updated first.
func (s *TemplateService) AllContents(ctx context.Context) ([]filestore.Document, error) {
	templates, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]*filestore.Document, len(templates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i := range templates {
		g.Go(func() error {
			doc, err := s.content(gctx, &templates[i])
			results[i] = doc
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return compact(results), nil
}

// Update merges updates into the template. When upload is set it is saved
// first and its reference becomes the new fileUrl. A missing template yields
// (nil, nil).
func (s *TemplateService) Update(ctx context.Context, id string, updates map[string]any, upload *filestore.FileUpload) (*models.Template, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	if upload != nil {
		ref, err := s.files.SaveFile(ctx, *upload)
		if err != nil {
			return nil, err
		}
		updates[models.KeyFileURL] = ref
	}
	return s.store.UpdateTemplate(ctx, id, updates)
}

// Delete removes the template. Its content object is left in place.
func (s *TemplateService) Delete(ctx context.Context, id string) error {
	return s.store.DeleteTemplate(ctx, id)
}

func (s *TemplateService) content(ctx context.Context, tpl *models.Template) (*filestore.Document, error) {
	if tpl == nil || tpl.FileURL == "" {
		return nil, nil
	}
	return s.files.GetFile(ctx, tpl.FileURL)
}

func compact(docs []*filestore.Document) []filestore.Document {
	out := make([]filestore.Document, 0, len(docs))
	for _, doc := range docs {
		if doc != nil {
			out = append(out, *doc)
		}
	}
	return out
}
