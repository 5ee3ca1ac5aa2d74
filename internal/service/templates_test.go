package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/nebari-dev/canvas-templates/internal/filestore"
	"github.com/nebari-dev/canvas-templates/internal/models"
	"github.com/nebari-dev/canvas-templates/internal/store"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testSetup wires a TemplateService to a temp SQLite store and an in-memory
// local file backend.
func testSetup(t *testing.T) (*TemplateService, *store.Store, afero.Fs) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(&models.Template{}))

	var mu sync.Mutex
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}
	s := store.FromDB(database, store.WithClock(clock))
	t.Cleanup(func() { s.Close() })

	fs := afero.NewMemMapFs()
	files, err := filestore.NewLocalStore(fs, "/uploads")
	require.NoError(t, err)

	return New(s, files), s, fs
}

func createWithContent(t *testing.T, svc *TemplateService, id, category string) *models.Template {
	t.Helper()
	tpl, err := svc.Create(context.Background(), filestore.Document{
		Metadata: map[string]any{"id": id, "category": category, "fileUrl": id + ".json"},
		Content:  map[string]any{"name": id},
	})
	require.NoError(t, err)
	return tpl
}

func contentNames(docs []filestore.Document) []string {
	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		names = append(names, doc.Content.(map[string]any)["name"].(string))
	}
	return names
}

// failingFiles fails every read.
type failingFiles struct {
	filestore.FileStore
	saves int
}

func (f *failingFiles) SaveFile(ctx context.Context, upload filestore.FileUpload) (string, error) {
	f.saves++
	return "", &filestore.Error{Message: "Failed to save file", Err: errors.New("disk full")}
}

func (f *failingFiles) GetFile(ctx context.Context, fileURL string) (*filestore.Document, error) {
	return nil, &filestore.Error{Message: "Failed to read template content", Err: errors.New("timeout")}
}

func TestCreate_SavesContentAndRecordsLocation(t *testing.T) {
	svc, _, fs := testSetup(t)
	ctx := context.Background()

	tpl := createWithContent(t, svc, "t1", "flyer")

	assert.Equal(t, "/uploads/flyer_t1.json", tpl.FileURL)
	assert.False(t, tpl.CreatedAt.IsZero())

	exists, err := afero.Exists(fs, "/uploads/flyer_t1.json")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := svc.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, tpl.FileURL, got.FileURL)

	docs, err := svc.Contents(ctx, []string{"t1"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	// The stored document keeps the fileUrl the client supplied.
	assert.Equal(t, "t1.json", docs[0].Metadata["fileUrl"])
}

func TestCreate_WithoutFileURLFailsBeforeInsert(t *testing.T) {
	svc, s, _ := testSetup(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, filestore.Document{
		Metadata: map[string]any{"id": "t1", "category": "flyer"},
		Content:  "x",
	})
	assert.ErrorIs(t, err, filestore.ErrInvalidDocument)

	_, err = s.GetTemplate(ctx, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreate_InvalidMetadata(t *testing.T) {
	svc, _, fs := testSetup(t)

	_, err := svc.Create(context.Background(), filestore.Document{
		Metadata: map[string]any{"id": []any{"a"}, "category": "flyer", "fileUrl": "x.json"},
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "id")

	entries, _ := afero.ReadDir(fs, "/uploads")
	assert.Empty(t, entries, "nothing is written for invalid metadata")
}

func TestCreate_NonStringCategoryKeptVerbatim(t *testing.T) {
	svc, s, _ := testSetup(t)
	ctx := context.Background()

	tpl, err := svc.Create(ctx, filestore.Document{
		Metadata: map[string]any{"id": "n1", "category": 42.0, "fileUrl": "n1.json"},
		Content:  "body",
	})
	require.NoError(t, err)
	assert.Empty(t, tpl.Category)
	assert.Equal(t, 42.0, tpl.Fields["category"])
	assert.Equal(t, "/uploads/_n1.json", tpl.FileURL)

	got, err := s.GetTemplate(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, tpl.Fields, got.Fields)
}

func TestContents_OmitsTemplatesWithoutFileURL(t *testing.T) {
	svc, s, _ := testSetup(t)
	ctx := context.Background()

	_, err := s.AddTemplate(ctx, &models.Template{ID: "a", Category: "flyer"})
	require.NoError(t, err)
	createWithContent(t, svc, "b", "flyer")

	for _, ids := range [][]string{{"a", "b"}, {"b", "a"}} {
		docs, err := svc.Contents(ctx, ids)
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, contentNames(docs), "ids %v", ids)
	}
}

func TestContents_PreservesRequestOrderAndSkipsUnknown(t *testing.T) {
	svc, _, _ := testSetup(t)
	ctx := context.Background()

	for _, id := range []string{"one", "two", "three"} {
		createWithContent(t, svc, id, "c")
	}

	docs, err := svc.Contents(ctx, []string{"three", "ghost", "one", "two"})
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "one", "two"}, contentNames(docs))
}

func TestContents_MetadataOnlyTemplateReturnsEmpty(t *testing.T) {
	svc, s, _ := testSetup(t)
	ctx := context.Background()

	tpl, err := s.AddTemplate(ctx, &models.Template{Category: "flyer"})
	require.NoError(t, err)

	docs, err := svc.Contents(ctx, []string{tpl.ID})
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestContents_MissingContentObjectFailsWholeRequest(t *testing.T) {
	svc, s, _ := testSetup(t)
	ctx := context.Background()

	createWithContent(t, svc, "ok", "c")
	_, err := s.AddTemplate(ctx, &models.Template{ID: "dangling", FileURL: "/uploads/gone.json"})
	require.NoError(t, err)

	docs, err := svc.Contents(ctx, []string{"ok", "dangling"})
	assert.Nil(t, docs)
	assert.ErrorIs(t, err, filestore.ErrNotExist)
}

func TestAllContents_MostRecentlyUpdatedFirst(t *testing.T) {
	svc, s, _ := testSetup(t)
	ctx := context.Background()

	createWithContent(t, svc, "t1", "c")
	createWithContent(t, svc, "t2", "c")
	_, err := s.AddTemplate(ctx, &models.Template{ID: "bare"})
	require.NoError(t, err)
	createWithContent(t, svc, "t3", "c")

	docs, err := svc.AllContents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t3", "t2", "t1"}, contentNames(docs))
}

func TestAllContents_BackendFailureAborts(t *testing.T) {
	_, s, _ := testSetup(t)
	ctx := context.Background()

	_, err := s.AddTemplate(ctx, &models.Template{ID: "t1", FileURL: "/uploads/t1.json"})
	require.NoError(t, err)

	svc := New(s, &failingFiles{})
	_, err = svc.AllContents(ctx)
	require.Error(t, err)
	assert.Equal(t, "Failed to read template content", err.Error())
}

func TestUpdate_WithUploadSetsFileURL(t *testing.T) {
	svc, s, fs := testSetup(t)
	ctx := context.Background()

	_, err := s.AddTemplate(ctx, &models.Template{ID: "t1", Category: "flyer"})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, "t1", map[string]any{"title": "new"}, &filestore.FileUpload{
		Filename: "art.png",
		Body:     strings.NewReader("png"),
	})
	require.NoError(t, err)
	require.NotNil(t, updated)

	assert.True(t, strings.HasPrefix(updated.FileURL, "/uploads/"))
	assert.True(t, strings.HasSuffix(updated.FileURL, "-art.png"))
	assert.Equal(t, "new", updated.Fields["title"])
	assert.Equal(t, "flyer", updated.Category)

	exists, _ := afero.Exists(fs, filepath.Join("/uploads", filepath.Base(updated.FileURL)))
	assert.True(t, exists)
}

func TestUpdate_UploadFailureSkipsMetadataUpdate(t *testing.T) {
	_, s, _ := testSetup(t)
	ctx := context.Background()

	added, err := s.AddTemplate(ctx, &models.Template{ID: "t1"})
	require.NoError(t, err)

	files := &failingFiles{}
	svc := New(s, files)
	_, err = svc.Update(ctx, "t1", map[string]any{"title": "x"}, &filestore.FileUpload{Filename: "a.png", Body: strings.NewReader("")})
	require.Error(t, err)
	assert.Equal(t, 1, files.saves)

	stored, err := s.GetTemplate(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, stored.UpdatedAt.Equal(added.UpdatedAt))
}

func TestUpdate_MissingTemplate(t *testing.T) {
	svc, _, _ := testSetup(t)

	updated, err := svc.Update(context.Background(), "missing", nil, nil)
	assert.NoError(t, err)
	assert.Nil(t, updated)
}

func TestDelete_LeavesContentObject(t *testing.T) {
	svc, _, fs := testSetup(t)
	ctx := context.Background()

	tpl := createWithContent(t, svc, "t1", "flyer")
	require.NoError(t, svc.Delete(ctx, "t1"))

	_, err := svc.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := afero.Exists(fs, tpl.FileURL)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDelete_MissingTemplate(t *testing.T) {
	svc, _, _ := testSetup(t)

	err := svc.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByCategory(t *testing.T) {
	svc, _, _ := testSetup(t)
	ctx := context.Background()

	createWithContent(t, svc, "f1", "flyer")
	createWithContent(t, svc, "p1", "poster")
	createWithContent(t, svc, "f2", "flyer")

	flyers, err := svc.ListByCategory(ctx, "flyer")
	require.NoError(t, err)
	require.Len(t, flyers, 2)
	assert.Equal(t, "f2", flyers[0].ID)
	assert.Equal(t, "f1", flyers[1].ID)
}
