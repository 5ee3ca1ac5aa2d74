package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JSON keys that map onto Template columns. Every other key of a template
// document is kept in Fields.
const (
	KeyID        = "id"
	KeyLegacyID  = "_id"
	KeyCategory  = "category"
	KeyFileURL   = "fileUrl"
	KeyCreatedAt = "createdAt"
	KeyUpdatedAt = "updatedAt"
)

// Template is a metadata record describing a reusable content item. On the
// wire it is a single flat JSON object: the columns below plus whatever
// additional fields the caller supplied.
//
// Category and FileURL hold non-empty string values only. Any other value
// given for those keys (an empty string, null, a number) is kept verbatim in
// Fields so it is echoed back unchanged; such a template has no queryable
// category and no content reference.
type Template struct {
	ID        string            `gorm:"primaryKey;size:191"`
	Category  string            `gorm:"index;size:191"`
	FileURL   string            `gorm:"column:file_url"`
	Fields    datatypes.JSONMap `gorm:"column:fields"`
	CreatedAt time.Time         `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time         `gorm:"index;autoUpdateTime:false"`
}

// TableName pins the table name used by every driver.
func (Template) TableName() string { return "templates" }

// FieldError reports a template document value that cannot be stored.
type FieldError struct {
	Key string
	Got any
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("template %s must be a string or number, got %T", e.Key, e.Got)
}

// BeforeSave stores Fields in canonical JSON form, so the saved document
// equals the one later reads return.
func (t *Template) BeforeSave(tx *gorm.DB) error {
	fields, err := canonicalFields(t.Fields)
	if err != nil {
		return err
	}
	t.Fields = fields
	return nil
}

// AfterFind decodes numbers in Fields as float64, like encoding/json does for
// documents arriving over HTTP.
func (t *Template) AfterFind(tx *gorm.DB) error {
	fields, err := canonicalFields(t.Fields)
	if err != nil {
		return err
	}
	t.Fields = fields
	return nil
}

// SetFileURL points the template at its content object.
func (t *Template) SetFileURL(ref string) {
	t.setColumn(KeyFileURL, &t.FileURL, ref)
}

// MarshalJSON flattens Fields and the column values into one object.
func (t Template) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(t.Fields)+5)
	for k, v := range t.Fields {
		doc[k] = v
	}
	doc[KeyID] = t.ID
	if t.Category != "" {
		doc[KeyCategory] = t.Category
	}
	if t.FileURL != "" {
		doc[KeyFileURL] = t.FileURL
	}
	if !t.CreatedAt.IsZero() {
		doc[KeyCreatedAt] = t.CreatedAt
	}
	if !t.UpdatedAt.IsZero() {
		doc[KeyUpdatedAt] = t.UpdatedAt
	}
	return json.Marshal(doc)
}

// UnmarshalJSON splits a flat template document into columns and Fields.
func (t *Template) UnmarshalJSON(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("template must be a JSON object")
	}
	parsed, err := FromMap(doc)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}

// FromMap builds a Template from a decoded JSON object. "_id" is accepted as
// an alias of "id".
func FromMap(doc map[string]any) (*Template, error) {
	t := &Template{Fields: datatypes.JSONMap{}}

	for k, v := range doc {
		switch k {
		case KeyID, KeyLegacyID:
			id, err := idString(v)
			if err != nil {
				return nil, err
			}
			if id != "" && (t.ID == "" || k == KeyID) {
				t.ID = id
			}
		case KeyCategory:
			t.setColumn(k, &t.Category, v)
		case KeyFileURL:
			t.setColumn(k, &t.FileURL, v)
		case KeyCreatedAt:
			t.CreatedAt = parseTime(v)
		case KeyUpdatedAt:
			t.UpdatedAt = parseTime(v)
		default:
			t.Fields[k] = v
		}
	}
	return t, nil
}

// Apply merges updates into the template. Keys not present in updates are
// left untouched; id and timestamps cannot be changed this way.
func (t *Template) Apply(updates map[string]any) {
	for k, v := range updates {
		switch k {
		case KeyID, KeyLegacyID, KeyCreatedAt, KeyUpdatedAt:
			continue
		case KeyCategory:
			t.setColumn(k, &t.Category, v)
		case KeyFileURL:
			t.setColumn(k, &t.FileURL, v)
		default:
			if t.Fields == nil {
				t.Fields = datatypes.JSONMap{}
			}
			t.Fields[k] = v
		}
	}
}

// setColumn stores v in column when it is a non-empty string and in Fields
// otherwise.
func (t *Template) setColumn(key string, column *string, v any) {
	delete(t.Fields, key)
	*column = ""
	if s, ok := v.(string); ok && s != "" {
		*column = s
		return
	}
	if t.Fields == nil {
		t.Fields = datatypes.JSONMap{}
	}
	t.Fields[key] = v
}

// canonicalFields round-trips fields through encoding/json. A nil map becomes
// an empty one.
func canonicalFields(fields datatypes.JSONMap) (datatypes.JSONMap, error) {
	if len(fields) == 0 {
		return datatypes.JSONMap{}, nil
	}
	data, err := json.Marshal(map[string]any(fields))
	if err != nil {
		return nil, fmt.Errorf("encode template fields: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode template fields: %w", err)
	}
	return datatypes.JSONMap(out), nil
}

func idString(v any) (string, error) {
	switch id := v.(type) {
	case nil:
		return "", nil
	case string:
		return id, nil
	case float64, json.Number:
		return fmt.Sprint(id), nil
	default:
		return "", &FieldError{Key: KeyID, Got: v}
	}
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts
}
