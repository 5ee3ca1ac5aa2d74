package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/nebari-dev/canvas-templates/internal/filestore"
	"github.com/nebari-dev/canvas-templates/internal/service"
)

const (
	msgQueryRequired   = "query param is required"
	msgIDQueryRequired = `Query parameter "id" is required`
	msgNotFound        = "Template not found"

	// uploadField is the multipart field carrying a replacement template file.
	uploadField = "templateFile"
)

// TemplateHandler serves the template routes.
type TemplateHandler struct {
	svc *service.TemplateService
}

// NewTemplateHandler creates a new TemplateHandler
func NewTemplateHandler(svc *service.TemplateService) *TemplateHandler {
	return &TemplateHandler{svc: svc}
}

// CreateContent godoc
// @Summary Create a template with content
// @Description Saves the body as a content object, then stores its metadata with fileUrl pointing at it
// @Tags templates
// @Accept json
// @Produce json
// @Param document body filestore.Document true "Template metadata and content"
// @Success 201 {object} models.Template
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /content [post]
func (h *TemplateHandler) CreateContent(c *gin.Context) {
	var doc filestore.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.Error(&HTTPError{Status: http.StatusBadRequest, Message: "Invalid request body: " + err.Error()})
		return
	}

	tpl, err := h.svc.Create(c.Request.Context(), doc)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, tpl)
}

// ListTemplates godoc
// @Summary List all templates
// @Description Returns every template, most recently updated first
// @Tags templates
// @Produce json
// @Success 200 {array} models.Template
// @Failure 500 {object} ErrorResponse
// @Router /all [get]
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	templates, err := h.svc.List(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, templates)
}

// GetTemplate godoc
// @Summary Get a template by id
// @Tags templates
// @Produce json
// @Param id query string true "Template ID"
// @Success 200 {object} models.Template
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router / [get]
func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgQueryRequired})
		return
	}

	tpl, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: msgNotFound})
			return
		}
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

// GetContents godoc
// @Summary Get the content of several templates
// @Description Returns the content objects of the listed templates in request order. Unknown ids and templates without content are omitted.
// @Tags templates
// @Produce json
// @Param id query string true "Comma separated template IDs"
// @Success 200 {array} filestore.Document
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /content [get]
func (h *TemplateHandler) GetContents(c *gin.Context) {
	raw := c.Query("id")
	if raw == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgIDQueryRequired})
		return
	}

	docs, err := h.svc.Contents(c.Request.Context(), splitIDs(raw))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

// GetAllContents godoc
// @Summary Get the content of every template
// @Description Returns content objects most recently updated first. Templates without content are omitted.
// @Tags templates
// @Produce json
// @Success 200 {array} filestore.Document
// @Failure 500 {object} ErrorResponse
// @Router /all/content [get]
func (h *TemplateHandler) GetAllContents(c *gin.Context) {
	docs, err := h.svc.AllContents(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

// ListByCategory godoc
// @Summary List templates in a category
// @Tags templates
// @Produce json
// @Param category query string true "Category"
// @Success 200 {array} models.Template
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /category [get]
func (h *TemplateHandler) ListByCategory(c *gin.Context) {
	category := c.Query("category")
	if category == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgQueryRequired})
		return
	}

	templates, err := h.svc.ListByCategory(c.Request.Context(), category)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, templates)
}

// UpdateTemplate godoc
// @Summary Update a template
// @Description Merges the body fields into the template. A templateFile upload replaces fileUrl. Responds with null when no template has the id.
// @Tags templates
// @Accept json,mpfd,x-www-form-urlencoded
// @Produce json
// @Param id query string true "Template ID"
// @Param updates body object false "Fields to merge"
// @Param templateFile formData file false "Replacement template file"
// @Success 200 {object} models.Template
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router / [put]
func (h *TemplateHandler) UpdateTemplate(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgQueryRequired})
		return
	}

	updates, upload, closeUpload, err := bindUpdates(c)
	if err != nil {
		c.Error(err)
		return
	}
	defer closeUpload()

	tpl, err := h.svc.Update(c.Request.Context(), id, updates, upload)
	if err != nil {
		c.Error(err)
		return
	}
	if tpl == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

// DeleteTemplate godoc
// @Summary Delete a template
// @Description Removes the template metadata. Its content object is kept.
// @Tags templates
// @Param id query string true "Template ID"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router / [delete]
func (h *TemplateHandler) DeleteTemplate(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgQueryRequired})
		return
	}

	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// splitIDs splits a comma separated id list, dropping blanks.
func splitIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// bindUpdates reads the update fields from a JSON, urlencoded or multipart
// body. For multipart bodies the templateFile part, if any, is returned as an
// upload; the returned func releases it.
func bindUpdates(c *gin.Context) (map[string]any, *filestore.FileUpload, func(), error) {
	noop := func() {}
	updates := map[string]any{}

	switch c.ContentType() {
	case binding.MIMEMultipartPOSTForm:
		form, err := c.MultipartForm()
		if err != nil {
			return nil, nil, noop, badBody(err)
		}
		for key, values := range form.Value {
			if len(values) > 0 {
				updates[key] = values[0]
			}
		}
		files := form.File[uploadField]
		if len(files) == 0 {
			return updates, nil, noop, nil
		}
		fh := files[0]
		f, err := fh.Open()
		if err != nil {
			return nil, nil, noop, badBody(err)
		}
		upload := &filestore.FileUpload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Body:        f,
		}
		return updates, upload, func() { f.Close() }, nil

	case binding.MIMEPOSTForm:
		if err := c.Request.ParseForm(); err != nil {
			return nil, nil, noop, badBody(err)
		}
		for key, values := range c.Request.PostForm {
			if len(values) > 0 {
				updates[key] = values[0]
			}
		}
		return updates, nil, noop, nil

	default:
		if err := c.ShouldBindJSON(&updates); err != nil && !errors.Is(err, io.EOF) {
			return nil, nil, noop, badBody(err)
		}
		return updates, nil, noop, nil
	}
}

func badBody(err error) error {
	return &HTTPError{Status: http.StatusBadRequest, Message: "Invalid request body: " + err.Error()}
}
