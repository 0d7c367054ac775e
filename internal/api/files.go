package api

import (
	"errors"
	"io"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/codecollab/hub/internal/apierr"
	"github.com/codecollab/hub/internal/auth"
	"github.com/codecollab/hub/internal/filestore"
	"github.com/codecollab/hub/internal/httputil"
)

// FileHandler serves the File Store endpoints of spec.md §6.1.
type FileHandler struct {
	files *filestore.Store
	log   zerolog.Logger
}

func NewFileHandler(files *filestore.Store, logger zerolog.Logger) *FileHandler {
	return &FileHandler{files: files, log: logger}
}

// List handles GET /api/files/session/{sessionId}.
func (h *FileHandler) List(c fiber.Ctx) error {
	metas, err := h.files.ListSessionFiles(c, c.Params("sessionId"))
	if err != nil {
		return h.mapError(c, err)
	}
	return httputil.Success(c, metas)
}

// Hierarchy handles GET /api/files/hierarchy/{sessionId}.
func (h *FileHandler) Hierarchy(c fiber.Ctx) error {
	tree, err := h.files.GetHierarchy(c, c.Params("sessionId"))
	if err != nil {
		return h.mapError(c, err)
	}
	return httputil.Success(c, tree)
}

// Content handles GET /api/files/content?sessionId=&path=, returning raw
// bytes with Content-Type taken from the stored record.
func (h *FileHandler) Content(c fiber.Ctx) error {
	sessionID := c.Query("sessionId")
	path := c.Query("path")
	if sessionID == "" || path == "" {
		return httputil.Fail(c, apierr.ValidationError, "sessionId and path are required")
	}

	content, meta, err := h.files.GetFile(c, sessionID, path)
	if err != nil {
		return h.mapError(c, err)
	}

	c.Set(fiber.HeaderContentType, meta.MimeType)
	return c.Send(content)
}

// Upload handles POST /api/files/upload, a multipart request with fields
// `file` and `sessionID`. Archives (`.zip`) are ingested entry-by-entry
// rather than stored as a single opaque file, per spec.md §4.3.
func (h *FileHandler) Upload(c fiber.Ctx) error {
	sessionID := c.FormValue("sessionID")
	if sessionID == "" {
		return httputil.Fail(c, apierr.ValidationError, "sessionID is required")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return httputil.Fail(c, apierr.ValidationError, "file field is required")
	}

	f, err := fh.Open()
	if err != nil {
		h.log.Error().Err(err).Str("handler", "file").Msg("open uploaded file failed")
		return httputil.Fail(c, apierr.Internal, "an internal error occurred")
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "file").Msg("read uploaded file failed")
		return httputil.Fail(c, apierr.Internal, "an internal error occurred")
	}

	uploaderUserID := auth.Authenticated(c).UserID

	if filestore.Extension(fh.Filename) == ".zip" {
		summary, err := h.files.IngestArchive(c, sessionID, content, uploaderUserID)
		if err != nil {
			return h.mapError(c, err)
		}
		return httputil.SuccessStatus(c, fiber.StatusCreated, summary)
	}

	meta, err := h.files.PutFile(c, sessionID, fh.Filename, content, fh.Header.Get(fiber.HeaderContentType), uploaderUserID, filestore.PutOptions{})
	if err != nil {
		return h.mapError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, meta)
}

// Delete handles DELETE /api/files/{sessionId}/{path+}.
func (h *FileHandler) Delete(c fiber.Ctx) error {
	deleted, err := h.files.DeleteFile(c, c.Params("sessionId"), c.Params("*"))
	if err != nil {
		return h.mapError(c, err)
	}
	if !deleted {
		return httputil.Fail(c, apierr.NotFound, "file not found")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Stats handles GET /api/files/stats/{sessionId}.
func (h *FileHandler) Stats(c fiber.Ctx) error {
	stats, err := h.files.Stats(c, c.Params("sessionId"))
	if err != nil {
		return h.mapError(c, err)
	}
	return httputil.Success(c, stats)
}

func (h *FileHandler) mapError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, filestore.ErrNotFound):
		return httputil.Fail(c, apierr.NotFound, "file not found")
	case errors.Is(err, filestore.ErrValidation):
		return httputil.Fail(c, apierr.ValidationError, err.Error())
	case errors.Is(err, filestore.ErrTooLarge):
		return httputil.Fail(c, apierr.TooLarge, err.Error())
	case errors.Is(err, filestore.ErrUnsupportedMediaType):
		return httputil.Fail(c, apierr.UnsupportedMediaType, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "file").Msg("unhandled file store error")
		return httputil.Fail(c, apierr.Internal, "an internal error occurred")
	}
}
