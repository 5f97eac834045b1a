package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/pkg/dto"
)

// fail writes err as JSON with the status its kind maps to. Errors outside
// the taxonomy are logged and hidden from the client.
func fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", eris.ToString(err, true))
		msg = "internal error"
	}
	c.JSON(status, dto.ErrorResponse{Error: msg, Code: apperr.Code(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msg, Code: apperr.Code(apperr.ErrInvalidInput)})
}

func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func tooLarge(c *gin.Context, limit int64) {
	c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{
		Error: fmt.Sprintf("upload exceeds %d bytes", limit),
		Code:  apperr.Code(apperr.ErrInvalidMedia),
	})
}

// bindFailed reports a form that could not be bound, telling a body cut
// off by the size cap apart from a malformed one.
func bindFailed(c *gin.Context, err error, limit int64) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		tooLarge(c, limit)
		return
	}
	badRequest(c, err.Error())
}

// readUpload returns the bytes of multipart field and its declared
// content type. Uploads larger than limit are rejected.
func readUpload(c *gin.Context, field string, limit int64) ([]byte, string, string, bool) {
	file, header, err := c.Request.FormFile(field)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			tooLarge(c, limit)
		} else {
			badRequest(c, field+" file required")
		}
		return nil, "", "", false
	}
	defer file.Close()

	if limit > 0 && header.Size > limit {
		tooLarge(c, limit)
		return nil, "", "", false
	}
	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "read upload failed", Code: "Internal"})
		return nil, "", "", false
	}
	return data, header.Filename, header.Header.Get("Content-Type"), true
}

// mediaKind picks image or video from an explicit form value, falling back
// to the declared and then the sniffed content type.
func mediaKind(explicit, contentType string, data []byte) models.MediaKind {
	if explicit != "" {
		return models.MediaKind(strings.ToLower(explicit))
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return models.MediaImage
	case strings.HasPrefix(contentType, "video/"):
		return models.MediaVideo
	}
	return models.MediaKind(contentType)
}
