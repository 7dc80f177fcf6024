package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusdesk/certificate-api/internal/service"
	appErrors "github.com/campusdesk/certificate-api/pkg/errors"
	"github.com/campusdesk/certificate-api/pkg/response"
)

// CertificateFileHandler exposes attachment endpoints.
type CertificateFileHandler struct {
	files *service.CertificateFileService
}

// NewCertificateFileHandler constructs CertificateFileHandler.
func NewCertificateFileHandler(files *service.CertificateFileService) *CertificateFileHandler {
	return &CertificateFileHandler{files: files}
}

// Upload godoc
// @Summary Upload certificate document
// @Description Attach a finished document; completes the request
// @Tags Files
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Certificate ID"
// @Param file formData file true "Document"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /certificates/{id}/files [post]
func (h *CertificateFileHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file field is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusInternalServerError, "failed to read upload"))
		return
	}
	defer src.Close() //nolint:errcheck

	file, err := h.files.Upload(c.Request.Context(), c.Param("id"), service.FileUpload{
		FileName: fileHeader.Filename,
		Size:     fileHeader.Size,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Content:  src,
	}, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, file)
}

// Generate godoc
// @Summary Generate certificate PDF
// @Description Render the standard PDF for a request and issue it
// @Tags Files
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /certificates/{id}/files/generate [post]
func (h *CertificateFileHandler) Generate(c *gin.Context) {
	file, err := h.files.GeneratePDF(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, file)
}

// List godoc
// @Summary List certificate documents
// @Tags Files
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/files [get]
func (h *CertificateFileHandler) List(c *gin.Context) {
	files, err := h.files.List(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, files, nil)
}

// DownloadURL godoc
// @Summary Get signed download link
// @Description Issue a short-lived link for the current document
// @Tags Files
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /certificates/{id}/files/download-url [get]
func (h *CertificateFileHandler) DownloadURL(c *gin.Context) {
	grant, err := h.files.DownloadURL(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grant, nil)
}

// Download godoc
// @Summary Download document
// @Description Stream a document referenced by a signed token
// @Tags Files
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /files/download [get]
func (h *CertificateFileHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token query parameter is required"))
		return
	}
	file, reader, err := h.files.OpenSigned(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer reader.Close() //nolint:errcheck

	c.Header("Content-Disposition", `attachment; filename="`+file.FileName+`"`)
	c.Header("Content-Type", file.MimeType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, reader); err != nil {
		// Headers are already sent; nothing meaningful left to do.
		_ = c.Error(err)
	}
}

// Delete godoc
// @Summary Delete document
// @Description Remove an attachment. Uploader or admin only.
// @Tags Files
// @Produce json
// @Param fileId path string true "File ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /files/{fileId} [delete]
func (h *CertificateFileHandler) Delete(c *gin.Context) {
	if err := h.files.Delete(c.Request.Context(), c.Param("fileId"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
