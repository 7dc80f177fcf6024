package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/campusdesk/certificate-api/internal/models"
	"github.com/campusdesk/certificate-api/internal/service"
	appErrors "github.com/campusdesk/certificate-api/pkg/errors"
	"github.com/campusdesk/certificate-api/pkg/response"
)

// CertificateHandler exposes certificate lifecycle endpoints.
type CertificateHandler struct {
	certificates *service.CertificateService
}

// NewCertificateHandler constructs CertificateHandler.
func NewCertificateHandler(certificates *service.CertificateService) *CertificateHandler {
	return &CertificateHandler{certificates: certificates}
}

func filterFromQuery(c *gin.Context) models.CertificateFilter {
	var filter models.CertificateFilter
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil {
		filter.Offset = offset
	}
	return filter
}

// Create godoc
// @Summary Request a certificate
// @Description Submit a new certificate request for the calling student
// @Tags Certificates
// @Accept json
// @Produce json
// @Param payload body service.CreateCertificateRequest true "Certificate payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /certificates [post]
func (h *CertificateHandler) Create(c *gin.Context) {
	var req service.CreateCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	cert, err := h.certificates.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, cert)
}

// Get godoc
// @Summary Get certificate
// @Description Fetch a certificate; students see only their own
// @Tags Certificates
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /certificates/{id} [get]
func (h *CertificateHandler) Get(c *gin.Context) {
	cert, err := h.certificates.GetByID(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cert, nil)
}

// ListMine godoc
// @Summary List own certificates
// @Tags Certificates
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /certificates/my [get]
func (h *CertificateHandler) ListMine(c *gin.Context) {
	certs, pagination, err := h.certificates.ListMine(c.Request.Context(), filterFromQuery(c), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, certs, pagination)
}

// ListPending godoc
// @Summary List pending certificates
// @Description Unassigned requests awaiting staff triage
// @Tags Certificates
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /certificates/pending [get]
func (h *CertificateHandler) ListPending(c *gin.Context) {
	certs, pagination, err := h.certificates.ListPending(c.Request.Context(), filterFromQuery(c), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, certs, pagination)
}

// ListAll godoc
// @Summary List all certificates
// @Tags Certificates
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /certificates [get]
func (h *CertificateHandler) ListAll(c *gin.Context) {
	certs, pagination, err := h.certificates.ListAll(c.Request.Context(), filterFromQuery(c), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, certs, pagination)
}

// Assign godoc
// @Summary Assign certificate
// @Description Take a pending certificate into processing
// @Tags Certificates
// @Accept json
// @Produce json
// @Param id path string true "Certificate ID"
// @Param payload body object false "Optional staff_id override"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /certificates/{id}/assign [post]
func (h *CertificateHandler) Assign(c *gin.Context) {
	var payload struct {
		StaffID string `json:"staff_id"`
	}
	// Body is optional: an empty body assigns to the caller.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	cert, err := h.certificates.Assign(c.Request.Context(), c.Param("id"), payload.StaffID, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cert, nil)
}

// UpdateStatus godoc
// @Summary Update certificate status
// @Description Move a certificate along its lifecycle
// @Tags Certificates
// @Accept json
// @Produce json
// @Param id path string true "Certificate ID"
// @Param payload body service.UpdateStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /certificates/{id}/status [patch]
func (h *CertificateHandler) UpdateStatus(c *gin.Context) {
	var req service.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	cert, err := h.certificates.UpdateStatus(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cert, nil)
}

// Statistics godoc
// @Summary Certificate statistics
// @Description Per-status request counts. Admin only.
// @Tags Certificates
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /certificates/stats [get]
func (h *CertificateHandler) Statistics(c *gin.Context) {
	stats, err := h.certificates.Statistics(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
