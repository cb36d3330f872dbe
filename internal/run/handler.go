package run

import (
	"net/http"

	"carecall_backend/platform/httpkit"
	"carecall_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidOrgID     = "invalid organization id"
	msgInvalidRunID     = "invalid run id"
	msgInvalidRowID     = "invalid row id"
)

// Handler handles HTTP requests for runs and rows.
type Handler struct {
	svc *Service
	val *validator.Validator
}

// NewHandler creates a new run handler.
func NewHandler(svc *Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the run routes on an org-scoped group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Create)
	rg.GET("/:id", h.GetByID)
	rg.DELETE("/:id", h.Delete)
	rg.POST("/:id/rows", h.Ingest)
	rg.GET("/:id/rows", h.ListRows)
	rg.POST("/:id/start", h.Start)
	rg.POST("/:id/pause", h.Pause)
	rg.POST("/:id/schedule", h.Schedule)
	rg.POST("/:id/rows/:rowId/skip", h.SkipRow)
}

// List returns the organization's runs.
func (h *Handler) List(c *gin.Context) {
	orgID, ok := mustGetOrgID(c)
	if !ok {
		return
	}

	runs, err := h.svc.List(c.Request.Context(), orgID)
	if httpkit.HandleError(c, err) {
		return
	}

	out := make([]RunResponse, 0, len(runs))
	for i := range runs {
		out = append(out, ToRunResponse(&runs[i]))
	}
	httpkit.OK(c, out)
}

// Create creates a draft run.
func (h *Handler) Create(c *gin.Context) {
	orgID, ok := mustGetOrgID(c)
	if !ok {
		return
	}

	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	rn, err := h.svc.Create(c.Request.Context(), orgID, req.CampaignID, req.Name, req.RawFileURL)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.JSON(c, http.StatusCreated, ToRunResponse(rn))
}

// GetByID returns one run.
func (h *Handler) GetByID(c *gin.Context) {
	orgID, runID, ok := mustGetOrgAndRunID(c)
	if !ok {
		return
	}

	rn, err := h.svc.Get(c.Request.Context(), orgID, runID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, ToRunResponse(rn))
}

// Delete removes a non-running run.
func (h *Handler) Delete(c *gin.Context) {
	orgID, runID, ok := mustGetOrgAndRunID(c)
	if !ok {
		return
	}

	if err := h.svc.Delete(c.Request.Context(), orgID, runID); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"status": "deleted"})
}

// Ingest uploads the run's batch rows.
func (h *Handler) Ingest(c *gin.Context) {
	orgID, runID, ok := mustGetOrgAndRunID(c)
	if !ok {
		return
	}

	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	inputs := make([]RowInput, 0, len(req.Rows))
	for _, r := range req.Rows {
		inputs = append(inputs, RowInput{
			PhoneNumber: r.PhoneNumber,
			FirstName:   r.FirstName,
			LastName:    r.LastName,
			Variables:   r.Variables,
		})
	}

	rn, err := h.svc.Ingest(c.Request.Context(), orgID, runID, inputs)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, ToRunResponse(rn))
}

// ListRows returns the run's rows in upload order.
func (h *Handler) ListRows(c *gin.Context) {
	orgID, runID, ok := mustGetOrgAndRunID(c)
	if !ok {
		return
	}

	rows, err := h.svc.ListRows(c.Request.Context(), orgID, runID)
	if httpkit.HandleError(c, err) {
		return
	}

	out := make([]RowResponse, 0, len(rows))
	for i := range rows {
		out = append(out, ToRowResponse(&rows[i]))
	}
	httpkit.OK(c, out)
}

// Start begins or resumes dispatching.
func (h *Handler) Start(c *gin.Context) {
	orgID, runID, ok := mustGetOrgAndRunID(c)
	if !ok {
		return
	}

	rn, err := h.svc.Start(c.Request.Context(), orgID, runID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, ToRunResponse(rn))
}

// Pause stops further dispatching.
func (h *Handler) Pause(c *gin.Context) {
	orgID, runID, ok := mustGetOrgAndRunID(c)
	if !ok {
		return
	}

	rn, err := h.svc.Pause(c.Request.Context(), orgID, runID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, ToRunResponse(rn))
}

// Schedule sets a future automatic start.
func (h *Handler) Schedule(c *gin.Context) {
	orgID, runID, ok := mustGetOrgAndRunID(c)
	if !ok {
		return
	}

	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	rn, err := h.svc.Schedule(c.Request.Context(), orgID, runID, req.ScheduledAt)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, ToRunResponse(rn))
}

// SkipRow skips a pending row without dialing it.
func (h *Handler) SkipRow(c *gin.Context) {
	orgID, ok := mustGetOrgID(c)
	if !ok {
		return
	}
	rowID, err := uuid.Parse(c.Param("rowId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRowID, nil)
		return
	}

	var req SkipRowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "skipped by operator"
	}

	if err := h.svc.SkipRow(c.Request.Context(), orgID, rowID, req.Reason); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"status": "skipped"})
}

func mustGetOrgID(c *gin.Context) (uuid.UUID, bool) {
	orgID, err := uuid.Parse(c.Param("orgId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidOrgID, nil)
		return uuid.Nil, false
	}
	return orgID, true
}

func mustGetOrgAndRunID(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	orgID, ok := mustGetOrgID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRunID, nil)
		return uuid.Nil, uuid.Nil, false
	}
	return orgID, runID, true
}
