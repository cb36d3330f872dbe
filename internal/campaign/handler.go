package campaign

import (
	"net/http"

	"carecall_backend/platform/httpkit"
	"carecall_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest    = "invalid request"
	msgValidationFailed  = "validation failed"
	msgInvalidOrgID      = "invalid organization id"
	msgInvalidCampaignID = "invalid campaign id"
)

// CreateCampaignRequest is the request body for creating a campaign.
type CreateCampaignRequest struct {
	Name             string          `json:"name" validate:"required,min=1,max=200"`
	AgentID          string          `json:"agentId" validate:"required"`
	Direction        Direction       `json:"direction" validate:"required,oneof=inbound outbound"`
	BasePrompt       string          `json:"basePrompt"`
	VoicemailMessage string          `json:"voicemailMessage"`
	PatientFields    []Field         `json:"patientFields"`
	CampaignFields   []Field         `json:"campaignFields"`
	AnalysisFields   []AnalysisField `json:"analysisFields"`
	IsDefaultInbound bool            `json:"isDefaultInbound"`
}

// SetActiveRequest toggles a campaign's active flag.
type SetActiveRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

// Handler handles HTTP requests for campaigns.
type Handler struct {
	repo *Repository
	val  *validator.Validator
}

// NewHandler creates a new campaign handler.
func NewHandler(repo *Repository, val *validator.Validator) *Handler {
	return &Handler{repo: repo, val: val}
}

// RegisterRoutes registers the campaign routes on an org-scoped group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Create)
	rg.GET("/:id", h.GetByID)
	rg.PUT("/:id", h.Update)
	rg.GET("/:id/analysis-config", h.GetAnalysisConfig)
	rg.PATCH("/:id/active", h.SetActive)
}

// List returns the organization's campaigns.
func (h *Handler) List(c *gin.Context) {
	orgID, ok := mustGetOrgID(c)
	if !ok {
		return
	}

	campaigns, err := h.repo.ListByOrg(c.Request.Context(), orgID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, campaigns)
}

// Create creates a campaign.
func (h *Handler) Create(c *gin.Context) {
	orgID, ok := mustGetOrgID(c)
	if !ok {
		return
	}

	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	campaign := &Campaign{
		ID:               uuid.New(),
		OrgID:            orgID,
		Name:             req.Name,
		AgentID:          req.AgentID,
		Direction:        req.Direction,
		BasePrompt:       req.BasePrompt,
		VoicemailMessage: req.VoicemailMessage,
		PatientFields:    req.PatientFields,
		CampaignFields:   req.CampaignFields,
		AnalysisFields:   req.AnalysisFields,
		IsActive:         true,
		IsDefaultInbound: req.IsDefaultInbound,
	}
	if err := h.repo.Create(c.Request.Context(), campaign); httpkit.HandleError(c, err) {
		return
	}

	httpkit.JSON(c, http.StatusCreated, campaign)
}

// Update replaces a campaign's configuration. The active flag has its
// own endpoint and is left untouched here.
func (h *Handler) Update(c *gin.Context) {
	orgID, campaignID, ok := mustGetOrgAndCampaignID(c)
	if !ok {
		return
	}

	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	campaign := &Campaign{
		ID:               campaignID,
		OrgID:            orgID,
		Name:             req.Name,
		AgentID:          req.AgentID,
		Direction:        req.Direction,
		BasePrompt:       req.BasePrompt,
		VoicemailMessage: req.VoicemailMessage,
		PatientFields:    req.PatientFields,
		CampaignFields:   req.CampaignFields,
		AnalysisFields:   req.AnalysisFields,
		IsDefaultInbound: req.IsDefaultInbound,
	}
	if err := h.repo.Update(c.Request.Context(), campaign); httpkit.HandleError(c, err) {
		return
	}

	updated, err := h.repo.GetByID(c.Request.Context(), campaignID, orgID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, updated)
}

// GetByID returns one campaign.
func (h *Handler) GetByID(c *gin.Context) {
	orgID, campaignID, ok := mustGetOrgAndCampaignID(c)
	if !ok {
		return
	}

	campaign, err := h.repo.GetByID(c.Request.Context(), campaignID, orgID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, campaign)
}

// GetAnalysisConfig returns the effective analysis-field configuration:
// standard fields merged with the campaign's own.
func (h *Handler) GetAnalysisConfig(c *gin.Context) {
	orgID, campaignID, ok := mustGetOrgAndCampaignID(c)
	if !ok {
		return
	}

	campaign, err := h.repo.GetByID(c.Request.Context(), campaignID, orgID)
	if httpkit.HandleError(c, err) {
		return
	}

	cfg := ResolveAnalysisConfig(campaign)
	httpkit.OK(c, gin.H{"fields": cfg.Fields, "mainKpiKey": cfg.MainKPIKey})
}

// SetActive toggles a campaign's active flag.
func (h *Handler) SetActive(c *gin.Context) {
	orgID, campaignID, ok := mustGetOrgAndCampaignID(c)
	if !ok {
		return
	}

	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	if err := h.repo.SetActive(c.Request.Context(), campaignID, orgID, *req.IsActive); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"status": "updated"})
}

func mustGetOrgID(c *gin.Context) (uuid.UUID, bool) {
	orgID, err := uuid.Parse(c.Param("orgId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidOrgID, nil)
		return uuid.Nil, false
	}
	return orgID, true
}

func mustGetOrgAndCampaignID(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	orgID, ok := mustGetOrgID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	campaignID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidCampaignID, nil)
		return uuid.Nil, uuid.Nil, false
	}
	return orgID, campaignID, true
}
