package webhook

import (
	"net/http"

	"carecall_backend/internal/retell"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler exposes the Retell webhook endpoints. The org id travels in the
// route because webhook deliveries carry no session context.
type Handler struct {
	svc *Service
}

// NewHandler creates a webhook handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// HandleInbound answers Retell's inbound call-routing webhook.
// The response always carries a routable call_inbound object; a malformed
// request only downgrades the routing decision, it never drops the call.
func (h *Handler) HandleInbound(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("orgId"))
	if err != nil {
		c.JSON(http.StatusOK, inboundFallback("invalid organization id"))
		return
	}

	var payload retell.InboundWebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusOK, inboundFallback("invalid payload"))
		return
	}

	c.JSON(http.StatusOK, h.svc.HandleInbound(c.Request.Context(), orgID, payload))
}

// postCallEnvelope is Retell's post-call delivery wrapper. Some payloads
// arrive wrapped in {event, call}, some flat; both are accepted.
type postCallEnvelope struct {
	Event string                 `json:"event"`
	Call  *retell.PostCallObject `json:"call"`
	retell.PostCallObject
}

// HandlePostCall processes Retell's post-call analysis webhook.
func (h *Handler) HandlePostCall(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("orgId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, retell.PostCallWebhookResponse{
			Status:  "error",
			Message: "invalid organization id",
		})
		return
	}

	var envelope postCallEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		c.JSON(http.StatusBadRequest, retell.PostCallWebhookResponse{
			Status:  "error",
			Message: "invalid payload",
		})
		return
	}

	payload := envelope.PostCallObject
	if envelope.Call != nil {
		payload = *envelope.Call
	}

	resp := h.svc.HandlePostCall(c.Request.Context(), orgID, payload)
	status := http.StatusOK
	if resp.Status == "error" {
		status = http.StatusBadRequest
	}
	c.JSON(status, resp)
}
