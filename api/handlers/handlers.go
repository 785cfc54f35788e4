package handlers

import (
	"net/http"
	"time"

	tmlog "github.com/cometbft/cometbft/libs/log"
	"github.com/gin-gonic/gin"

	"github.com/NethermindEth/chaoschain-persona/communication"
	"github.com/NethermindEth/chaoschain-persona/core"
	"github.com/NethermindEth/chaoschain-persona/syncer"
)

// Handler serves the persona and sync endpoints.
type Handler struct {
	svc    *syncer.Service
	ws     *communication.WebSocketManager
	logger tmlog.Logger
	now    func() time.Time
}

func NewHandler(svc *syncer.Service, ws *communication.WebSocketManager, logger tmlog.Logger) *Handler {
	if logger == nil {
		logger = tmlog.NewNopLogger()
	}
	return &Handler{svc: svc, ws: ws, logger: logger.With("module", "api"), now: time.Now}
}

// EstimateRequest is the body of POST /api/persona/:owner/estimates.
type EstimateRequest struct {
	core.PointEstimate
	Source core.EvidenceSource `json:"source"`
}

// RestoreResponse is the body returned by a restore.
type RestoreResponse struct {
	syncer.RestoreOutcome
	Profile *core.ProfileView `json:"profile,omitempty"`
}

// SubmitEstimate folds an analysis result into the owner's profile.
func (h *Handler) SubmitEstimate(c *gin.Context) {
	owner := c.Param("owner")

	var req EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid estimate: " + err.Error()})
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = h.now().UTC()
	}
	if req.Source.Type == "" {
		req.Source.Type = core.SourceConversationAnalysis
	}
	if req.Source.CreatedAt.IsZero() {
		req.Source.CreatedAt = req.Timestamp
	}

	res := h.svc.Ingest(c.Request.Context(), owner, req.PointEstimate, req.Source)
	if !res.OK() {
		h.fail(c, res.Err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": res.Value.View(h.threshold())})
}

// GetProfile returns the owner's profile view.
func (h *Handler) GetProfile(c *gin.Context) {
	view, err := h.svc.View(c.Param("owner"))
	if err != nil {
		h.logger.Error("Failed to load profile", "owner", c.Param("owner"), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load profile"})
		return
	}
	if view == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": view, "syncing": h.svc.Busy(c.Param("owner"))})
}

// ListProfiles returns the owners with a local profile.
func (h *Handler) ListProfiles(c *gin.Context) {
	owners, err := h.svc.Owners()
	if err != nil {
		h.logger.Error("Failed to list profiles", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list profiles"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"owners": owners})
}

// RestoreProfile rebuilds a missing profile from the content store.
func (h *Handler) RestoreProfile(c *gin.Context) {
	res := h.svc.Restore(c.Request.Context(), c.Param("owner"))
	if !res.OK() {
		h.fail(c, res.Err)
		return
	}
	out := RestoreResponse{RestoreOutcome: res.Value}
	if res.Value.Profile != nil {
		v := res.Value.Profile.View(h.threshold())
		out.Profile = &v
	}
	c.JSON(http.StatusOK, out)
}

// ResyncProfile queues the current local profile for upload again.
func (h *Handler) ResyncProfile(c *gin.Context) {
	res := h.svc.Resync(c.Param("owner"))
	if !res.OK() {
		h.fail(c, res.Err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queued": res.Value})
}

// WipeProfile deletes everything held for the owner.
func (h *Handler) WipeProfile(c *gin.Context) {
	res := h.svc.Wipe(c.Request.Context(), c.Param("owner"))
	if !res.OK() {
		h.fail(c, res.Err)
		return
	}
	c.JSON(http.StatusOK, res.Value)
}

// GetSyncState returns the current sync snapshot.
func (h *Handler) GetSyncState(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.State())
}

func (h *Handler) threshold() float64 {
	return h.svc.ReliabilityThreshold()
}

func (h *Handler) fail(c *gin.Context, err *syncer.Error) {
	status := statusFor(err.Kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", c.FullPath(), "owner", c.Param("owner"), "err", err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": err.Kind.String()})
}

func statusFor(kind syncer.ErrorKind) int {
	switch kind {
	case syncer.KindValidation:
		return http.StatusBadRequest
	case syncer.KindBusy:
		return http.StatusConflict
	case syncer.KindRestoreExhausted:
		return http.StatusNotFound
	case syncer.KindPrecondition:
		return http.StatusPreconditionFailed
	case syncer.KindMalformedPayload:
		return http.StatusUnprocessableEntity
	case syncer.KindTransient, syncer.KindRestoreCandidate:
		return http.StatusBadGateway
	case syncer.KindCancelled:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
