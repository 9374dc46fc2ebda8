package verifications

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"loancheck-backend/internal/shared/server/middleware"
	"loancheck-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the verifications service.
type Handler struct {
	Svc         *Service
	pollLimiter *pollLimiter
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{
		Svc:         svc,
		pollLimiter: newPollLimiter(pollLimitWindow, nil),
	}
}

// RegisterRoutes attaches verification routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/applications/:applicationId/verifications", h.start)
	rg.GET("/applications/:applicationId/verification", h.getByApplication)
	rg.GET("/verifications/:id", h.get)
}

func (h *Handler) start(c *gin.Context) {
	applicationID := c.Param("applicationId")
	if applicationID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "application id is required", nil)
		return
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	run, err := h.Svc.Start(ctx, applicationID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoDocuments):
			respond.Error(c, http.StatusBadRequest, "no_documents", "application has no analyzable documents", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start verification", nil)
		}
		return
	}

	respond.JSON(c, http.StatusAccepted, gin.H{
		"status":         "processing",
		"verificationId": run.ID,
		"totalDocuments": run.TotalDocuments,
	})
}

func (h *Handler) get(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "verification id is required", nil)
		return
	}

	if !h.pollLimiter.Allow(c.ClientIP() + "|" + runID) {
		c.Header("Retry-After", strconv.Itoa(h.pollLimiter.RetryAfterSeconds()))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", "polling too frequently", nil)
		return
	}

	run, err := h.Svc.Get(c.Request.Context(), runID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "verification not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch verification", nil)
		}
		return
	}

	respond.JSON(c, http.StatusOK, toRunResponse(run))
}

func (h *Handler) getByApplication(c *gin.Context) {
	applicationID := c.Param("applicationId")
	if applicationID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "application id is required", nil)
		return
	}

	run, err := h.Svc.GetByApplication(c.Request.Context(), applicationID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "verification not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch verification", nil)
		}
		return
	}

	respond.JSON(c, http.StatusOK, toRunResponse(run))
}

// toRunResponse exposes progress while in flight and the full result once
// terminal. updatedAt lets pollers apply their own staleness cutoff.
func toRunResponse(run Run) gin.H {
	resp := gin.H{
		"verificationId": run.ID,
		"applicationId":  run.ApplicationID,
		"status":         string(run.Status),
		"processed":      run.ProcessedCount,
		"total":          run.TotalDocuments,
		"updatedAt":      run.UpdatedAt.Format(time.RFC3339),
	}
	if run.CurrentDocument != "" && !run.Status.Terminal() {
		resp["currentDocument"] = run.CurrentDocument
	}
	if run.Status.Terminal() && run.Result != nil {
		resp["result"] = run.Result
	}
	return resp
}
