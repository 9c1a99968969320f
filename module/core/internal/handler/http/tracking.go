package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/service"
)

type tracker interface {
	Start(ctx context.Context) error
	Stop() error
	Status() service.TrackerStatus
	LastFix() (domain.Location, bool)
}

type permissionStore interface {
	Set(perm domain.Permission, granted bool)
	All() map[domain.Permission]bool
}

type trackingResponse struct {
	Running bool                `json:"running"`
	Denied  []domain.Permission `json:"denied,omitempty"`
	LastFix *domain.Location    `json:"last_fix,omitempty"`
}

type grantRequest struct {
	Granted *bool `json:"granted" binding:"required"`
}

type TrackingHandler struct {
	tracker tracker
	perms   permissionStore
	log     logrus.FieldLogger
}

func NewTrackingHandler(tracker tracker, perms permissionStore, log logrus.FieldLogger) *TrackingHandler {
	return &TrackingHandler{tracker: tracker, perms: perms, log: log}
}

func (h *TrackingHandler) Register(r *gin.RouterGroup) {
	r.GET("/tracking", h.GetStatus)
	r.POST("/tracking/start", h.Start)
	r.POST("/tracking/stop", h.Stop)
	r.GET("/permissions", h.ListPermissions)
	r.PUT("/permissions/:name", h.SetPermission)
}

func (h *TrackingHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.status())
}

func (h *TrackingHandler) Start(c *gin.Context) {
	if err := h.tracker.Start(c.Request.Context()); err != nil {
		if errors.Is(err, domain.ErrPermissionDenied) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":  "location permission denied",
				"denied": h.tracker.Status().Denied,
			})
			return
		}
		h.log.WithError(err).Error("start tracking")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start tracking"})
		return
	}
	c.JSON(http.StatusOK, h.status())
}

func (h *TrackingHandler) Stop(c *gin.Context) {
	if err := h.tracker.Stop(); err != nil {
		h.log.WithError(err).Error("stop tracking")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stop tracking"})
		return
	}
	c.JSON(http.StatusOK, h.status())
}

func (h *TrackingHandler) ListPermissions(c *gin.Context) {
	c.JSON(http.StatusOK, h.perms.All())
}

// SetPermission records a grant change. Revoking a location permission
// stops tracking.
func (h *TrackingHandler) SetPermission(c *gin.Context) {
	perm, err := domain.ParsePermission(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	h.perms.Set(perm, *req.Granted)
	h.log.WithFields(logrus.Fields{"permission": perm, "granted": *req.Granted}).Info("permission changed")

	if !*req.Granted && perm != domain.PermissionNotifications && h.tracker.Status().Running {
		if err := h.tracker.Stop(); err != nil {
			h.log.WithError(err).Error("stop tracking after revoke")
		}
	}
	c.JSON(http.StatusOK, h.perms.All())
}

func (h *TrackingHandler) status() trackingResponse {
	st := h.tracker.Status()
	resp := trackingResponse{Running: st.Running, Denied: st.Denied}
	if fix, ok := h.tracker.LastFix(); ok {
		resp.LastFix = &fix
	}
	return resp
}
