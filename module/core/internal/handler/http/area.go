package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
)

type areaService interface {
	Save(ctx context.Context, ring orb.Ring) (string, error)
	Replace(ctx context.Context, id string, ring orb.Ring) error
	Delete(ctx context.Context, id string) error
	FetchAll(ctx context.Context) domain.AreaSet
}

type ringRequest struct {
	Coordinates orb.Ring `json:"coordinates" binding:"required"`
}

type submitRequest struct {
	Geometry json.RawMessage `json:"geometry" binding:"required"`
	Type     string          `json:"type"`
	UserID   string          `json:"userId"`
}

type AreaHandler struct {
	areaSvc areaService
	log     logrus.FieldLogger
}

func NewAreaHandler(areaSvc areaService, log logrus.FieldLogger) *AreaHandler {
	return &AreaHandler{areaSvc: areaSvc, log: log}
}

func (h *AreaHandler) Register(r *gin.RouterGroup) {
	r.GET("/areas", h.ListAreas)
	r.POST("/areas", h.CreateArea)
	r.PUT("/areas/:id", h.ReplaceArea)
	r.DELETE("/areas/:id", h.DeleteArea)
	r.POST("/submit", h.Submit)
}

// ListAreas returns every area keyed by id in the stored record layout.
func (h *AreaHandler) ListAreas(c *gin.Context) {
	areas := h.areaSvc.FetchAll(c.Request.Context())
	records := make(map[string]domain.AreaRecord, len(areas))
	for id, a := range areas {
		records[id] = a.Record()
	}
	c.JSON(http.StatusOK, records)
}

func (h *AreaHandler) CreateArea(c *gin.Context) {
	var req ringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	id, err := h.areaSvc.Save(c.Request.Context(), req.Coordinates)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *AreaHandler) ReplaceArea(c *gin.Context) {
	var req ringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.areaSvc.Replace(c.Request.Context(), c.Param("id"), req.Coordinates); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
}

func (h *AreaHandler) DeleteArea(c *gin.Context) {
	if err := h.areaSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Submit accepts a flood report drawn in the mobile app and stores its
// polygon as a new area.
func (h *AreaHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	g, err := geojson.UnmarshalGeometry(req.Geometry)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid geometry"})
		return
	}
	poly, ok := g.Geometry().(orb.Polygon)
	if !ok || len(poly) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "geometry must be a Polygon"})
		return
	}

	id, err := h.areaSvc.Save(c.Request.Context(), poly[0])
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"area_id": id,
		"type":    req.Type,
		"user_id": req.UserID,
	}).Info("report received")
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Flood report received!",
		"id":      id,
	})
}

func (h *AreaHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRing), errors.Is(err, domain.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrAreaNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "area not found"})
	case errors.Is(err, domain.ErrTransport):
		h.log.WithError(err).Error("area store unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "area store unavailable"})
	default:
		h.log.WithError(err).Error("area request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
