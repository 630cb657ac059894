package stats

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/internal/users/:id/history", h.History)
	r.GET("/internal/rankings", h.Rankings)
}

func limitParam(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	return n, true
}

// GET /internal/users/:id/history?limit=
func (h *Handler) History(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	resp, err := h.svc.UserHistory(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GET /internal/rankings?limit=
func (h *Handler) Rankings(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	resp, err := h.svc.GlobalRanking(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}
