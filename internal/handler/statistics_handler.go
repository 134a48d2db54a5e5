package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pierix/crm-api/internal/service"
	"github.com/pierix/crm-api/pkg/response"
)

// StatisticsHandler serves the dashboard aggregates.
type StatisticsHandler struct {
	stats *service.StatisticsService
}

func NewStatisticsHandler(stats *service.StatisticsService) *StatisticsHandler {
	return &StatisticsHandler{stats: stats}
}

func (h *StatisticsHandler) Overview(c *gin.Context) {
	stats, err := h.stats.Overview(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
