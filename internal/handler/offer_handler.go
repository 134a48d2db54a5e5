package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pierix/crm-api/internal/middleware"
	"github.com/pierix/crm-api/internal/models"
	"github.com/pierix/crm-api/internal/service"
	appErrors "github.com/pierix/crm-api/pkg/errors"
	"github.com/pierix/crm-api/pkg/response"
)

// OfferHandler exposes the offer endpoints.
type OfferHandler struct {
	offers  *service.OfferService
	exports *service.ExportService
}

func NewOfferHandler(offers *service.OfferService, exports *service.ExportService) *OfferHandler {
	return &OfferHandler{offers: offers, exports: exports}
}

func (h *OfferHandler) List(c *gin.Context) {
	filter := models.OfferFilter{
		Search:    c.Query("search"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 20),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if status := c.Query("status"); status != "" {
		s := models.OfferStatus(status)
		filter.Status = &s
	}
	if customer := int64(queryInt(c, "customer_id", 0)); customer > 0 {
		filter.CustomerID = &customer
	}

	offers, total, err := h.offers.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, offers, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

func (h *OfferHandler) Get(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	offer, err := h.offers.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, offer, nil)
}

func (h *OfferHandler) Create(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var offer models.Offer
	if err := c.ShouldBindJSON(&offer); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid offer payload"))
		return
	}

	created, err := h.offers.Create(c.Request.Context(), &offer, user.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

func (h *OfferHandler) Update(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var offer models.Offer
	if err := c.ShouldBindJSON(&offer); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid offer payload"))
		return
	}
	offer.ID = id

	updated, err := h.offers.Update(c.Request.Context(), &offer)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

func (h *OfferHandler) MarkSent(c *gin.Context) {
	h.transition(c, h.offers.MarkSent)
}

func (h *OfferHandler) MarkPaid(c *gin.Context) {
	h.transition(c, h.offers.MarkPaid)
}

func (h *OfferHandler) MarkOverdue(c *gin.Context) {
	h.transition(c, h.offers.MarkOverdue)
}

func (h *OfferHandler) Delete(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.offers.Delete(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ExportPDF queues background rendering of the offer document.
func (h *OfferHandler) ExportPDF(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrConflict, "exports are disabled"))
		return
	}
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	job, err := h.exports.EnqueueOfferPDF(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, job, nil)
}

func (h *OfferHandler) transition(c *gin.Context, fn func(context.Context, int64) (*models.Offer, error)) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	offer, err := fn(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, offer, nil)
}
