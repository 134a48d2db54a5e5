package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pierix/crm-api/internal/middleware"
	"github.com/pierix/crm-api/internal/models"
	"github.com/pierix/crm-api/internal/service"
	appErrors "github.com/pierix/crm-api/pkg/errors"
	"github.com/pierix/crm-api/pkg/export"
	"github.com/pierix/crm-api/pkg/response"
)

// CustomerHandler exposes the customer endpoints.
type CustomerHandler struct {
	customers *service.CustomerService
	csv       *export.CustomerCSV
}

func NewCustomerHandler(customers *service.CustomerService, csv *export.CustomerCSV) *CustomerHandler {
	return &CustomerHandler{customers: customers, csv: csv}
}

func (h *CustomerHandler) List(c *gin.Context) {
	filter := customerFilter(c)
	customers, total, err := h.customers.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, customers, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

func (h *CustomerHandler) Get(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	customer, err := h.customers.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, customer, nil)
}

func (h *CustomerHandler) Create(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var customer models.Customer
	if err := c.ShouldBindJSON(&customer); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid customer payload"))
		return
	}

	created, err := h.customers.Create(c.Request.Context(), &customer, user.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

func (h *CustomerHandler) Update(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var customer models.Customer
	if err := c.ShouldBindJSON(&customer); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid customer payload"))
		return
	}
	customer.ID = id

	updated, err := h.customers.Update(c.Request.Context(), &customer)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// UpdateStatus moves a customer to another pipeline stage.
func (h *CustomerHandler) UpdateStatus(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req struct {
		Status models.CustomerStatus `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "status is required"))
		return
	}

	customer, err := h.customers.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, customer, nil)
}

func (h *CustomerHandler) Delete(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.customers.Delete(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ExportCSV streams the filtered customer list as a CSV download.
func (h *CustomerHandler) ExportCSV(c *gin.Context) {
	filter := customerFilter(c)
	filter.Page = 1
	filter.PageSize = 10000

	customers, _, err := h.customers.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	data, err := h.csv.Render(customers)
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("customers-%s.csv", time.Now().UTC().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv", data)
}

func customerFilter(c *gin.Context) models.CustomerFilter {
	filter := models.CustomerFilter{
		City:      c.Query("city"),
		Company:   c.Query("company"),
		Search:    c.Query("search"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 20),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if status := c.Query("status"); status != "" {
		s := models.CustomerStatus(status)
		filter.Status = &s
	}
	if priority := c.Query("priority"); priority != "" {
		p := models.CustomerPriority(priority)
		filter.Priority = &p
	}
	if source := c.Query("lead_source"); source != "" {
		l := models.LeadSource(source)
		filter.LeadSource = &l
	}
	if assigned := c.Query("assigned_to"); assigned != "" {
		if id := int64(queryInt(c, "assigned_to", 0)); id > 0 {
			filter.AssignedTo = &id
		}
	}
	return filter
}
