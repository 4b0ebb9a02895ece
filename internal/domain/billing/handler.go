package billing

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hmis/billing-engine/internal/platform/auth"
)

type Handler struct {
	orch *Orchestrator
}

func NewHandler(orch *Orchestrator) *Handler {
	return &Handler{orch: orch}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole("admin", "billing", "cashier")

	g := api.Group("", role)
	g.POST("/visits/:visitId/price-inquiry", h.PriceInquiry)
	g.PUT("/transactions/:id", h.EditTransaction)
	g.POST("/transactions/cancel", h.CancelTransactions)
	g.POST("/transactions/discount", h.AddDiscount)
	g.POST("/visits/:visitId/master-tax", h.CalculateMasterTax)
	g.PUT("/services/approval-status", h.ApprovalStatus)
	g.PUT("/services/claim-status", h.ClaimStatus)
}

type priceInquiryRequest struct {
	Lines     []*RequestLine `json:"lines"`
	Persist   bool           `json:"persist"`
	ReInquiry bool           `json:"re_inquiry"`
}

type cancelRequest struct {
	TransactionIDs []int64 `json:"transaction_ids"`
}

type discountRequest struct {
	Lines []DiscountLine `json:"lines"`
}

type statusRequest struct {
	Services []ServiceStatusUpdate `json:"services"`
}

func httpError(err error) error {
	if ee, ok := AsEngineError(err); ok {
		status := http.StatusUnprocessableEntity
		if ee.Code == StatusUnexpectedError {
			status = http.StatusInternalServerError
		}
		return echo.NewHTTPError(status, map[string]interface{}{
			"status_code": int(ee.Code),
			"status":      ee.Code.String(),
			"message":     ee.Message,
		})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) PriceInquiry(c echo.Context) error {
	visitID, err := strconv.ParseInt(c.Param("visitId"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	var req priceInquiryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	for _, line := range req.Lines {
		line.VisitID = visitID
	}
	results, err := h.orch.PriceInquiry(c.Request().Context(), req.Lines, req.Persist, req.ReInquiry)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, results)
}

func (h *Handler) EditTransaction(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid transaction id")
	}
	var line RequestLine
	if err := c.Bind(&line); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	line.TransactionID = &id
	results, err := h.orch.EditPatientTransaction(c.Request().Context(), &line)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, results)
}

func (h *Handler) CancelTransactions(c echo.Context) error {
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	results, err := h.orch.CancelPatientTransaction(c.Request().Context(), req.TransactionIDs)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, results)
}

func (h *Handler) AddDiscount(c echo.Context) error {
	var req discountRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	results, err := h.orch.AddDiscount(c.Request().Context(), req.Lines)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, results)
}

func (h *Handler) CalculateMasterTax(c echo.Context) error {
	visitID, err := strconv.ParseInt(c.Param("visitId"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	results, err := h.orch.CalculateMasterTax(c.Request().Context(), visitID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, results)
}

func (h *Handler) ApprovalStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res := h.orch.ServiceApprovalStatus(c.Request().Context(), req.Services)
	return c.JSON(http.StatusOK, map[string]int{"result": int(res)})
}

func (h *Handler) ClaimStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res := h.orch.ServiceClaimStatus(c.Request().Context(), req.Services)
	return c.JSON(http.StatusOK, map[string]int{"result": int(res)})
}
