package api

import (
	"net/http"

	"checkout-service/internal/report"
	"checkout-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *Handler) adminListOrders(c *gin.Context) {
	page, limit := pageParams(c)
	orders, err := h.svc.Orders.ListOrders(c.Request.Context(), c.Query("status"), page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *Handler) adminUpdateOrderStatus(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.svc.Orders.AdminUpdateStatus(c.Request.Context(), orderID, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) createCoupon(c *gin.Context) {
	var req service.CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	coupon, err := h.svc.Coupons.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, coupon)
}

func (h *Handler) listCoupons(c *gin.Context) {
	coupons, err := h.svc.Coupons.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupons": coupons})
}

func (h *Handler) deactivateCoupon(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Coupons.Deactivate(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Coupon deactivated"})
}

func (h *Handler) createOffer(c *gin.Context) {
	var req service.OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	offer, err := h.svc.Offers.Create(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, offer)
}

func (h *Handler) listOffers(c *gin.Context) {
	offers, err := h.svc.Offers.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers})
}

func (h *Handler) deactivateOffer(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Offers.Deactivate(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Offer deactivated"})
}

// salesReport serves ?from=&to=&format=json|xlsx
func (h *Handler) salesReport(c *gin.Context) {
	from, to, err := service.ParseRange(c.Query("from"), c.Query("to"), h.now())
	if err != nil {
		badRequest(c, err)
		return
	}

	format := c.DefaultQuery("format", "json")
	if format != "json" && format != "xlsx" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"details": "format must be json or xlsx",
		})
		return
	}

	sales, err := h.svc.Reports.Sales(c.Request.Context(), from, to)
	if err != nil {
		writeError(c, err)
		return
	}

	if format == "json" {
		c.JSON(http.StatusOK, sales)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+report.Filename(sales)+`"`)
	c.Header("Content-Type", report.ContentType)
	c.Status(http.StatusOK)
	if err := report.WriteSales(c.Writer, sales); err != nil {
		h.logger.Error("Failed to stream sales workbook", zap.Error(err))
	}
}
