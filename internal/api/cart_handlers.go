package api

import (
	"net/http"

	"checkout-service/internal/service"

	"github.com/gin-gonic/gin"
)

type updateCartItemRequest struct {
	Size     string `json:"size"`
	Quantity int    `json:"quantity"`
}

type applyCouponRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) viewCart(c *gin.Context) {
	view, err := h.svc.Cart.View(c.Request.Context(), callerID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req service.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	qty, err := h.svc.Cart.Add(c.Request.Context(), callerID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product_id": req.ProductID,
		"size":       req.Size,
		"quantity":   qty,
	})
}

func (h *Handler) updateCartItem(c *gin.Context) {
	productID, ok := parseID(c, "productId")
	if !ok {
		return
	}
	var req updateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.svc.Cart.Update(c.Request.Context(), callerID(c), productID, req.Size, req.Quantity); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart updated"})
}

func (h *Handler) removeCartItem(c *gin.Context) {
	productID, ok := parseID(c, "productId")
	if !ok {
		return
	}

	if err := h.svc.Cart.Remove(c.Request.Context(), callerID(c), productID, c.Query("size")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Item removed"})
}

func (h *Handler) applyCoupon(c *gin.Context) {
	var req applyCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	applied, err := h.svc.Coupons.Apply(c.Request.Context(), callerID(c), req.Code)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, applied)
}

func (h *Handler) removeCoupon(c *gin.Context) {
	if err := h.svc.Coupons.Remove(c.Request.Context(), callerID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Coupon removed"})
}

func (h *Handler) listAvailableCoupons(c *gin.Context) {
	coupons, err := h.svc.Coupons.ListAvailable(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupons": coupons})
}

func (h *Handler) listAddresses(c *gin.Context) {
	addresses, err := h.svc.Addresses.List(c.Request.Context(), callerID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"addresses": addresses})
}

func (h *Handler) createAddress(c *gin.Context) {
	var req service.AddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	address, err := h.svc.Addresses.Create(c.Request.Context(), callerID(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, address)
}
