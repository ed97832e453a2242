package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/auth"
	"checkout-service/internal/notify"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency checked by /ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the use cases served over HTTP.
type Services struct {
	Cart      *service.CartService
	Coupons   *service.CouponService
	Orders    *service.OrderService
	Payments  *service.PaymentService
	Wallet    *service.WalletService
	Addresses *service.AddressService
	Offers    *service.OfferService
	Reports   *service.ReportService
}

// Handler contains HTTP handlers
type Handler struct {
	svc            Services
	tokens         TokenParser
	hub            *notify.Hub
	checks         map[string]Pinger
	allowedOrigins []string
	logger         *zap.Logger
	now            func() time.Time
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, tokens TokenParser, hub *notify.Hub, checks map[string]Pinger, allowedOrigins []string) *Handler {
	return &Handler{
		svc:            svc,
		tokens:         tokens,
		hub:            hub,
		checks:         checks,
		allowedOrigins: allowedOrigins,
		logger:         util.GetLogger(),
		now:            time.Now,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(h.allowedOrigins))
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	customer := router.Group("/", requireRole(h.tokens, false, auth.RoleCustomer, auth.RoleAdmin))
	{
		customer.GET("/cart", h.viewCart)
		customer.POST("/cart/items", h.addCartItem)
		customer.PATCH("/cart/items/:productId", h.updateCartItem)
		customer.DELETE("/cart/items/:productId", h.removeCartItem)

		customer.POST("/coupons/apply", h.applyCoupon)
		customer.POST("/coupons/remove", h.removeCoupon)
		customer.GET("/coupons/list", h.listAvailableCoupons)

		customer.POST("/orders", h.placeOrder)
		customer.GET("/orders/user", h.listUserOrders)
		customer.GET("/orders/:id", h.getOrder)
		customer.PUT("/orders/:id", h.cancelOrder)
		customer.POST("/orders/:id/return", h.returnOrder)

		customer.POST("/orders/razorpay", h.initiatePayment)
		customer.POST("/orders/verify", h.verifyPayment)
		customer.POST("/orders/create-failed", h.recordFailedPayment)
		customer.POST("/orders/:id/retry-payment", h.retryPayment)

		customer.GET("/user/wallet/balance", h.walletBalance)
		customer.POST("/user/wallet/initiate", h.initiateTopUp)
		customer.POST("/user/wallet/verify", h.verifyTopUp)

		customer.GET("/user/addresses", h.listAddresses)
		customer.POST("/user/addresses", h.createAddress)
	}

	admin := router.Group("/", requireRole(h.tokens, false, auth.RoleAdmin))
	{
		admin.GET("/orders/admin/orders", h.adminListOrders)
		admin.PATCH("/orders/admin/orders/:id", h.adminUpdateOrderStatus)

		admin.POST("/admin/coupons", h.createCoupon)
		admin.GET("/admin/coupons", h.listCoupons)
		admin.DELETE("/admin/coupons/:id", h.deactivateCoupon)

		admin.POST("/admin/offers", h.createOffer)
		admin.GET("/admin/offers", h.listOffers)
		admin.DELETE("/admin/offers/:id", h.deactivateOffer)

		admin.GET("/admin/sales-report", h.salesReport)
	}

	router.GET("/admin/ws/orders", requireRole(h.tokens, true, auth.RoleAdmin), h.orderFeed)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   h.now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   h.now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   h.now().Unix(),
	})
}

func (h *Handler) orderFeed(c *gin.Context) {
	if err := h.hub.Serve(c.Writer, c.Request); err != nil {
		h.logger.Warn("Admin feed upgrade failed", zap.Error(err))
	}
}

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"details": "invalid " + name,
		})
		return 0, false
	}
	return id, true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	return page, limit
}
