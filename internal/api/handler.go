package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"refund-service/internal/broker"
	"refund-service/internal/gateway"
	"refund-service/internal/models"
	"refund-service/internal/redisclient"
	"refund-service/internal/refund"
	"refund-service/internal/service"
	"refund-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	requests     *service.RequestService
	refunds      *service.RefundService
	stripeClient *gateway.StripeClient
	webhookQueue *broker.WebhookQueue
	redis        *redisclient.Client
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	requests *service.RequestService,
	refunds *service.RefundService,
	stripeClient *gateway.StripeClient,
	webhookQueue *broker.WebhookQueue,
	redis *redisclient.Client,
) *Handler {
	return &Handler{
		requests:     requests,
		refunds:      refunds,
		stripeClient: stripeClient,
		webhookQueue: webhookQueue,
		redis:        redis,
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/stripe/refunds", h.stripeRefundWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/refund-requests", h.createRefundRequest)
		v1.GET("/refund-requests", h.listRefundRequests)
		v1.GET("/refund-requests/:id", h.getRefundRequest)
		v1.POST("/refund-requests/:id/approve", h.approveRefundRequest)
		v1.POST("/refund-requests/:id/reject", h.rejectRefundRequest)
		v1.DELETE("/refund-requests/:id", h.cancelRefundRequest)

		v1.POST("/refunds/process", h.processRefund)
		v1.GET("/refunds", h.listRefunds)
		v1.GET("/refunds/:id", h.getRefund)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// actorFrom builds the caller identity from edge-injected headers.
// Authentication itself happens upstream.
func actorFrom(c *gin.Context) models.Actor {
	var actor models.Actor
	if id, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64); err == nil {
		actor.UserID = id
	}
	actor.Email = c.GetHeader("X-User-Email")
	for _, role := range strings.Split(c.GetHeader("X-User-Roles"), ",") {
		if strings.TrimSpace(role) == "admin" {
			actor.Admin = true
		}
	}
	return actor
}

// guestEmail returns the guest email from the query string
func guestEmail(c *gin.Context) string {
	return c.Query("email")
}

// createRefundRequest handles refund request creation
func (h *Handler) createRefundRequest(c *gin.Context) {
	var in service.CreateRequestInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	in.Actor = actorFrom(c)

	request, err := h.requests.Create(c.Request.Context(), in)
	if err != nil {
		h.renderError(c, err, "Failed to create refund request")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"refund_request": request})
}

// listRefundRequests handles refund request listing
func (h *Handler) listRefundRequests(c *gin.Context) {
	orderID, _ := strconv.ParseInt(c.Query("order_id"), 10, 64)

	requests, err := h.requests.List(c.Request.Context(), orderID, c.Query("status"), actorFrom(c), guestEmail(c))
	if err != nil {
		h.renderError(c, err, "Failed to list refund requests")
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund_requests": requests})
}

// getRefundRequest handles get refund request by ID
func (h *Handler) getRefundRequest(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	request, err := h.requests.Get(c.Request.Context(), id, actorFrom(c), guestEmail(c))
	if err != nil {
		h.renderError(c, err, "Failed to fetch refund request")
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund_request": request})
}

// approveRefundRequest handles admin approval
func (h *Handler) approveRefundRequest(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	request, err := h.requests.Approve(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		h.renderError(c, err, "Failed to approve refund request")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "Refund request approved",
		"refund_request": request,
	})
}

// rejectRefundRequest handles admin rejection
func (h *Handler) rejectRefundRequest(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var body struct {
		RejectionReason string `json:"rejection_reason"`
	}
	_ = c.ShouldBindJSON(&body)

	request, err := h.requests.Reject(c.Request.Context(), id, actorFrom(c), body.RejectionReason)
	if err != nil {
		h.renderError(c, err, "Failed to reject refund request")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "Refund request rejected",
		"refund_request": request,
	})
}

// cancelRefundRequest handles cancellation by the requester
func (h *Handler) cancelRefundRequest(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.requests.Cancel(c.Request.Context(), id, actorFrom(c), guestEmail(c)); err != nil {
		h.renderError(c, err, "Failed to cancel refund request")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Refund request cancelled"})
}

// processRefundBody is the admin-facing process request
type processRefundBody struct {
	OrderID int64 `json:"order_id" binding:"required"`
	service.ProcessRefundInput
}

// processRefund handles refund processing (admin only)
func (h *Handler) processRefund(c *gin.Context) {
	actor := actorFrom(c)
	if !actor.Admin {
		c.JSON(http.StatusForbidden, gin.H{"error": "Unauthorized"})
		return
	}

	var body processRefundBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	body.Actor = actor

	result, err := h.refunds.ProcessRefund(c.Request.Context(), body.OrderID, body.ProcessRefundInput)
	if err != nil {
		h.renderError(c, err, "Failed to process refund")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":       "Refund processed successfully",
		"refund":        result.Refund,
		"stripe_refund": result.Processor,
	})
}

// listRefunds handles refund listing
func (h *Handler) listRefunds(c *gin.Context) {
	orderID, _ := strconv.ParseInt(c.Query("order_id"), 10, 64)

	refunds, err := h.refunds.ListRefunds(c.Request.Context(), orderID, c.Query("status"), actorFrom(c), guestEmail(c))
	if err != nil {
		h.renderError(c, err, "Failed to list refunds")
		return
	}

	c.JSON(http.StatusOK, gin.H{"refunds": refunds})
}

// getRefund handles get refund by ID
func (h *Handler) getRefund(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	rec, err := h.refunds.GetRefund(c.Request.Context(), id, actorFrom(c), guestEmail(c))
	if err != nil {
		h.renderError(c, err, "Failed to fetch refund")
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund": rec})
}

// stripeRefundWebhook verifies and enqueues Stripe refund events. The
// reconciler consumes them asynchronously; this handler only acks.
func (h *Handler) stripeRefundWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if signature == "" {
		util.WebhookEventsTotal.WithLabelValues("bad_signature").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing stripe-signature header"})
		return
	}

	event, relevant, err := h.stripeClient.VerifyWebhook(body, signature)
	if err != nil {
		h.logger.Error("Webhook signature verification failed", zap.Error(err))
		util.WebhookEventsTotal.WithLabelValues("bad_signature").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook verification failed"})
		return
	}
	if !relevant {
		util.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	// Exact redeliveries are dropped cheaply; the reconciler is
	// idempotent either way.
	seen, err := h.redis.MarkEventSeen(c.Request.Context(), event.StripeEventID, 24*time.Hour)
	if err != nil {
		h.logger.Warn("Webhook dedup check failed", zap.Error(err))
	} else if seen {
		util.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	event.BaseEvent = models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: models.EventTypeStripeRefund,
		Timestamp: time.Now(),
	}

	if err := h.webhookQueue.Enqueue(c.Request.Context(), event); err != nil {
		h.logger.Error("Failed to enqueue webhook event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue event"})
		return
	}

	util.WebhookEventsTotal.WithLabelValues("received").Inc()
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return 0, false
	}
	return id, true
}

// renderError maps domain errors to HTTP statuses
func (h *Handler) renderError(c *gin.Context, err error, fallback string) {
	var gatewayErr *refund.GatewayError

	switch {
	case errors.Is(err, refund.ErrOrderNotFound),
		errors.Is(err, refund.ErrRequestNotFound),
		errors.Is(err, refund.ErrRefundNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, refund.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "Unauthorized"})
	case errors.Is(err, refund.ErrDuplicateRefund),
		errors.Is(err, refund.ErrDuplicateRequest):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &gatewayErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": gatewayErr.Error()})
	case errors.Is(err, refund.ErrInvalidOrder),
		errors.Is(err, refund.ErrInvalidAmount),
		errors.Is(err, refund.ErrAmountExceedsRefundable),
		errors.Is(err, refund.ErrOrderCancelled),
		errors.Is(err, refund.ErrAlreadyRefunded),
		errors.Is(err, refund.ErrNoAmount),
		errors.Is(err, refund.ErrNoTransactions),
		errors.Is(err, refund.ErrNotSucceeded),
		errors.Is(err, refund.ErrUnsupportedMethod),
		errors.Is(err, refund.ErrMissingPaymentIntent),
		errors.Is(err, refund.ErrNoRefundableTransaction),
		errors.Is(err, refund.ErrTransactionNotOnOrder),
		errors.Is(err, refund.ErrRequestNotApproved),
		errors.Is(err, refund.ErrNotPending),
		errors.Is(err, refund.ErrMissingFields):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error(fallback, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   fallback,
			"details": err.Error(),
		})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
