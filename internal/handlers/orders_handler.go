package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/imrishuroy/restaurant-orderflow/internal/cart"
	"github.com/imrishuroy/restaurant-orderflow/internal/catalog"
	"github.com/imrishuroy/restaurant-orderflow/internal/feed"
	"github.com/imrishuroy/restaurant-orderflow/internal/logging"
	"github.com/imrishuroy/restaurant-orderflow/internal/orders"
	"github.com/imrishuroy/restaurant-orderflow/internal/submission"
	"github.com/imrishuroy/restaurant-orderflow/internal/validation"
)

// Submitter places orders.
type Submitter interface {
	SubmitOrder(ctx context.Context, restaurantID string, req validation.CreateOrderRequest) (submission.Result, error)
}

// BreakerState reports the staff notification circuit breaker.
type BreakerState interface {
	State() gobreaker.State
}

// HandlerConfig groups dependencies for the API handlers.
type HandlerConfig struct {
	Submitter Submitter
	Orders    feed.Lister
	Feed      *feed.Feed
	Catalog   catalog.Reader
	Carts     cart.Storage
	// Notifications is optional; when set, /health reports its breaker state.
	Notifications BreakerState
	Logger        *zap.Logger
}

// RegisterRoutes registers every API route.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	r.GET("/health", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if cfg.Notifications != nil {
			// an open breaker degrades notifications only; orders are still accepted
			body["notifications"] = cfg.Notifications.State().String()
		}
		c.JSON(http.StatusOK, body)
	})
	RegisterOrdersRoutes(r, cfg)
	RegisterFeedRoutes(r, cfg)
	RegisterCartRoutes(r, cfg)
}

// RegisterOrdersRoutes registers routes for order API.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	r.POST("/api/:restaurantId/orders", func(c *gin.Context) {
		ctx := c.Request.Context()
		restaurantID := c.Param("restaurantId")

		var req validation.CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
			return
		}

		res, err := cfg.Submitter.SubmitOrder(ctx, restaurantID, req)
		if err != nil {
			respondError(c, cfg.Logger, err)
			return
		}
		if res.Replayed {
			c.JSON(http.StatusOK, gin.H{"message": "Order already placed", "orderId": res.ID})
			return
		}
		c.Header("Location", fmt.Sprintf("/api/%s/orders/%s", restaurantID, res.ID))
		c.JSON(http.StatusCreated, gin.H{"message": "Order placed successfully", "orderId": res.ID})
	})

	r.GET("/api/:restaurantId/orders", func(c *gin.Context) {
		list, err := cfg.Orders.ListByRestaurant(c.Request.Context(), c.Param("restaurantId"))
		if err != nil {
			respondError(c, cfg.Logger, err)
			return
		}
		if len(list) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"message": "No orders found"})
			return
		}
		c.JSON(http.StatusOK, list)
	})
}

// respondError maps an error to {message} with the matching status code.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var reused *validation.OrderIDReusedError
	switch {
	case errors.As(err, &reused):
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
	case validation.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "not found"})
	default:
		logging.Error(c.Request.Context(), logger, "request failed",
			zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal server error"})
	}
}
