package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/restaurant-orderflow/internal/cart"
	"github.com/imrishuroy/restaurant-orderflow/internal/money"
	"github.com/imrishuroy/restaurant-orderflow/internal/validation"
)

// SessionHeader carries the browsing session a cart belongs to.
const SessionHeader = "X-Session-Id"

// AddItemRequest adds one unit of a menu item.
type AddItemRequest struct {
	ItemID string `json:"itemId" validate:"required"`
}

// UpdateLineRequest changes a line's quantity and/or special requests.
type UpdateLineRequest struct {
	Delta           *int    `json:"delta" validate:"omitempty,min=-1000,max=1000"`
	SpecialRequests *string `json:"specialRequests" validate:"omitempty,max=2000"`
}

// CheckoutRequest submits the cart.
type CheckoutRequest struct {
	OrderID     string `json:"orderId" validate:"max=128"`
	TableNumber string `json:"tableNumber" validate:"max=32"`
}

type cartView struct {
	Lines []cart.Line `json:"items"`
	Count int         `json:"count"`
	Total float64     `json:"total"`
}

func viewOf(c *cart.Cart) cartView {
	lines := c.Lines()
	count := 0
	for _, l := range lines {
		count += l.Quantity
	}
	return cartView{Lines: lines, Count: count, Total: money.Float(c.Total())}
}

// RegisterCartRoutes registers the server-side cart under /api/:restaurantId/cart.
func RegisterCartRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	g := r.Group("/api/:restaurantId/cart")

	load := func(c *gin.Context) (*cart.Cart, bool) {
		session := c.GetHeader(SessionHeader)
		if session == "" {
			c.JSON(http.StatusBadRequest, gin.H{"message": SessionHeader + " header is required"})
			return nil, false
		}
		key := cart.Key{SessionID: session, RestaurantID: c.Param("restaurantId")}
		return cart.Load(c.Request.Context(), key, cfg.Carts, cfg.Logger), true
	}

	g.GET("", func(c *gin.Context) {
		ct, ok := load(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, viewOf(ct))
	})

	g.POST("/items", func(c *gin.Context) {
		var req AddItemRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		ct, ok := load(c)
		if !ok {
			return
		}
		item, err := cfg.Catalog.GetMenuItem(c.Request.Context(), c.Param("restaurantId"), req.ItemID)
		if err != nil {
			respondError(c, cfg.Logger, err)
			return
		}
		ct.AddItem(c.Request.Context(), *item)
		c.JSON(http.StatusOK, viewOf(ct))
	})

	g.PATCH("/items/:itemId", func(c *gin.Context) {
		var req UpdateLineRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		if req.Delta == nil && req.SpecialRequests == nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "delta or specialRequests is required"})
			return
		}
		ct, ok := load(c)
		if !ok {
			return
		}
		ctx, itemID := c.Request.Context(), c.Param("itemId")
		found := true
		if req.Delta != nil {
			found = ct.UpdateQuantity(ctx, itemID, *req.Delta)
		}
		if found && req.SpecialRequests != nil {
			found = ct.SetSpecialRequests(ctx, itemID, *req.SpecialRequests)
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"message": "item not in cart"})
			return
		}
		c.JSON(http.StatusOK, viewOf(ct))
	})

	g.DELETE("/items/:itemId", func(c *gin.Context) {
		ct, ok := load(c)
		if !ok {
			return
		}
		if !ct.RemoveItem(c.Request.Context(), c.Param("itemId")) {
			c.JSON(http.StatusNotFound, gin.H{"message": "item not in cart"})
			return
		}
		c.JSON(http.StatusOK, viewOf(ct))
	})

	g.POST("/checkout", func(c *gin.Context) {
		var req CheckoutRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		ct, ok := load(c)
		if !ok {
			return
		}
		res, err := cfg.Submitter.SubmitOrder(c.Request.Context(), c.Param("restaurantId"), ct.Request(req.OrderID, req.TableNumber))
		if err != nil {
			respondError(c, cfg.Logger, err)
			return
		}
		ct.Clear(c.Request.Context())

		status, msg := http.StatusCreated, "Order placed successfully"
		if res.Replayed {
			status, msg = http.StatusOK, "Order already placed"
		}
		c.JSON(status, gin.H{"message": msg, "orderId": res.ID})
	})
}
