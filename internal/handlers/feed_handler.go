package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/imrishuroy/restaurant-orderflow/internal/feed"
	"github.com/imrishuroy/restaurant-orderflow/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxClientFrame = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientCommand is the only message a feed client sends.
type clientCommand struct {
	Action string `json:"action"` // "refresh"
}

// RegisterFeedRoutes registers the live feed (WebSocket) and its one-shot fallback.
func RegisterFeedRoutes(r *gin.Engine, cfg HandlerConfig) {
	r.GET("/api/:restaurantId/orders/snapshot", func(c *gin.Context) {
		criteria, err := feed.ParseSort(c.Query("sort"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		snap, _ := cfg.Feed.Refresh(c.Request.Context(), c.Param("restaurantId"), criteria)
		c.JSON(http.StatusOK, snap)
	})

	r.GET("/api/:restaurantId/orders/feed", func(c *gin.Context) {
		criteria, err := feed.ParseSort(c.Query("sort"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// the upgrader already replied
			return
		}
		serveFeed(c.Request.Context(), conn, cfg.Feed, c.Param("restaurantId"), criteria, cfg.Logger)
	})
}

func serveFeed(parent context.Context, conn *websocket.Conn, f *feed.Feed, restaurantID string, criteria feed.SortCriteria, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}

	sub, err := f.Subscribe(ctx, restaurantID, criteria, func(s feed.Snapshot) {
		if err := send(s); err != nil {
			logging.Debug(ctx, logger, "feed write failed", zap.Error(err))
			_ = conn.Close()
		}
	})
	if err != nil {
		logging.Warn(ctx, logger, "feed subscribe failed",
			zap.String("restaurant_id", restaurantID), zap.Error(err))
		_ = send(feed.Unavailable(restaurantID, criteria, "live updates unavailable"))
		return
	}
	defer sub.Unsubscribe()

	go func() {
		t := time.NewTicker(pingPeriod)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(maxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var cmd clientCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		if cmd.Action == "refresh" {
			snap, _ := f.Refresh(ctx, restaurantID, criteria)
			if err := send(snap); err != nil {
				return
			}
		}
	}
}
