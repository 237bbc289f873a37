package payments

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/wbobeirne/run-lnd-store/internal/orders"
)

// The browser client connects cross-scheme (http page, ws endpoint); the
// order token carried on the query string is the access control here.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// GinHandlers contains the payment subscription endpoint
type GinHandlers struct {
	watcher *Watcher
	orders  *orders.Service
}

// NewGinHandlers creates handlers for payment subscriptions
func NewGinHandlers(watcher *Watcher, orders *orders.Service) *GinHandlers {
	return &GinHandlers{watcher: watcher, orders: orders}
}

// SubscribeHandler upgrades to a websocket and streams exactly one JSON
// event for the order: {success:true}, {expired:true} or {error:...},
// then closes. A disconnecting client detaches its listener and cancels
// its expiry timer.
func (h *GinHandlers) SubscribeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.orders.GetOrder(c.Param("id"))
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		conn, upgradeErr := upgrader.Upgrade(c.Writer, c.Request, nil)
		if upgradeErr != nil {
			// Upgrade already wrote the HTTP error.
			return
		}
		defer conn.Close()

		if order == nil {
			conn.WriteJSON(Event{Error: "No order found"})
			return
		}

		sub := h.watcher.Subscribe(order)
		defer sub.Close()

		// Drain reads so we notice the client going away mid-wait.
		clientGone := make(chan struct{})
		go func() {
			defer close(clientGone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		select {
		case ev := <-sub.C:
			if err := conn.WriteJSON(ev); err != nil {
				zlog.Warn().Err(err).Str("order_id", order.OrderID).
					Msg("failed to deliver payment event")
			}
		case <-clientGone:
		case <-c.Request.Context().Done():
		}
	}
}
