package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/wbobeirne/run-lnd-store/internal/auth"
	"github.com/wbobeirne/run-lnd-store/pkg/response"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	visitors = make(map[string]*visitor)
	mu       sync.RWMutex

	// Configure limits per endpoint type. Verification and order creation
	// both hit the node RPC, so they are the tight ones.
	verifyLimit = rate.Limit(10.0 / 60.0)  // 10 requests per minute
	orderLimit  = rate.Limit(30.0 / 60.0)  // 30 requests per minute
	statusLimit = rate.Limit(300.0 / 60.0) // 300 requests per minute
)

// Cleanup old visitors periodically
func init() {
	go cleanupVisitors()
}

func getLimiter(method, path, clientIP string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	key := clientIP + ":" + method + ":" + path
	v, exists := visitors[key]

	if !exists {
		var limit rate.Limit
		switch {
		case path == "/api/verify":
			limit = verifyLimit
		case method == "POST" && path == "/api/order":
			limit = orderLimit
		case strings.HasPrefix(path, "/api/"):
			limit = statusLimit
		default:
			limit = rate.Inf
		}

		v = &visitor{
			limiter:  rate.NewLimiter(limit, 3),
			lastSeen: time.Now(),
		}
		visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		mu.Lock()
		for key, v := range visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(visitors, key)
			}
		}
		mu.Unlock()
	}
}

// RateLimit throttles clients per IP and endpoint class.
func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := getLimiter(c.Request.Method, c.FullPath(), c.ClientIP())
		if !limiter.Allow() {
			response.BadRequest(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// OrderToken requires a valid order access token scoped to the :id route
// parameter. The token comes from the Authorization header, or from the
// token query parameter for websocket clients that can't set headers.
func OrderToken(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("token")
		if tokenString == "" {
			bearer := strings.Split(c.GetHeader("Authorization"), " ")
			if len(bearer) == 2 && strings.EqualFold(bearer[0], "bearer") {
				tokenString = bearer[1]
			}
		}
		if tokenString == "" {
			response.Unauthorized(c, "Order token required")
			c.Abort()
			return
		}

		orderID, err := authService.ValidateOrderToken(tokenString)
		if err != nil || orderID != c.Param("id") {
			response.Unauthorized(c, "Order token is invalid for this order")
			c.Abort()
			return
		}

		c.Next()
	}
}
