package middleware

import (
	"fmt"
	"time"

	"buildforge/internal/service"
	"buildforge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

type RateLimitPolicy struct {
	Window   time.Duration
	IPMax    int
	RouteMax int
}

// RateLimitMiddleware enforces per-route rate limiting. The IP limit keeps
// one client from monopolizing build slots; the route limit caps aggregate
// pressure on the endpoint.
func RateLimitMiddleware(rateService *service.RateLimitService, routeKey string, policy RateLimitPolicy, defaultWindow time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rateService == nil {
			c.Next()
			return
		}
		window := policy.Window
		if window == 0 {
			window = defaultWindow
		}
		clientIP := c.ClientIP()
		if policy.IPMax > 0 {
			key := fmt.Sprintf("buildforge:rate:ip:%s:%s", clientIP, routeKey)
			if err := rateService.Allow(c.Request.Context(), key, policy.IPMax, window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}

		if policy.RouteMax > 0 {
			key := fmt.Sprintf("buildforge:rate:route:%s", routeKey)
			if err := rateService.Allow(c.Request.Context(), key, policy.RouteMax, window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}

		c.Next()
	}
}
