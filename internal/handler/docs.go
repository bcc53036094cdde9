package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# Polypaper Trading Bot

Simulated trading bot for binary prediction markets. All fills are paper
fills against live order-book prices; no real orders are ever sent.

## Routes

- GET /healthz
- GET /readyz
- GET /swagger/index.html
- GET /api/portfolio
- POST /api/portfolio/reset
- GET /api/orders
- GET /api/orders/:id
- POST /api/orders/:id/cancel
- GET /api/activities
- GET /api/stats
- GET /api/balance-history
- GET /api/advisory/costs
- POST /api/cycle/run
- GET /api/cycle/status
- POST /api/cycle/stop

## Cycle control

POST /api/cycle/run triggers one manual batch: it bypasses the 20h auto
throttle and clears the analyzed cache, but still respects the cycle lock.
The response reports whether more fresh markets remain.
`)
	})
}
