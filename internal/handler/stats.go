package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"polypaper/internal/repository"
	"polypaper/internal/service"
)

type StatsHandler struct {
	Stats *service.StatsService
	Repo  repository.Repository
}

func (h *StatsHandler) Register(r *gin.Engine) {
	r.GET("/api/stats", h.stats)
	r.GET("/api/balance-history", h.balanceHistory)
}

// @Summary Bot performance summary
// @Tags stats
// @Success 200 {object} apiResponse
// @Router /api/stats [get]
func (h *StatsHandler) stats(c *gin.Context) {
	if h.Stats == nil {
		Error(c, http.StatusInternalServerError, "stats unavailable", nil)
		return
	}
	stats, err := h.Stats.Compute(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, stats, nil)
}

// @Summary Balance history for the dashboard chart
// @Tags stats
// @Param days query int false "window in days, default 30"
// @Param limit query int false "max points"
// @Success 200 {object} apiResponse
// @Router /api/balance-history [get]
func (h *StatsHandler) balanceHistory(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	days := intQuery(c, "days", 30)
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	points, err := h.Repo.ListBalancePoints(c.Request.Context(), &since, intQuery(c, "limit", 1000))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, points, nil)
}
