package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"polypaper/internal/models"
	"polypaper/internal/repository"
)

type PortfolioHandler struct {
	Repo           repository.Repository
	InitialBalance decimal.Decimal
}

func (h *PortfolioHandler) Register(r *gin.Engine) {
	g := r.Group("/api/portfolio")
	g.GET("", h.get)
	g.POST("/reset", h.reset)
}

// @Summary Current portfolio
// @Tags portfolio
// @Success 200 {object} apiResponse
// @Router /api/portfolio [get]
func (h *PortfolioHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	item, err := h.Repo.GetPortfolio(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "portfolio not initialized", nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary Reset the portfolio, wiping orders and history
// @Tags portfolio
// @Success 200 {object} apiResponse
// @Router /api/portfolio/reset [post]
func (h *PortfolioHandler) reset(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	ctx := c.Request.Context()
	// Wipes run in order; the balance reset comes last so a partial failure
	// leaves the old balance intact and the reset retryable.
	steps := []func() error{
		func() error { return h.Repo.DeleteOrders(ctx) },
		func() error { return h.Repo.DeleteActivities(ctx) },
		func() error { return h.Repo.DeleteAdvisoryCalls(ctx) },
		func() error { return h.Repo.DeleteBalancePoints(ctx) },
		func() error { return h.Repo.DeleteSchedulerState(ctx, models.SchedulerKeyAnalyzed) },
		func() error { return h.Repo.ResetPortfolio(ctx, h.InitialBalance) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
	}
	_ = h.Repo.InsertActivity(ctx, &models.Activity{
		Type:    models.ActivityInfo,
		Message: fmt.Sprintf("Portfolio reset to $%s", h.InitialBalance.StringFixed(2)),
	})
	item, err := h.Repo.GetPortfolio(ctx)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}
