package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"polypaper/internal/repository"
)

type AdvisoryHandler struct {
	Repo repository.Repository
}

func (h *AdvisoryHandler) Register(r *gin.Engine) {
	r.GET("/api/advisory/costs", h.costs)
}

// @Summary Advisory usage totals and recent calls
// @Tags advisory
// @Param limit query int false "recent calls to include, default 20"
// @Success 200 {object} apiResponse
// @Router /api/advisory/costs [get]
func (h *AdvisoryHandler) costs(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	summary, err := h.Repo.SumAdvisoryCosts(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	recent, err := h.Repo.ListAdvisoryCalls(c.Request.Context(), intQuery(c, "limit", 20))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{
		"calls":         summary.Calls,
		"input_tokens":  summary.InputTokens,
		"output_tokens": summary.OutputTokens,
		"cost_usd":      summary.CostUSD,
		"recent":        recent,
	}, nil)
}
