package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"polypaper/internal/repository"
)

type ActivityHandler struct {
	Repo repository.Repository
}

func (h *ActivityHandler) Register(r *gin.Engine) {
	r.GET("/api/activities", h.list)
}

// @Summary Recent activity feed
// @Tags activities
// @Param type query string false "info|edge|order|resolved|warning"
// @Param limit query int false "page size"
// @Success 200 {object} apiResponse
// @Router /api/activities [get]
func (h *ActivityHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	params := repository.ListActivitiesParams{
		Type:   strQueryPtr(c, "type"),
		Limit:  intQuery(c, "limit", 100),
		Offset: intQuery(c, "offset", 0),
	}
	items, err := h.Repo.ListActivities(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}
