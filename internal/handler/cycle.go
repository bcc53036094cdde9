package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"polypaper/internal/engine"
)

type CycleHandler struct {
	Engine *engine.Orchestrator
}

func (h *CycleHandler) Register(r *gin.Engine) {
	g := r.Group("/api/cycle")
	g.POST("/run", h.run)
	g.GET("/status", h.status)
	g.POST("/stop", h.stop)
}

// @Summary Run one manual trading cycle batch
// @Tags cycle
// @Success 200 {object} apiResponse
// @Router /api/cycle/run [post]
func (h *CycleHandler) run(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "engine unavailable", nil)
		return
	}
	result, err := h.Engine.RunCycle(c.Request.Context(), true)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, result, nil)
}

// @Summary Scheduler state: lock, throttle, analyzed cache
// @Tags cycle
// @Success 200 {object} apiResponse
// @Router /api/cycle/status [get]
func (h *CycleHandler) status(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "engine unavailable", nil)
		return
	}
	state, err := h.Engine.Status(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, state, nil)
}

// @Summary Clear the analyzing flag and cycle lock
// @Tags cycle
// @Success 200 {object} apiResponse
// @Router /api/cycle/stop [post]
func (h *CycleHandler) stop(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "engine unavailable", nil)
		return
	}
	if err := h.Engine.Stop(c.Request.Context()); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"stopped": true}, nil)
}
