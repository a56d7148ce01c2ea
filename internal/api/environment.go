package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/d3clan/dynamic-branch-env/internal/usecase/lifecycle"
)

func (r *Router) ListEnvironments(c *gin.Context) {
	envs, err := r.envs.List(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": envs})
}

func (r *Router) GetEnvironment(c *gin.Context) {
	env, err := r.envs.FindByEnvironmentID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if env == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "environment not found"})
		return
	}
	c.JSON(http.StatusOK, env)
}

func (r *Router) TriggerSweep(c *gin.Context) {
	if err := r.sweeper.Sweep(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sweep_completed"})
}

// DestroyEnvironment enqueues a destroy regardless of expiry, for operators
// reclaiming capacity ahead of the sweeper.
func (r *Router) DestroyEnvironment(c *gin.Context) {
	action := lifecycle.Action{
		Type:          lifecycle.ActionDestroy,
		EnvironmentID: c.Param("id"),
	}
	if err := r.enqueuer.Enqueue(c.Request.Context(), action); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "destroy_enqueued", "environment_id": action.EnvironmentID})
}
