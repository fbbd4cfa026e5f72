package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ffxiv-tools/marketboard-backend/internal/servers"
	"github.com/ffxiv-tools/marketboard-backend/internal/services"
)

type ServerHandler struct {
	serverSet *servers.Set
	worker    *services.RefreshWorker
}

func NewServerHandler(serverSet *servers.Set, worker *services.RefreshWorker) *ServerHandler {
	return &ServerHandler{
		serverSet: serverSet,
		worker:    worker,
	}
}

// ListServers returns the datacenter topology and the default world
func (h *ServerHandler) ListServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"default_world": h.serverSet.DefaultWorld(),
		"datacenters":   h.serverSet.Datacenters(),
	})
}

// GetPriceStatus returns the background refresh worker's status
func (h *ServerHandler) GetPriceStatus(c *gin.Context) {
	status := h.worker.GetStatus()
	c.JSON(http.StatusOK, status)
}
