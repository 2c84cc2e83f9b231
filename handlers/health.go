package handlers

import (
	"net/http"
	"time"

	"dlwatch/services"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check and status endpoints
type HealthHandler struct {
	client    services.RPCClient
	downloads *services.DownloadsAdapter
	server    string
}

// NewHealthHandler creates a new health handler. server is the display name
// of the download service.
func NewHealthHandler(client services.RPCClient, downloads *services.DownloadsAdapter, server string) *HealthHandler {
	return &HealthHandler{
		client:    client,
		downloads: downloads,
		server:    server,
	}
}

// HealthCheck returns the health status of the dashboard itself
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "dlwatch",
		"timestamp": time.Now().Unix(),
	})
}

// Status reports the push channel state and the server's free space. A
// failing free-space query is reported, not fatal.
func (h *HealthHandler) Status(c *gin.Context) {
	response := gin.H{
		"server":    h.server,
		"connected": h.downloads.Connected(),
		"state":     h.downloads.State().String(),
		"listeners": h.downloads.Listeners(),
	}

	freeSpace, err := h.client.FreeSpace(c.Request.Context())
	if err != nil {
		response["freeSpaceError"] = err.Error()
	} else {
		response["freeSpace"] = freeSpace
	}

	c.JSON(http.StatusOK, response)
}
