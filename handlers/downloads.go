package handlers

import (
	"net/http"
	"strings"

	"dlwatch/services"
	"dlwatch/types"
	"dlwatch/websocket"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DownloadHandler handles download management endpoints
type DownloadHandler struct {
	client    services.RPCClient
	downloads *services.DownloadsAdapter
	log       logrus.FieldLogger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(client services.RPCClient, downloads *services.DownloadsAdapter, log logrus.FieldLogger) *DownloadHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DownloadHandler{
		client:    client,
		downloads: downloads,
		log:       log.WithField("component", "download_handler"),
	}
}

// GetActive returns the active downloads, newest first. While no push
// channel is open the list is fetched over the command channel.
func (h *DownloadHandler) GetActive(c *gin.Context) {
	connected := h.downloads.Connected()

	var views []types.DownloadView
	if connected {
		views = h.downloads.Views()
	} else {
		jobs, err := h.client.Running(c.Request.Context())
		if err != nil {
			h.commandFailed(c, err)
			return
		}
		views = services.DownloadViews(services.ActiveDownloads(jobs))
	}

	c.JSON(http.StatusOK, gin.H{
		"downloads": views,
		"total":     len(views),
		"connected": connected,
	})
}

// Exec starts a new download
func (h *DownloadHandler) Exec(c *gin.Context) {
	var req types.DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid download request",
		})
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "URL is required",
		})
		return
	}

	id, err := h.client.Exec(c.Request.Context(), req)
	if err != nil {
		h.commandFailed(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "download started",
		"id":      id,
	})
}

// Kill stops one download
func (h *DownloadHandler) Kill(c *gin.Context) {
	jobID := c.Param("jobId")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job ID is required",
		})
		return
	}

	if err := h.client.Kill(c.Request.Context(), jobID); err != nil {
		h.commandFailed(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "kill requested",
	})
}

// KillAll stops every download
func (h *DownloadHandler) KillAll(c *gin.Context) {
	if err := h.client.KillAll(c.Request.Context()); err != nil {
		h.commandFailed(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "kill requested for all downloads",
	})
}

// HandleWebSocketConnection streams download updates to a browser. Every
// browser is one listener of the downloads adapter, which queues the current
// state for it ahead of later updates.
func (h *DownloadHandler) HandleWebSocketConnection(c *gin.Context) {
	upgrader := websocket.GetUpgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	// a connect failure reaches the browser through the subscription itself
	sub, err := h.downloads.Subscribe(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Warn("push channel unavailable")
	}
	release := func() { h.downloads.Unsubscribe(sub) }

	client := websocket.NewClient(sub, release, conn, nil, h.log)
	client.StartPumps()
}

// commandFailed reports a command that did not take effect
func (h *DownloadHandler) commandFailed(c *gin.Context, err error) {
	h.log.WithError(err).WithField("path", c.FullPath()).Warn("command failed")
	c.JSON(services.ErrorStatus(err), gin.H{
		"error": err.Error(),
	})
}
