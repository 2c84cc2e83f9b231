package mockserver

import (
	"errors"
	"net/http"

	"dlwatch/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Versions reported by /api/v1/version
const (
	RPCVersion   = "3.2.6"
	YtdlpVersion = "2025.01.15"
)

func (s *Server) handleListDownloaded(c *gin.Context) {
	var req types.ListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	c.JSON(http.StatusOK, s.archive.list(req.SubDir))
}

func (s *Server) handleDeleteFile(c *gin.Context) {
	var req types.DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	switch err := s.archive.remove(req); {
	case errors.Is(err, errFileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.WithField("path", req.Path).Info("archived file deleted")
		c.JSON(http.StatusOK, "ok")
	}
}

// handleLogin trades the configured secret for the access token. Without a
// token configured any session id works, so a fresh one is handed out.
func (s *Server) handleLogin(c *gin.Context) {
	if s.secret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "login is not enabled"})
		return
	}

	var req types.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.Secret != s.secret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}

	token := s.token
	if token == "" {
		token = uuid.New().String()
	}
	c.JSON(http.StatusOK, token)
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, types.VersionInfo{
		RPCVersion:   RPCVersion,
		YtdlpVersion: YtdlpVersion,
	})
}
