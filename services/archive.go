package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dlwatch/types"
	"dlwatch/websocket"

	"github.com/sirupsen/logrus"
)

// REST routes served next to the RPC endpoints
const (
	RouteListDownloaded = "/archive/downloaded"
	RouteDeleteFile     = "/archive/delete"
	RouteLogin          = "/auth/login"
	RouteVersion        = "/api/v1/version"
)

// ArchiveClient manages what the server has already downloaded, plus the
// REST calls that live outside the RPC service. Errors are *TransportError
// or *ProtocolError, as for commands.
type ArchiveClient interface {
	ListDownloaded(ctx context.Context, subdir string) ([]types.DirectoryEntry, error)
	DeleteFile(ctx context.Context, entry types.DirectoryEntry) error
	Login(ctx context.Context, secret string) (string, error)
	Version(ctx context.Context) (types.VersionInfo, error)
}

// ArchiveConfig configures an ArchiveClient
type ArchiveConfig struct {
	// BaseURL is the server root, e.g. "http://localhost:3033"
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

type archiveClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        logrus.FieldLogger
}

// NewArchiveClient creates a REST client for the server at config.BaseURL
func NewArchiveClient(config ArchiveConfig) ArchiveClient {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &archiveClient{
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		token:      config.Token,
		httpClient: httpClient,
		log:        logger.WithField("component", "archive"),
	}
}

// ListDownloaded lists one archive directory; an empty subdir is the root
func (c *archiveClient) ListDownloaded(ctx context.Context, subdir string) ([]types.DirectoryEntry, error) {
	var entries []types.DirectoryEntry
	if err := c.do(ctx, http.MethodPost, RouteListDownloaded, types.ListRequest{SubDir: subdir}, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []types.DirectoryEntry{}
	}
	return entries, nil
}

// DeleteFile removes an archived file from the server's storage
func (c *archiveClient) DeleteFile(ctx context.Context, entry types.DirectoryEntry) error {
	return c.do(ctx, http.MethodPost, RouteDeleteFile, types.DeleteRequest{Path: entry.Path, SHASum: entry.SHASum}, nil)
}

// Login exchanges the server secret for a token
func (c *archiveClient) Login(ctx context.Context, secret string) (string, error) {
	var token string
	if err := c.do(ctx, http.MethodPost, RouteLogin, types.LoginRequest{Secret: secret}, &token); err != nil {
		return "", err
	}
	if token == "" {
		return "", &ProtocolError{Method: RouteLogin, Message: "empty token"}
	}
	return token, nil
}

// Version reports the server and downloader versions
func (c *archiveClient) Version(ctx context.Context) (types.VersionInfo, error) {
	var version types.VersionInfo
	err := c.do(ctx, http.MethodGet, RouteVersion, nil, &version)
	return version, err
}

func (c *archiveClient) do(ctx context.Context, method, route string, body, result any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &ProtocolError{Method: route, Message: "cannot encode request", Err: err}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, reader)
	if err != nil {
		return &TransportError{Method: route, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(websocket.AuthHeader, c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("route", route).Debug("request failed")
		return &TransportError{Method: route, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return &TransportError{Method: route, Err: fmt.Errorf("read reply: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		return &ProtocolError{Method: route, Code: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &TransportError{
			Method:     route,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return &ProtocolError{Method: route, Message: "cannot decode reply", Err: err}
	}
	return nil
}

// errorMessage pulls a message out of a JSON {"error": ...} body or falls
// back to the raw text
func errorMessage(raw []byte, fallback string) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return fallback
}
