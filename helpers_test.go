package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"dlwatch/cmd"
	"dlwatch/config"
	"dlwatch/mockserver"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token"

// TestHelper runs the dashboard against an in-memory download service
type TestHelper struct {
	Server  *httptest.Server
	Backend *httptest.Server
	Mock    *mockserver.Server
	App     *cmd.App
	Config  *config.Config
}

// NewTestHelper creates a dashboard wired to a fresh mock backend
func NewTestHelper(t *testing.T) *TestHelper {
	gin.SetMode(gin.TestMode)

	log := logrus.New()
	log.SetOutput(io.Discard)

	mock := mockserver.New(mockserver.Options{
		Workers:   2,
		Tick:      20 * time.Millisecond,
		FreeSpace: 10 << 30,
		Token:     testToken,
		Logger:    log,
	})
	mock.Start()
	backend := httptest.NewServer(mock.Router())

	cfg := testConfig(t, backend.URL)
	app, err := cmd.NewApp(cfg, log)
	require.NoError(t, err)

	router := cmd.NewRouter(app, cfg.HTTPEndpoint(), nil, log)
	server := httptest.NewServer(router)

	return &TestHelper{
		Server:  server,
		Backend: backend,
		Mock:    mock,
		App:     app,
		Config:  cfg,
	}
}

// testConfig points a default configuration at serverURL
func testConfig(t *testing.T, serverURL string) *config.Config {
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Server.Addr = host
	cfg.Server.Port, err = strconv.Atoi(port)
	require.NoError(t, err)
	cfg.Server.RequestTimeout = 5 * time.Second
	cfg.Auth.Token = testToken
	cfg.Auth.TokenFile = filepath.Join(t.TempDir(), "token")
	cfg.Push.PollInterval = 50 * time.Millisecond
	cfg.Push.ReconnectAttempts = 0
	return cfg
}

// Cleanup cleans up test resources
func (h *TestHelper) Cleanup(t *testing.T) {
	h.Server.Close()
	h.App.Close()
	h.Backend.Close()
	h.Mock.Stop()
}

// MakeRequest makes an HTTP request to the dashboard
func (h *TestHelper) MakeRequest(t *testing.T, method, path string, body interface{}) *http.Response {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, h.Server.URL+path, reqBody)
	require.NoError(t, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	return resp
}

// DoJSON makes a request and unmarshals the JSON response into target
func (h *TestHelper) DoJSON(t *testing.T, method, path string, body interface{}, target interface{}) *http.Response {
	resp := h.MakeRequest(t, method, path, body)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	if target != nil {
		require.NoError(t, json.Unmarshal(data, target), string(data))
	}
	return resp
}

// GetJSON makes a GET request and unmarshals JSON response
func (h *TestHelper) GetJSON(t *testing.T, path string, target interface{}) *http.Response {
	return h.DoJSON(t, http.MethodGet, path, nil, target)
}

// PostJSON makes a POST request with JSON body and unmarshals JSON response
func (h *TestHelper) PostJSON(t *testing.T, path string, requestBody interface{}, target interface{}) *http.Response {
	return h.DoJSON(t, http.MethodPost, path, requestBody, target)
}

// StartDownload queues url and returns the job id
func (h *TestHelper) StartDownload(t *testing.T, url string) string {
	var response struct {
		ID string `json:"id"`
	}
	resp := h.PostJSON(t, "/api/downloads", map[string]any{"URL": url}, &response)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, response.ID)
	return response.ID
}

// ConnectWebSocket connects to a WebSocket endpoint
func (h *TestHelper) ConnectWebSocket(t *testing.T, path string) *websocket.Conn {
	wsURL := "ws" + h.Server.URL[4:] + path // Replace http:// with ws://

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	return conn
}

// wsUpdate is a dashboard push message
type wsUpdate struct {
	Type      string `json:"type"`
	Downloads []struct {
		ID       string  `json:"id"`
		Title    string  `json:"title"`
		Percent  float64 `json:"percent"`
		Finished bool    `json:"finished"`
	} `json:"downloads"`
	Error string `json:"error"`
}

// ReadUntil reads dashboard updates until match accepts one or timeout passes
func (h *TestHelper) ReadUntil(t *testing.T, conn *websocket.Conn, timeout time.Duration, match func(wsUpdate) bool) wsUpdate {
	deadline := time.Now().Add(timeout)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var update wsUpdate
		err := conn.ReadJSON(&update)
		require.NoError(t, err, "no matching update before the deadline")
		if match(update) {
			return update
		}
	}
}

// AssertEventuallyNoListeners waits for every dashboard listener to go away
func (h *TestHelper) AssertEventuallyNoListeners(t *testing.T) {
	assert.Eventually(t, func() bool {
		return h.App.Downloads.Listeners() == 0
	}, 2*time.Second, 20*time.Millisecond)
}
