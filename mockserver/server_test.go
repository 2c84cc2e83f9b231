package mockserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dlwatch/types"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, token string) (*Server, *httptest.Server) {
	gin.SetMode(gin.TestMode)
	s := New(Options{Workers: 1, Tick: time.Hour, FreeSpace: 1 << 20, Token: token, Logger: quietLogger()})
	s.Start()
	server := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		server.Close()
		s.Stop()
	})
	return s, server
}

func call(t *testing.T, server *httptest.Server, token, body string) (int, types.RPCResponse) {
	req, err := http.NewRequest(http.MethodPost, server.URL+"/rpc/http", bytes.NewBufferString(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("X-Authentication", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var reply types.RPCResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	}
	return resp.StatusCode, reply
}

func TestServerHTTP(t *testing.T) {
	s, server := newTestServer(t, "")

	tests := []struct {
		name      string
		body      string
		result    string
		errorText string
	}{
		{
			name:   "free space",
			body:   `{"method": "Service.FreeSpace", "params": [], "id": "a"}`,
			result: `1048576`,
		},
		{
			name:   "running when empty",
			body:   `{"method": "Service.Running", "params": [], "id": "b"}`,
			result: `[]`,
		},
		{
			name:      "unknown method",
			body:      `{"method": "Service.Nope", "params": [], "id": "c"}`,
			result:    `null`,
			errorText: "rpc: can't find method Service.Nope",
		},
		{
			name:      "kill unknown job",
			body:      `{"method": "Service.Kill", "params": ["zzz"], "id": "d"}`,
			result:    `null`,
			errorText: "job not found",
		},
		{
			name:      "exec without url",
			body:      `{"method": "Service.Exec", "params": [{"URL": ""}], "id": "e"}`,
			result:    `null`,
			errorText: "url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, reply := call(t, server, "", tt.body)
			require.Equal(t, http.StatusOK, status)

			var sent struct {
				ID string `json:"id"`
			}
			require.NoError(t, json.Unmarshal([]byte(tt.body), &sent))
			assert.Equal(t, sent.ID, reply.IDString())
			assert.JSONEq(t, tt.result, string(reply.Result))
			assert.Equal(t, tt.errorText, reply.ErrorDetail().Message)
		})
	}

	status, reply := call(t, server, "", `{"method": "Service.Exec", "params": [{"URL": "https://example.com/v", "Params": []}], "id": "f"}`)
	require.Equal(t, http.StatusOK, status)
	var id string
	require.NoError(t, json.Unmarshal(reply.Result, &id))
	_, ok := s.Queue().GetJob(id)
	assert.True(t, ok)

	status, _ = call(t, server, "", `not json`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServerAuthentication(t *testing.T) {
	_, server := newTestServer(t, "secret")

	status, _ := call(t, server, "", `{"method": "Service.Running", "params": [], "id": "1"}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = call(t, server, "wrong", `{"method": "Service.Running", "params": [], "id": "1"}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = call(t, server, "secret", `{"method": "Service.Running", "params": [], "id": "1"}`)
	assert.Equal(t, http.StatusOK, status)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/rpc/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=secret", nil)
	require.NoError(t, err)
	conn.Close()
}

func TestServerWebSocket(t *testing.T) {
	s, server := newTestServer(t, "")

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/rpc/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// greeting snapshot
	var reply types.RPCResponse
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "null", string(reply.ID))
	assert.JSONEq(t, `[]`, string(reply.Result))

	// a mutation is broadcast
	job, err := s.Queue().AddJob(types.DownloadRequest{URL: "https://example.com/v"})
	require.NoError(t, err)
	require.NoError(t, conn.ReadJSON(&reply))
	var jobs []types.JobRecord
	require.NoError(t, json.Unmarshal(reply.Result, &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)

	// commands over the push channel are answered on it
	require.NoError(t, conn.WriteJSON(types.RPCRequest{Method: "Service.Running", Params: []any{}, ID: "poll-1"}))
	for {
		require.NoError(t, conn.ReadJSON(&reply))
		if reply.IDString() == "poll-1" {
			break
		}
	}
	require.NoError(t, json.Unmarshal(reply.Result, &jobs))
	assert.Len(t, jobs, 1)
}
