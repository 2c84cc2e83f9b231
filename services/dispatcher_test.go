package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"dlwatch/websocket"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// inboundCall is what the test server sees
type inboundCall struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// rpcServer answers every call with reply(call)
func rpcServer(t *testing.T, reply func(w http.ResponseWriter, r *http.Request, call inboundCall)) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call inboundCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reply(w, r, call)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestDispatcher(endpoint, token string) Dispatcher {
	return NewDispatcher(DispatcherConfig{Endpoint: endpoint, Token: token, Logger: quietLogger()})
}

func TestDispatcherCall(t *testing.T) {
	var seen inboundCall
	var header http.Header
	server := rpcServer(t, func(w http.ResponseWriter, r *http.Request, call inboundCall) {
		seen = call
		header = r.Header
		w.Write([]byte(`{"result": 1073741824, "id": "` + call.ID + `", "error": null}`))
	})

	var free uint64
	err := newTestDispatcher(server.URL, "secret").Call(context.Background(), "Service.FreeSpace", nil, &free)
	require.NoError(t, err)

	assert.Equal(t, uint64(1<<30), free)
	assert.Equal(t, "Service.FreeSpace", seen.Method)
	assert.JSONEq(t, `[]`, string(seen.Params))
	assert.NotEmpty(t, seen.ID)
	assert.Equal(t, "secret", header.Get(websocket.AuthHeader))
	assert.Equal(t, "application/json", header.Get("Content-Type"))
}

func TestDispatcherUniqueIDs(t *testing.T) {
	ids := map[string]bool{}
	server := rpcServer(t, func(w http.ResponseWriter, r *http.Request, call inboundCall) {
		ids[call.ID] = true
		w.Write([]byte(`{"result": null, "id": "` + call.ID + `"}`))
	})

	d := newTestDispatcher(server.URL, "")
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Call(context.Background(), "Service.KillAll", nil, nil))
	}
	assert.Len(t, ids, 5)
}

func TestDispatcherProtocolErrors(t *testing.T) {
	tests := []struct {
		name        string
		reply       func(id string) string
		wantMessage string
		wantCode    int
	}{
		{
			name:        "string error",
			reply:       func(id string) string { return `{"result": null, "id": "` + id + `", "error": "job not found"}` },
			wantMessage: "job not found",
		},
		{
			name: "object error",
			reply: func(id string) string {
				return `{"result": null, "id": "` + id + `", "error": {"message": "invalid params", "code": -32602}}`
			},
			wantMessage: "invalid params",
			wantCode:    -32602,
		},
		{
			name:        "missing id",
			reply:       func(id string) string { return `{"result": 1}` },
			wantMessage: "reply lacks result or id",
		},
		{
			name:        "missing result",
			reply:       func(id string) string { return `{"id": "` + id + `", "error": "boom"}` },
			wantMessage: "reply lacks result or id",
		},
		{
			name:        "id mismatch",
			reply:       func(id string) string { return `{"result": 1, "id": "someone-else"}` },
			wantMessage: `reply id "someone-else" does not match`,
		},
		{
			name:        "not json",
			reply:       func(id string) string { return `<html>oops</html>` },
			wantMessage: "reply is not valid JSON",
		},
		{
			name:        "wrong result type",
			reply:       func(id string) string { return `{"result": "lots", "id": "` + id + `"}` },
			wantMessage: "cannot decode result",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := rpcServer(t, func(w http.ResponseWriter, r *http.Request, call inboundCall) {
				w.Write([]byte(tt.reply(call.ID)))
			})

			var free uint64
			err := newTestDispatcher(server.URL, "").Call(context.Background(), "Service.FreeSpace", nil, &free)

			var protocolErr *ProtocolError
			require.ErrorAs(t, err, &protocolErr)
			assert.Contains(t, protocolErr.Message, tt.wantMessage)
			assert.Equal(t, tt.wantCode, protocolErr.Code)
			assert.Equal(t, "Service.FreeSpace", protocolErr.Method)
			assert.True(t, IsProtocolError(err))
			assert.False(t, IsTransportError(err))
			assert.Equal(t, http.StatusUnprocessableEntity, ErrorStatus(err))
		})
	}
}

func TestDispatcherTransportErrors(t *testing.T) {
	t.Run("non-2xx status", func(t *testing.T) {
		server := rpcServer(t, func(w http.ResponseWriter, r *http.Request, call inboundCall) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})

		err := newTestDispatcher(server.URL, "").Call(context.Background(), "Service.Running", nil, nil)

		var transportErr *TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Equal(t, http.StatusUnauthorized, transportErr.StatusCode)
		assert.Equal(t, http.StatusBadGateway, ErrorStatus(err))
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		endpoint := server.URL
		server.Close()

		err := newTestDispatcher(endpoint, "").Call(context.Background(), "Service.Running", nil, nil)
		assert.True(t, IsTransportError(err))
		assert.False(t, IsProtocolError(err))
	})

	t.Run("cancelled", func(t *testing.T) {
		server := rpcServer(t, func(w http.ResponseWriter, r *http.Request, call inboundCall) {
			w.Write([]byte(`{"result": null, "id": "` + call.ID + `"}`))
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := newTestDispatcher(server.URL, "").Call(ctx, "Service.Running", nil, nil)
		assert.True(t, IsTransportError(err))
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestErrorStatusDefault(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, ErrorStatus(errors.New("other")))
}
