package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"dlwatch/types"
	"dlwatch/websocket"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const maxReplySize = 16 << 20

// Dispatcher sends single JSON-RPC commands over the stateless request channel
type Dispatcher interface {
	// Call issues method with params and decodes the reply's result into
	// result (which may be nil). Errors are *TransportError or *ProtocolError.
	Call(ctx context.Context, method string, params any, result any) error
}

// DispatcherConfig configures an HTTP dispatcher
type DispatcherConfig struct {
	// Endpoint is the command endpoint, e.g. "http://localhost:3033/rpc/http"
	Endpoint string
	// Token is sent as the X-Authentication header when set
	Token string
	// HTTPClient defaults to a client with a 30s timeout
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// httpDispatcher implements Dispatcher over HTTP POST
type httpDispatcher struct {
	endpoint   string
	token      string
	httpClient *http.Client
	log        logrus.FieldLogger
	newID      func() string
}

// NewDispatcher creates a new HTTP dispatcher
func NewDispatcher(config DispatcherConfig) Dispatcher {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &httpDispatcher{
		endpoint:   config.Endpoint,
		token:      config.Token,
		httpClient: httpClient,
		log:        logger.WithField("component", "dispatcher"),
		newID:      func() string { return uuid.New().String() },
	}
}

// Call implements Dispatcher
func (d *httpDispatcher) Call(ctx context.Context, method string, params any, result any) error {
	if params == nil {
		params = []any{}
	}
	request := types.RPCRequest{
		Method: method,
		Params: params,
		ID:     d.newID(),
	}
	log := d.log.WithFields(logrus.Fields{"method": method, "id": request.ID})

	body, err := json.Marshal(request)
	if err != nil {
		return &ProtocolError{Method: method, Message: "cannot encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Method: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set(websocket.AuthHeader, d.token)
	}

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Debug("rpc call failed")
		return &TransportError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxReplySize))
		log.WithField("status", resp.StatusCode).Debug("rpc call rejected")
		return &TransportError{
			Method:     method,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return &TransportError{Method: method, Err: fmt.Errorf("read reply: %w", err)}
	}
	log.WithField("elapsed", time.Since(start)).Debug("rpc call completed")

	return decodeReply(method, request.ID, raw, result)
}

// decodeReply validates a reply envelope against the request it answers
func decodeReply(method, id string, raw []byte, result any) error {
	if !json.Valid(raw) {
		return &ProtocolError{Method: method, Message: "reply is not valid JSON"}
	}

	reply, ok := types.DecodeRPCResponse(raw)
	if !ok {
		return &ProtocolError{Method: method, Message: "reply lacks result or id"}
	}

	if reply.HasError() {
		detail := reply.ErrorDetail()
		return &ProtocolError{Method: method, Code: detail.Code, Message: detail.Message}
	}

	if got := reply.IDString(); got != id {
		return &ProtocolError{Method: method, Message: fmt.Sprintf("reply id %q does not match request id %q", got, id)}
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(reply.Result, result); err != nil {
		return &ProtocolError{Method: method, Message: "cannot decode result", Err: err}
	}
	return nil
}

// ErrorStatus maps a command error to the HTTP status a front end should
// report it with
func ErrorStatus(err error) int {
	var transportErr *TransportError
	var protocolErr *ProtocolError
	switch {
	case errors.As(err, &transportErr):
		return http.StatusBadGateway
	case errors.As(err, &protocolErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
