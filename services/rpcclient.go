package services

import (
	"context"
	"encoding/json"
	"sync"

	"dlwatch/types"
	"dlwatch/websocket"

	"github.com/sirupsen/logrus"
)

// RPC method names understood by the download service
const (
	MethodExec             = "Service.Exec"
	MethodExecPlaylist     = "Service.ExecPlaylist"
	MethodExecLivestream   = "Service.ExecLivestream"
	MethodRunning          = "Service.Running"
	MethodProgress         = "Service.Progress"
	MethodFormats          = "Service.Formats"
	MethodFreeSpace        = "Service.FreeSpace"
	MethodKill             = "Service.Kill"
	MethodKillAll          = "Service.KillAll"
	MethodUpdateExecutable = "Service.UpdateExecutable"
)

// Feed is the read side of the push channel
type Feed interface {
	Subscribe() *websocket.Subscription[websocket.Event]
	Unsubscribe(sub *websocket.Subscription[websocket.Event])
}

// RPCClient is the single client object the rest of the application uses
type RPCClient interface {
	Running(ctx context.Context) ([]types.JobRecord, error)
	FreeSpace(ctx context.Context) (uint64, error)
	Kill(ctx context.Context, id string) error
	KillAll(ctx context.Context) error
	Exec(ctx context.Context, req types.DownloadRequest) (string, error)
	ExecPlaylist(ctx context.Context, req types.DownloadRequest) error
	ExecLivestream(ctx context.Context, req types.DownloadRequest) error
	Progress(ctx context.Context, id string) (types.JobRecord, error)
	Formats(ctx context.Context, url string) (types.FormatsResponse, error)
	UpdateExecutable(ctx context.Context) error
	Subscribe() *PushSubscription
}

// PushKind identifies a PushUpdate
type PushKind int

const (
	PushConnected PushKind = iota
	PushJobs
	PushConnectionLost
)

func (k PushKind) String() string {
	switch k {
	case PushConnected:
		return "connected"
	case PushJobs:
		return "jobs"
	default:
		return "connection_lost"
	}
}

// PushUpdate is one item of a push subscription
type PushUpdate struct {
	Kind PushKind
	Jobs []types.JobRecord
	Err  error
}

// rpcClient composes a Dispatcher and a Feed; it keeps no state of its own
type rpcClient struct {
	dispatcher Dispatcher
	feed       Feed
	log        logrus.FieldLogger
}

// NewRPCClient creates a new RPC client facade
func NewRPCClient(dispatcher Dispatcher, feed Feed, log logrus.FieldLogger) RPCClient {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &rpcClient{
		dispatcher: dispatcher,
		feed:       feed,
		log:        log.WithField("component", "rpc_client"),
	}
}

// Running returns the current active-job snapshot
func (c *rpcClient) Running(ctx context.Context) ([]types.JobRecord, error) {
	var jobs []types.JobRecord
	if err := c.dispatcher.Call(ctx, MethodRunning, []any{}, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// FreeSpace returns the free storage on the server, in bytes
func (c *rpcClient) FreeSpace(ctx context.Context) (uint64, error) {
	var bytes uint64
	if err := c.dispatcher.Call(ctx, MethodFreeSpace, []any{}, &bytes); err != nil {
		return 0, err
	}
	return bytes, nil
}

// Kill requests termination of one job
func (c *rpcClient) Kill(ctx context.Context, id string) error {
	return c.dispatcher.Call(ctx, MethodKill, []string{id}, nil)
}

// KillAll requests termination of every active job
func (c *rpcClient) KillAll(ctx context.Context) error {
	return c.dispatcher.Call(ctx, MethodKillAll, []any{}, nil)
}

// Exec starts a download and returns the id the server assigned to it
func (c *rpcClient) Exec(ctx context.Context, req types.DownloadRequest) (string, error) {
	if req.Params == nil {
		req.Params = []string{}
	}
	var id string
	if err := c.dispatcher.Call(ctx, MethodExec, []types.DownloadRequest{req}, &id); err != nil {
		return "", err
	}
	return id, nil
}

// ExecPlaylist starts one download per playlist entry
func (c *rpcClient) ExecPlaylist(ctx context.Context, req types.DownloadRequest) error {
	if req.Params == nil {
		req.Params = []string{}
	}
	return c.dispatcher.Call(ctx, MethodExecPlaylist, []types.DownloadRequest{req}, nil)
}

// ExecLivestream starts recording a live stream; the job runs until the
// stream ends or it is killed
func (c *rpcClient) ExecLivestream(ctx context.Context, req types.DownloadRequest) error {
	if req.Params == nil {
		req.Params = []string{}
	}
	return c.dispatcher.Call(ctx, MethodExecLivestream, []types.DownloadRequest{req}, nil)
}

// Progress returns the current state of one job
func (c *rpcClient) Progress(ctx context.Context, id string) (types.JobRecord, error) {
	var job types.JobRecord
	err := c.dispatcher.Call(ctx, MethodProgress, []string{id}, &job)
	return job, err
}

// Formats lists the formats the server can fetch for url
func (c *rpcClient) Formats(ctx context.Context, url string) (types.FormatsResponse, error) {
	var formats types.FormatsResponse
	err := c.dispatcher.Call(ctx, MethodFormats, []types.DownloadRequest{{URL: url, Params: []string{}}}, &formats)
	return formats, err
}

// UpdateExecutable asks the server to update its downloader binary
func (c *rpcClient) UpdateExecutable(ctx context.Context) error {
	return c.dispatcher.Call(ctx, MethodUpdateExecutable, []any{}, nil)
}

// Subscribe exposes the push channel. Frames without both "result" and "id"
// are dropped; a lost connection is reported once per connection.
func (c *rpcClient) Subscribe() *PushSubscription {
	sub := c.feed.Subscribe()
	out := make(chan PushUpdate, websocket.DefaultSubscriberBuffer)
	ps := &PushSubscription{
		C:      out,
		feed:   c.feed,
		source: sub,
		done:   make(chan struct{}),
	}
	go ps.run(out, c.log)
	return ps
}

// PushSubscription is one listener on the push channel
type PushSubscription struct {
	C <-chan PushUpdate

	feed   Feed
	source *websocket.Subscription[websocket.Event]
	done   chan struct{}
	once   sync.Once
}

// Unsubscribe releases this listener. Other listeners and the underlying
// connection are not affected.
func (s *PushSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		s.feed.Unsubscribe(s.source)
	})
}

func (s *PushSubscription) run(out chan<- PushUpdate, log logrus.FieldLogger) {
	defer close(out)

	lost := false
	for {
		var event websocket.Event
		var ok bool
		select {
		case event, ok = <-s.source.C:
			if !ok {
				s.dropped(out, lost)
				return
			}
		case <-s.done:
			return
		}

		var update PushUpdate
		switch event.Kind {
		case websocket.EventOpen:
			lost = false
			update = PushUpdate{Kind: PushConnected}

		case websocket.EventMessage:
			jobs, ok := decodePushFrame(event.Data)
			if !ok {
				log.WithField("size", len(event.Data)).Debug("dropping malformed push frame")
				continue
			}
			update = PushUpdate{Kind: PushJobs, Jobs: jobs}

		case websocket.EventError, websocket.EventClose:
			if lost {
				continue
			}
			lost = true
			update = PushUpdate{
				Kind: PushConnectionLost,
				Err:  &ConnectionLostError{Graceful: event.Kind == websocket.EventClose, Err: event.Err},
			}
		}

		select {
		case out <- update:
		case <-s.done:
			return
		}
	}
}

// dropped reports a feed that ended without Unsubscribe, which happens when
// the feed drops a listener that fell behind
func (s *PushSubscription) dropped(out chan<- PushUpdate, lost bool) {
	select {
	case <-s.done:
		return
	default:
	}
	if lost {
		return
	}
	select {
	case out <- PushUpdate{Kind: PushConnectionLost, Err: &ConnectionLostError{Err: ErrListenerDropped}}:
	case <-s.done:
	}
}

// decodePushFrame applies the reply invariant and decodes the job list
func decodePushFrame(data []byte) ([]types.JobRecord, bool) {
	reply, ok := types.DecodeRPCResponse(data)
	if !ok || reply.HasError() {
		return nil, false
	}
	var jobs []types.JobRecord
	if err := json.Unmarshal(reply.Result, &jobs); err != nil {
		return nil, false
	}
	if jobs == nil {
		jobs = []types.JobRecord{}
	}
	return jobs, true
}
