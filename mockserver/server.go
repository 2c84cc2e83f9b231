// Package mockserver is an in-memory stand-in for the download service. It
// speaks the same command and push protocol and simulates download progress,
// which makes it useful for local development and for tests.
package mockserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dlwatch/types"
	"dlwatch/websocket"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Options configures a Server
type Options struct {
	Workers   int
	Tick      time.Duration
	FreeSpace uint64
	// Token, when set, is required on both channels
	Token  string
	// Secret, when set, enables /auth/login
	Secret string
	Logger logrus.FieldLogger
}

// Server is the mock backend
type Server struct {
	queue     JobQueue
	hub       websocket.Hub[types.RPCResponse]
	archive   *archive
	freeSpace uint64
	token     string
	secret    string
	log       logrus.FieldLogger
}

// rpcCall is an inbound command; the id is echoed back verbatim
type rpcCall struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     json.RawMessage `json:"id"`
}

// New creates a mock backend. Call Start before serving.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	log := opts.Logger.WithField("component", "mock_server")

	s := &Server{
		freeSpace: opts.FreeSpace,
		token:     opts.Token,
		secret:    opts.Secret,
		archive:   newArchive(),
		log:       log,
	}
	s.hub = websocket.NewHub[types.RPCResponse]("mock", websocket.DefaultSubscriberBuffer, log)
	s.queue = NewJobQueue(opts.Workers, opts.Tick, s.jobsChanged, log)
	return s
}

// Start runs the broadcast hub and the queue workers
func (s *Server) Start() {
	go s.hub.Run()
	s.queue.Start()
}

// Stop halts the workers and disconnects every push client
func (s *Server) Stop() {
	s.queue.Stop()
	s.hub.Stop()
}

// Queue exposes the job queue, mainly for tests
func (s *Server) Queue() JobQueue {
	return s.queue
}

// Router builds the gin engine serving both channels
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	s.Register(r)
	return r
}

// Register mounts the RPC and REST routes on r
func (s *Server) Register(r gin.IRouter) {
	rpc := r.Group("/rpc", s.authenticated)
	{
		rpc.POST("/http", s.handleHTTP)
		rpc.GET("/ws", s.handleWebSocket)
	}

	archive := r.Group("/archive", s.authenticated)
	{
		archive.POST("/downloaded", s.handleListDownloaded)
		archive.POST("/delete", s.handleDeleteFile)
	}

	r.POST("/auth/login", s.handleLogin)
	r.GET("/api/v1/version", s.authenticated, s.handleVersion)
}

// authenticated checks the token on either the header or the query string
func (s *Server) authenticated(c *gin.Context) {
	if s.token == "" {
		c.Next()
		return
	}
	token := c.GetHeader(websocket.AuthHeader)
	if token == "" {
		token = c.Query("token")
	}
	if token != s.token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.Next()
}

func (s *Server) handleHTTP(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var call rpcCall
	if err := json.Unmarshal(body, &call); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	c.JSON(http.StatusOK, s.dispatch(call))
}

func (s *Server) handleWebSocket(c *gin.Context) {
	upgrader := websocket.GetUpgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	// the greeting snapshot is queued ahead of later broadcasts
	sub := s.hub.SubscribeWith(s.snapshot())
	release := func() { s.hub.Unsubscribe(sub) }
	client := websocket.NewClient(sub, release, conn, s.handleFrame, s.log)
	client.StartPumps()
}

// handleFrame answers a command received over the push channel
func (s *Server) handleFrame(data []byte) any {
	var call rpcCall
	if err := json.Unmarshal(data, &call); err != nil || call.Method == "" {
		return nil
	}
	return s.dispatch(call)
}

func (s *Server) dispatch(call rpcCall) types.RPCResponse {
	id := call.ID
	if len(id) == 0 {
		id = json.RawMessage("null")
	}

	result, err := s.invoke(call.Method, call.Params)
	if err != nil {
		s.log.WithError(err).WithField("method", call.Method).Debug("rpc call failed")
		msg, _ := json.Marshal(err.Error())
		return types.RPCResponse{Result: json.RawMessage("null"), ID: id, Error: msg}
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		msg, _ := json.Marshal(err.Error())
		return types.RPCResponse{Result: json.RawMessage("null"), ID: id, Error: msg}
	}
	return types.RPCResponse{Result: encoded, ID: id, Error: json.RawMessage("null")}
}

func (s *Server) invoke(method string, params json.RawMessage) (any, error) {
	switch method {
	case "Service.Exec", "Service.ExecPlaylist", "Service.ExecLivestream":
		var reqs []types.DownloadRequest
		if err := json.Unmarshal(params, &reqs); err != nil || len(reqs) == 0 {
			return nil, fmt.Errorf("%s expects one download request", method)
		}
		job, err := s.queue.AddJob(reqs[0])
		if err != nil {
			return nil, err
		}
		if method != "Service.Exec" {
			return "ok", nil
		}
		return job.ID, nil

	case "Service.Running":
		return s.queue.GetAllJobs(), nil

	case "Service.Progress":
		id, err := firstString(params)
		if err != nil {
			return nil, err
		}
		job, ok := s.queue.GetJob(id)
		if !ok {
			return nil, errJobNotFound
		}
		return job, nil

	case "Service.Formats":
		return types.FormatsResponse{
			Best: types.Format{FormatID: "best", Resolution: "1920x1080", VCodec: "avc1", ACodec: "mp4a"},
			Formats: []types.Format{
				{FormatID: "137", Resolution: "1920x1080", VCodec: "avc1"},
				{FormatID: "140", FormatNote: "medium", ACodec: "mp4a"},
			},
		}, nil

	case "Service.FreeSpace":
		used := s.queue.DownloadedBytes()
		if used >= s.freeSpace {
			return uint64(0), nil
		}
		return s.freeSpace - used, nil

	case "Service.Kill":
		id, err := firstString(params)
		if err != nil {
			return nil, err
		}
		if err := s.queue.KillJob(id); err != nil {
			return nil, err
		}
		return "ok", nil

	case "Service.KillAll":
		s.queue.KillAll()
		return "ok", nil

	case "Service.UpdateExecutable":
		return "ok", nil

	default:
		return nil, fmt.Errorf("rpc: can't find method %s", method)
	}
}

// snapshot is the broadcast frame carrying every job
func (s *Server) snapshot() types.RPCResponse {
	return jobsFrame(s.queue.GetAllJobs())
}

func jobsFrame(jobs []types.JobRecord) types.RPCResponse {
	encoded, err := json.Marshal(jobs)
	if err != nil {
		encoded = json.RawMessage("[]")
	}
	return types.RPCResponse{Result: encoded, ID: json.RawMessage("null")}
}

// jobsChanged archives finished jobs, then pushes the new job list
func (s *Server) jobsChanged() {
	jobs := s.queue.GetAllJobs()
	s.archive.record(jobs)
	s.hub.Broadcast(jobsFrame(jobs))
}

func firstString(params json.RawMessage) (string, error) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) == 0 {
		return "", fmt.Errorf("expected a single string parameter")
	}
	return args[0], nil
}
