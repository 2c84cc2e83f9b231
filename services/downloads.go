package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"dlwatch/types"
	"dlwatch/websocket"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNoSubscribers is returned by Reconnect while nobody listens
var ErrNoSubscribers = errors.New("downloads: no active subscribers")

// Connector is the write side of the push channel. Only DownloadsAdapter
// calls it.
type Connector interface {
	Connect(ctx context.Context) error
	Close() error
	Send(v any) error
	State() websocket.ConnectionState
}

// ReconnectPolicy bounds automatic reconnection after a lost push channel.
// MaxAttempts of zero disables it; recovery is then left to Reconnect.
type ReconnectPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultReconnectPolicy retries five times, doubling from 1s up to 30s
var DefaultReconnectPolicy = ReconnectPolicy{
	MaxAttempts: 5,
	BaseDelay:   time.Second,
	MaxDelay:    30 * time.Second,
}

// Delay returns the wait before the given attempt, counted from 1
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// DownloadsOptions configures a DownloadsAdapter
type DownloadsOptions struct {
	// PollInterval is how often a Service.Running request is sent over the
	// push channel while connected. Zero disables polling.
	PollInterval time.Duration
	Reconnect    ReconnectPolicy
	Logger       logrus.FieldLogger
}

// UpdateKind identifies a DownloadsUpdate
type UpdateKind int

const (
	UpdateSnapshot UpdateKind = iota
	UpdateConnected
	UpdateConnectionLost
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateSnapshot:
		return "snapshot"
	case UpdateConnected:
		return "connected"
	default:
		return "connection_lost"
	}
}

// DownloadsUpdate is what UI listeners receive
type DownloadsUpdate struct {
	Kind      UpdateKind
	Downloads []types.DownloadView
	Err       error
}

// MarshalJSON renders the update for browser clients
func (u DownloadsUpdate) MarshalJSON() ([]byte, error) {
	payload := struct {
		Type      string               `json:"type"`
		Downloads []types.DownloadView `json:"downloads,omitempty"`
		Error     string               `json:"error,omitempty"`
	}{
		Type:      u.Kind.String(),
		Downloads: u.Downloads,
	}
	if u.Kind == UpdateSnapshot && payload.Downloads == nil {
		payload.Downloads = []types.DownloadView{}
	}
	if u.Err != nil {
		payload.Error = u.Err.Error()
	}
	return json.Marshal(payload)
}

// DownloadsAdapter turns push frames into the active-downloads view and fans
// it out to UI listeners. It is the only component that opens or closes the
// push channel: the first listener connects it, the last one closes it.
type DownloadsAdapter struct {
	client    RPCClient
	conn      Connector
	opts      DownloadsOptions
	log       logrus.FieldLogger
	listeners websocket.Hub[DownloadsUpdate]

	lifecycle sync.Mutex
	refs      int
	push      *PushSubscription
	cancel    context.CancelFunc
	pumpDone  chan struct{}

	reconnecting atomic.Bool

	mu        sync.RWMutex
	snapshot  []types.JobRecord
	connected bool
	lost      error
}

// NewDownloadsAdapter creates an adapter over client's push stream and the
// connector that drives it
func NewDownloadsAdapter(client RPCClient, conn Connector, opts DownloadsOptions) *DownloadsAdapter {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	log := opts.Logger.WithField("component", "downloads")
	a := &DownloadsAdapter{
		client:    client,
		conn:      conn,
		opts:      opts,
		log:       log,
		listeners: websocket.NewHub[DownloadsUpdate]("downloads", websocket.DefaultSubscriberBuffer, log),
	}
	go a.listeners.Run()
	return a
}

// Subscribe registers a UI listener. The first listener opens the push
// channel; a connect error is returned but the subscription stays valid and
// must still be released with Unsubscribe. Later listeners start with the
// current state: connected plus the snapshot, or the last connection loss.
func (a *DownloadsAdapter) Subscribe(ctx context.Context) (*websocket.Subscription[DownloadsUpdate], error) {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.refs++
	if a.refs > 1 {
		return a.join(), nil
	}
	sub := a.listeners.Subscribe()
	return sub, a.start(ctx)
}

// join registers a listener on a running channel. State changes are
// broadcast under mu, so the listener sees nothing twice and misses nothing.
func (a *DownloadsAdapter) join() *websocket.Subscription[DownloadsUpdate] {
	a.mu.RLock()
	defer a.mu.RUnlock()

	switch {
	case a.connected:
		return a.listeners.SubscribeWith(
			DownloadsUpdate{Kind: UpdateConnected},
			DownloadsUpdate{Kind: UpdateSnapshot, Downloads: DownloadViews(a.snapshot)},
		)
	case a.lost != nil:
		return a.listeners.SubscribeWith(DownloadsUpdate{Kind: UpdateConnectionLost, Err: a.lost})
	default:
		return a.listeners.Subscribe()
	}
}

// Unsubscribe releases a UI listener. The last one closes the push channel.
func (a *DownloadsAdapter) Unsubscribe(sub *websocket.Subscription[DownloadsUpdate]) {
	a.listeners.Unsubscribe(sub)

	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if a.refs == 0 {
		return
	}
	a.refs--
	if a.refs == 0 {
		a.stop()
	}
}

// Reconnect reopens a lost push channel without rebuilding anything. It
// holds the lifecycle lock while dialing, so a last listener leaving at the
// same time waits and then closes whatever was opened.
func (a *DownloadsAdapter) Reconnect(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if a.refs == 0 {
		return ErrNoSubscribers
	}

	a.mu.RLock()
	dropped := errors.Is(a.lost, ErrListenerDropped)
	a.mu.RUnlock()
	if !dropped {
		select {
		case <-a.pumpDone:
			dropped = true
		default:
		}
	}
	if dropped {
		// start over with a fresh push listener
		a.stop()
		return a.start(ctx)
	}
	return a.conn.Connect(ctx)
}

// Close drops every listener and releases the push channel
func (a *DownloadsAdapter) Close() {
	a.lifecycle.Lock()
	if a.refs > 0 {
		a.refs = 0
		a.stop()
	}
	a.lifecycle.Unlock()
	a.listeners.Stop()
}

// Snapshot returns the current active downloads, newest first
func (a *DownloadsAdapter) Snapshot() []types.JobRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	jobs := make([]types.JobRecord, len(a.snapshot))
	copy(jobs, a.snapshot)
	return jobs
}

// Views returns the current snapshot in display form
func (a *DownloadsAdapter) Views() []types.DownloadView {
	return DownloadViews(a.Snapshot())
}

// Connected reports whether the push channel is currently delivering
func (a *DownloadsAdapter) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// State returns the push channel's connection state
func (a *DownloadsAdapter) State() websocket.ConnectionState {
	return a.conn.State()
}

// Listeners returns the number of registered UI listeners
func (a *DownloadsAdapter) Listeners() int {
	return a.listeners.Len()
}

// start must be called with lifecycle held
func (a *DownloadsAdapter) start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.push = a.client.Subscribe()
	a.pumpDone = make(chan struct{})

	go a.pump(runCtx, a.push, a.pumpDone)

	a.log.Debug("opening push channel")
	return a.conn.Connect(ctx)
}

// stop must be called with lifecycle held
func (a *DownloadsAdapter) stop() {
	a.cancel()
	a.push.Unsubscribe()
	<-a.pumpDone
	if err := a.conn.Close(); err != nil {
		a.log.WithError(err).Debug("push channel close")
	}

	a.mu.Lock()
	a.connected = false
	a.lost = nil
	a.mu.Unlock()

	a.push = nil
	a.cancel = nil
	a.log.Debug("push channel released")
}

func (a *DownloadsAdapter) pump(ctx context.Context, push *PushSubscription, done chan<- struct{}) {
	defer close(done)

	var stopPoll context.CancelFunc
	defer func() {
		if stopPoll != nil {
			stopPoll()
		}
	}()

	for update := range push.C {
		if ctx.Err() != nil {
			return
		}

		switch update.Kind {
		case PushConnected:
			a.mu.Lock()
			a.connected = true
			a.lost = nil
			a.listeners.Broadcast(DownloadsUpdate{Kind: UpdateConnected})
			a.mu.Unlock()

			if stopPoll != nil {
				stopPoll()
			}
			stopPoll = a.startPolling(ctx)

		case PushJobs:
			active := ActiveDownloads(update.Jobs)
			a.mu.Lock()
			a.snapshot = active
			a.listeners.Broadcast(DownloadsUpdate{Kind: UpdateSnapshot, Downloads: DownloadViews(active)})
			a.mu.Unlock()

		case PushConnectionLost:
			a.mu.Lock()
			a.connected = false
			a.lost = update.Err
			a.listeners.Broadcast(DownloadsUpdate{Kind: UpdateConnectionLost, Err: update.Err})
			a.mu.Unlock()

			if stopPoll != nil {
				stopPoll()
				stopPoll = nil
			}
			a.log.WithError(update.Err).Warn("push channel lost")

			if errors.Is(update.Err, ErrListenerDropped) {
				a.log.Warn("push listener dropped; call Reconnect to resume")
				continue
			}
			if a.opts.Reconnect.MaxAttempts > 0 {
				go a.reconnectLoop(ctx)
			}
		}
	}
}

// reconnectLoop retries with exponential backoff until a connect succeeds,
// attempts run out, or the adapter stops
func (a *DownloadsAdapter) reconnectLoop(ctx context.Context) {
	if !a.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer a.reconnecting.Store(false)

	policy := a.opts.Reconnect
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		delay := policy.Delay(attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		err := a.conn.Connect(ctx)
		if err == nil {
			if ctx.Err() != nil {
				// the last listener left while we were dialing
				a.conn.Close()
				return
			}
			a.log.WithField("attempt", attempt).Info("push channel reconnected")
			return
		}
		a.log.WithError(err).WithField("attempt", attempt).Debug("reconnect failed")
	}
	a.log.WithField("attempts", policy.MaxAttempts).Warn("giving up on push channel; call Reconnect to retry")
}

// startPolling asks the server for a fresh snapshot on every tick
func (a *DownloadsAdapter) startPolling(parent context.Context) context.CancelFunc {
	ctx, cancel := context.WithCancel(parent)
	if a.opts.PollInterval <= 0 {
		return cancel
	}

	go func() {
		ticker := time.NewTicker(a.opts.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				request := types.RPCRequest{
					Method: MethodRunning,
					Params: []any{},
					ID:     uuid.New().String(),
				}
				if err := a.conn.Send(request); err != nil {
					a.log.WithError(err).Debug("poll request not sent")
				}
			}
		}
	}()
	return cancel
}

// ActiveDownloads drops jobs without a source url and orders the rest by
// creation time, newest first. Equal or unparsable timestamps keep their
// input order; unparsable ones sort after every parsable one.
func ActiveDownloads(jobs []types.JobRecord) []types.JobRecord {
	type keyed struct {
		job     types.JobRecord
		created time.Time
		valid   bool
	}

	filtered := make([]keyed, 0, len(jobs))
	for _, job := range jobs {
		if job.Info.URL == "" {
			continue
		}
		created, ok := types.ParseTimestamp(job.Info.CreatedAt)
		filtered = append(filtered, keyed{job: job, created: created, valid: ok})
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if a.valid != b.valid {
			return a.valid
		}
		return a.created.After(b.created)
	})

	active := make([]types.JobRecord, len(filtered))
	for i, k := range filtered {
		active[i] = k.job
	}
	return active
}

// DownloadViews maps records to their display form
func DownloadViews(jobs []types.JobRecord) []types.DownloadView {
	views := make([]types.DownloadView, len(jobs))
	for i, job := range jobs {
		views[i] = types.NewDownloadView(job)
	}
	return views
}
