package cmd

import (
	"net/http"

	"dlwatch/config"
	"dlwatch/services"
	"dlwatch/websocket"

	"github.com/sirupsen/logrus"
)

// App is the wired client stack for one server
type App struct {
	Socket    *websocket.Socket
	Client    services.RPCClient
	Downloads *services.DownloadsAdapter
	Archive   services.ArchiveClient
	log       logrus.FieldLogger
}

// NewApp builds the dispatcher, push socket, client facade and downloads
// adapter for the configured server
func NewApp(c *config.Config, log logrus.FieldLogger) (*App, error) {
	token, err := c.Token()
	if err != nil {
		return nil, err
	}

	dispatcher := services.NewDispatcher(services.DispatcherConfig{
		Endpoint:   c.RPCHTTPEndpoint(),
		Token:      token,
		HTTPClient: &http.Client{Timeout: c.Server.RequestTimeout},
		Logger:     log,
	})
	socket := websocket.NewSocket(websocket.SocketConfig{
		URL:    c.RPCWebSocketEndpoint(),
		Token:  token,
		Logger: log,
	})
	client := services.NewRPCClient(dispatcher, socket, log)
	downloads := services.NewDownloadsAdapter(client, socket, services.DownloadsOptions{
		PollInterval: c.Push.PollInterval,
		Reconnect: services.ReconnectPolicy{
			MaxAttempts: c.Push.ReconnectAttempts,
			BaseDelay:   c.Push.ReconnectBaseDelay,
			MaxDelay:    c.Push.ReconnectMaxDelay,
		},
		Logger: log,
	})

	archive := services.NewArchiveClient(services.ArchiveConfig{
		BaseURL:    c.HTTPEndpoint(),
		Token:      token,
		HTTPClient: &http.Client{Timeout: c.Server.RequestTimeout},
		Logger:     log,
	})

	return &App{
		Socket:    socket,
		Client:    client,
		Downloads: downloads,
		Archive:   archive,
		log:       log,
	}, nil
}

// Close releases the push channel and stops every background loop
func (a *App) Close() {
	a.Downloads.Close()
	if err := a.Socket.Shutdown(); err != nil {
		a.log.WithError(err).Debug("socket shutdown")
	}
}

func newApp() (*App, error) {
	return NewApp(cfg, logger)
}
