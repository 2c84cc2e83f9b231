package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"dlwatch/handlers"
	"dlwatch/middleware"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local dashboard API",
	Long: `serve exposes the download service through a small REST and WebSocket API.
Every browser connected to /api/ws/downloads is one listener of the live job
stream; the push channel is open only while at least one is connected.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Dashboard.Port
		if cmd.Flags().Changed("listen") {
			port = servePort
		}
		return StartWebServer(cmd.Context(), port)
	},
}

// StartWebServer starts the dashboard and blocks until ctx ends or an
// interrupt arrives
func StartWebServer(ctx context.Context, port int) error {
	// Set production mode if not specified
	if mode := os.Getenv("GIN_MODE"); mode != "" {
		gin.SetMode(mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	r := NewRouter(app, cfg.HTTPEndpoint(), cfg.Dashboard.CORSOrigins, logger)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: r,
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"port":   port,
			"server": cfg.HTTPEndpoint(),
		}).Info("dlwatch dashboard starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("dashboard shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// NewRouter builds the dashboard engine for app
func NewRouter(app *App, server string, origins []string, log logrus.FieldLogger) *gin.Engine {
	downloadHandler := handlers.NewDownloadHandler(app.Client, app.Downloads, log)
	healthHandler := handlers.NewHealthHandler(app.Client, app.Downloads, server)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(origins))
	r.Use(middleware.Logging(log))

	setupRoutes(r, downloadHandler, healthHandler)
	return r
}

// setupRoutes configures all the HTTP routes
func setupRoutes(r *gin.Engine, downloadHandler *handlers.DownloadHandler, healthHandler *handlers.HealthHandler) {
	// Health check endpoint
	r.GET("/health", healthHandler.HealthCheck)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/status", healthHandler.Status)

		downloadsGroup := apiGroup.Group("/downloads")
		{
			downloadsGroup.GET("", downloadHandler.GetActive)
			downloadsGroup.POST("", downloadHandler.Exec)
			downloadsGroup.DELETE("", downloadHandler.KillAll)
			downloadsGroup.DELETE("/:jobId", downloadHandler.Kill)
		}

		// WebSocket endpoint for live download updates
		wsGroup := apiGroup.Group("/ws")
		{
			wsGroup.GET("/downloads", downloadHandler.HandleWebSocketConnection)
		}
	}
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "listen", "l", 8080, "dashboard port")
	rootCmd.AddCommand(serveCmd)
}
