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

	"dlwatch/middleware"
	"dlwatch/mockserver"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Run an in-memory download service for local development",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if mode := os.Getenv("GIN_MODE"); mode != "" {
			gin.SetMode(mode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}

		server := mockserver.New(mockserver.Options{
			Workers:   cfg.Mock.Workers,
			Tick:      cfg.Mock.TickInterval,
			FreeSpace: cfg.Mock.FreeSpace,
			Token:     cfg.Mock.Token,
			Secret:    cfg.Mock.Secret,
			Logger:    logger,
		})
		server.Start()
		defer server.Stop()

		r := gin.New()
		r.Use(gin.Recovery())
		r.Use(middleware.Logging(logger))
		server.Register(r)

		srv := &http.Server{
			Addr:    ":" + strconv.Itoa(cfg.Mock.Port),
			Handler: r,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.WithFields(logrus.Fields{
				"port":      cfg.Mock.Port,
				"workers":   cfg.Mock.Workers,
				"freeSpace": humanize.IBytes(cfg.Mock.FreeSpace),
			}).Info("mock download service starting")
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

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(mockCmd)
}
