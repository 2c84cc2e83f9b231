package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"dlwatch/services"
	"dlwatch/types"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var followCmd = &cobra.Command{
	Use:   "follow <id>",
	Short: "Follow one download's progress until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return followJob(cmd, args[0])
	},
}

// followJob renders a progress bar for id from the live job stream
func followJob(cmd *cobra.Command, id string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initial, err := lookupJob(ctx, app.Client, id)
	if err != nil {
		return err
	}

	out := cmd.ErrOrStderr()
	follower := newJobFollower(out, initial)
	if follower.update(initial) {
		return nil
	}

	sub, err := app.Downloads.Subscribe(ctx)
	defer app.Downloads.Unsubscribe(sub)
	if err != nil {
		logger.WithError(err).Warn("push channel unavailable, retrying")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case update, ok := <-sub.C:
			if !ok {
				return errors.New("push channel stopped")
			}
			switch update.Kind {
			case services.UpdateConnectionLost:
				fmt.Fprintf(out, "\nconnection lost: %v\n", update.Err)

			case services.UpdateSnapshot:
				job, found := findJob(update.Downloads, id)
				if !found {
					return fmt.Errorf("download %s is no longer active", id)
				}
				if follower.update(job) {
					return nil
				}
			}
		}
	}
}

// lookupJob fetches the job's current state over the command channel
func lookupJob(ctx context.Context, client services.RPCClient, id string) (types.DownloadView, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Server.RequestTimeout)
	defer cancel()

	job, err := client.Progress(ctx, id)
	if err != nil {
		return types.DownloadView{}, err
	}
	return types.NewDownloadView(job), nil
}

func findJob(views []types.DownloadView, id string) (types.DownloadView, bool) {
	for _, view := range views {
		if view.ID == id {
			return view, true
		}
	}
	return types.DownloadView{}, false
}

// jobFollower drives a progress bar from successive views of one job
type jobFollower struct {
	bar   *progressbar.ProgressBar
	title string
}

func newJobFollower(out io.Writer, view types.DownloadView) *jobFollower {
	title := types.Ellipsis(view.Title, 32)
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(title),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(out)
		}),
	)
	return &jobFollower{bar: bar, title: title}
}

// update renders view and reports whether the download has finished
func (f *jobFollower) update(view types.DownloadView) bool {
	if view.Finished {
		f.bar.Describe(f.title)
		f.bar.Finish()
		return true
	}
	f.bar.Describe(fmt.Sprintf("%s %s", f.title, view.Speed))
	f.bar.Set(int(view.Percent))
	return false
}

func init() {
	rootCmd.AddCommand(followCmd)
}
