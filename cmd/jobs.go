package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"dlwatch/services"
	"dlwatch/types"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// withClient runs fn against a freshly wired client, bounded by the request
// timeout
func withClient(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Server.RequestTimeout)
	defer cancel()
	return fn(ctx, app)
}

var runningCmd = &cobra.Command{
	Use:     "running",
	Aliases: []string{"ls", "list"},
	Short:   "List active downloads, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, app *App) error {
			jobs, err := app.Client.Running(ctx)
			if err != nil {
				return err
			}
			printDownloads(cmd.OutOrStdout(), services.ActiveDownloads(jobs))
			return nil
		})
	},
}

// printDownloads renders jobs as a table
func printDownloads(out io.Writer, jobs []types.JobRecord) {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No active downloads")
		return
	}

	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		view := types.NewDownloadView(job)
		added := "-"
		if !view.CreatedAt.IsZero() {
			added = humanize.Time(view.CreatedAt)
		}
		rows = append(rows, []string{
			view.ID,
			types.Ellipsis(view.Title, 40),
			fmt.Sprintf("%.1f%%", view.Percent),
			view.Speed,
			view.Size,
			view.Status,
			added,
		})
	}
	renderTable(out, []string{"ID", "TITLE", "PROGRESS", "SPEED", "SIZE", "STATUS", "ADDED"}, rows)
}

var freeSpaceCmd = &cobra.Command{
	Use:   "free-space",
	Short: "Show the free space on the server's download volume",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, app *App) error {
			free, err := app.Client.FreeSpace(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s free\n", humanize.IBytes(free))
			return nil
		})
	},
}

var killCmd = &cobra.Command{
	Use:   "kill <id>",
	Short: "Stop one download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, app *App) error {
			if err := app.Client.Kill(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Kill requested for %s\n", args[0])
			return nil
		})
	},
}

var killAllCmd = &cobra.Command{
	Use:   "kill-all",
	Short: "Stop every download",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, app *App) error {
			if err := app.Client.KillAll(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Kill requested for all downloads")
			return nil
		})
	},
}

// execArgs holds the exec command's flags
type execArgs struct {
	Path     string
	Rename   string
	Params   []string
	Playlist bool
	Live     bool
	Follow   bool
}

var execArg = &execArgs{}

var execCmd = &cobra.Command{
	Use:   "exec <url>",
	Short: "Start a download",
	Example: `  dlwatch exec https://example.com/watch?v=abc
  dlwatch exec https://example.com/list --playlist
  dlwatch exec https://example.com/live/channel --live
  dlwatch exec https://example.com/watch?v=abc -o ~/Videos -r clip.mp4 --follow`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := types.DownloadRequest{
			URL:    strings.TrimSpace(args[0]),
			Params: execArg.Params,
			Path:   execArg.Path,
			Rename: execArg.Rename,
		}

		if execArg.Playlist && execArg.Live {
			return errors.New("--playlist and --live are mutually exclusive")
		}

		var id string
		err := withClient(cmd, func(ctx context.Context, app *App) error {
			switch {
			case execArg.Playlist:
				return app.Client.ExecPlaylist(ctx, req)
			case execArg.Live:
				return app.Client.ExecLivestream(ctx, req)
			}
			var err error
			id, err = app.Client.Exec(ctx, req)
			return err
		})
		if err != nil {
			return err
		}

		switch {
		case execArg.Playlist:
			fmt.Fprintln(cmd.OutOrStdout(), "Playlist queued")
			return nil
		case execArg.Live:
			fmt.Fprintln(cmd.OutOrStdout(), "Livestream queued")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		if execArg.Follow {
			return followJob(cmd, id)
		}
		return nil
	},
}

var formatsCmd = &cobra.Command{
	Use:   "formats <url>",
	Short: "List the formats available for a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, app *App) error {
			formats, err := app.Client.Formats(ctx, args[0])
			if err != nil {
				return err
			}

			best := formats.Best
			rows := [][]string{{best.FormatID + " (best)", best.Resolution, best.VCodec, best.ACodec, best.FormatNote}}
			for _, f := range formats.Formats {
				rows = append(rows, []string{f.FormatID, f.Resolution, f.VCodec, f.ACodec, f.FormatNote})
			}
			renderTable(cmd.OutOrStdout(), []string{"FORMAT", "RESOLUTION", "VCODEC", "ACODEC", "NOTE"}, rows)
			return nil
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update-executable",
	Short: "Ask the server to update its downloader",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, app *App) error {
			if err := app.Client.UpdateExecutable(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Downloader updated")
			return nil
		})
	},
}

func init() {
	execCmd.Flags().StringVarP(&execArg.Path, "output-dir", "o", "", "download directory on the server")
	execCmd.Flags().StringVarP(&execArg.Rename, "rename", "r", "", "file name to save as")
	execCmd.Flags().StringArrayVarP(&execArg.Params, "param", "p", nil, "extra downloader argument, repeatable")
	execCmd.Flags().BoolVar(&execArg.Playlist, "playlist", false, "treat the URL as a playlist")
	execCmd.Flags().BoolVar(&execArg.Live, "live", false, "record the URL as a livestream")
	execCmd.Flags().BoolVarP(&execArg.Follow, "follow", "f", false, "follow the download's progress")

	rootCmd.AddCommand(runningCmd, freeSpaceCmd, killCmd, killAllCmd, execCmd, formatsCmd, updateCmd)
}
