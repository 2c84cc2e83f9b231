package cmd

import (
	"context"
	"fmt"
	"io"

	"dlwatch/types"

	"github.com/spf13/cobra"
)

var archiveCmd = &cobra.Command{
	Use:   "archive [subdir]",
	Short: "List files the server has finished downloading",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subdir := ""
		if len(args) == 1 {
			subdir = args[0]
		}
		return withClient(cmd, func(ctx context.Context, app *App) error {
			entries, err := app.Archive.ListDownloaded(ctx, subdir)
			if err != nil {
				return err
			}
			printArchive(cmd.OutOrStdout(), entries)
			return nil
		})
	},
}

// printArchive renders a directory listing, directories marked with a slash
func printArchive(out io.Writer, entries []types.DirectoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No downloaded files")
		return
	}

	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		name, kind := entry.Name, "file"
		switch {
		case entry.IsDirectory:
			name, kind = name+"/", "dir"
		case entry.IsVideo:
			kind = "video"
		}
		rows = append(rows, []string{name, kind, entry.Path})
	}
	renderTable(out, []string{"NAME", "TYPE", "PATH"}, rows)
}

var archiveDir string

var archiveRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Delete a downloaded file from the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, app *App) error {
			entries, err := app.Archive.ListDownloaded(ctx, archiveDir)
			if err != nil {
				return err
			}
			entry, err := findEntry(entries, args[0])
			if err != nil {
				return err
			}
			if err := app.Archive.DeleteFile(ctx, entry); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", entry.Path)
			return nil
		})
	},
}

// findEntry picks the file called name out of a listing
func findEntry(entries []types.DirectoryEntry, name string) (types.DirectoryEntry, error) {
	for _, entry := range entries {
		if entry.Name != name {
			continue
		}
		if entry.IsDirectory {
			return types.DirectoryEntry{}, fmt.Errorf("%s is a directory", name)
		}
		return entry, nil
	}
	return types.DirectoryEntry{}, fmt.Errorf("no downloaded file named %q", name)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the server and downloader versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, app *App) error {
			version, err := app.Archive.Version(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "server:     %s\n", version.RPCVersion)
			fmt.Fprintf(out, "downloader: %s\n", version.YtdlpVersion)
			return nil
		})
	},
}

func init() {
	archiveRmCmd.Flags().StringVarP(&archiveDir, "dir", "d", "", "archive directory holding the file")
	archiveCmd.AddCommand(archiveRmCmd)
	rootCmd.AddCommand(archiveCmd, versionCmd)
}
