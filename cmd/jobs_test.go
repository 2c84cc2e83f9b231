package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"dlwatch/types"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintDownloads(t *testing.T) {
	var out bytes.Buffer
	printDownloads(&out, nil)
	assert.Equal(t, "No active downloads\n", out.String())

	out.Reset()
	printDownloads(&out, []types.JobRecord{
		{
			ID: "job-1",
			Info: types.JobInfo{
				URL:            "https://example.com/v",
				Title:          "A video",
				FilesizeApprox: 10 << 20,
				CreatedAt:      time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339),
			},
			Progress: types.JobProgress{Status: types.ProcessStatusDownloading, Percentage: "42.0%", Speed: 1 << 20},
		},
		{
			ID:   "job-2",
			Info: types.JobInfo{URL: "https://example.com/w", Title: "Undated"},
		},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "job-1")
	assert.Contains(t, lines[1], "42.0%")
	assert.Contains(t, lines[1], "1.0 MiB/s")
	assert.Contains(t, lines[1], "2 hours ago")
	assert.Contains(t, lines[1], "Downloading")
	assert.Contains(t, lines[2], "Pending")
	assert.True(t, strings.HasSuffix(lines[2], "-"))
}

func TestJobFollower(t *testing.T) {
	var out bytes.Buffer
	follower := newJobFollower(&out, types.DownloadView{Title: "clip.mp4"})

	assert.False(t, follower.update(types.DownloadView{Title: "clip.mp4", Percent: 30, Speed: "1.0 MiB/s"}))
	assert.True(t, follower.update(types.DownloadView{Title: "clip.mp4", Percent: 100, Finished: true}))
	assert.Contains(t, out.String(), "clip.mp4")
}

func TestFindJob(t *testing.T) {
	views := []types.DownloadView{{ID: "a"}, {ID: "b"}}

	view, ok := findJob(views, "b")
	assert.True(t, ok)
	assert.Equal(t, "b", view.ID)

	_, ok = findJob(views, "c")
	assert.False(t, ok)
}

func TestRenderTableAlignsWideCells(t *testing.T) {
	var out bytes.Buffer
	renderTable(&out, []string{"ID", "TITLE", "STATUS"}, [][]string{
		{"a", "日本語のタイトル", "Downloading"},
		{"bb", "plain", "Pending"},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	column := strings.Index(lines[0], "STATUS")
	for _, line := range lines[1:] {
		prefix := strings.TrimRight(line, "DPacdeginlnow")
		assert.Equal(t, column, lipgloss.Width(prefix), line)
	}
}
