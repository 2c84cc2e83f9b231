package cmd

import (
	"bytes"
	"strings"
	"testing"

	"dlwatch/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintArchive(t *testing.T) {
	var out bytes.Buffer
	printArchive(&out, nil)
	assert.Equal(t, "No downloaded files\n", out.String())

	out.Reset()
	printArchive(&out, []types.DirectoryEntry{
		{Name: "clips", Path: "/downloads/clips", IsDirectory: true},
		{Name: "a.mp4", Path: "/downloads/a.mp4", IsVideo: true},
		{Name: "b.mp3", Path: "/downloads/b.mp3"},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[1], "clips/")
	assert.Contains(t, lines[1], "dir")
	assert.Contains(t, lines[2], "video")
	assert.Contains(t, lines[3], "file")
}

func TestFindEntry(t *testing.T) {
	entries := []types.DirectoryEntry{
		{Name: "clips", Path: "/downloads/clips", IsDirectory: true},
		{Name: "a.mp4", Path: "/downloads/a.mp4", SHASum: "abc"},
	}

	entry, err := findEntry(entries, "a.mp4")
	require.NoError(t, err)
	assert.Equal(t, "abc", entry.SHASum)

	_, err = findEntry(entries, "clips")
	assert.ErrorContains(t, err, "is a directory")

	_, err = findEntry(entries, "missing.mp4")
	assert.ErrorContains(t, err, "no downloaded file")
}
