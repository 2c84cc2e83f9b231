package types

import (
	"time"

	"github.com/dustin/go-humanize"
)

// titleLimit is the number of runes kept before a title is ellipsized
const titleLimit = 80

// DownloadView is the UI-facing rendition of a JobRecord
type DownloadView struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	Percent   float64   `json:"percent"`
	Finished  bool      `json:"finished"`
	Status    string    `json:"status"`
	Speed     string    `json:"speed"`
	Size      string    `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewDownloadView maps a wire record into its display form
func NewDownloadView(job JobRecord) DownloadView {
	createdAt, _ := ParseTimestamp(job.Info.CreatedAt)

	return DownloadView{
		ID:        job.ID,
		Title:     Ellipsis(job.Info.Title, titleLimit),
		URL:       job.Info.URL,
		Thumbnail: job.Info.Thumbnail,
		Percent:   job.Progress.Percent(),
		Finished:  job.Progress.Finished(),
		Status:    job.Progress.Status.String(),
		Speed:     FormatSpeed(job.Progress.Speed),
		Size:      FormatSize(uint64(job.Info.FilesizeApprox)),
		CreatedAt: createdAt,
	}
}

// FormatSize renders a byte count, e.g. "12 MiB"
func FormatSize(bytes uint64) string {
	return humanize.IBytes(bytes)
}

// FormatSpeed renders a transfer rate, e.g. "2.1 MiB/s"
func FormatSpeed(speed Speed) string {
	if speed <= 0 {
		return humanize.IBytes(0) + "/s"
	}
	return humanize.IBytes(uint64(speed)) + "/s"
}

// Ellipsis truncates s to limit runes and appends "..." when it was cut
func Ellipsis(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the date-time formats the server is known to emit
func ParseTimestamp(value string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
