package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ProcessStatus represents the server-side state of a download process
type ProcessStatus int

const (
	ProcessStatusPending ProcessStatus = iota
	ProcessStatusDownloading
	ProcessStatusCompleted
	ProcessStatusError
)

// String returns the label shown for a process status
func (s ProcessStatus) String() string {
	switch s {
	case ProcessStatusDownloading:
		return "Downloading"
	case ProcessStatusCompleted:
		return "Completed"
	case ProcessStatusError:
		return "Error"
	default:
		return "Pending"
	}
}

// FinishedPercentage is the percentage the server reports once a job is done
const FinishedPercentage = "-1"

// JobRecord represents one download job as pushed by the server
type JobRecord struct {
	ID       string      `json:"id"`
	Info     JobInfo     `json:"info"`
	Progress JobProgress `json:"progress"`
	Output   JobOutput   `json:"output"`
}

// JobInfo holds the metadata of the downloaded source
type JobInfo struct {
	URL            string  `json:"url"`
	Title          string  `json:"title"`
	Thumbnail      string  `json:"thumbnail,omitempty"`
	Resolution     string  `json:"resolution,omitempty"`
	FilesizeApprox float64 `json:"filesize_approx,omitempty"`
	Extension      string  `json:"ext,omitempty"`
	OriginalURL    string  `json:"original_url,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

// JobProgress holds the live progress of a job
type JobProgress struct {
	Status     ProcessStatus `json:"process_status"`
	Percentage string        `json:"percentage"`
	Speed      Speed         `json:"speed"`
	ETA        float64       `json:"eta,omitempty"`
}

// JobOutput describes where the server stores the result
type JobOutput struct {
	Path          string `json:"path,omitempty"`
	Filename      string `json:"filename,omitempty"`
	SavedFilePath string `json:"savedFilePath,omitempty"`
}

// Finished reports whether the server marked the job as done
func (p JobProgress) Finished() bool {
	return strings.TrimSpace(p.Percentage) == FinishedPercentage
}

// Percent returns the completion in the 0-100 range. Finished jobs report 100.
func (p JobProgress) Percent() float64 {
	if p.Finished() {
		return 100
	}
	raw := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(p.Percentage), "%"))
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

// Speed is a transfer rate in bytes per second. The server sends either a number
// or a preformatted string such as "5 MiB/s".
type Speed float64

var speedPattern = regexp.MustCompile(`^([\d,]+(?:\.\d+)?)\s*([A-Za-z]*/s)?$`)

// UnmarshalJSON accepts numeric and formatted rates
func (s *Speed) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = 0
		return nil
	}

	var number float64
	if err := json.Unmarshal(data, &number); err == nil {
		*s = Speed(number)
		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("speed must be a number or a string: %w", err)
	}

	parsed, err := ParseSpeed(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSpeed converts a formatted rate into bytes per second. Unknown units
// yield zero, matching what the dashboard displays for them.
func ParseSpeed(text string) (Speed, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, nil
	}

	match := speedPattern.FindStringSubmatch(text)
	if match == nil {
		return 0, nil
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid speed %q: %w", text, err)
	}

	switch match[2] {
	case "", "B/s":
		return Speed(value), nil
	case "KiB/s":
		return Speed(value * 1024), nil
	case "MiB/s":
		return Speed(value * 1024 * 1024), nil
	case "GiB/s":
		return Speed(value * 1024 * 1024 * 1024), nil
	case "KB/s", "kB/s":
		return Speed(value * 1000), nil
	case "MB/s":
		return Speed(value * 1000 * 1000), nil
	default:
		return 0, nil
	}
}

// DownloadRequest is the payload of a start-job command
type DownloadRequest struct {
	URL    string   `json:"URL"`
	Params []string `json:"Params"`
	Path   string   `json:"Path,omitempty"`
	Rename string   `json:"Rename,omitempty"`
}

// Format is one downloadable format reported for a source
type Format struct {
	FormatID   string  `json:"format_id"`
	FormatNote string  `json:"format_note"`
	Resolution string  `json:"resolution"`
	VCodec     string  `json:"vcodec"`
	ACodec     string  `json:"acodec"`
	Filesize   float64 `json:"filesize"`
}

// FormatsResponse lists the available formats of a source
type FormatsResponse struct {
	Best    Format   `json:"best"`
	Formats []Format `json:"formats"`
}
