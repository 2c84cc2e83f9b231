package types

// DirectoryEntry is one file or directory in the server's download archive
type DirectoryEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHASum      string `json:"shaSum"`
	IsVideo     bool   `json:"isVideo"`
	IsDirectory bool   `json:"isDirectory"`
}

// ListRequest selects an archive directory relative to the download root
type ListRequest struct {
	SubDir string `json:"subdir"`
}

// DeleteRequest names an archived file; the checksum must match its path
type DeleteRequest struct {
	Path   string `json:"path"`
	SHASum string `json:"shaSum"`
}

// LoginRequest exchanges the server secret for a session token
type LoginRequest struct {
	Secret string `json:"secret"`
}

// VersionInfo reports the server and downloader versions
type VersionInfo struct {
	RPCVersion   string `json:"rpcVersion"`
	YtdlpVersion string `json:"ytdlpVersion"`
}
