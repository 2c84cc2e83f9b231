package mockserver

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path"
	"sort"
	"strings"
	"sync"

	"dlwatch/types"
)

// ArchiveRoot is where finished jobs land unless they name an output path
const ArchiveRoot = "/downloads"

var (
	errFileNotFound     = errors.New("file not found")
	errChecksumMismatch = errors.New("checksum does not match path")
)

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".webm": true, ".mov": true, ".avi": true,
}

// archive remembers the files produced by finished jobs
type archive struct {
	mu    sync.Mutex
	files map[string]types.DirectoryEntry
	seen  map[string]bool
}

func newArchive() *archive {
	return &archive{
		files: make(map[string]types.DirectoryEntry),
		seen:  make(map[string]bool),
	}
}

// checksum is the identifier the server hands out for a path
func checksum(p string) string {
	sum := sha256.Sum256([]byte(p))
	return hex.EncodeToString(sum[:])
}

// record archives every completed job not seen before
func (a *archive) record(jobs []types.JobRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, job := range jobs {
		if job.Progress.Status != types.ProcessStatusCompleted || a.seen[job.ID] {
			continue
		}
		a.seen[job.ID] = true
		a.add(path.Join(ArchiveRoot, path.Clean("/"+job.Output.Path), job.Info.Title))
	}
}

// add stores a file; callers hold a.mu
func (a *archive) add(p string) {
	name := path.Base(p)
	a.files[p] = types.DirectoryEntry{
		Name:    name,
		Path:    p,
		SHASum:  checksum(p),
		IsVideo: videoExtensions[strings.ToLower(path.Ext(name))],
	}
}

// list returns the direct children of subdir, directories included
func (a *archive) list(subdir string) []types.DirectoryEntry {
	dir := path.Join(ArchiveRoot, path.Clean("/"+subdir))

	a.mu.Lock()
	defer a.mu.Unlock()

	entries := []types.DirectoryEntry{}
	dirs := make(map[string]bool)
	for p, entry := range a.files {
		if path.Dir(p) == dir {
			entries = append(entries, entry)
			continue
		}
		rest, ok := strings.CutPrefix(p, dir+"/")
		if !ok {
			continue
		}
		name, _, _ := strings.Cut(rest, "/")
		if dirs[name] {
			continue
		}
		dirs[name] = true
		child := path.Join(dir, name)
		entries = append(entries, types.DirectoryEntry{
			Name:        name,
			Path:        child,
			SHASum:      checksum(child),
			IsDirectory: true,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// remove deletes a file after checking the checksum the client sent
func (a *archive) remove(req types.DeleteRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.files[req.Path]; !ok {
		return errFileNotFound
	}
	if checksum(req.Path) != req.SHASum {
		return errChecksumMismatch
	}
	delete(a.files, req.Path)
	return nil
}
