package mockserver

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"dlwatch/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	errJobNotFound = errors.New("job not found")
	errMissingURL  = errors.New("url is required")
)

// JobQueue interface defines the methods for managing simulated downloads
type JobQueue interface {
	Start()
	Stop()
	AddJob(req types.DownloadRequest) (types.JobRecord, error)
	GetJob(id string) (types.JobRecord, bool)
	GetAllJobs() []types.JobRecord
	KillJob(id string) error
	KillAll() int
	DownloadedBytes() uint64
}

// job is the queue's mutable record of one download
type job struct {
	record types.JobRecord
	killed chan struct{}
}

// jobQueue simulates downloads: workers advance progress on every tick
type jobQueue struct {
	jobs       map[string]*job
	order      []string
	queue      chan *job
	quit       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	maxWorkers int
	tick       time.Duration
	step       float64
	downloaded uint64
	onChange   func()
	log        logrus.FieldLogger
}

// NewJobQueue creates a new job queue. onChange runs after every mutation.
func NewJobQueue(maxWorkers int, tick time.Duration, onChange func(), log logrus.FieldLogger) JobQueue {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if tick <= 0 {
		tick = 500 * time.Millisecond
	}
	if onChange == nil {
		onChange = func() {}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &jobQueue{
		jobs:       make(map[string]*job),
		queue:      make(chan *job, 100),
		quit:       make(chan struct{}),
		maxWorkers: maxWorkers,
		tick:       tick,
		step:       10,
		onChange:   onChange,
		log:        log.WithField("component", "mock_queue"),
	}
}

// AddJob adds a new job to the queue
func (jq *jobQueue) AddJob(req types.DownloadRequest) (types.JobRecord, error) {
	if strings.TrimSpace(req.URL) == "" {
		return types.JobRecord{}, errMissingURL
	}

	jq.mu.Lock()
	j := &job{
		record: types.JobRecord{
			ID: uuid.New().String(),
			Info: types.JobInfo{
				URL:            req.URL,
				Title:          titleFor(req),
				FilesizeApprox: float64(50 << 20),
				Extension:      "mp4",
				CreatedAt:      time.Now().UTC().Format(time.RFC3339Nano),
			},
			Progress: types.JobProgress{
				Status:     types.ProcessStatusPending,
				Percentage: "0.0%",
			},
			Output: types.JobOutput{Path: req.Path},
		},
		killed: make(chan struct{}),
	}
	jq.jobs[j.record.ID] = j
	jq.order = append(jq.order, j.record.ID)
	record := j.record
	jq.mu.Unlock()

	select {
	case jq.queue <- j:
	default:
		jq.KillJob(record.ID)
		return types.JobRecord{}, fmt.Errorf("queue is full")
	}

	jq.log.WithField("job_id", record.ID).Info("job queued")
	jq.onChange()
	return record, nil
}

// GetJob retrieves a job by ID
func (jq *jobQueue) GetJob(id string) (types.JobRecord, bool) {
	jq.mu.RLock()
	defer jq.mu.RUnlock()
	j, exists := jq.jobs[id]
	if !exists {
		return types.JobRecord{}, false
	}
	return j.record, true
}

// GetAllJobs returns all jobs in submission order
func (jq *jobQueue) GetAllJobs() []types.JobRecord {
	jq.mu.RLock()
	defer jq.mu.RUnlock()

	jobs := make([]types.JobRecord, 0, len(jq.order))
	for _, id := range jq.order {
		jobs = append(jobs, jq.jobs[id].record)
	}
	return jobs
}

// KillJob stops a job and removes it from the active set
func (jq *jobQueue) KillJob(id string) error {
	jq.mu.Lock()
	j, exists := jq.jobs[id]
	if !exists {
		jq.mu.Unlock()
		return errJobNotFound
	}
	jq.remove(id)
	close(j.killed)
	jq.mu.Unlock()

	jq.log.WithField("job_id", id).Info("job killed")
	jq.onChange()
	return nil
}

// KillAll stops every job and returns how many were removed
func (jq *jobQueue) KillAll() int {
	jq.mu.Lock()
	count := len(jq.jobs)
	for id, j := range jq.jobs {
		close(j.killed)
		delete(jq.jobs, id)
	}
	jq.order = nil
	jq.mu.Unlock()

	if count > 0 {
		jq.log.WithField("count", count).Info("all jobs killed")
		jq.onChange()
	}
	return count
}

// DownloadedBytes returns the size of every completed job so far
func (jq *jobQueue) DownloadedBytes() uint64 {
	jq.mu.RLock()
	defer jq.mu.RUnlock()
	return jq.downloaded
}

// remove must be called with mu held
func (jq *jobQueue) remove(id string) {
	delete(jq.jobs, id)
	for i, existing := range jq.order {
		if existing == id {
			jq.order = append(jq.order[:i], jq.order[i+1:]...)
			break
		}
	}
}

// Start begins processing jobs
func (jq *jobQueue) Start() {
	for i := 0; i < jq.maxWorkers; i++ {
		go jq.worker()
	}
}

// Stop ends every worker
func (jq *jobQueue) Stop() {
	jq.stopOnce.Do(func() { close(jq.quit) })
}

// worker processes jobs from the queue
func (jq *jobQueue) worker() {
	for {
		select {
		case j := <-jq.queue:
			jq.process(j)
		case <-jq.quit:
			return
		}
	}
}

// process advances one job until it completes or is killed
func (jq *jobQueue) process(j *job) {
	ticker := time.NewTicker(jq.tick)
	defer ticker.Stop()

	percent := 0.0
	for {
		if !jq.update(j, func(r *types.JobRecord) {
			r.Progress.Status = types.ProcessStatusDownloading
			r.Progress.Percentage = strconv.FormatFloat(percent, 'f', 1, 64) + "%"
			r.Progress.Speed = types.Speed(r.Info.FilesizeApprox * jq.step / 100 / jq.tick.Seconds())
		}) {
			return
		}

		select {
		case <-j.killed:
			return
		case <-jq.quit:
			return
		case <-ticker.C:
		}

		percent += jq.step
		if percent >= 100 {
			break
		}
	}

	jq.update(j, func(r *types.JobRecord) {
		r.Progress.Status = types.ProcessStatusCompleted
		r.Progress.Percentage = types.FinishedPercentage
		r.Progress.Speed = 0
		jq.downloaded += uint64(r.Info.FilesizeApprox)
	})
	jq.log.WithField("job_id", j.record.ID).Info("job completed")
}

// update applies fn to a job still in the queue and reports whether it was
func (jq *jobQueue) update(j *job, fn func(r *types.JobRecord)) bool {
	jq.mu.Lock()
	current, exists := jq.jobs[j.record.ID]
	if !exists || current != j {
		jq.mu.Unlock()
		return false
	}
	fn(&j.record)
	jq.mu.Unlock()

	jq.onChange()
	return true
}

// titleFor picks a display title for a request
func titleFor(req types.DownloadRequest) string {
	if req.Rename != "" {
		return req.Rename
	}
	u, err := url.Parse(req.URL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return req.URL
	}
	return path.Base(u.Path)
}
