package mockserver

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"dlwatch/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestJobQueue(t *testing.T) {
	var changes atomic.Int32
	queue := NewJobQueue(2, 5*time.Millisecond, func() { changes.Add(1) }, quietLogger())
	queue.Start()
	defer queue.Stop()

	job, err := queue.AddJob(types.DownloadRequest{URL: "https://example.com/media/song.mp3"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "song.mp3", job.Info.Title)
	assert.NotEmpty(t, job.Info.CreatedAt)

	assert.Eventually(t, func() bool {
		current, ok := queue.GetJob(job.ID)
		return ok && current.Progress.Finished()
	}, 2*time.Second, 5*time.Millisecond)

	current, _ := queue.GetJob(job.ID)
	assert.Equal(t, types.ProcessStatusCompleted, current.Progress.Status)
	assert.Equal(t, types.FinishedPercentage, current.Progress.Percentage)
	assert.Equal(t, uint64(current.Info.FilesizeApprox), queue.DownloadedBytes())
	assert.Greater(t, changes.Load(), int32(2))
}

func TestJobQueueValidation(t *testing.T) {
	queue := NewJobQueue(1, time.Second, nil, quietLogger())

	_, err := queue.AddJob(types.DownloadRequest{URL: "  "})
	assert.ErrorIs(t, err, errMissingURL)
	assert.Empty(t, queue.GetAllJobs())
}

func TestJobQueueKill(t *testing.T) {
	queue := NewJobQueue(1, time.Hour, nil, quietLogger())
	queue.Start()
	defer queue.Stop()

	first, err := queue.AddJob(types.DownloadRequest{URL: "https://example.com/a"})
	require.NoError(t, err)
	second, err := queue.AddJob(types.DownloadRequest{URL: "https://example.com/b", Rename: "bee"})
	require.NoError(t, err)
	third, err := queue.AddJob(types.DownloadRequest{URL: "https://example.com/"})
	require.NoError(t, err)

	jobs := queue.GetAllJobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, []string{first.ID, second.ID, third.ID}, []string{jobs[0].ID, jobs[1].ID, jobs[2].ID})
	assert.Equal(t, "bee", jobs[1].Info.Title)
	assert.Equal(t, "https://example.com/", jobs[2].Info.Title)

	require.NoError(t, queue.KillJob(second.ID))
	assert.ErrorIs(t, queue.KillJob(second.ID), errJobNotFound)
	assert.Len(t, queue.GetAllJobs(), 2)

	assert.Equal(t, 2, queue.KillAll())
	assert.Empty(t, queue.GetAllJobs())
	assert.Equal(t, 0, queue.KillAll())
}
