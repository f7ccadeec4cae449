// Package scheduler fans one download state machine out per URL under a
// fixed concurrency limit and collects per-job outcomes without letting any
// single failure affect sibling jobs.
package scheduler

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tralahm/multifiledownloader/internal/downloader"
	"github.com/tralahm/multifiledownloader/internal/output"
	"github.com/tralahm/multifiledownloader/internal/tracker"
	"github.com/tralahm/multifiledownloader/internal/utils"
)

type Options struct {
	DestDir string
	Workers int
	// Clean removes the destination directory before any job starts.
	Clean bool
	// Pace inserts short pauses after terminal states so the display is
	// readable; always off in tests.
	Pace bool
	// Display enables the live progress display.
	Display      bool
	ClientConfig utils.HTTPClientConfig
}

type Summary struct {
	Files      int
	Failed     int
	TotalBytes int64
	HumanSize  string
}

// NewJob builds a job for url, deriving the destination and in-progress
// paths from the URL's filename unless outputName overrides it.
func NewJob(url, destDir, outputName string) utils.DownloadJob {
	if outputName == "" {
		outputName = utils.FilenameFromURL(url)
	}
	destPath := filepath.Join(destDir, outputName)
	return utils.DownloadJob{
		ID:       uuid.New().String(),
		URL:      url,
		DestPath: destPath,
		TempPath: utils.TempFilePath(destPath),
	}
}

func BuildJobs(urls []string, destDir string) []utils.DownloadJob {
	var jobs []utils.DownloadJob
	for _, url := range urls {
		jobs = append(jobs, NewJob(url, destDir, ""))
	}
	return jobs
}

// Run executes all jobs with at most opts.Workers in flight and returns
// after every job has reached a terminal state. The destination directory is
// prepared (optionally cleaned, always created) strictly before any permit
// is handed out.
func Run(jobs []utils.DownloadJob, opts Options) (Summary, error) {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Clean {
		os.RemoveAll(opts.DestDir)
	}
	if err := os.MkdirAll(opts.DestDir, 0755); err != nil {
		return Summary{}, fmt.Errorf("error creating destination directory: %v", err)
	}

	agg := tracker.New()
	client := utils.NewHTTPClient(opts.ClientConfig)

	var outputMgr *output.Manager
	if opts.Display {
		outputMgr = output.NewManager()
		outputMgr.SetAggregate(0, len(jobs), agg.HumanSize())
		outputMgr.StartDisplay()
	}

	permits := make(chan struct{}, opts.Workers)
	var wg sync.WaitGroup
	var failed atomic.Int64
	for _, job := range jobs {
		wg.Add(1)
		go func(job utils.DownloadJob) {
			defer wg.Done()
			permits <- struct{}{}
			defer func() { <-permits }()
			runJob(job, client, agg, outputMgr, len(jobs), opts.Pace, &failed)
		}(job)
	}
	wg.Wait()

	if outputMgr != nil {
		outputMgr.SetAggregate(agg.FilesDone(), len(jobs), agg.HumanSize())
		outputMgr.StopDisplay()
	}
	return Summary{
		Files:      agg.FilesDone(),
		Failed:     int(failed.Load()),
		TotalBytes: agg.TotalBytes(),
		HumanSize:  agg.HumanSize(),
	}, nil
}

func runJob(job utils.DownloadJob, client *utils.HTTPClient, agg *tracker.Tracker, outputMgr *output.Manager, totalJobs int, pace bool, failed *atomic.Int64) {
	name := filepath.Base(job.DestPath)
	rowID := 0
	if outputMgr != nil {
		rowID = outputMgr.RegisterJob(job.URL)
		outputMgr.SetMessage(rowID, fmt.Sprintf("Downloading %s", name))
	}
	start := time.Now()
	progress := func(downloaded, total int64) {
		if outputMgr != nil {
			text := fmt.Sprintf("%s %s", name, utils.FormatSpeed(downloaded, time.Since(start).Seconds()))
			outputMgr.SetProgress(rowID, downloaded, total, text)
			outputMgr.SetAggregate(agg.FilesDone(), totalJobs, agg.HumanSize())
		}
	}

	status, err := downloader.Download(job, client, agg, progress)
	if err != nil {
		failed.Add(1)
		log.Error().Str("op", "scheduler").Str("id", job.ID).Err(err).Msgf("Error downloading %s", job.URL)
		if outputMgr != nil {
			outputMgr.ReportError(rowID, err)
		}
		return
	}
	if outputMgr != nil {
		outputMgr.SetAggregate(agg.FilesDone(), totalJobs, agg.HumanSize())
		switch status {
		case downloader.StatusSkipped:
			outputMgr.Complete(rowID, fmt.Sprintf("Exists %s", name))
		case downloader.StatusResumed:
			outputMgr.Complete(rowID, fmt.Sprintf("Resumed %s", name))
		default:
			outputMgr.Complete(rowID, fmt.Sprintf("Completed %s", name))
		}
	}
	if pace {
		if status == downloader.StatusSkipped {
			time.Sleep(time.Duration(200+rand.Intn(300)) * time.Millisecond)
		} else {
			time.Sleep(time.Duration(500+rand.Intn(500)) * time.Millisecond)
		}
	}
}
