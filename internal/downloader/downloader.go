// Package downloader implements the per-file download sequence: existence
// check, size probe, resume detection, ranged fetch with streaming writes,
// and atomic finalize via rename of a .part file.
package downloader

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tralahm/multifiledownloader/internal/tracker"
	"github.com/tralahm/multifiledownloader/internal/utils"
)

// Status is the terminal outcome of a download job. The zero value is
// StatusFailed so an error return never carries a success status.
type Status int

const (
	StatusFailed Status = iota
	StatusSkipped
	StatusResumed
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusSkipped:
		return "exists"
	case StatusResumed:
		return "resumed"
	case StatusCompleted:
		return "completed"
	default:
		return "failed"
	}
}

// maxFetchRestarts bounds full state-machine restarts triggered by 429
// responses on the ranged GET.
const maxFetchRestarts = 5

// sleep is swapped out in tests to avoid real backoff waits.
var sleep = time.Sleep

// throttledError signals a rate-limited fetch and carries the wait duration
// derived from the Retry-After header or a randomized fallback.
type throttledError struct {
	wait time.Duration
}

func (e *throttledError) Error() string {
	return fmt.Sprintf("server rate-limited the request, retry in %v", e.wait)
}

// Download runs the state machine for one job to a terminal state. A 429 on
// the fetch restarts the whole sequence from the existence check after the
// advertised (or randomized) wait. progress, if non-nil, receives cumulative
// downloaded bytes and the expected total as chunks are written.
func Download(job utils.DownloadJob, client utils.HTTPDoer, agg *tracker.Tracker, progress func(downloaded, total int64)) (Status, error) {
	var wait time.Duration
	for attempt := 0; attempt <= maxFetchRestarts; attempt++ {
		if attempt > 0 {
			log.Warn().Str("op", "downloader").Str("id", job.ID).Msgf("Rate-limited, restarting download for %s in %v (attempt %d/%d)", job.URL, wait, attempt+1, maxFetchRestarts+1)
			sleep(wait)
		}
		status, err := runOnce(job, client, agg, progress)
		var throttled *throttledError
		if errors.As(err, &throttled) {
			wait = throttled.wait
			continue
		}
		return status, err
	}
	return StatusFailed, fmt.Errorf("download rate-limited after %d attempts: %s", maxFetchRestarts+1, job.URL)
}

func runOnce(job utils.DownloadJob, client utils.HTTPDoer, agg *tracker.Tracker, progress func(downloaded, total int64)) (Status, error) {
	// CheckExists
	if _, err := os.Stat(job.DestPath); err == nil {
		agg.FileDone()
		log.Debug().Str("op", "downloader").Str("id", job.ID).Msgf("File already exists, skipping %s", job.DestPath)
		return StatusSkipped, nil
	}

	// ProbeSize
	expectedSize, err := ProbeSize(client, job.URL, agg)
	if err != nil {
		return StatusFailed, err
	}

	// ResumeCheck
	var resumeOffset int64
	if fileInfo, err := os.Stat(job.TempPath); err == nil {
		resumeOffset = fileInfo.Size()
	}
	if resumeOffset > 0 && expectedSize > 0 && resumeOffset >= expectedSize {
		if err := os.Rename(job.TempPath, job.DestPath); err != nil {
			return StatusFailed, fmt.Errorf("error renaming (finalizing) output file: %v", err)
		}
		agg.FileDone()
		log.Info().Str("op", "downloader").Str("id", job.ID).Msgf("Partial file already complete for %s", job.DestPath)
		return StatusResumed, nil
	}

	// StreamFetch
	req, err := http.NewRequest("GET", job.URL, nil)
	if err != nil {
		return StatusFailed, fmt.Errorf("error creating GET request: %v", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeOffset))
	req.Header.Set("Connection", "keep-alive")
	resp, err := client.Do(req)
	if err != nil {
		return StatusFailed, fmt.Errorf("error executing GET request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return StatusFailed, &throttledError{wait: retryAfterHint(resp)}
	}
	if resp.StatusCode >= 400 {
		return StatusFailed, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if expectedSize == 0 && resp.ContentLength > 0 {
		agg.CountOnce(job.URL, resp.ContentLength)
		expectedSize = resp.ContentLength
	}
	if resumeOffset > 0 && resp.StatusCode != http.StatusPartialContent {
		// Server ignored the range request, start over from byte zero.
		log.Warn().Str("op", "downloader").Str("id", job.ID).Msgf("Server does not support resume (status %d), restarting %s from scratch", resp.StatusCode, job.URL)
		if err := os.Truncate(job.TempPath, 0); err != nil {
			return StatusFailed, fmt.Errorf("error truncating partial file: %v", err)
		}
		resumeOffset = 0
	}

	// StreamWrite
	if err := streamToFile(job.TempPath, resp.Body, resumeOffset, expectedSize, progress); err != nil {
		return StatusFailed, err
	}

	// Finalize
	if err := os.Rename(job.TempPath, job.DestPath); err != nil {
		return StatusFailed, fmt.Errorf("error renaming (finalizing) output file: %v", err)
	}
	agg.FileDone()
	log.Info().Str("op", "downloader").Str("id", job.ID).Msgf("Download successful for %s", job.DestPath)
	return StatusCompleted, nil
}

// streamToFile appends the response body to the partial file in chunks,
// reporting cumulative progress after each write.
func streamToFile(tempPath string, body io.Reader, resumeOffset, expectedSize int64, progress func(downloaded, total int64)) error {
	outFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("error opening output file: %v", err)
	}
	defer outFile.Close()

	downloaded := resumeOffset
	if progress != nil && resumeOffset > 0 {
		progress(downloaded, expectedSize)
	}
	buffer := make([]byte, utils.DefaultBufferSize)
	for {
		bytesRead, readErr := body.Read(buffer)
		if bytesRead > 0 {
			if _, writeErr := outFile.Write(buffer[:bytesRead]); writeErr != nil {
				return fmt.Errorf("error writing to output file: %v", writeErr)
			}
			downloaded += int64(bytesRead)
			if progress != nil {
				progress(downloaded, expectedSize)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return fmt.Errorf("error reading response body: %v", readErr)
		}
	}
	outFile.Sync()
	return nil
}

// retryAfterHint returns the wait advertised by a Retry-After header, or a
// randomized 1-3s fallback when the header is absent or unparsable.
func retryAfterHint(resp *http.Response) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Duration(1000+rand.Intn(2000)) * time.Millisecond
}
