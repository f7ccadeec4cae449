package downloader

import (
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tralahm/multifiledownloader/internal/tracker"
	"github.com/tralahm/multifiledownloader/internal/utils"
)

const (
	maxProbeAttempts = 5
	maxProbeBackoff  = 8 * time.Second
)

// ProbeSize issues a HEAD request to learn the remote file's byte length.
// Rate-limited responses are retried with jittered, capped backoff; any
// other non-success status is an error. A missing Content-Length yields 0
// (unknown size), not an error. On success the size is folded into the
// aggregate total exactly once per URL.
func ProbeSize(client utils.HTTPDoer, link string, agg *tracker.Tracker) (int64, error) {
	for attempt := 0; attempt < maxProbeAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(500+rand.Intn(1000)) * time.Millisecond << (attempt - 1)
			backoff = min(backoff, maxProbeBackoff)
			log.Debug().Str("op", "downloader/probe").Msgf("Rate-limited, retrying HEAD for %s in %v (attempt %d/%d)", link, backoff, attempt+1, maxProbeAttempts)
			sleep(backoff)
		}
		req, err := http.NewRequest("HEAD", link, nil)
		if err != nil {
			return 0, fmt.Errorf("error creating HEAD request: %v", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return 0, fmt.Errorf("error executing HEAD request: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			continue
		}
		if resp.StatusCode >= 400 {
			return 0, fmt.Errorf("unexpected status code for HEAD: %d", resp.StatusCode)
		}
		size := resp.ContentLength
		if size < 0 {
			size = 0
		}
		// An unknown size is not counted here so the fetch step can still
		// fold the response's declared length for this URL.
		if size > 0 {
			agg.CountOnce(link, size)
		}
		return size, nil
	}
	return 0, fmt.Errorf("size probe rate-limited after %d attempts: %s", maxProbeAttempts, link)
}
