// Package tracker holds the aggregate bookkeeping shared by all concurrent
// download jobs: the cumulative byte total, the set of URLs already counted
// towards it, and the number of files that reached a terminal success state.
package tracker

import (
	"sync"

	"github.com/tralahm/multifiledownloader/internal/utils"
)

type Tracker struct {
	mu         sync.Mutex
	totalBytes int64
	seen       map[string]struct{}
	filesDone  int
}

func New() *Tracker {
	return &Tracker{
		seen: make(map[string]struct{}),
	}
}

// CountOnce adds n to the aggregate byte total unless url has already been
// counted. The check, the insert, and the add happen under one critical
// section so a URL contributes at most once no matter how many jobs race on
// it. Returns true if the URL was newly counted.
func (t *Tracker) CountOnce(url string, n int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[url]; ok {
		return false
	}
	t.seen[url] = struct{}{}
	t.totalBytes += n
	return true
}

// FileDone records one job reaching a terminal success state (skipped,
// resumed or freshly completed).
func (t *Tracker) FileDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filesDone++
}

func (t *Tracker) TotalBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalBytes
}

func (t *Tracker) FilesDone() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.filesDone
}

// HumanSize renders the aggregate byte total in human-readable form.
func (t *Tracker) HumanSize() string {
	return utils.FormatBytes(uint64(t.TotalBytes()))
}
