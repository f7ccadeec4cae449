package downloader

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tralahm/multifiledownloader/internal/tracker"
	"github.com/tralahm/multifiledownloader/internal/utils"
)

// rangeServer serves data with HEAD size discovery and Range-aware GETs,
// counting requests by method.
type rangeServer struct {
	data  []byte
	heads atomic.Int64
	gets  atomic.Int64
}

func (s *rangeServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			s.heads.Add(1)
			w.Header().Set("Content-Length", strconv.Itoa(len(s.data)))
			w.Header().Set("Accept-Ranges", "bytes")
		case http.MethodGet:
			s.gets.Add(1)
			var start int64
			if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
				fmt.Sscanf(strings.TrimPrefix(rangeHeader, "bytes="), "%d-", &start)
			}
			if start > 0 {
				w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(s.data)-1, len(s.data)))
				w.Header().Set("Content-Length", strconv.Itoa(len(s.data)-int(start)))
				w.WriteHeader(http.StatusPartialContent)
			} else {
				w.Header().Set("Content-Length", strconv.Itoa(len(s.data)))
			}
			w.Write(s.data[start:])
		}
	}
}

func testJob(t *testing.T, url string) utils.DownloadJob {
	t.Helper()
	destPath := filepath.Join(t.TempDir(), utils.FilenameFromURL(url))
	return utils.DownloadJob{
		ID:       "test-job",
		URL:      url,
		DestPath: destPath,
		TempPath: utils.TempFilePath(destPath),
	}
}

func testClient() *utils.HTTPClient {
	return utils.NewHTTPClient(utils.HTTPClientConfig{})
}

func makeData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

func TestDownloadBasic(t *testing.T) {
	srv := &rangeServer{data: makeData(64 * 1024)}
	server := httptest.NewServer(srv.handler())
	defer server.Close()

	agg := tracker.New()
	job := testJob(t, server.URL+"/a.bin")
	var lastDownloaded, lastTotal int64
	status, err := Download(job, testClient(), agg, func(downloaded, total int64) {
		lastDownloaded, lastTotal = downloaded, total
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if status != StatusCompleted {
		t.Fatalf("status = %v, want completed", status)
	}
	got, err := os.ReadFile(job.DestPath)
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if string(got) != string(srv.data) {
		t.Fatal("downloaded content does not match")
	}
	if _, err := os.Stat(job.TempPath); !os.IsNotExist(err) {
		t.Error("temporary file should be gone after finalize")
	}
	if agg.TotalBytes() != int64(len(srv.data)) {
		t.Errorf("aggregate = %d, want %d", agg.TotalBytes(), len(srv.data))
	}
	if lastDownloaded != int64(len(srv.data)) || lastTotal != int64(len(srv.data)) {
		t.Errorf("final progress = %d/%d, want %d/%d", lastDownloaded, lastTotal, len(srv.data), len(srv.data))
	}
}

func TestDownloadSkipsExisting(t *testing.T) {
	srv := &rangeServer{data: makeData(1024)}
	server := httptest.NewServer(srv.handler())
	defer server.Close()

	agg := tracker.New()
	job := testJob(t, server.URL+"/a.bin")
	if err := os.WriteFile(job.DestPath, []byte("already here"), 0644); err != nil {
		t.Fatal(err)
	}
	status, err := Download(job, testClient(), agg, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if status != StatusSkipped {
		t.Fatalf("status = %v, want exists", status)
	}
	if srv.heads.Load() != 0 || srv.gets.Load() != 0 {
		t.Errorf("no network requests expected, got %d HEAD %d GET", srv.heads.Load(), srv.gets.Load())
	}
	if agg.FilesDone() != 1 {
		t.Errorf("FilesDone = %d, want 1", agg.FilesDone())
	}
}

func TestDownloadResume(t *testing.T) {
	srv := &rangeServer{data: makeData(96 * 1024)}
	server := httptest.NewServer(srv.handler())
	defer server.Close()

	agg := tracker.New()
	job := testJob(t, server.URL+"/a.bin")
	offset := 40 * 1024
	if err := os.WriteFile(job.TempPath, srv.data[:offset], 0644); err != nil {
		t.Fatal(err)
	}
	status, err := Download(job, testClient(), agg, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if status != StatusCompleted {
		t.Fatalf("status = %v, want completed", status)
	}
	got, err := os.ReadFile(job.DestPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(srv.data) || string(got) != string(srv.data) {
		t.Fatalf("resumed file has %d bytes, want %d (content must match)", len(got), len(srv.data))
	}
}

func TestDownloadResumeCompleteShortcut(t *testing.T) {
	srv := &rangeServer{data: makeData(8 * 1024)}
	server := httptest.NewServer(srv.handler())
	defer server.Close()

	agg := tracker.New()
	job := testJob(t, server.URL+"/a.bin")
	if err := os.WriteFile(job.TempPath, srv.data, 0644); err != nil {
		t.Fatal(err)
	}
	status, err := Download(job, testClient(), agg, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if status != StatusResumed {
		t.Fatalf("status = %v, want resumed", status)
	}
	if srv.gets.Load() != 0 {
		t.Errorf("no GET expected for complete partial, got %d", srv.gets.Load())
	}
	if _, err := os.Stat(job.DestPath); err != nil {
		t.Errorf("destination missing after finalize: %v", err)
	}
}

func TestDownloadZeroSizeFile(t *testing.T) {
	srv := &rangeServer{data: nil}
	server := httptest.NewServer(srv.handler())
	defer server.Close()

	agg := tracker.New()
	job := testJob(t, server.URL+"/empty.bin")
	status, err := Download(job, testClient(), agg, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if status != StatusCompleted {
		t.Fatalf("status = %v, want completed", status)
	}
	fileInfo, err := os.Stat(job.DestPath)
	if err != nil {
		t.Fatalf("destination missing: %v", err)
	}
	if fileInfo.Size() != 0 {
		t.Errorf("size = %d, want 0", fileInfo.Size())
	}
}

func TestDownloadUnknownSizeFoldsFetchLength(t *testing.T) {
	data := makeData(12 * 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			// No Content-Length declared for HEAD.
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
	defer server.Close()

	agg := tracker.New()
	job := testJob(t, server.URL+"/a.bin")
	status, err := Download(job, testClient(), agg, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if status != StatusCompleted {
		t.Fatalf("status = %v, want completed", status)
	}
	if agg.TotalBytes() != int64(len(data)) {
		t.Errorf("aggregate = %d, want %d (folded from GET)", agg.TotalBytes(), len(data))
	}
}

func TestDownloadThrottledFetchRetries(t *testing.T) {
	data := makeData(4 * 1024)
	var gets atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			return
		}
		if gets.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
	defer server.Close()

	agg := tracker.New()
	job := testJob(t, server.URL+"/a.bin")
	status, err := Download(job, testClient(), agg, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if status != StatusCompleted {
		t.Fatalf("status = %v, want completed", status)
	}
	if gets.Load() < 2 {
		t.Errorf("expected at least 2 GETs, got %d", gets.Load())
	}
	got, _ := os.ReadFile(job.DestPath)
	if string(got) != string(data) {
		t.Fatal("content mismatch after throttled retry")
	}
}

func TestDownloadFatalStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "10")
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	agg := tracker.New()
	job := testJob(t, server.URL+"/a.bin")
	status, err := Download(job, testClient(), agg, nil)
	if err == nil {
		t.Fatal("expected error for 404 fetch")
	}
	if status != StatusFailed {
		t.Fatalf("status = %v, want failed", status)
	}
	if _, statErr := os.Stat(job.DestPath); !os.IsNotExist(statErr) {
		t.Error("destination must not exist after failed job")
	}
}

func TestDownloadServerIgnoresRange(t *testing.T) {
	data := makeData(16 * 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			return
		}
		// Always full content with 200, no matter the Range header.
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
	defer server.Close()

	agg := tracker.New()
	job := testJob(t, server.URL+"/a.bin")
	if err := os.WriteFile(job.TempPath, data[:4096], 0644); err != nil {
		t.Fatal(err)
	}
	status, err := Download(job, testClient(), agg, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if status != StatusCompleted {
		t.Fatalf("status = %v, want completed", status)
	}
	got, _ := os.ReadFile(job.DestPath)
	if len(got) != len(data) || string(got) != string(data) {
		t.Fatalf("file has %d bytes, want %d (restart from scratch)", len(got), len(data))
	}
}
