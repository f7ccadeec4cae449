package utils

import "time"

type HTTPClientConfig struct {
	Timeout       time.Duration
	KATimeout     time.Duration
	ProxyURL      string
	ProxyUsername string
	ProxyPassword string
	UserAgent     string
	Headers       map[string]string
}

// DownloadJob is one unit of work for the scheduler. Destination and
// temporary paths are derived from the URL and the destination directory
// when the job is created and never change afterwards.
type DownloadJob struct {
	ID       string
	URL      string
	DestPath string
	TempPath string
}

// DownloadEntry is a single item of a YAML URL-list file.
type DownloadEntry struct {
	OutputPath string `yaml:"op"`
	URL        string `yaml:"link"`
}
