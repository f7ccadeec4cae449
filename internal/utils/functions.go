package utils

import (
	"fmt"
	u "net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

// FilenameFromURL returns the last path segment of the URL, or a fallback
// name when the URL has no usable path.
func FilenameFromURL(link string) string {
	parsed, err := u.Parse(link)
	if err != nil {
		return FallbackFilename
	}
	segments := strings.Split(strings.TrimSuffix(parsed.Path, "/"), "/")
	name := segments[len(segments)-1]
	if name == "" {
		return FallbackFilename
	}
	return name
}

// TempFilePath derives the in-progress path for a destination file by
// replacing its extension with the part suffix.
func TempFilePath(destPath string) string {
	return strings.TrimSuffix(destPath, filepath.Ext(destPath)) + PartSuffix
}

// ExpandPath expands a leading ~ and any environment variables in p.
// Unset variables expand to the empty string.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = home + strings.TrimPrefix(p, "~")
		}
	}
	return os.Expand(p, func(key string) string {
		return os.Getenv(key)
	})
}

// ParseURLList splits a comma-separated URL list, trimming whitespace and
// dropping empty or unparsable entries.
func ParseURLList(csv string) []string {
	var urls []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parsed, err := u.Parse(part)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			continue
		}
		urls = append(urls, parsed.String())
	}
	return urls
}

// ReadDownloadList reads a YAML file of download entries.
func ReadDownloadList(path string) ([]DownloadEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading URL list file: %v", err)
	}
	var entries []DownloadEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error parsing URL list file: %v", err)
	}
	return entries, nil
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func FormatSpeed(bytes int64, elapsed float64) string {
	if elapsed == 0 {
		return "0 B/s"
	}
	bps := float64(bytes) / elapsed
	formatted := FormatBytes(uint64(bps))
	return formatted[:len(formatted)-1] + "B/s" // Slice off "B" and add "B/s"
}
