// Package download fetches reference files (cty.plist) over HTTP with
// conditional requests and a JSON sidecar so unchanged files are not
// reinstalled.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/zeebo/xxh3"
)

const MetadataSuffix = ".status.json"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Status indicates whether the remote content changed.
type Status string

const (
	StatusUpdated     Status = "updated"
	StatusNotModified Status = "not_modified"
	StatusSameContent Status = "same_content"
)

// Metadata tracks the last successful download or check.
type Metadata struct {
	URL          string    `json:"url,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	DownloadedAt time.Time `json:"downloaded_at,omitempty"`
	CheckedAt    time.Time `json:"checked_at,omitempty"`
	SizeBytes    int64     `json:"size_bytes,omitempty"`
	Checksum     string    `json:"xxh3,omitempty"`
}

// Request configures one download.
type Request struct {
	URL         string
	Destination string
	Timeout     time.Duration
	// Force skips conditional headers and reinstalls identical content.
	Force     bool
	UserAgent string
	// Validate, when set, vets the downloaded temp file before it replaces
	// Destination. A validation error leaves the old file in place.
	Validate func(path string) error
}

// Result summarizes the download outcome.
type Result struct {
	Status Status
	Meta   Metadata
	Bytes  int64
}

// MetadataPath returns the sidecar path for a destination.
func MetadataPath(dest string) string {
	if strings.TrimSpace(dest) == "" {
		return ""
	}
	return dest + MetadataSuffix
}

// Purpose: Download a file with conditional headers and metadata sidecar.
// Key aspects: Uses ETag/Last-Modified, hashes the body with xxh3, validates
// and then renames into place.
// Upstream: CLI cty-update.
// Downstream: HTTP client, ReadMetadata, WriteMetadata.
func Download(ctx context.Context, req Request) (Result, error) {
	var result Result
	url := strings.TrimSpace(req.URL)
	dest := strings.TrimSpace(req.Destination)
	if url == "" {
		return result, errors.New("download: URL is empty")
	}
	if dest == "" {
		return result, errors.New("download: destination is empty")
	}
	metaPath := MetadataPath(dest)

	destInfo, err := os.Stat(dest)
	destExists := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, fmt.Errorf("download: stat destination: %w", err)
	}
	prevMeta := ReadMetadata(metaPath)
	if prevMeta == nil && destExists {
		prevMeta = &Metadata{
			LastModified: destInfo.ModTime().UTC().Format(http.TimeFormat),
			SizeBytes:    destInfo.Size(),
		}
	}
	force := req.Force || !destExists

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return result, fmt.Errorf("download: build request: %w", err)
	}
	if !force && prevMeta != nil {
		if prevMeta.ETag != "" {
			httpReq.Header.Set("If-None-Match", prevMeta.ETag)
		}
		if prevMeta.LastModified != "" {
			httpReq.Header.Set("If-Modified-Since", prevMeta.LastModified)
		}
	}
	if req.UserAgent != "" {
		httpReq.Header.Set("User-Agent", req.UserAgent)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return result, fmt.Errorf("download: fetch failed: %w", err)
	}
	defer resp.Body.Close()

	now := time.Now().UTC()
	if resp.StatusCode == http.StatusNotModified {
		result.Status = StatusNotModified
		result.Meta = mergeMetadata(prevMeta, url, resp, now, "")
		writeMetadataLogged(metaPath, result.Meta)
		return result, nil
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return result, fmt.Errorf("download: fetch failed: status %s", resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return result, fmt.Errorf("download: create directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(filepath.Dir(dest), "download-*.tmp")
	if err != nil {
		return result, fmt.Errorf("download: create temp file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer os.Remove(tmpName)

	hasher := xxh3.New()
	written, err := io.Copy(io.MultiWriter(tmpFile, hasher), resp.Body)
	if err != nil {
		tmpFile.Close()
		return result, fmt.Errorf("download: copy body: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return result, fmt.Errorf("download: finalize temp file: %w", err)
	}
	if written <= 0 {
		return result, errors.New("download: empty response body")
	}
	sum := strconv.FormatUint(hasher.Sum64(), 16)
	result.Bytes = written

	if !force && destExists && prevMeta != nil && prevMeta.Checksum == sum {
		result.Status = StatusSameContent
		result.Meta = mergeMetadata(prevMeta, url, resp, now, sum)
		writeMetadataLogged(metaPath, result.Meta)
		return result, nil
	}
	if req.Validate != nil {
		if err := req.Validate(tmpName); err != nil {
			return result, fmt.Errorf("download: rejected %s: %w", url, err)
		}
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return result, fmt.Errorf("download: replace file: %w", err)
	}

	result.Status = StatusUpdated
	result.Meta = mergeMetadata(prevMeta, url, resp, now, sum)
	result.Meta.DownloadedAt = now
	result.Meta.SizeBytes = written
	writeMetadataLogged(metaPath, result.Meta)
	return result, nil
}

// ReadMetadata returns the sidecar at path, or nil when it is missing or
// unreadable.
func ReadMetadata(path string) *Metadata {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil
	}
	return &meta
}

// WriteMetadata persists meta as indented JSON.
func WriteMetadata(path string, meta Metadata) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("download: metadata path is empty")
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeMetadataLogged(path string, meta Metadata) {
	if err := WriteMetadata(path, meta); err != nil {
		log.Printf("Warning: unable to write metadata %s: %v", path, err)
	}
}

func mergeMetadata(prev *Metadata, url string, resp *http.Response, now time.Time, sum string) Metadata {
	meta := Metadata{}
	if prev != nil {
		meta = *prev
	}
	meta.URL = url
	meta.CheckedAt = now
	if etag := strings.TrimSpace(resp.Header.Get("ETag")); etag != "" {
		meta.ETag = etag
	}
	if last := strings.TrimSpace(resp.Header.Get("Last-Modified")); last != "" {
		meta.LastModified = last
	}
	if sum != "" {
		meta.Checksum = sum
	}
	return meta
}
