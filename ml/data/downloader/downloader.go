// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package downloader implements download in parallel of various URLs, with various progress report callback.
package downloader

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/bmxtools/pkg/support/fsutil"
	"github.com/gomlx/bmxtools/types/xsync"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ProgressCallback is called as download progresses.
//
// Args:
//   - totalBytes may be set to 0 if total size is not yet known.
//   - finished is set to true when download is finished. Indicates task is finished.
//   - err if there was an error, in which case the transfer was cancelled. In this case finished is also set to true.
type ProgressCallback func(downloadedBytes, totalBytes int64, finished bool, err error)

// Manager handles downloads, reporting back progress and errors.
type Manager struct {
	semaphore            *xsync.Semaphore
	authToken, userAgent string
	client               *http.Client
}

// DefaultMaxParallel is the number of parallel downloads of a new Manager.
const DefaultMaxParallel = 20

// New creates a Manager that download files in parallel -- by default at most DefaultMaxParallel at a time.
func New() *Manager {
	return &Manager{
		semaphore: xsync.NewSemaphore(DefaultMaxParallel),
		client: &http.Client{
			CheckRedirect: func(r *http.Request, via []*http.Request) error {
				r.URL.Opaque = r.URL.Path
				return nil
			},
		},
	}
}

// MaxParallel indicates how many files to download at the same time. Default is DefaultMaxParallel.
// If set to <= 0 it will download all files in parallel.
// Set to 1 to make downloads sequential.
func (m *Manager) MaxParallel(n int) *Manager {
	m.semaphore.Resize(n)
	return m
}

// WithAuthToken sets the authentication token to use in the requests.
// It is passed in the header "Authorization" and prefixed with "Bearer ".
func (m *Manager) WithAuthToken(authToken string) *Manager {
	m.authToken = authToken
	return m
}

// WithUserAgent sets the user agent to user.
func (m *Manager) WithUserAgent(userAgent string) *Manager {
	m.userAgent = userAgent
	return m
}

// ErrCancelled is reported to the ProgressCallback when a download is cancelled.
var ErrCancelled = errors.New("download cancelled")

// Download enqueues the given url to be downloaded to the given filePath.
// Progress is reported back by the given callback, which is called from a separate goroutine.
//
// The file is written under a temporary name in the same directory, and only renamed to filePath when
// the download succeeds.
//
// The returned latch can be used to cancel the download (by triggering it), in which case callback will be
// called with ErrCancelled.
func (m *Manager) Download(url string, filePath string, callback ProgressCallback) *xsync.Latch {
	canceller := xsync.NewLatch()
	go func() {
		m.semaphore.Acquire()
		defer m.semaphore.Release()
		downloadedBytes, totalBytes, err := m.download(url, filePath, canceller, callback)
		callback(downloadedBytes, totalBytes, true, err)
	}()
	return canceller
}

// download implements Download, synchronously. The final call to callback (with finished=true) is left to the caller.
func (m *Manager) download(url, filePath string, canceller *xsync.Latch, callback ProgressCallback) (
	downloadedBytes, contentLength int64, err error) {
	filePath, err = fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return
	}
	dir := filepath.Dir(filePath)
	if err = os.MkdirAll(dir, 0777); err != nil && !os.IsExist(err) {
		err = errors.Wrapf(err, "failed to create the directory for the path: %q", dir)
		return
	}
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(filePath), uuid.NewString()))
	file, err := os.Create(tmpPath)
	if err != nil {
		err = errors.Wrapf(err, "failed creating file %q", tmpPath)
		return
	}
	defer func() {
		if file != nil {
			_ = file.Close()
		}
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		err = errors.Wrapf(err, "failed creating request for %q", url)
		return
	}
	if m.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+m.authToken)
	}
	if m.userAgent != "" {
		req.Header.Set("User-Agent", m.userAgent)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		err = errors.Wrapf(err, "failed downloading %q", url)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		err = errors.Errorf("failed downloading %q: bad status code %d: %q", url, resp.StatusCode,
			resp.Header.Get("X-Error-Message"))
		return
	}

	contentLength = resp.ContentLength
	callback(0, contentLength, false, nil)
	const maxBufferSize = 1024 * 1024
	buf := make([]byte, maxBufferSize)
	for {
		if canceller.Test() {
			err = ErrCancelled
			return
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err = file.Write(buf[:n]); err != nil {
				err = errors.Wrapf(err, "failed writing %q to %q", url, tmpPath)
				return
			}
			downloadedBytes += int64(n)
			callback(downloadedBytes, contentLength, false, nil)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			err = errors.Wrapf(readErr, "failed downloading %q", url)
			return
		}
	}
	err = file.Close()
	file = nil
	if err != nil {
		err = errors.Wrapf(err, "failed closing file %q", tmpPath)
		return
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		err = errors.Wrapf(err, "failed to move downloaded file to %q", filePath)
		return
	}
	return
}

// DownloadFile downloads url to filePath and waits for it to finish. Progress is logged with klog.
func (m *Manager) DownloadFile(url, filePath string) error {
	done := xsync.NewLatch()
	var err error
	lastReported := int64(0)
	m.Download(url, filePath, func(downloadedBytes, totalBytes int64, finished bool, cbErr error) {
		if finished {
			err = cbErr
			if err == nil {
				klog.Infof("Downloaded %s from %s", humanize.IBytes(uint64(downloadedBytes)), url)
			}
			done.Trigger()
			return
		}
		if klog.V(1).Enabled() && downloadedBytes-lastReported >= 10*1024*1024 {
			lastReported = downloadedBytes
			klog.Infof("Downloading %s: %s of %s", url, humanize.IBytes(uint64(downloadedBytes)),
				humanize.IBytes(uint64(max(totalBytes, 0))))
		}
	})
	done.Wait()
	return err
}
