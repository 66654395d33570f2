package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gocloud.dev/blob"
)

// Common errors.
var (
	ErrTooSmall = errors.New("download: file does not exist or is too small")
	ErrNotFound = errors.New("download: resource not found")
)

// Downloader fetches files over HTTP, with curl as a fallback.
type Downloader struct {
	// Client performs the first download attempt.
	Client *http.Client

	// Runner starts curl, git and gsutil.
	Runner Runner

	// GitHubAPI is the base URL of the GitHub REST API.
	GitHubAPI string

	// GitHubURL is the base URL for release downloads.
	GitHubURL string

	// CookiePath is where the Google Drive cookie jar is kept during a download.
	CookiePath string

	// OpenBucket opens Google Cloud Storage buckets by URL. Defaults to blob.OpenBucket.
	OpenBucket func(ctx context.Context, urlstr string) (*blob.Bucket, error)
}

// New returns a Downloader for the public GitHub and Google Drive endpoints.
func New() *Downloader {
	return &Downloader{
		Client:     &http.Client{Timeout: 30 * time.Minute},
		Runner:     ExecRunner{Stderr: os.Stderr},
		GitHubAPI:  "https://api.github.com",
		GitHubURL:  "https://github.com",
		CookiePath: "cookie",
		OpenBucket: blob.OpenBucket,
	}
}

// SafeDownload downloads url to file. If that fails, or the file is not larger than minBytes,
// the partial file is removed and the download is re-attempted with curl from url2 (or url if url2
// is empty), retrying and resuming on failure.
//
// If the file is still missing or smaller than minBytes afterwards, it is removed and an error
// wrapping ErrTooSmall is returned. errorMsg is logged along with it.
func (d *Downloader) SafeDownload(ctx context.Context, file, url, url2 string, minBytes int64,
		errorMsg string) error {

	log.Infof("Downloading %s to %s...", url, file)
	err := d.get(ctx, url, file)
	if err == nil {
		if size := fileSize(file); size <= minBytes {
			err = fmt.Errorf("%w: %q has %d bytes, min_bytes=%d", ErrTooSmall, file, size, minBytes)
		}
	}

	if err != nil {
		if rmErr := removeIfExists(file); rmErr != nil {
			return rmErr
		}
		fallback := url2
		if fallback == "" {
			fallback = url
		}
		log.WithError(err).Warnf("Re-attempting %s to %s...", fallback, file)

		_, curlErr := d.Runner.Run(ctx, "curl", "-L", fallback, "-o", file, "--retry", "3", "-C", "-")
		if curlErr != nil {
			log.WithError(curlErr).Warn("curl download failed")
		}
	}

	if size := fileSize(file); size < minBytes {
		if rmErr := removeIfExists(file); rmErr != nil {
			return rmErr
		}
		if errorMsg != "" {
			log.Error(errorMsg)
		}
		return fmt.Errorf("%w: %q, min_bytes=%d", ErrTooSmall, file, minBytes)
	}
	return nil
}

// get downloads url to file with the HTTP client.
func (d *Downloader) get(ctx context.Context, url, file string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	} else if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	f, err := os.Create(file)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(f, resp.Body)
	return err
}
