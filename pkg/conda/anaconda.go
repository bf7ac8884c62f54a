// Package conda deals with conda packages: the anaconda.org API that serves them, and the two
// archive formats they ship in.
package conda

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/datawire/dlib/dlog"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
}

const AnacondaBaseURL = "https://api.anaconda.org"

func (c *Client) fillDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = AnacondaBaseURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.UserAgent == "" {
		c.UserAgent = "github.com/torchcap/torchcap/pkg/conda"
	}
}

type HTTPError struct {
	Status     string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %s", e.Status)
}

// File is one published file of a conda package, as the anaconda.org API describes it.
type File struct {
	Version     string `json:"version"`
	Basename    string `json:"basename"` // e.g. "linux-64/pytorch-2.1.0-py3.10_cuda11.8_cudnn8.7.0_0.tar.bz2"
	DownloadURL string `json:"download_url"`
	Size        int64  `json:"size"`
	MD5         string `json:"md5"`
	Attrs       struct {
		Subdir string `json:"subdir"` // e.g. "linux-64"
		Build  string `json:"build"`  // e.g. "py3.10_cuda11.8_cudnn8.7.0_0"
	} `json:"attrs"`
}

// Filename returns the file's bare name, without the subdir prefix that Basename carries.
func (f File) Filename() string {
	if idx := strings.LastIndex(f.Basename, "/"); idx >= 0 {
		return f.Basename[idx+1:]
	}
	return f.Basename
}

// URL returns the absolute download URL; the API serves protocol-relative "//api.anaconda.org/…"
// values.
func (f File) URL() string {
	if strings.HasPrefix(f.DownloadURL, "//") {
		return "https:" + f.DownloadURL
	}
	return f.DownloadURL
}

// PackageFiles lists the published files of a package in a channel.
func (c Client) PackageFiles(ctx context.Context, channel, name string) (_ []File, err error) {
	requestURL := fmt.Sprintf("%s/package/%s/%s/files", c.BaseURL, channel, name)
	defer func() {
		if err != nil {
			err = fmt.Errorf("GET %q => %w", requestURL, err)
		}
	}()
	c.fillDefaults()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Status: resp.Status, StatusCode: resp.StatusCode}
	}

	var files []File
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, err
	}
	return files, nil
}

// Download fetches a package file in to dir, verifying its MD5 (the only digest the API serves).
// An existing destination with the right digest is reused.
func (c Client) Download(ctx context.Context, file File, dir string) (_ string, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("download %q: %w", file.Filename(), err)
		}
	}()
	c.fillDefaults()

	dest := filepath.Join(dir, file.Filename())
	if file.MD5 != "" {
		if ok, err := fileHasMD5(dest, file.MD5); err == nil && ok {
			dlog.Infof(ctx, "using cached %s", dest)
			return dest, nil
		}
	}

	dlog.Infof(ctx, "downloading %s (%.1f MiB)", file.Filename(), float64(file.Size)/(1024*1024))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.URL(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{Status: resp.Status, StatusCode: resp.StatusCode}
	}

	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	hasher := md5.New()
	if _, err := io.Copy(io.MultiWriter(out, hasher), resp.Body); err != nil {
		_ = out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	if file.MD5 != "" {
		if got := hex.EncodeToString(hasher.Sum(nil)); got != file.MD5 {
			return "", fmt.Errorf("md5 mismatch: expected=%s actual=%s", file.MD5, got)
		}
	}
	return dest, nil
}

func fileHasMD5(filename, want string) (bool, error) {
	file, err := os.Open(filename)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = file.Close()
	}()
	hasher := md5.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return false, err
	}
	return hex.EncodeToString(hasher.Sum(nil)) == want, nil
}
