// Package pypi is a client for pypi.org's JSON API.
//
// https://warehouse.pypa.io/api-reference/json.html
//
// The JSON API is pypi.org-specific (third-party indexes speak PEP 503 instead; see
// pkg/python/pep503), but it is the only interface that serves the full release history of a
// project in one request.
package pypi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/datawire/dlib/dlog"

	"github.com/torchcap/torchcap/pkg/python/pep440"
	"github.com/torchcap/torchcap/pkg/python/wheel"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
}

const PyPIBaseURL = "https://pypi.org"

func (c *Client) fillDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = PyPIBaseURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.UserAgent == "" {
		c.UserAgent = "github.com/torchcap/torchcap/pkg/python/pypi"
	}
}

type HTTPError struct {
	Status     string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %s", e.Status)
}

// Project is the JSON API's description of a project, or of one release of a project.
type Project struct {
	Info struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"info"`
	// Releases maps version strings to release files; it is only populated on whole-project
	// responses, not per-release ones.
	Releases map[string][]File `json:"releases"`
	// URLs is the file list of the requested release (the latest one, for whole-project
	// responses).
	URLs []File `json:"urls"`
}

// File is one downloadable file of a release.
type File struct {
	Filename    string            `json:"filename"`
	URL         string            `json:"url"`
	Size        int64             `json:"size"`
	PackageType string            `json:"packagetype"`
	Digests     map[string]string `json:"digests"`
	Yanked      bool              `json:"yanked"`
}

func (c Client) get(ctx context.Context, requestURL string, out interface{}) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("GET %q => %w", requestURL, err)
		}
	}()
	c.fillDefaults()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{Status: resp.Status, StatusCode: resp.StatusCode}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Project fetches the whole-project record, including the full release history.
func (c Client) Project(ctx context.Context, name string) (*Project, error) {
	c.fillDefaults()
	var ret Project
	if err := c.get(ctx, fmt.Sprintf("%s/pypi/%s/json", c.BaseURL, name), &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// Release fetches the record of one specific release.
func (c Client) Release(ctx context.Context, name, version string) (*Project, error) {
	c.fillDefaults()
	var ret Project
	if err := c.get(ctx, fmt.Sprintf("%s/pypi/%s/%s/json", c.BaseURL, name, version), &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// ReleaseVersions returns the parseable release versions, sorted ascending.  Versions that are
// not PEP 440 (old projects have some wild ones) are skipped.
func (p *Project) ReleaseVersions() []pep440.Version {
	ret := make([]pep440.Version, 0, len(p.Releases))
	for verStr := range p.Releases {
		ver, err := pep440.ParseVersion(verStr)
		if err != nil {
			continue
		}
		ret = append(ret, *ver)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Cmp(ret[j]) < 0
	})
	return ret
}

// SeriesReleases returns the subset of Releases belonging to one major-version series ("2"
// means every stable 2.x), keyed by the index's own release strings.  Pre-release and
// development versions are excluded.
func (p *Project) SeriesReleases(major int) map[string][]File {
	ret := make(map[string][]File)
	for verStr, files := range p.Releases {
		ver, err := pep440.ParseVersion(verStr)
		if err != nil || ver.IsPrerelease() || ver.Major() != major {
			continue
		}
		ret[verStr] = files
	}
	return ret
}

// Wheels filters a release's file list down to the wheels for one platform, sorted by python
// version for stable output.  platform == "" means all platforms.
func Wheels(files []File, platform string) []File {
	var ret []File
	for _, file := range files {
		if file.PackageType != "bdist_wheel" || file.Yanked {
			continue
		}
		if platform != "" {
			info, err := wheel.ParseFilename(file.Filename)
			if err != nil || !info.CompatibilityTag.HasPlatform(platform) {
				continue
			}
		}
		ret = append(ret, file)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Filename < ret[j].Filename
	})
	return ret
}

// Download fetches a release file in to dir, verifying its sha256 digest.  If the destination
// already exists with the right digest, the cached copy is used.
func (c Client) Download(ctx context.Context, file File, dir string) (_ string, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("download %q: %w", file.Filename, err)
		}
	}()
	c.fillDefaults()

	dest := filepath.Join(dir, file.Filename)
	wantDigest := file.Digests["sha256"]

	if wantDigest != "" {
		if ok, err := fileHasDigest(dest, wantDigest); err == nil && ok {
			dlog.Infof(ctx, "using cached %s", dest)
			return dest, nil
		}
	}

	dlog.Infof(ctx, "downloading %s (%.1f MiB)", file.Filename, float64(file.Size)/(1024*1024))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.URL, nil)
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
	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, hasher), resp.Body); err != nil {
		_ = out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	if wantDigest != "" {
		if got := hex.EncodeToString(hasher.Sum(nil)); got != wantDigest {
			return "", fmt.Errorf("sha256 mismatch: expected=%s actual=%s", wantDigest, got)
		}
	}
	return dest, nil
}

func fileHasDigest(filename, wantDigest string) (bool, error) {
	file, err := os.Open(filename)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = file.Close()
	}()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return false, err
	}
	return hex.EncodeToString(hasher.Sum(nil)) == wantDigest, nil
}
