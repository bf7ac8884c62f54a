// Package pep503 implements PEP 503 -- Simple Repository API.
//
// https://www.python.org/dev/peps/pep-0503/
//
// pypi.org itself is better served by its JSON API (see pkg/python/pypi), but the wheel mirrors
// that framework projects run — download.pytorch.org/whl being the load-bearing example — speak
// only the simple API.
package pep503

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/torchcap/torchcap/pkg/htmlutil"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
	HTMLHook   func(context.Context, *html.Node) error
}

const PyPIBaseURL = "https://pypi.org/simple/"

func (c *Client) fillDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = PyPIBaseURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.UserAgent == "" {
		c.UserAgent = "github.com/torchcap/torchcap/pkg/python/pep503"
	}
}

type HTTPError struct {
	Status     string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %s", e.Status)
}

func (c Client) get(ctx context.Context, requestURL string) (_ *url.URL, _ []byte, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("GET %q => %w", requestURL, err)
		}
	}()
	c.fillDefaults()

	// 1. Build the request
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", c.UserAgent)

	// 2. Do the networking
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		_ = resp.Body.Close()
		return nil, nil, err
	}
	if err := resp.Body.Close(); err != nil {
		return nil, nil, err
	}

	// 3. Validate the result
	if resp.StatusCode != http.StatusOK {
		return nil, nil, &HTTPError{Status: resp.Status, StatusCode: resp.StatusCode}
	}
	if err := verifyFragmentChecksums(requestURL, content); err != nil {
		return nil, nil, err
	}

	return resp.Request.URL, content, nil
}

// verifyFragmentChecksums checks the content against any "#algo=hexdigest" checksum fragment that
// the index put on the file's URL.
func verifyFragmentChecksums(requestURL string, content []byte) error {
	u, err := url.Parse(requestURL)
	if err != nil || u.Fragment == "" {
		return nil
	}
	keyvals, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return nil
	}
	for key, vals := range keyvals {
		var sum []byte
		switch key {
		case "md5":
			_sum := md5.Sum(content)
			sum = _sum[:]
		case "sha1":
			_sum := sha1.Sum(content)
			sum = _sum[:]
		case "sha224":
			_sum := sha256.Sum224(content)
			sum = _sum[:]
		case "sha256":
			_sum := sha256.Sum256(content)
			sum = _sum[:]
		case "sha384":
			_sum := sha512.Sum384(content)
			sum = _sum[:]
		case "sha512":
			_sum := sha512.Sum512(content)
			sum = _sum[:]
		default:
			continue
		}
		for _, val := range vals {
			if hex.EncodeToString(sum) != val {
				return fmt.Errorf("checksum mismatch: %s: expected=%s actual=%s",
					key, val, hex.EncodeToString(sum))
			}
		}
	}
	return nil
}

// Link is an <a> element in an index page.
type Link struct {
	Text      string
	HRef      string
	DataAttrs map[string]string
}

func (c Client) getHTML5Index(ctx context.Context, requestURL string) ([]Link, error) {
	location, content, err := c.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	if c.HTMLHook != nil {
		if err := c.HTMLHook(ctx, doc); err != nil {
			return nil, err
		}
	}

	var links []Link
	if err := htmlutil.VisitHTML(doc, nil, func(node *html.Node) error {
		if node.Type != html.ElementNode || node.Data != "a" {
			return nil
		}
		link := Link{
			DataAttrs: make(map[string]string),
		}
		for _, attr := range node.Attr {
			switch {
			case attr.Namespace == "" && attr.Key == "href":
				href, err := location.Parse(attr.Val)
				if err != nil {
					return err
				}
				link.HRef = href.String()
			case attr.Namespace == "" && strings.HasPrefix(attr.Key, "data-"):
				link.DataAttrs[attr.Key] = attr.Val
			}
		}
		link.Text = htmlutil.Text(node)
		links = append(links, link)
		return nil
	}); err != nil {
		return nil, err
	}

	return links, nil
}

// normalize is the PEP 503 package-name normalization.
func normalize(str string) string {
	return strings.ToLower(regexp.MustCompile("[-_.]+").ReplaceAllLiteralString(str, "-"))
}

// FileLink is a link to one downloadable file of a package.
type FileLink struct {
	client Client
	Link
}

// ListPackageFiles lists the files that the index serves for a package.
func (c Client) ListPackageFiles(ctx context.Context, pkgname string) ([]FileLink, error) {
	// "the only valid characters in a name are the ASCII alphabet, ASCII numbers, `.`, `-`,
	// and `_`."
	for _, char := range pkgname {
		if !(('a' <= char && char <= 'z') ||
			('A' <= char && char <= 'Z') ||
			('0' <= char && char <= '9') ||
			char == '.' ||
			char == '-' ||
			char == '_') {
			return nil, fmt.Errorf("illegal character in pkgname: %q: %s",
				pkgname, strconv.QuoteRuneToASCII(char))
		}
	}

	c.fillDefaults()
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	u.Path = path.Join(u.Path, normalize(pkgname)) + "/"
	rawLinks, err := c.getHTML5Index(ctx, u.String())
	if err != nil {
		return nil, err
	}
	links := make([]FileLink, 0, len(rawLinks))
	for _, link := range rawLinks {
		links = append(links, FileLink{
			client: c,
			Link:   link,
		})
	}
	return links, nil
}

// Get downloads the file, verifying any checksum fragment on its URL.
func (l FileLink) Get(ctx context.Context) ([]byte, error) {
	_, content, err := l.client.get(ctx, l.HRef)
	return content, err
}

// Download fetches the file in to dir, named by the link text.
func (l FileLink) Download(ctx context.Context, dir string) (string, error) {
	content, err := l.Get(ctx)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, path.Base(l.Text))
	if err := os.WriteFile(dest, content, 0o666); err != nil {
		return "", err
	}
	return dest, nil
}
