// Package scan ties the pipeline together: open an artifact (a bare shared library, a wheel, a
// conda package, an image tarball), pull the shared libraries out of it, and run an inspector
// over each.
package scan

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"

	"github.com/torchcap/torchcap/pkg/conda"
	"github.com/torchcap/torchcap/pkg/cuda"
	"github.com/torchcap/torchcap/pkg/python/wheel"
)

// Library is the finding for one shared library inside an artifact.
type Library struct {
	Path  string   `json:"path"`
	Archs []string `json:"archs,omitempty"`
	Error string   `json:"error,omitempty"`
}

// Result is the finding for one scanned artifact.
type Result struct {
	// Source is the artifact's filename.
	Source string `json:"source"`

	// Identity of the package the artifact belongs to, when known.
	Package  string `json:"package,omitempty"`
	Version  string `json:"version,omitempty"`
	Channel  string `json:"channel,omitempty"` // "pypi", a conda channel name, or "image"
	Python   string `json:"python,omitempty"`
	Platform string `json:"platform,omitempty"`

	// Libraries holds the per-library findings; libraries with no device code and no error
	// are counted but not listed.
	Libraries []Library `json:"libraries,omitempty"`
	Scanned   int       `json:"scanned"`

	// Archs is the union of the library findings.
	Archs []string `json:"archs"`
}

// Scanner runs an Inspector over the shared libraries of artifacts.
type Scanner struct {
	// Inspector produces the per-binary findings; nil means cuda.DefaultInspector().
	Inspector cuda.Inspector
}

func (s *Scanner) inspector() cuda.Inspector {
	if s.Inspector == nil {
		return cuda.DefaultInspector()
	}
	return s.Inspector
}

// IsSharedLib reports whether a member name looks like an ELF shared library; both plain ".so"
// and versioned ".so.N..." names count.
func IsSharedLib(name string) bool {
	base := path.Base(name)
	if strings.HasSuffix(base, ".so") && base != ".so" {
		return true
	}
	if idx := strings.Index(base, ".so."); idx > 0 {
		return true
	}
	return false
}

// File scans one shared-library file on disk.
func (s *Scanner) File(ctx context.Context, filename string) (*Result, error) {
	res := &Result{Source: filepath.Base(filename)}
	set, err := s.inspector().Inspect(ctx, filename)
	switch {
	case errors.Is(err, cuda.ErrNoCUDA):
		res.Scanned = 1
	case err != nil:
		return nil, err
	default:
		res.Scanned = 1
		res.Libraries = append(res.Libraries, Library{
			Path:  filepath.Base(filename),
			Archs: set.Strings(),
		})
		res.Archs = set.Strings()
	}
	return res, nil
}

// Wheel scans the shared libraries inside a wheel file on disk.
func (s *Scanner) Wheel(ctx context.Context, filename string) (*Result, error) {
	res := &Result{
		Source:  filepath.Base(filename),
		Channel: "pypi",
	}
	if info, err := wheel.ParseFilename(res.Source); err == nil {
		res.Package = info.Distribution
		res.Version = info.Version.String()
		res.Python = info.PythonVersion()
		res.Platform = info.CompatibilityTag.Platform
	} else {
		dlog.Warnf(ctx, "%s: %v; scanning anyway", res.Source, err)
	}

	zipReader, err := zip.OpenReader(filename)
	if err != nil {
		return nil, fmt.Errorf("open wheel %q: %w", filename, err)
	}
	defer func() {
		_ = zipReader.Close()
	}()

	agg := newAggregator(ctx, s.inspector(), res)
	defer agg.close()
	for _, member := range zipReader.File {
		if !IsSharedLib(member.Name) {
			continue
		}
		agg.scan(member.Name, int64(member.UncompressedSize64), func() (io.ReadCloser, error) {
			return member.Open()
		})
	}
	return res, agg.err()
}

// CondaPackage scans the shared libraries inside a conda package archive on disk.
func (s *Scanner) CondaPackage(ctx context.Context, filename, channel string) (*Result, error) {
	res := &Result{
		Source:  filepath.Base(filename),
		Channel: channel,
	}
	if name, version, ok := ParseCondaFilename(res.Source); ok {
		res.Package = name
		res.Version = version
	}

	agg := newAggregator(ctx, s.inspector(), res)
	defer agg.close()
	err := conda.WalkPackage(ctx, filename, func(name string, size int64, r io.Reader) error {
		if !IsSharedLib(name) {
			return nil
		}
		agg.scan(name, size, func() (io.ReadCloser, error) {
			return io.NopCloser(r), nil
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, agg.err()
}

// ParseCondaFilename splits "pytorch-2.1.0-py3.10_cuda11.8_cudnn8.7.0_0.tar.bz2" style names in
// to (name, version).  The last two dash-separated fields are version and build string; the name
// itself may contain dashes.
func ParseCondaFilename(filename string) (name, version string, ok bool) {
	stem := filename
	for _, suffix := range []string{".conda", ".tar.bz2"} {
		if strings.HasSuffix(stem, suffix) {
			stem = strings.TrimSuffix(stem, suffix)
			break
		}
	}
	parts := strings.Split(stem, "-")
	if len(parts) < 3 {
		return "", "", false
	}
	return strings.Join(parts[:len(parts)-2], "-"), parts[len(parts)-2], true
}

// aggregator accumulates per-library findings in to a Result, extracting each library to a
// scratch file so that file-based inspectors (both of ours) can read it.
type aggregator struct {
	ctx       context.Context
	inspector cuda.Inspector
	res       *Result

	scratchDir string
	all        cuda.ArchSet
	errs       derror.MultiError
}

func newAggregator(ctx context.Context, inspector cuda.Inspector, res *Result) *aggregator {
	return &aggregator{
		ctx:       ctx,
		inspector: inspector,
		res:       res,
		all:       make(cuda.ArchSet),
	}
}

func (agg *aggregator) scan(name string, size int64, open func() (io.ReadCloser, error)) {
	agg.res.Scanned++
	set, err := agg.inspect(name, size, open)
	switch {
	case errors.Is(err, cuda.ErrNoCUDA) || errors.Is(err, cuda.ErrNotELF):
		// a host-only library; not worth a row
		return
	case err != nil:
		agg.res.Libraries = append(agg.res.Libraries, Library{Path: name, Error: err.Error()})
		agg.errs = append(agg.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	agg.res.Libraries = append(agg.res.Libraries, Library{Path: name, Archs: set.Strings()})
	agg.all.InsertSet(set)
	agg.res.Archs = agg.all.Strings()
}

func (agg *aggregator) inspect(name string, size int64, open func() (io.ReadCloser, error)) (cuda.ArchSet, error) {
	if agg.scratchDir == "" {
		dir, err := os.MkdirTemp("", "torchcap-scan-")
		if err != nil {
			return nil, err
		}
		agg.scratchDir = dir
	}

	reader, err := open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = reader.Close()
	}()

	scratch := filepath.Join(agg.scratchDir, path.Base(name))
	out, err := os.Create(scratch)
	if err != nil {
		return nil, err
	}
	_, copyErr := io.Copy(out, reader)
	closeErr := out.Close()
	defer func() {
		_ = os.Remove(scratch)
	}()
	if copyErr != nil {
		return nil, copyErr
	}
	if closeErr != nil {
		return nil, closeErr
	}

	dlog.Debugf(agg.ctx, "inspecting %s (%.1f MiB)", name, float64(size)/(1024*1024))
	return agg.inspector.Inspect(agg.ctx, scratch)
}

func (agg *aggregator) close() {
	if agg.scratchDir != "" {
		_ = os.RemoveAll(agg.scratchDir)
	}
}

// err returns the accumulated per-library errors, or nil if at least one library was inspected
// successfully; a partially-scanned artifact is a finding, not a failure.
func (agg *aggregator) err() error {
	if len(agg.errs) == 0 {
		return nil
	}
	if agg.res.Scanned > len(agg.errs) {
		return nil
	}
	return agg.errs
}
