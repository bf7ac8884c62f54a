package conda

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ErrUnknownFormat is returned for package filenames in neither of the two conda archive
// formats.
var ErrUnknownFormat = errors.New("not a conda package archive")

// WalkFunc is called for each payload member of a package archive.  Returning an error stops the
// walk.
type WalkFunc func(name string, size int64, r io.Reader) error

// rePayloadTar matches the payload members of a v2 (".conda") archive; the "info-*" member only
// holds metadata.
var rePayloadTar = regexp.MustCompile(`^pkg-.*\.tar\.zst$`)

// WalkPackage walks the payload files of a conda package archive, in either format:
//
//   - v1 ".tar.bz2": the whole archive is one bzip2-compressed tar;
//   - v2 ".conda": a zip wrapper holding zstd-compressed tars, with the payload in the
//     "pkg-*.tar.zst" members.
func WalkPackage(ctx context.Context, filename string, fn WalkFunc) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("conda package %q: %w", filename, err)
		}
	}()

	switch {
	case strings.HasSuffix(filename, ".tar.bz2"):
		file, err := os.Open(filename)
		if err != nil {
			return err
		}
		defer func() {
			_ = file.Close()
		}()
		return walkTar(ctx, tar.NewReader(bzip2.NewReader(file)), fn)

	case strings.HasSuffix(filename, ".conda"):
		zipReader, err := zip.OpenReader(filename)
		if err != nil {
			return err
		}
		defer func() {
			_ = zipReader.Close()
		}()
		for _, member := range zipReader.File {
			if !rePayloadTar.MatchString(path.Base(member.Name)) {
				continue
			}
			if err := walkZstdTar(ctx, member, fn); err != nil {
				return err
			}
		}
		return nil

	default:
		return ErrUnknownFormat
	}
}

func walkZstdTar(ctx context.Context, member *zip.File, fn WalkFunc) error {
	raw, err := member.Open()
	if err != nil {
		return err
	}
	defer func() {
		_ = raw.Close()
	}()
	zstdReader, err := zstd.NewReader(raw)
	if err != nil {
		return err
	}
	defer zstdReader.Close()
	return walkTar(ctx, tar.NewReader(zstdReader), fn)
}

func walkTar(ctx context.Context, tarReader *tar.Reader, fn WalkFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tarReader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if err := fn(path.Clean(header.Name), header.Size, tarReader); err != nil {
			return err
		}
	}
}
