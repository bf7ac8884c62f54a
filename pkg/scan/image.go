package scan

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
)

// Image scans the shared libraries in the flattened filesystem of a `docker save` style image
// tarball on disk.  If the tarball holds more than one image, tag selects which one; an empty
// tag means the tarball must hold exactly one image.
func (s *Scanner) Image(ctx context.Context, filename, tag string) (*Result, error) {
	var tagPtr *name.Tag
	if tag != "" {
		parsed, err := name.NewTag(tag)
		if err != nil {
			return nil, fmt.Errorf("image tag %q: %w", tag, err)
		}
		tagPtr = &parsed
	}
	img, err := tarball.ImageFromPath(filename, tagPtr)
	if err != nil {
		return nil, fmt.Errorf("open image %q: %w", filename, err)
	}
	return s.scanImage(ctx, filename, tag, img)
}

func (s *Scanner) scanImage(ctx context.Context, filename, tag string, img v1.Image) (*Result, error) {
	res := &Result{
		Source:  path.Base(filename),
		Package: tag,
		Channel: "image",
	}
	if digest, err := img.Digest(); err == nil {
		res.Version = digest.String()
	}

	agg := newAggregator(ctx, s.inspector(), res)
	defer agg.close()

	flattened := mutate.Extract(img)
	defer func() {
		_ = flattened.Close()
	}()
	tarReader := tar.NewReader(flattened)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read image %q: %w", filename, err)
		}
		if header.Typeflag != tar.TypeReg || !IsSharedLib(header.Name) {
			continue
		}
		memberName := path.Clean(header.Name)
		agg.scan(memberName, header.Size, func() (io.ReadCloser, error) {
			return io.NopCloser(tarReader), nil
		})
	}
	return res, agg.err()
}
