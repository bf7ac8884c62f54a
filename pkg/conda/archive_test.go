package conda_test

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torchcap/torchcap/pkg/conda"
)

func buildTar(t *testing.T, members map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range members {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeReg,
			Name:     name,
			Mode:     0o755,
			Size:     int64(len(content)),
		}))
		_, err := tw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestWalkCondaV2(t *testing.T) {
	t.Parallel()
	payload := buildTar(t, map[string][]byte{
		"lib/libtorch_cuda.so": []byte("payload-so"),
		"lib/python3.10/site-packages/torch/version.py": []byte("__version__ = '2.1.0'\n"),
	})
	info := buildTar(t, map[string][]byte{
		"info/index.json": []byte("{}"),
	})

	compress := func(data []byte) []byte {
		var buf bytes.Buffer
		zw, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		_, err = zw.Write(data)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		return buf.Bytes()
	}

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	for name, data := range map[string][]byte{
		"info-pytorch-2.1.0-py3.10_cuda11.8_0.tar.zst": compress(info),
		"pkg-pytorch-2.1.0-py3.10_cuda11.8_0.tar.zst":  compress(payload),
		"metadata.json": []byte("{}"),
	} {
		member, err := zw.Create(name)
		require.NoError(t, err)
		_, err = member.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	filename := filepath.Join(t.TempDir(), "pytorch-2.1.0-py3.10_cuda11.8_0.conda")
	require.NoError(t, os.WriteFile(filename, archive.Bytes(), 0o644))

	seen := map[string]string{}
	err := conda.WalkPackage(dlog.NewTestContext(t, false), filename,
		func(name string, size int64, r io.Reader) error {
			content, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			assert.Equal(t, int64(len(content)), size)
			seen[name] = string(content)
			return nil
		})
	require.NoError(t, err)
	// only the pkg-* member's files; the info-* metadata tar is not payload
	assert.Equal(t, map[string]string{
		"lib/libtorch_cuda.so": "payload-so",
		"lib/python3.10/site-packages/torch/version.py": "__version__ = '2.1.0'\n",
	}, seen)
}

func TestWalkCondaV1(t *testing.T) {
	t.Parallel()
	// compress/bzip2 is read-only, so check against a pre-built archive
	filename := filepath.Join("testdata", "fake-0.1-0.tar.bz2")

	var names []string
	err := conda.WalkPackage(dlog.NewTestContext(t, false), filename,
		func(name string, size int64, r io.Reader) error {
			names = append(names, name)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/libfake_cuda.so", "info/index.json"}, names)
}

func TestWalkUnknownFormat(t *testing.T) {
	t.Parallel()
	filename := filepath.Join(t.TempDir(), "package.rpm")
	require.NoError(t, os.WriteFile(filename, []byte("nope"), 0o644))

	err := conda.WalkPackage(dlog.NewTestContext(t, false), filename, nil)
	assert.ErrorIs(t, err, conda.ErrUnknownFormat)
}
