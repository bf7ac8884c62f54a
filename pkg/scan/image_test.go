package scan_test

import (
	"archive/tar"
	"bytes"
	"path/filepath"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torchcap/torchcap/pkg/scan"
)

func buildImage(t *testing.T, filename string, layers ...map[string]string) {
	t.Helper()
	img := empty.Image
	for _, members := range layers {
		var buf bytes.Buffer
		tarWriter := tar.NewWriter(&buf)
		for memberName, body := range members {
			require.NoError(t, tarWriter.WriteHeader(&tar.Header{
				Name: memberName,
				Mode: 0o644,
				Size: int64(len(body)),
			}))
			_, err := tarWriter.Write([]byte(body))
			require.NoError(t, err)
		}
		require.NoError(t, tarWriter.Close())

		layer, err := tarball.LayerFromReader(&buf)
		require.NoError(t, err)
		img, err = mutate.AppendLayers(img, layer)
		require.NoError(t, err)
	}
	tag, err := name.NewTag("torchcap.test/pytorch:latest")
	require.NoError(t, err)
	require.NoError(t, tarball.WriteToFile(filename, tag, img))
}

func TestScanImage(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	tmpdir := t.TempDir()

	const libPath = "opt/conda/lib/python3.10/site-packages/torch/lib/libtorch_cuda.so"

	filename := filepath.Join(tmpdir, "pytorch.tar")
	buildImage(t, filename,
		map[string]string{
			"usr/lib/libcudart.so.12": "host",
			libPath:                   "device",
		},
		map[string]string{
			"etc/motd": "welcome",
		},
	)

	scanner := &scan.Scanner{Inspector: stubInspector{}}
	res, err := scanner.Image(ctx, filename, "")
	require.NoError(t, err)

	assert.Equal(t, "pytorch.tar", res.Source)
	assert.Equal(t, "image", res.Channel)
	assert.NotEmpty(t, res.Version) // the image digest
	assert.Equal(t, 2, res.Scanned)
	require.Len(t, res.Libraries, 1)
	assert.Equal(t, libPath, res.Libraries[0].Path)
	assert.Equal(t, []string{"sm_80", "sm_90"}, res.Archs)
}

func TestScanImageMissing(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	scanner := &scan.Scanner{Inspector: stubInspector{}}
	_, err := scanner.Image(ctx, filepath.Join(t.TempDir(), "nope.tar"), "")
	require.Error(t, err)
}
