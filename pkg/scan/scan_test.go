package scan_test

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torchcap/torchcap/pkg/cuda"
	"github.com/torchcap/torchcap/pkg/scan"
)

// stubInspector maps file contents to findings, so that tests don't need real fatbin-bearing
// ELFs.
type stubInspector struct{}

func (stubInspector) Inspect(_ context.Context, filename string) (cuda.ArchSet, error) {
	body, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	switch string(body) {
	case "device":
		set := make(cuda.ArchSet)
		set.Insert(cuda.Arch{Major: 8, Minor: 0})
		set.Insert(cuda.Arch{Major: 9, Minor: 0})
		return set, nil
	case "host":
		return nil, cuda.ErrNoCUDA
	default:
		return nil, fmt.Errorf("mangled library")
	}
}

func testContext(t *testing.T) context.Context {
	return dlog.NewTestContext(t, false)
}

func TestIsSharedLib(t *testing.T) {
	t.Parallel()
	testcases := map[string]bool{
		"torch/lib/libtorch_cuda.so": true,
		"lib/libcudart.so.12":        true,
		"lib/libcudart.so.12.1.105":  true,
		"torch/__init__.py":          false,
		"lib/.so":                    false,
		"README.so.txt":              true, // versioned-suffix rule is deliberately loose
		"torch/_C.cpython-313-x86_64-linux-gnu.so": true,
	}
	for name, exp := range testcases {
		assert.Equal(t, exp, scan.IsSharedLib(name), name)
	}
}

func TestParseCondaFilename(t *testing.T) {
	t.Parallel()
	type testcase struct {
		Name    string
		Version string
		OK      bool
	}
	testcases := map[string]testcase{
		"pytorch-2.1.0-py3.10_cuda11.8_cudnn8.7.0_0.tar.bz2": {"pytorch", "2.1.0", true},
		"pytorch-cuda-11.8-h7e8668a_5.conda":                 {"pytorch-cuda", "11.8", true},
		"libfake-0.1-0.tar.bz2":                              {"libfake", "0.1", true},
		"junk.tar.bz2":                                       {"", "", false},
	}
	for filename, exp := range testcases {
		filename := filename
		exp := exp
		t.Run(filename, func(t *testing.T) {
			t.Parallel()
			name, version, ok := scan.ParseCondaFilename(filename)
			assert.Equal(t, exp.OK, ok)
			assert.Equal(t, exp.Name, name)
			assert.Equal(t, exp.Version, version)
		})
	}
}

func TestScanFile(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	tmpdir := t.TempDir()

	filename := filepath.Join(tmpdir, "libtorch_cuda.so")
	require.NoError(t, os.WriteFile(filename, []byte("device"), 0o666))

	scanner := &scan.Scanner{Inspector: stubInspector{}}
	res, err := scanner.File(ctx, filename)
	require.NoError(t, err)
	assert.Equal(t, "libtorch_cuda.so", res.Source)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, []string{"sm_80", "sm_90"}, res.Archs)
}

func TestScanFileHostOnly(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	tmpdir := t.TempDir()

	filename := filepath.Join(tmpdir, "libc10.so")
	require.NoError(t, os.WriteFile(filename, []byte("host"), 0o666))

	scanner := &scan.Scanner{Inspector: stubInspector{}}
	res, err := scanner.File(ctx, filename)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Empty(t, res.Archs)
	assert.Empty(t, res.Libraries)
}

func buildWheel(t *testing.T, filename string, members map[string]string) {
	t.Helper()
	file, err := os.Create(filename)
	require.NoError(t, err)
	zipWriter := zip.NewWriter(file)
	for name, body := range members {
		w, err := zipWriter.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zipWriter.Close())
	require.NoError(t, file.Close())
}

func TestScanWheel(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	tmpdir := t.TempDir()

	filename := filepath.Join(tmpdir, "torch-2.0.0+cu118-cp310-cp310-linux_x86_64.whl")
	buildWheel(t, filename, map[string]string{
		"torch/__init__.py":          "",
		"torch/lib/libc10.so":        "host",
		"torch/lib/libtorch_cuda.so": "device",
	})

	scanner := &scan.Scanner{Inspector: stubInspector{}}
	res, err := scanner.Wheel(ctx, filename)
	require.NoError(t, err)

	assert.Equal(t, "torch", res.Package)
	assert.Equal(t, "2.0.0+cu118", res.Version)
	assert.Equal(t, "pypi", res.Channel)
	assert.Equal(t, "3.10", res.Python)
	assert.Equal(t, "linux_x86_64", res.Platform)
	assert.Equal(t, 2, res.Scanned)
	require.Len(t, res.Libraries, 1)
	assert.Equal(t, "torch/lib/libtorch_cuda.so", res.Libraries[0].Path)
	assert.Equal(t, []string{"sm_80", "sm_90"}, res.Archs)
}

func TestScanWheelPartialFailure(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	tmpdir := t.TempDir()

	filename := filepath.Join(tmpdir, "torch-2.8.0-cp313-cp313-manylinux_2_28_x86_64.whl")
	buildWheel(t, filename, map[string]string{
		"torch/lib/libtorch_cuda.so": "device",
		"torch/lib/libbroken.so":     "garbage",
	})

	scanner := &scan.Scanner{Inspector: stubInspector{}}
	res, err := scanner.Wheel(ctx, filename)

	// one of two libraries was inspected, so the scan is a success with a recorded failure
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	require.Len(t, res.Libraries, 2)
	assert.Equal(t, []string{"sm_80", "sm_90"}, res.Archs)

	var broken *scan.Library
	for i := range res.Libraries {
		if res.Libraries[i].Path == "torch/lib/libbroken.so" {
			broken = &res.Libraries[i]
		}
	}
	require.NotNil(t, broken)
	assert.Contains(t, broken.Error, "mangled library")
}

func TestScanWheelTotalFailure(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	tmpdir := t.TempDir()

	filename := filepath.Join(tmpdir, "torch-2.8.0-cp313-cp313-manylinux_2_28_x86_64.whl")
	buildWheel(t, filename, map[string]string{
		"torch/lib/libbroken.so": "garbage",
	})

	scanner := &scan.Scanner{Inspector: stubInspector{}}
	_, err := scanner.Wheel(ctx, filename)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mangled library")
}

func buildConda(t *testing.T, filename string, members map[string]string) {
	t.Helper()

	var payload bytes.Buffer
	tarWriter := tar.NewWriter(&payload)
	for name, body := range members {
		require.NoError(t, tarWriter.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(body)),
		}))
		_, err := tarWriter.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tarWriter.Close())

	file, err := os.Create(filename)
	require.NoError(t, err)
	zipWriter := zip.NewWriter(file)
	w, err := zipWriter.Create("pkg-fake-0.1-0.tar.zst")
	require.NoError(t, err)
	zstWriter, err := zstd.NewWriter(w)
	require.NoError(t, err)
	_, err = zstWriter.Write(payload.Bytes())
	require.NoError(t, err)
	require.NoError(t, zstWriter.Close())
	require.NoError(t, zipWriter.Close())
	require.NoError(t, file.Close())
}

func TestScanCondaPackage(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	tmpdir := t.TempDir()

	filename := filepath.Join(tmpdir, "pytorch-2.1.0-py3.10_cuda11.8_cudnn8.7.0_0.conda")
	buildConda(t, filename, map[string]string{
		"lib/libtorch_cuda.so": "device",
		"lib/libomp.so":        "host",
		"info/index.json":      "{}",
	})

	scanner := &scan.Scanner{Inspector: stubInspector{}}
	res, err := scanner.CondaPackage(ctx, filename, "pytorch")
	require.NoError(t, err)

	assert.Equal(t, "pytorch", res.Package)
	assert.Equal(t, "2.1.0", res.Version)
	assert.Equal(t, "pytorch", res.Channel)
	assert.Equal(t, 2, res.Scanned)
	require.Len(t, res.Libraries, 1)
	assert.Equal(t, "lib/libtorch_cuda.so", res.Libraries[0].Path)
	assert.Equal(t, []string{"sm_80", "sm_90"}, res.Archs)
}
