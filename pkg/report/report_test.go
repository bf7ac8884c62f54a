package report_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torchcap/torchcap/pkg/report"
	"github.com/torchcap/torchcap/pkg/scan"
	"github.com/torchcap/torchcap/pkg/testutil"
)

func TestSortResults(t *testing.T) {
	t.Parallel()
	results := []*scan.Result{
		{Source: "a", Package: "torch", Version: "2.0.0+cu117", Python: "3.10"},
		{Source: "b", Package: "torch", Version: "2.0.1", Python: "3.8"},
		{Source: "c", Package: "torch", Version: "2.0.1", Python: "3.11"},
		{Source: "d", Package: "torch", Version: "1.13.1", Python: "3.10"},
		{Source: "e", Package: "torchvision", Version: "0.15.2", Python: "3.10"},
	}
	report.SortResults(results)

	var order []string
	for _, res := range results {
		order = append(order, res.Source)
	}
	// newest version first within a package, Python ascending within a version
	assert.Equal(t, []string{"b", "c", "a", "d", "e"}, order)
}

func TestSortResultsPythonNumeric(t *testing.T) {
	t.Parallel()
	results := []*scan.Result{
		{Source: "cp310", Package: "torch", Version: "2.4.0", Python: "3.10"},
		{Source: "cp313", Package: "torch", Version: "2.4.0", Python: "3.13"},
		{Source: "cp39", Package: "torch", Version: "2.4.0", Python: "3.9"},
		{Source: "cp312", Package: "torch", Version: "2.4.0", Python: "3.12"},
	}
	report.SortResults(results)

	var order []string
	for _, res := range results {
		order = append(order, res.Source)
	}
	// "3.9" is older than "3.10"; the comparison is numeric, not lexical
	assert.Equal(t, []string{"cp39", "cp310", "cp312", "cp313"}, order)
}

func TestWriteMarkdown(t *testing.T) {
	t.Setenv("SOURCE_DATE_EPOCH", "0")
	results := []*scan.Result{
		{
			Source: "torch-2.0.0+cu118-cp310-cp310-linux_x86_64.whl",
			Archs:  []string{"sm_37", "sm_50", "sm_80", "compute_90"},
		},
		{
			Source: "torch-2.0.0+cpu-cp310-cp310-linux_x86_64.whl",
		},
		{
			Source: "torch-2.8.0-cp313-cp313-manylinux_2_28_x86_64.whl",
			Archs:  []string{"sm_90", "sm_120"},
			Libraries: []scan.Library{
				{Path: "torch/lib/libtorch_cuda.so", Archs: []string{"sm_90", "sm_120"}},
				{Path: "torch/lib/libbroken.so", Error: "mangled library"},
			},
		},
	}

	var out strings.Builder
	require.NoError(t, report.WriteMarkdown(&out, "PyTorch wheels", results))
	testutil.AssertEqualText(t, strings.Join([]string{
		"# PyTorch wheels",
		"",
		"<!-- generated by torchcap on 1970-01-01 -->",
		"",
		"| package | architectures |",
		"|---------|---------------|",
		"| torch-2.0.0+cu118-cp310-cp310-linux_x86_64.whl | sm_37, sm_50, sm_80, compute_90 |",
		"| torch-2.0.0+cpu-cp310-cp310-linux_x86_64.whl | none |",
		"| torch-2.8.0-cp313-cp313-manylinux_2_28_x86_64.whl | sm_90, sm_120 (could not inspect torch/lib/libbroken.so) |",
		"",
	}, "\n"), out.String())
}

func TestWriteText(t *testing.T) {
	t.Parallel()
	results := []*scan.Result{
		{Source: "libtorch_cuda.so", Archs: []string{"sm_80"}},
		{Source: "libc10.so"},
	}
	var out strings.Builder
	require.NoError(t, report.WriteText(&out, results))
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "ARTIFACT")
	assert.Contains(t, lines[1], "sm_80")
	assert.Contains(t, lines[2], "none")
}
