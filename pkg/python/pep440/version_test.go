package pep440_test

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torchcap/torchcap/pkg/python/pep440"
)

func TestSort(t *testing.T) {
	t.Parallel()
	testcases := map[string][]string{
		// the examples from PEP 440 itself
		"final-releases": {
			"0.9",
			"0.9.1",
			"0.9.2",
			"0.9.10",
			"1.0",
			"1.0.1",
			"2.0",
		},
		"pre-releases": {
			"4.3a2",
			"4.3b2",
			"4.3rc2",
			"4.3",
		},
		"dev-pre-final-post": {
			"1.0.dev4",
			"1.0a1",
			"1.0a2.dev456",
			"1.0a2",
			"1.0b1",
			"1.0rc1",
			"1.0",
			"1.0.post1.dev1",
			"1.0.post1",
			"1.1.dev1",
		},
		"epochs": {
			"2013.10",
			"2014.4",
			"1!1.0",
			"1!1.1",
		},
		// what the torch project actually publishes
		"torch-style-locals": {
			"1.13.1",
			"2.0.0+cpu",
			"2.0.0+cu117",
			"2.0.0+cu118",
			"2.0.1",
			"2.1.0",
		},
	}
	for tcName, expected := range testcases {
		expected := expected
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			parsed := make([]*pep440.Version, len(expected))
			for i, str := range expected {
				var err error
				parsed[i], err = pep440.ParseVersion(str)
				require.NoError(t, err, str)
			}
			rand.New(rand.NewSource(42)).Shuffle(len(parsed), func(i, j int) {
				parsed[i], parsed[j] = parsed[j], parsed[i]
			})
			sort.SliceStable(parsed, func(i, j int) bool {
				return parsed[i].Cmp(*parsed[j]) < 0
			})
			actual := make([]string, len(parsed))
			for i, ver := range parsed {
				actual[i] = ver.String()
			}
			assert.Equal(t, expected, actual)
		})
	}
}

func TestNormalization(t *testing.T) {
	t.Parallel()
	testcases := map[string]string{
		"1.0":          "1.0",
		"v1.0":         "1.0",
		"1.0alpha1":    "1.0a1",
		"1.0BETA":      "1.0b0",
		"1.0.preview2": "1.0rc2",
		"1.0c1":        "1.0rc1",
		"1.0-post2":    "1.0.post2",
		"1.0rev3":      "1.0.post3",
		"1.0-2":        "1.0.post2",
		"1.0dev":       "1.0.dev0",
		"1.0.DEV6":     "1.0.dev6",
		"1!2.0":        "1!2.0",
		"2.0.0+CU118":  "2.0.0+cu118",
		"1.0+ubuntu-1": "1.0+ubuntu.1",
	}
	for input, expected := range testcases {
		ver, err := pep440.ParseVersion(input)
		require.NoError(t, err, input)
		assert.Equal(t, expected, ver.String(), "input %q", input)
	}

	for _, invalid := range []string{"", "bogus", "1.x", "1.0+cu_118!"} {
		_, err := pep440.ParseVersion(invalid)
		assert.Error(t, err, "input %q", invalid)
	}
}

func TestAccessors(t *testing.T) {
	t.Parallel()
	ver, err := pep440.ParseVersion("2.8.0")
	require.NoError(t, err)
	assert.Equal(t, 2, ver.Major())
	assert.Equal(t, 8, ver.Minor())
	assert.False(t, ver.IsPrerelease())

	for _, pre := range []string{"2.8.0rc1", "2.8.0.dev20250101", "2.8.0a3"} {
		ver, err := pep440.ParseVersion(pre)
		require.NoError(t, err, pre)
		assert.True(t, ver.IsPrerelease(), pre)
	}
}
