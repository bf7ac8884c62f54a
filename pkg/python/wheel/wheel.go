// Package wheel handles the naming of Python built distributions ("wheels"), per the PyPA
// binary-distribution-format specification (originally PEP 427).
//
// https://packaging.python.org/specifications/binary-distribution-format/
package wheel

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/torchcap/torchcap/pkg/python/pep425"
	"github.com/torchcap/torchcap/pkg/python/pep440"
)

// Filename is the parsed form of a "{distribution}-{version}(-{build})?-{python}-{abi}-{platform}.whl"
// wheel filename.
type Filename struct {
	Distribution     string
	Version          pep440.Version
	BuildTag         *BuildTag
	CompatibilityTag pep425.Tag
}

type BuildTag struct {
	Int int
	Str string
}

func (t BuildTag) String() string {
	return fmt.Sprintf("%d%s", t.Int, t.Str)
}

var reFilename = regexp.MustCompile(regexp.MustCompile(`\s+`).ReplaceAllString(`
		^(?P<distribution>[^-]+)
		-(?P<version>[^-]+)
		(?:-(?P<build_n>[0-9]+)(?P<build_l>[^-0-9][^-]*)?)?
		-(?P<python>[^-]+)
		-(?P<abi>[^-]+)
		-(?P<platform>[^-]+)
		\.whl$`, ``))

// ParseFilename parses a wheel filename.
func ParseFilename(filename string) (*Filename, error) {
	match := reFilename.FindStringSubmatch(filename)
	if match == nil {
		return nil, fmt.Errorf("invalid wheel filename: %q", filename)
	}

	var ret Filename

	ret.Distribution = match[reFilename.SubexpIndex("distribution")]

	ver, err := pep440.ParseVersion(match[reFilename.SubexpIndex("version")])
	if err != nil {
		return nil, fmt.Errorf("invalid wheel filename: %q: %w", filename, err)
	}
	ret.Version = *ver

	if buildN := match[reFilename.SubexpIndex("build_n")]; buildN != "" {
		n, _ := strconv.Atoi(buildN)
		ret.BuildTag = &BuildTag{
			Int: n,
			Str: match[reFilename.SubexpIndex("build_l")],
		}
	}

	ret.CompatibilityTag = pep425.Tag{
		Python:   match[reFilename.SubexpIndex("python")],
		ABI:      match[reFilename.SubexpIndex("abi")],
		Platform: match[reFilename.SubexpIndex("platform")],
	}

	return &ret, nil
}

// PythonVersion returns the interpreter version the wheel was built for, in "3.13" form.
func (f Filename) PythonVersion() string {
	return f.CompatibilityTag.PythonVersion()
}
