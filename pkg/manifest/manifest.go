// Package manifest reads the YAML file that tells `torchcap table` which builds to catalog.
package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// PipTarget names a distribution on a PEP 503 / PyPI-JSON index to catalog.
type PipTarget struct {
	// Package is the distribution name, e.g. "torch".
	Package string `yaml:"package"`

	// Versions limits the catalog to the named versions; empty means every release the index
	// knows about.
	Versions []string `yaml:"versions,omitempty"`

	// Series limits the catalog to one major-version series: 2 means every stable 2.x
	// release.  Mutually exclusive with Versions.
	Series int `yaml:"series,omitempty"`

	// Platform is the wheel platform tag to select; defaults to Defaults.Platform.
	Platform string `yaml:"platform,omitempty"`
}

// CondaTarget names a package on an anaconda.org channel to catalog.
type CondaTarget struct {
	Channel string `yaml:"channel"`
	Package string `yaml:"package"`

	// Subdir limits the catalog to one platform subdir, e.g. "linux-64"; empty means all.
	Subdir string `yaml:"subdir,omitempty"`

	// Versions limits the catalog to the named versions; empty means every file the channel
	// serves.
	Versions []string `yaml:"versions,omitempty"`
}

// Output names the files that `torchcap table` writes.
type Output struct {
	PipTable   string `yaml:"pip_table"`
	CondaTable string `yaml:"conda_table"`
}

// Defaults holds settings shared by all targets.
type Defaults struct {
	Platform string `yaml:"platform"`
}

// Manifest is the parsed manifest file.
type Manifest struct {
	Defaults Defaults      `yaml:"defaults"`
	Pip      []PipTarget   `yaml:"pip"`
	Conda    []CondaTarget `yaml:"conda"`
	Output   Output        `yaml:"output"`
}

// Load reads and validates a manifest file, filling in defaults.
func Load(filename string) (*Manifest, error) {
	body, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := yaml.UnmarshalStrict(body, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest %q: %w", filename, err)
	}

	if manifest.Defaults.Platform == "" {
		manifest.Defaults.Platform = "manylinux_2_28_x86_64"
	}
	if manifest.Output.PipTable == "" {
		manifest.Output.PipTable = "table_pip.md"
	}
	if manifest.Output.CondaTable == "" {
		manifest.Output.CondaTable = "table.md"
	}

	for i := range manifest.Pip {
		target := &manifest.Pip[i]
		if target.Package == "" {
			return nil, fmt.Errorf("parse manifest %q: pip target %d has no package", filename, i)
		}
		if target.Series > 0 && len(target.Versions) > 0 {
			return nil, fmt.Errorf("parse manifest %q: pip target %q sets both series and versions", filename, target.Package)
		}
		if target.Platform == "" {
			target.Platform = manifest.Defaults.Platform
		}
	}
	for i, target := range manifest.Conda {
		if target.Channel == "" || target.Package == "" {
			return nil, fmt.Errorf("parse manifest %q: conda target %d needs both channel and package", filename, i)
		}
	}
	return &manifest, nil
}
