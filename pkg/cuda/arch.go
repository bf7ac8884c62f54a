// Package cuda inspects compiled binaries for the CUDA compute capabilities they target.
//
// A "compute capability" is the version number of the GPU instruction-set features that a chunk of
// compiled device code requires; toolchains spell it either "sm_90" (real machine code for the
// SM 9.0 architecture) or "compute_90" (PTX for the corresponding virtual architecture, which the
// driver can finalize for any newer GPU).
package cuda

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Arch identifies one compute-capability target embedded in a binary.
type Arch struct {
	// Major and Minor are the compute-capability version; "sm_90" is Major=9, Minor=0.
	Major int
	Minor int
	// Suffix is the architecture-variant letter, if any; "sm_90a" is Suffix="a".  Code built
	// for a suffixed architecture runs only on that exact GPU family.
	Suffix string
	// Virtual marks PTX for a virtual architecture ("compute_90") as opposed to real machine
	// code ("sm_90").
	Virtual bool
}

var reArch = regexp.MustCompile(`^(sm|compute)_([0-9]+)([a-z]*)$`)

// ParseArch parses an architecture identifier as printed by the CUDA toolchain, like "sm_86" or
// "compute_90a".
func ParseArch(str string) (Arch, error) {
	match := reArch.FindStringSubmatch(strings.TrimSpace(str))
	if match == nil {
		return Arch{}, fmt.Errorf("invalid CUDA architecture identifier: %q", str)
	}
	num, err := strconv.Atoi(match[2])
	if err != nil {
		return Arch{}, fmt.Errorf("invalid CUDA architecture identifier: %q: %w", str, err)
	}
	return Arch{
		Major:   num / 10,
		Minor:   num % 10,
		Suffix:  match[3],
		Virtual: match[1] == "compute",
	}, nil
}

// String returns the toolchain spelling, like "sm_86" or "compute_90a".
func (a Arch) String() string {
	prefix := "sm"
	if a.Virtual {
		prefix = "compute"
	}
	return fmt.Sprintf("%s_%d%d%s", prefix, a.Major, a.Minor, a.Suffix)
}

// Capability returns the dotted compute-capability number, like "8.6".
func (a Arch) Capability() string {
	return fmt.Sprintf("%d.%d", a.Major, a.Minor)
}

// Cmp compares two Archs: numerically first, then by variant suffix, with real machine code
// sorting before PTX for the same architecture.
func (a Arch) Cmp(b Arch) int {
	if d := (a.Major*10 + a.Minor) - (b.Major*10 + b.Minor); d != 0 {
		return d
	}
	if a.Suffix != b.Suffix {
		if a.Suffix < b.Suffix {
			return -1
		}
		return 1
	}
	switch {
	case !a.Virtual && b.Virtual:
		return -1
	case a.Virtual && !b.Virtual:
		return 1
	}
	return 0
}

// ArchSet is a deduplicated collection of Archs.
type ArchSet map[Arch]struct{}

func NewArchSet(archs ...Arch) ArchSet {
	set := make(ArchSet, len(archs))
	for _, arch := range archs {
		set.Insert(arch)
	}
	return set
}

func (set ArchSet) Insert(arch Arch) {
	set[arch] = struct{}{}
}

func (set ArchSet) InsertSet(other ArchSet) {
	for arch := range other {
		set[arch] = struct{}{}
	}
}

func (set ArchSet) Has(arch Arch) bool {
	_, ok := set[arch]
	return ok
}

// Sorted returns the set members in Cmp order.
func (set ArchSet) Sorted() []Arch {
	ret := make([]Arch, 0, len(set))
	for arch := range set {
		ret = append(ret, arch)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Cmp(ret[j]) < 0
	})
	return ret
}

// Strings returns the sorted toolchain spellings of the set members.
func (set ArchSet) Strings() []string {
	sorted := set.Sorted()
	ret := make([]string, 0, len(sorted))
	for _, arch := range sorted {
		ret = append(ret, arch.String())
	}
	return ret
}

// String returns the set formatted the way the published tables format it: sorted, comma-separated.
func (set ArchSet) String() string {
	return strings.Join(set.Strings(), ", ")
}
