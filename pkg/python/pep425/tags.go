// Package pep425 implements PEP 425 -- Compatibility Tags for Built Distributions.
//
// https://www.python.org/dev/peps/pep-0425/
package pep425

import (
	"strings"
)

// Tag is a "{python}-{abi}-{platform}" compatibility tag; each of the three fields may be a
// "compressed tag set", with several values joined by ".".
type Tag struct {
	Python   string
	ABI      string
	Platform string
}

// Decompress expands compressed tag sets in to the full list of simple tags.
func (t Tag) Decompress() []Tag {
	var ret []Tag
	for _, x := range strings.Split(t.Python, ".") {
		for _, y := range strings.Split(t.ABI, ".") {
			for _, z := range strings.Split(t.Platform, ".") {
				ret = append(ret, Tag{x, y, z})
			}
		}
	}
	return ret
}

func (t Tag) String() string {
	return t.Python + "-" + t.ABI + "-" + t.Platform
}

// HasPlatform reports whether any of the tag's (possibly compressed) platform values is plat.
// Wheels republished for several manylinux generations carry all of them in one filename, so a
// plain string comparison on the Platform field would miss matches.
func (t Tag) HasPlatform(plat string) bool {
	for _, p := range strings.Split(t.Platform, ".") {
		if p == plat {
			return true
		}
	}
	return false
}

// PythonVersion returns the interpreter version that the tag's (first) python tag names, in
// "3.13" form; "" if it cannot tell.  "cp313" means CPython 3.13, "py3" means any Python 3.
func (t Tag) PythonVersion() string {
	first := strings.Split(t.Python, ".")[0]
	var numeric string
	switch {
	case strings.HasPrefix(first, "cp"):
		numeric = strings.TrimPrefix(first, "cp")
	case strings.HasPrefix(first, "py"):
		numeric = strings.TrimPrefix(first, "py")
	default:
		return ""
	}
	if numeric == "" {
		return ""
	}
	if len(numeric) == 1 {
		return numeric
	}
	// "cp313" is major 3, minor 13; the major version has been a single digit since the tag
	// scheme was invented.
	return numeric[:1] + "." + numeric[1:]
}
