// Package pep440 implements the PEP 440 version scheme.
//
// https://www.python.org/dev/peps/pep-0440/
//
// Just enough of it to identify, order, and filter the versions that package indexes actually
// serve; it accepts the normalizations the PEP requires (case, alternate pre-release spellings,
// alternate separators) but does not retain the un-normalized input.
package pep440

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/util/intstr"
)

// Version is a PEP 440 local version identifier:
//
//	[N!]N(.N)*[{a|b|rc}N][.postN][.devN][+local]
//
// The Local segments use intstr because the PEP orders numeric local segments numerically and
// lexical ones lexically; "+cu118"-style labels on published PyTorch wheels are why local
// versions matter here at all.
type Version struct {
	Epoch   int
	Release []int
	Pre     *PreRelease
	Post    *int
	Dev     *int
	Local   []intstr.IntOrString
}

type PreRelease struct {
	L string // "a", "b", or "rc" after normalization
	N int
}

// reVersion is a condensation of the "permissive" regexp from PEP 440 Appendix B.
var reVersion = regexp.MustCompile(`(?i)^v?` +
	`(?:(?P<epoch>[0-9]+)!)?` +
	`(?P<release>[0-9]+(?:\.[0-9]+)*)` +
	`(?:[-_.]?(?P<preL>a|b|c|rc|alpha|beta|pre|preview)[-_.]?(?P<preN>[0-9]*))?` +
	`(?:-(?P<postImplicit>[0-9]+)|(?P<post>[-_.]?(?:post|rev|r)[-_.]?(?P<postN>[0-9]*)))?` +
	`(?P<dev>[-_.]?dev[-_.]?(?P<devN>[0-9]*))?` +
	`(?:\+(?P<local>[a-z0-9]+(?:[-_.][a-z0-9]+)*))?$`)

// ParseVersion parses a string to a Version, performing normalization.
func ParseVersion(str string) (*Version, error) {
	match := reVersion.FindStringSubmatch(strings.TrimSpace(str))
	if match == nil {
		return nil, fmt.Errorf("pep440.ParseVersion: invalid version: %q", str)
	}
	group := func(name string) string {
		return match[reVersion.SubexpIndex(name)]
	}

	var ret Version

	if epoch := group("epoch"); epoch != "" {
		ret.Epoch, _ = strconv.Atoi(epoch)
	}

	for _, part := range strings.Split(group("release"), ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("pep440.ParseVersion: invalid version: %q: %w", str, err)
		}
		ret.Release = append(ret.Release, n)
	}

	if preL := strings.ToLower(group("preL")); preL != "" {
		switch preL {
		case "alpha":
			preL = "a"
		case "beta":
			preL = "b"
		case "c", "pre", "preview":
			preL = "rc"
		}
		n, _ := strconv.Atoi(group("preN")) // empty means 0
		ret.Pre = &PreRelease{L: preL, N: n}
	}

	if postImplicit := group("postImplicit"); postImplicit != "" {
		n, _ := strconv.Atoi(postImplicit)
		ret.Post = &n
	} else if group("post") != "" {
		n, _ := strconv.Atoi(group("postN")) // empty means 0
		ret.Post = &n
	}

	if group("dev") != "" {
		n, _ := strconv.Atoi(group("devN")) // empty means 0
		ret.Dev = &n
	}

	if local := strings.ToLower(group("local")); local != "" {
		for _, part := range strings.FieldsFunc(local, func(r rune) bool {
			return r == '-' || r == '_' || r == '.'
		}) {
			ret.Local = append(ret.Local, intstr.Parse(part))
		}
	}

	return &ret, nil
}

// String returns the normalized spelling.
func (v Version) String() string {
	var ret strings.Builder
	if v.Epoch > 0 {
		fmt.Fprintf(&ret, "%d!", v.Epoch)
	}
	for i, part := range v.Release {
		if i > 0 {
			ret.WriteString(".")
		}
		fmt.Fprintf(&ret, "%d", part)
	}
	if v.Pre != nil {
		fmt.Fprintf(&ret, "%s%d", v.Pre.L, v.Pre.N)
	}
	if v.Post != nil {
		fmt.Fprintf(&ret, ".post%d", *v.Post)
	}
	if v.Dev != nil {
		fmt.Fprintf(&ret, ".dev%d", *v.Dev)
	}
	if len(v.Local) > 0 {
		ret.WriteString("+")
		for i, part := range v.Local {
			if i > 0 {
				ret.WriteString(".")
			}
			ret.WriteString(part.String())
		}
	}
	return ret.String()
}

// Major returns the first release segment, and Minor the second (0 if absent).
func (v Version) Major() int {
	if len(v.Release) == 0 {
		return 0
	}
	return v.Release[0]
}

func (v Version) Minor() int {
	if len(v.Release) < 2 {
		return 0
	}
	return v.Release[1]
}

// IsPrerelease reports whether the version is a pre-release or developmental release; stable
// cataloging skips these, the same way `pip install` does without --pre.
func (v Version) IsPrerelease() bool {
	return v.Pre != nil || v.Dev != nil
}

// Cmp returns <0, 0, or >0 per the PEP's total order.
func (v Version) Cmp(o Version) int {
	if d := v.Epoch - o.Epoch; d != 0 {
		return d
	}
	for i := 0; i < len(v.Release) || i < len(o.Release); i++ {
		a, b := 0, 0
		if i < len(v.Release) {
			a = v.Release[i]
		}
		if i < len(o.Release) {
			b = o.Release[i]
		}
		if a != b {
			return a - b
		}
	}

	// Within one release number: devs sort before pre-releases, pre-releases before the
	// final, the final before posts; a dev segment on a pre or post sorts just before the
	// release it is a dev of.
	if d := cmpPreKey(v, o); d != 0 {
		return d
	}
	if d := cmpPostKey(v.Post, o.Post); d != 0 {
		return d
	}
	if d := cmpDevKey(v.Dev, o.Dev); d != 0 {
		return d
	}

	return cmpLocal(v.Local, o.Local)
}

func preRank(v Version) int {
	switch {
	case v.Pre == nil && v.Post == nil && v.Dev != nil:
		return -1 // bare dev releases sort before any pre-release
	case v.Pre != nil:
		return 0
	default:
		return 1 // final or post
	}
}

func cmpPreKey(a, b Version) int {
	if d := preRank(a) - preRank(b); d != 0 {
		return d
	}
	if a.Pre != nil && b.Pre != nil {
		if a.Pre.L != b.Pre.L {
			if a.Pre.L < b.Pre.L {
				return -1
			}
			return 1
		}
		return a.Pre.N - b.Pre.N
	}
	return 0
}

func cmpPostKey(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return *a - *b
	}
}

func cmpDevKey(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1 // the release itself sorts after its dev releases
	case b == nil:
		return -1
	default:
		return *a - *b
	}
}

func cmpLocal(a, b []intstr.IntOrString) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		switch {
		case i >= len(a):
			return -1
		case i >= len(b):
			return 1
		}
		if d := cmpLocalSegment(a[i], b[i]); d != 0 {
			return d
		}
	}
	return 0
}

func cmpLocalSegment(a, b intstr.IntOrString) int {
	aInt := a.Type == intstr.Int
	bInt := b.Type == intstr.Int
	switch {
	case aInt && bInt:
		return a.IntValue() - b.IntValue()
	case aInt:
		return 1 // numeric segments order higher than lexical ones
	case bInt:
		return -1
	default:
		return strings.Compare(a.StrVal, b.StrVal)
	}
}
