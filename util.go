package main

import (
	"github.com/torchcap/torchcap/pkg/python/pep440"
	"github.com/torchcap/torchcap/pkg/python/pep503"
)

// latestStableRelease returns the newest non-prerelease key of a release map, or "" if there is
// none.
func latestStableRelease(releases map[string][]pep503.FileLink) string {
	var best *pep440.Version
	var bestStr string
	for release := range releases {
		version, err := pep440.ParseVersion(release)
		if err != nil || version.IsPrerelease() {
			continue
		}
		if best == nil || version.Cmp(*best) > 0 {
			best = version
			bestStr = release
		}
	}
	return bestStr
}
