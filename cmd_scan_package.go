package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/torchcap/torchcap/pkg/cliutil"
	"github.com/torchcap/torchcap/pkg/python/pep440"
	"github.com/torchcap/torchcap/pkg/python/pep503"
	"github.com/torchcap/torchcap/pkg/python/pep629"
	"github.com/torchcap/torchcap/pkg/python/pypi"
	"github.com/torchcap/torchcap/pkg/python/wheel"
	"github.com/torchcap/torchcap/pkg/scan"
)

func init() {
	var flags struct {
		scanFlags
		Platform    string
		Series      int
		AllReleases bool
		IndexServer string
		CacheDir    string
	}
	cmd := &cobra.Command{
		Use:   "package [flags] NAME[==VERSION]...",
		Short: "Download wheels from a package index and scan them",
		Args:  cliutil.WrapPositionalArgs(cobra.MinimumNArgs(1)),

		Long: "For each named distribution, download the matching wheels from the package " +
			"index and scan their shared libraries.  With no \"==VERSION\" the latest " +
			"stable release is scanned; --series=2 scans every stable 2.x release, and " +
			"--all-releases scans every release the index knows about." +
			"\n\n" +
			"By default the PyPI JSON API is used; --index-server switches to the " +
			"PEP 503 \"simple repository\" HTML API, for indexes such as " +
			"https://download.pytorch.org/whl/ that don't serve the JSON API.",

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			scanner, err := flags.scanner()
			if err != nil {
				return err
			}
			cacheDir := flags.CacheDir
			if cacheDir == "" {
				cacheDir, err = os.MkdirTemp("", "torchcap-dl-")
				if err != nil {
					return err
				}
				defer func() {
					_ = os.RemoveAll(cacheDir)
				}()
			}

			var results []*scan.Result
			for _, arg := range args {
				name, version := splitRequirement(arg)

				var filenames []string
				if flags.IndexServer != "" {
					filenames, err = downloadSimple(cmd, flags.IndexServer, cacheDir,
						name, version, flags.Platform, flags.Series, flags.AllReleases)
				} else {
					filenames, err = downloadJSON(cmd, cacheDir,
						name, version, flags.Platform, flags.Series, flags.AllReleases)
				}
				if err != nil {
					return err
				}
				for _, filename := range filenames {
					res, err := scanner.Wheel(ctx, filename)
					if err != nil {
						dlog.Errorf(ctx, "%s: %v", filename, err)
						continue
					}
					results = append(results, res)
				}
			}
			return flags.emit(cmd, results)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&flags.Platform, "platform", "manylinux_2_28_x86_64",
		"Scan wheels built for `PLATFORM_TAG`")
	cmd.Flags().IntVar(&flags.Series, "series", 0,
		"Scan every stable release of `MAJOR`-version series, e.g. 2 for all 2.x")
	cmd.Flags().BoolVar(&flags.AllReleases, "all-releases", false,
		"Scan every release, not just the latest stable one")
	cmd.Flags().StringVar(&flags.IndexServer, "index-server", "",
		"Use `URL` as a PEP 503 simple-repository index instead of the PyPI JSON API")
	cmd.Flags().StringVar(&flags.CacheDir, "cache-dir", "",
		"Keep downloaded files in `DIRECTORY` and reuse them on later runs")

	argparserScan.AddCommand(cmd)
}

func splitRequirement(arg string) (name, version string) {
	if idx := strings.Index(arg, "=="); idx >= 0 {
		return arg[:idx], arg[idx+len("=="):]
	}
	return arg, ""
}

// downloadJSON fetches the matching wheels via the PyPI JSON API.
func downloadJSON(cmd *cobra.Command, cacheDir, name, version, platform string, series int, allReleases bool) ([]string, error) {
	ctx := cmd.Context()
	client := pypi.Client{}

	var releases map[string][]pypi.File
	switch {
	case version != "":
		proj, err := client.Release(ctx, name, version)
		if err != nil {
			return nil, err
		}
		releases = map[string][]pypi.File{version: proj.URLs}
	default:
		proj, err := client.Project(ctx, name)
		if err != nil {
			return nil, err
		}
		switch {
		case series > 0:
			releases = proj.SeriesReleases(series)
			if len(releases) == 0 {
				return nil, fmt.Errorf("index has no stable %d.x releases of %q", series, name)
			}
		case allReleases:
			releases = proj.Releases
		default:
			releases = map[string][]pypi.File{proj.Info.Version: proj.URLs}
		}
	}

	var filenames []string
	for release, files := range releases {
		wheels := pypi.Wheels(files, platform)
		if len(wheels) == 0 {
			dlog.Warnf(ctx, "%s %s: no %s wheels", name, release, platform)
			continue
		}
		for _, file := range wheels {
			filename, err := client.Download(ctx, file, cacheDir)
			if err != nil {
				return nil, err
			}
			filenames = append(filenames, filename)
		}
	}
	return filenames, nil
}

// downloadSimple fetches the matching wheels via a PEP 503 simple-repository index.
func downloadSimple(cmd *cobra.Command, indexServer, cacheDir, name, version, platform string, series int, allReleases bool) ([]string, error) {
	ctx := cmd.Context()
	client := pep503.Client{
		BaseURL:  indexServer,
		HTMLHook: pep629.HTMLVersionCheck,
	}
	links, err := client.ListPackageFiles(ctx, name)
	if err != nil {
		return nil, err
	}

	// group the wheel links by release
	releases := make(map[string][]pep503.FileLink)
	for _, link := range links {
		info, err := wheel.ParseFilename(link.Text)
		if err != nil {
			continue
		}
		if !info.CompatibilityTag.HasPlatform(platform) {
			continue
		}
		releases[info.Version.String()] = append(releases[info.Version.String()], link)
	}
	if len(releases) == 0 {
		return nil, fmt.Errorf("index does not have any %s wheels for %q", platform, name)
	}

	var wanted []string
	switch {
	case version != "":
		if _, ok := releases[version]; !ok {
			return nil, fmt.Errorf("index does not have %s==%s wheels for platform %s", name, version, platform)
		}
		wanted = []string{version}
	case series > 0:
		for release := range releases {
			ver, err := pep440.ParseVersion(release)
			if err != nil || ver.IsPrerelease() || ver.Major() != series {
				continue
			}
			wanted = append(wanted, release)
		}
		if len(wanted) == 0 {
			return nil, fmt.Errorf("index has no stable %d.x releases of %q", series, name)
		}
	case allReleases:
		for release := range releases {
			wanted = append(wanted, release)
		}
	default:
		latest := latestStableRelease(releases)
		if latest == "" {
			return nil, fmt.Errorf("index has no stable release of %q", name)
		}
		wanted = []string{latest}
	}

	var filenames []string
	for _, release := range wanted {
		for _, link := range releases[release] {
			filename, err := link.Download(ctx, cacheDir)
			if err != nil {
				return nil, err
			}
			filenames = append(filenames, filename)
		}
	}
	return filenames, nil
}
