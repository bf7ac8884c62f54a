package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/torchcap/torchcap/pkg/cliutil"
	"github.com/torchcap/torchcap/pkg/conda"
	"github.com/torchcap/torchcap/pkg/python/pep440"
	"github.com/torchcap/torchcap/pkg/python/pep503"
	"github.com/torchcap/torchcap/pkg/python/pep629"
	"github.com/torchcap/torchcap/pkg/python/pypi"
	"github.com/torchcap/torchcap/pkg/python/wheel"
)

func init() {
	var flags struct {
		Conda       bool
		IndexServer string
		Series      int
		Prereleases bool
	}
	cmd := &cobra.Command{
		Use:   "versions [flags] {NAME|CHANNEL/PACKAGE}",
		Short: "List the release versions an index serves",

		Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if flags.Conda {
				channel, name, ok := strings.Cut(args[0], "/")
				if !ok {
					return fmt.Errorf("%q is not of the form CHANNEL/PACKAGE", args[0])
				}
				client := conda.Client{}
				files, err := client.PackageFiles(ctx, channel, name)
				if err != nil {
					return err
				}
				seen := make(map[string]bool)
				for _, file := range files {
					if seen[file.Version] {
						continue
					}
					seen[file.Version] = true
					fmt.Fprintln(out, file.Version)
				}
				return nil
			}

			var versions []pep440.Version
			if flags.IndexServer != "" {
				client := pep503.Client{
					BaseURL:  flags.IndexServer,
					HTMLHook: pep629.HTMLVersionCheck,
				}
				links, err := client.ListPackageFiles(ctx, args[0])
				if err != nil {
					return err
				}
				versions = wheelVersions(links)
			} else {
				client := pypi.Client{}
				proj, err := client.Project(ctx, args[0])
				if err != nil {
					return err
				}
				versions = proj.ReleaseVersions()
			}
			for _, version := range versions {
				if !flags.Prereleases && version.IsPrerelease() {
					continue
				}
				if flags.Series > 0 && version.Major() != flags.Series {
					continue
				}
				fmt.Fprintln(out, version.String())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&flags.Conda, "conda", false,
		"Treat the argument as an anaconda.org CHANNEL/PACKAGE instead of a pip distribution")
	cmd.Flags().StringVar(&flags.IndexServer, "index-server", "",
		"Use `URL` as a PEP 503 simple-repository index instead of the PyPI JSON API")
	cmd.Flags().IntVar(&flags.Series, "series", 0,
		"List only releases of `MAJOR`-version series, e.g. 2 for all 2.x")
	cmd.Flags().BoolVar(&flags.Prereleases, "pre", false,
		"Include pre-release and development versions")

	argparser.AddCommand(cmd)
}

// wheelVersions extracts the sorted distinct versions from a simple-repository file listing,
// skipping non-wheel links.
func wheelVersions(links []pep503.FileLink) []pep440.Version {
	seen := make(map[string]bool)
	var versions []pep440.Version
	for _, link := range links {
		info, err := wheel.ParseFilename(link.Text)
		if err != nil {
			continue
		}
		str := info.Version.String()
		if seen[str] {
			continue
		}
		seen[str] = true
		versions = append(versions, info.Version)
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Cmp(versions[j]) < 0
	})
	return versions
}
