package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/torchcap/torchcap/pkg/cliutil"
	"github.com/torchcap/torchcap/pkg/conda"
	"github.com/torchcap/torchcap/pkg/scan"
)

func init() {
	var flags struct {
		scanFlags
		Subdir   string
		Versions []string
		CacheDir string
		Files    []string
	}
	cmd := &cobra.Command{
		Use:   "conda [flags] CHANNEL/PACKAGE...",
		Short: "Download conda packages from anaconda.org and scan them",

		Long: "For each CHANNEL/PACKAGE, list the files the channel serves, download the " +
			"matching ones, and scan their shared libraries.  Use --file to scan a " +
			"package archive already on disk instead.",

		// zero positional arguments is fine when --file is given
		Args: cliutil.WrapPositionalArgs(cobra.ArbitraryArgs),

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 0 && len(flags.Files) == 0 {
				return fmt.Errorf("no CHANNEL/PACKAGE arguments and no --file flags")
			}
			scanner, err := flags.scanner()
			if err != nil {
				return err
			}
			cacheDir := flags.CacheDir
			if cacheDir == "" && len(args) > 0 {
				cacheDir, err = os.MkdirTemp("", "torchcap-dl-")
				if err != nil {
					return err
				}
				defer func() {
					_ = os.RemoveAll(cacheDir)
				}()
			}

			var results []*scan.Result
			for _, filename := range flags.Files {
				res, err := scanner.CondaPackage(ctx, filename, "")
				if err != nil {
					return err
				}
				results = append(results, res)
			}

			client := conda.Client{}
			for _, arg := range args {
				channel, name, ok := strings.Cut(arg, "/")
				if !ok {
					return fmt.Errorf("%q is not of the form CHANNEL/PACKAGE", arg)
				}
				files, err := client.PackageFiles(ctx, channel, name)
				if err != nil {
					return err
				}
				for _, file := range files {
					if flags.Subdir != "" && file.Attrs.Subdir != flags.Subdir {
						continue
					}
					if len(flags.Versions) > 0 && !contains(flags.Versions, file.Version) {
						continue
					}
					filename, err := client.Download(ctx, file, cacheDir)
					if err != nil {
						return err
					}
					res, err := scanner.CondaPackage(ctx, filename, channel)
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
	cmd.Flags().StringVar(&flags.Subdir, "subdir", "linux-64",
		"Scan packages for platform `SUBDIR`; \"\" means all platforms")
	cmd.Flags().StringSliceVar(&flags.Versions, "version", nil,
		"Scan only the named `VERSION`s; may be repeated")
	cmd.Flags().StringVar(&flags.CacheDir, "cache-dir", "",
		"Keep downloaded files in `DIRECTORY` and reuse them on later runs")
	cmd.Flags().StringSliceVar(&flags.Files, "file", nil,
		"Scan package archive `FILE` on disk instead of downloading; may be repeated")

	argparserScan.AddCommand(cmd)
}

func contains(haystack []string, needle string) bool {
	for _, straw := range haystack {
		if straw == needle {
			return true
		}
	}
	return false
}
