package main

import (
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/torchcap/torchcap/pkg/cliutil"
	"github.com/torchcap/torchcap/pkg/conda"
	"github.com/torchcap/torchcap/pkg/manifest"
	"github.com/torchcap/torchcap/pkg/report"
	"github.com/torchcap/torchcap/pkg/scan"
)

func init() {
	var flags struct {
		scanFlags
		Manifest string
		CacheDir string
	}
	cmd := &cobra.Command{
		Use:   "table [flags]",
		Short: "Regenerate the published tables from a manifest",

		Long: "Read a manifest naming the builds to catalog, download and scan each one, " +
			"and write the pip and conda markdown tables.  A failed artifact is logged " +
			"and skipped, so that one bad build doesn't block regenerating the rest of " +
			"the table.",

		Args: cliutil.WrapPositionalArgs(cobra.NoArgs),

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := manifest.Load(flags.Manifest)
			if err != nil {
				return err
			}
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

			if len(m.Pip) > 0 {
				results := tablePip(cmd, scanner, m.Pip, cacheDir)
				if err := writeTable(m.Output.PipTable, "PyTorch wheels", results); err != nil {
					return err
				}
				dlog.Infof(ctx, "wrote %s (%d rows)", m.Output.PipTable, len(results))
			}
			if len(m.Conda) > 0 {
				results := tableConda(cmd, scanner, m.Conda, cacheDir)
				if err := writeTable(m.Output.CondaTable, "PyTorch conda packages", results); err != nil {
					return err
				}
				dlog.Infof(ctx, "wrote %s (%d rows)", m.Output.CondaTable, len(results))
			}
			return nil
		},
	}
	flags.register(cmd)
	// `table` always writes markdown files, so the shared output flag makes no sense here
	_ = cmd.Flags().MarkHidden("output")
	cmd.Flags().StringVarP(&flags.Manifest, "manifest", "f", "torchcap.yaml",
		"Read the list of builds to catalog from `FILE`")
	cmd.Flags().StringVar(&flags.CacheDir, "cache-dir", "",
		"Keep downloaded files in `DIRECTORY` and reuse them on later runs")

	argparser.AddCommand(cmd)
}

func tablePip(cmd *cobra.Command, scanner *scan.Scanner, targets []manifest.PipTarget, cacheDir string) []*scan.Result {
	ctx := cmd.Context()
	var results []*scan.Result
	for _, target := range targets {
		versions := target.Versions
		if len(versions) == 0 {
			// "" selects the latest stable release, unless a series is named
			versions = []string{""}
		}
		for _, version := range versions {
			filenames, err := downloadJSON(cmd, cacheDir, target.Package, version, target.Platform, target.Series, false)
			if err != nil {
				dlog.Errorf(ctx, "%s %s: %v", target.Package, version, err)
				continue
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
	}
	report.SortResults(results)
	return results
}

func tableConda(cmd *cobra.Command, scanner *scan.Scanner, targets []manifest.CondaTarget, cacheDir string) []*scan.Result {
	ctx := cmd.Context()
	client := conda.Client{}
	var results []*scan.Result
	for _, target := range targets {
		files, err := client.PackageFiles(ctx, target.Channel, target.Package)
		if err != nil {
			dlog.Errorf(ctx, "%s/%s: %v", target.Channel, target.Package, err)
			continue
		}
		for _, file := range files {
			if target.Subdir != "" && file.Attrs.Subdir != target.Subdir {
				continue
			}
			if len(target.Versions) > 0 && !contains(target.Versions, file.Version) {
				continue
			}
			filename, err := client.Download(ctx, file, cacheDir)
			if err != nil {
				dlog.Errorf(ctx, "%s: %v", file.Basename, err)
				continue
			}
			res, err := scanner.CondaPackage(ctx, filename, target.Channel)
			if err != nil {
				dlog.Errorf(ctx, "%s: %v", filename, err)
				continue
			}
			results = append(results, res)
		}
	}
	report.SortResults(results)
	return results
}

func writeTable(filename, title string, results []*scan.Result) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}()
	return report.WriteMarkdown(file, title, results)
}
