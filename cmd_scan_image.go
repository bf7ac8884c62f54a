package main

import (
	"github.com/spf13/cobra"

	"github.com/torchcap/torchcap/pkg/cliutil"
	"github.com/torchcap/torchcap/pkg/scan"
)

func init() {
	var flags struct {
		scanFlags
		Tag string
	}
	cmd := &cobra.Command{
		Use:   "image [flags] IN_IMAGEFILE...",
		Short: "Scan `docker save` image tarballs",

		Long: "Flatten each image's layers and scan the shared libraries of the resulting " +
			"filesystem.  Whiteouts are honored, so a library deleted by a later layer " +
			"is not scanned.",

		Args: cliutil.WrapPositionalArgs(cobra.MinimumNArgs(1)),

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			scanner, err := flags.scanner()
			if err != nil {
				return err
			}
			results := make([]*scan.Result, 0, len(args))
			for _, filename := range args {
				res, err := scanner.Image(ctx, filename, flags.Tag)
				if err != nil {
					return err
				}
				results = append(results, res)
			}
			return flags.emit(cmd, results)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&flags.Tag, "tag", "",
		"Select `TAG` when a tarball holds more than one image")

	argparserScan.AddCommand(cmd)
}
