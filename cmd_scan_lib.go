package main

import (
	"github.com/spf13/cobra"

	"github.com/torchcap/torchcap/pkg/cliutil"
	"github.com/torchcap/torchcap/pkg/scan"
)

func init() {
	var flags scanFlags
	cmd := &cobra.Command{
		Use:   "lib [flags] IN_LIBFILE...",
		Short: "Scan shared-library files on disk",
		Args:  cliutil.WrapPositionalArgs(cobra.MinimumNArgs(1)),

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			scanner, err := flags.scanner()
			if err != nil {
				return err
			}
			results := make([]*scan.Result, 0, len(args))
			for _, filename := range args {
				res, err := scanner.File(ctx, filename)
				if err != nil {
					return err
				}
				results = append(results, res)
			}
			return flags.emit(cmd, results)
		},
	}
	flags.register(cmd)

	argparserScan.AddCommand(cmd)
}
