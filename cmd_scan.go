package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"sigs.k8s.io/yaml"

	"github.com/torchcap/torchcap/pkg/cliutil"
	"github.com/torchcap/torchcap/pkg/cuda"
	"github.com/torchcap/torchcap/pkg/report"
	"github.com/torchcap/torchcap/pkg/scan"
)

var argparserScan = &cobra.Command{
	Use:   "scan {[flags]|SUBCOMMAND...}",
	Short: "Scan an artifact for CUDA compute capabilities",

	Args: cliutil.OnlySubcommands,
	RunE: cliutil.RunSubcommands,
}

func init() {
	argparser.AddCommand(argparserScan)
}

// archFilter is a pflag.Value holding a set of compute capabilities.
type archFilter struct {
	set cuda.ArchSet
}

var _ pflag.Value = (*archFilter)(nil)

func (f *archFilter) String() string {
	return f.set.String()
}

func (f *archFilter) Set(val string) error {
	if f.set == nil {
		f.set = make(cuda.ArchSet)
	}
	for _, field := range strings.Split(val, ",") {
		arch, err := cuda.ParseArch(strings.TrimSpace(field))
		if err != nil {
			return err
		}
		f.set.Insert(arch)
	}
	return nil
}

func (f *archFilter) Type() string {
	return "archs"
}

// scanFlags is the flag set shared by the `scan` subcommands.
type scanFlags struct {
	Inspector string
	CuObjDump string
	Output    string
	Only      archFilter
}

func (sf *scanFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&sf.Inspector, "inspector", "auto",
		"How to inspect binaries: `{auto|cuobjdump|elf}`; \"auto\" uses cuobjdump if it is "+
			"on $PATH and falls back to the built-in ELF scanner")
	cmd.Flags().StringVar(&sf.CuObjDump, "cuobjdump", "",
		"Use `PROGRAM` as the cuobjdump executable")
	cmd.Flags().StringVarP(&sf.Output, "output", "o", "text",
		"Write results as `{text|markdown|json|yaml}`")
	cmd.Flags().Var(&sf.Only, "only",
		"Report only the named compute capabilities, e.g. \"sm_80,sm_90\"")
}

func (sf *scanFlags) inspector() (cuda.Inspector, error) {
	switch sf.Inspector {
	case "cuobjdump":
		inspector := &cuda.CuObjDump{}
		if sf.CuObjDump != "" {
			inspector.Command = []string{sf.CuObjDump}
		}
		return inspector, nil
	case "elf":
		return cuda.ELFScanner{}, nil
	case "auto", "":
		if sf.CuObjDump != "" {
			return &cuda.CuObjDump{Command: []string{sf.CuObjDump}}, nil
		}
		return cuda.DefaultInspector(), nil
	default:
		return nil, fmt.Errorf("invalid inspector %q", sf.Inspector)
	}
}

func (sf *scanFlags) scanner() (*scan.Scanner, error) {
	inspector, err := sf.inspector()
	if err != nil {
		return nil, err
	}
	return &scan.Scanner{Inspector: inspector}, nil
}

// filter applies --only to a finding, both the aggregate list and the per-library ones.
func (sf *scanFlags) filter(results []*scan.Result) {
	if len(sf.Only.set) == 0 {
		return
	}
	for _, res := range results {
		res.Archs = sf.keep(res.Archs)
		for i := range res.Libraries {
			res.Libraries[i].Archs = sf.keep(res.Libraries[i].Archs)
		}
	}
}

func (sf *scanFlags) keep(archs []string) []string {
	var kept []string
	for _, str := range archs {
		arch, err := cuda.ParseArch(str)
		if err != nil {
			continue
		}
		if sf.Only.set.Has(arch) {
			kept = append(kept, str)
		}
	}
	return kept
}

func (sf *scanFlags) emit(cmd *cobra.Command, results []*scan.Result) error {
	sf.filter(results)
	out := cmd.OutOrStdout()
	switch sf.Output {
	case "text", "":
		return report.WriteText(out, results)
	case "markdown":
		return report.WriteMarkdown(out, "Scan results", results)
	case "json":
		body, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\n", body)
		return err
	case "yaml":
		body, err := yaml.Marshal(results)
		if err != nil {
			return err
		}
		_, err = out.Write(body)
		return err
	default:
		return fmt.Errorf("invalid output format %q", sf.Output)
	}
}
