// Package report turns scan findings in to the published tables.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/torchcap/torchcap/pkg/python/pep440"
	"github.com/torchcap/torchcap/pkg/reproducible"
	"github.com/torchcap/torchcap/pkg/scan"
)

// Row is one line of a published table.
type Row struct {
	// Artifact identifies the build; for wheels it is the wheel filename, for conda packages
	// the package filename.
	Artifact string `json:"artifact"`

	// Archs is the union of the compute capabilities found in the build's libraries.
	Archs []string `json:"archs"`

	// Note carries anything the reader should know about the scan, such as libraries that
	// could not be inspected.
	Note string `json:"note,omitempty"`
}

// FromResult flattens a scan finding in to a table row.
func FromResult(res *scan.Result) Row {
	row := Row{
		Artifact: res.Source,
		Archs:    res.Archs,
	}
	var failed []string
	for _, lib := range res.Libraries {
		if lib.Error != "" {
			failed = append(failed, lib.Path)
		}
	}
	if len(failed) > 0 {
		row.Note = "could not inspect " + strings.Join(failed, ", ")
	}
	return row
}

// SortResults orders findings the way the tables are published: by package name, then newest
// version first, then Python version ascending, then platform.
func SortResults(results []*scan.Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Package != b.Package {
			return a.Package < b.Package
		}
		if a.Version != b.Version {
			av, aErr := pep440.ParseVersion(a.Version)
			bv, bErr := pep440.ParseVersion(b.Version)
			if aErr == nil && bErr == nil {
				return av.Cmp(*bv) > 0
			}
			return a.Version > b.Version
		}
		if a.Python != b.Python {
			return cmpPython(a.Python, b.Python) < 0
		}
		return a.Platform < b.Platform
	})
}

// cmpPython orders "MAJOR.MINOR" Python versions numerically, so that "3.9" sorts before
// "3.10".  Non-numeric segments fall back to string order.
func cmpPython(a, b string) int {
	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")
	for i := 0; i < len(aParts) && i < len(bParts); i++ {
		aNum, aErr := strconv.Atoi(aParts[i])
		bNum, bErr := strconv.Atoi(bParts[i])
		switch {
		case aErr == nil && bErr == nil:
			if aNum != bNum {
				if aNum < bNum {
					return -1
				}
				return 1
			}
		default:
			if aParts[i] != bParts[i] {
				if aParts[i] < bParts[i] {
					return -1
				}
				return 1
			}
		}
	}
	return len(aParts) - len(bParts)
}

// WriteMarkdown renders findings as the published markdown table.
func WriteMarkdown(w io.Writer, title string, results []*scan.Result) error {
	if _, err := fmt.Fprintf(w, "# %s\n\n", title); err != nil {
		return err
	}
	stamp := reproducible.Now().UTC().Format("2006-01-02")
	if _, err := fmt.Fprintf(w, "<!-- generated by torchcap on %s -->\n\n", stamp); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "| package | architectures |\n|---------|---------------|\n"); err != nil {
		return err
	}
	for _, res := range results {
		row := FromResult(res)
		cell := strings.Join(row.Archs, ", ")
		if cell == "" {
			cell = "none"
		}
		if row.Note != "" {
			cell += " (" + row.Note + ")"
		}
		if _, err := fmt.Fprintf(w, "| %s | %s |\n", row.Artifact, cell); err != nil {
			return err
		}
	}
	return nil
}

// WriteText renders findings as an aligned plain-text table for the terminal.
func WriteText(w io.Writer, results []*scan.Result) error {
	tabs := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(tabs, "ARTIFACT\tCOMPUTE CAPABILITIES"); err != nil {
		return err
	}
	for _, res := range results {
		row := FromResult(res)
		cell := strings.Join(row.Archs, ", ")
		if cell == "" {
			cell = "none"
		}
		if row.Note != "" {
			cell += " (" + row.Note + ")"
		}
		if _, err := fmt.Fprintf(tabs, "%s\t%s\n", row.Artifact, cell); err != nil {
			return err
		}
	}
	return tabs.Flush()
}
