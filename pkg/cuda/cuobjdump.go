package cuda

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/datawire/dlib/dexec"
)

// Inspector reports the CUDA architectures embedded in a compiled binary.
type Inspector interface {
	Inspect(ctx context.Context, filename string) (ArchSet, error)
}

// ErrNoCUDA is returned by an Inspector when the binary was read successfully but contains no
// device code at all (a CPU-only build).
var ErrNoCUDA = errors.New("binary contains no CUDA device code")

// CuObjDump is an Inspector that shells out to NVIDIA's cuobjdump utility.
type CuObjDump struct {
	// Command is the argv prefix used to invoke the tool; it defaults to
	// []string{"cuobjdump"}.  A longer prefix supports wrapped invocations, such as
	// []string{"singularity", "exec", "cuda.sif", "cuobjdump"}.
	Command []string
}

func (c CuObjDump) argv() []string {
	if len(c.Command) == 0 {
		return []string{"cuobjdump"}
	}
	return c.Command
}

// Available reports whether the tool can be found on PATH.
func (c CuObjDump) Available() bool {
	_, err := dexec.LookPath(c.argv()[0])
	return err == nil
}

func (c CuObjDump) Inspect(ctx context.Context, filename string) (ArchSet, error) {
	argv := append(append([]string{}, c.argv()...), filename)
	cmd := dexec.CommandContext(ctx, argv[0], argv[1:]...)
	stdout, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// cuobjdump exits non-zero for host-only binaries; that is a finding,
			// not a failure.
			combined := string(stdout) + string(exitErr.Stderr)
			if strings.Contains(combined, "does not contain device code") {
				return nil, ErrNoCUDA
			}
			return nil, fmt.Errorf("cuobjdump %q: %w: %s",
				filename, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("cuobjdump %q: %w", filename, err)
	}
	return ParseCuObjDumpOutput(stdout)
}

var reArchLine = regexp.MustCompile(`(?m)^\s*arch\s*=\s*(\S+)\s*$`)

// ParseCuObjDumpOutput extracts the architecture identifiers from cuobjdump's default (no-flag)
// listing, which reports each fatbin member as a block like:
//
//	Fatbin elf code:
//	================
//	arch = sm_80
//	code version = [1,7]
//	host = linux
//	compile_size = 64bit
//
// It returns ErrNoCUDA if the listing contains no "arch =" lines.
func ParseCuObjDumpOutput(output []byte) (ArchSet, error) {
	set := make(ArchSet)
	for _, match := range reArchLine.FindAllStringSubmatch(string(output), -1) {
		arch, err := ParseArch(match[1])
		if err != nil {
			return nil, fmt.Errorf("parse cuobjdump output: %w", err)
		}
		set.Insert(arch)
	}
	if len(set) == 0 {
		return nil, ErrNoCUDA
	}
	return set, nil
}

// DefaultInspector returns the CuObjDump Inspector if the tool is installed, and otherwise falls
// back to the pure-Go ELF scanner.
func DefaultInspector() Inspector {
	if tool := (CuObjDump{}); tool.Available() {
		return tool
	}
	return ELFScanner{}
}
