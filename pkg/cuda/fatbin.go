package cuda

import (
	"context"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/datawire/dlib/dlog"
)

// ELFScanner is a pure-Go Inspector for ELF shared libraries, for hosts without the CUDA
// toolchain installed.  It reads the fatbin sections that nvcc embeds device code in, rather
// than shelling out to cuobjdump.
type ELFScanner struct{}

// ErrNotELF is returned when the inspected file is not an ELF binary at all.
var ErrNotELF = errors.New("not an ELF binary")

// Fatbin container format, as embedded by nvcc and as read by every fatbin dumper since; the
// header is:
//
//	u32 magic       0xBA55ED50
//	u16 version     1
//	u16 headerSize
//	u64 size        total size of the member entries following the header
//
// and each member entry begins:
//
//	u16 kind        1=PTX, 2=ELF cubin
//	u16 -
//	u32 headerSize
//	u64 size        payload size following this entry header
//	u32 compressedSize
//	u32 -
//	u16 minorVersion
//	u16 majorVersion
//	u32 arch        compute capability as a plain number, e.g. 90
const (
	fatbinMagic    = 0xBA55ED50
	fatbinKindPTX  = 1
	fatbinKindSASS = 2

	fatbinHeaderLen   = 16
	fatbinEntryminLen = 32
)

// emCUDA is the e_machine value of an embedded cubin ELF; the low byte of its e_flags is the
// compute capability.
const emCUDA = 190

func (ELFScanner) Inspect(ctx context.Context, filename string) (ArchSet, error) {
	file, err := elf.Open(filename)
	if err != nil {
		var formatErr *elf.FormatError
		if errors.As(err, &formatErr) {
			return nil, fmt.Errorf("%q: %w", filename, ErrNotELF)
		}
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()

	set := make(ArchSet)
	for _, sect := range file.Sections {
		switch sect.Name {
		case ".nv_fatbin", "__nv_relfatbin":
			// the sections nvcc puts device code in
		default:
			continue
		}
		data, err := sect.Data()
		if err != nil {
			return nil, fmt.Errorf("%q: read section %q: %w", filename, sect.Name, err)
		}
		if !scanFatbin(data, set) {
			dlog.Warnf(ctx, "%q: malformed fatbin container in section %q; falling back to cubin scan",
				filename, sect.Name)
			scanCubins(data, set)
		}
	}
	if len(set) == 0 {
		return nil, ErrNoCUDA
	}
	return set, nil
}

// scanFatbin walks the fatbin containers in a section, adding each member's architecture to the
// set.  It returns false if it hit a container it could not make sense of.
func scanFatbin(data []byte, set ArchSet) bool {
	ok := true
	for off := 0; off+fatbinHeaderLen <= len(data); {
		if binary.LittleEndian.Uint32(data[off:]) != fatbinMagic {
			// containers are 8-byte aligned; skip ahead
			off += 8
			continue
		}
		headerSize := int(binary.LittleEndian.Uint16(data[off+6:]))
		bodySize := int(binary.LittleEndian.Uint64(data[off+8:]))
		body := off + headerSize
		// bounds checks subtract rather than add, so that a huge size field can't
		// overflow past them
		if headerSize < fatbinHeaderLen || bodySize < 0 || bodySize > len(data)-body {
			return false
		}
		end := body + bodySize

		for pos := body; pos+fatbinEntryminLen <= end; {
			kind := binary.LittleEndian.Uint16(data[pos:])
			entryHeaderSize := int(binary.LittleEndian.Uint32(data[pos+4:]))
			entrySize := int(binary.LittleEndian.Uint64(data[pos+8:]))
			archNum := int(binary.LittleEndian.Uint32(data[pos+28:]))
			if entryHeaderSize < fatbinEntryminLen || entrySize < 0 ||
				entrySize > end-pos-entryHeaderSize {
				ok = false
				break
			}
			switch kind {
			case fatbinKindPTX, fatbinKindSASS:
				set.Insert(Arch{
					Major:   archNum / 10,
					Minor:   archNum % 10,
					Virtual: kind == fatbinKindPTX,
				})
			}
			pos += entryHeaderSize + entrySize
		}

		off = end
		if rem := off % 8; rem != 0 {
			off += 8 - rem
		}
	}
	return ok
}

// scanCubins is the degraded mode: look for embedded cubin ELF images (e_machine=EM_CUDA) and
// read the compute capability out of their e_flags.  PTX members are not ELF images, so this
// finds only the sm_XX targets.
func scanCubins(data []byte, set ArchSet) {
	const (
		elfClass64 = 2
		ehdrLen    = 64 // 64-bit ELF header
		machineOff = 18
		flagsOff   = 48
	)
	for off := 0; off+ehdrLen <= len(data); off++ {
		if data[off] != 0x7f || data[off+1] != 'E' || data[off+2] != 'L' || data[off+3] != 'F' {
			continue
		}
		if data[off+4] != elfClass64 {
			continue
		}
		if binary.LittleEndian.Uint16(data[off+machineOff:]) != emCUDA {
			continue
		}
		archNum := int(binary.LittleEndian.Uint32(data[off+flagsOff:]) & 0xff)
		if archNum < 10 {
			continue
		}
		set.Insert(Arch{
			Major: archNum / 10,
			Minor: archNum % 10,
		})
	}
}
