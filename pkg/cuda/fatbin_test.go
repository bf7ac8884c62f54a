package cuda

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fatbinEntry(kind uint16, archNum uint32, payloadLen int) []byte {
	const headerLen = 64
	entry := make([]byte, headerLen+payloadLen)
	binary.LittleEndian.PutUint16(entry[0:], kind)
	binary.LittleEndian.PutUint32(entry[4:], headerLen)
	binary.LittleEndian.PutUint64(entry[8:], uint64(payloadLen))
	binary.LittleEndian.PutUint16(entry[24:], uint16(archNum%10)) // minor
	binary.LittleEndian.PutUint16(entry[26:], uint16(archNum/10)) // major
	binary.LittleEndian.PutUint32(entry[28:], archNum)
	return entry
}

func fatbinContainer(entries ...[]byte) []byte {
	var body []byte
	for _, entry := range entries {
		body = append(body, entry...)
	}
	header := make([]byte, fatbinHeaderLen)
	binary.LittleEndian.PutUint32(header[0:], fatbinMagic)
	binary.LittleEndian.PutUint16(header[4:], 1)
	binary.LittleEndian.PutUint16(header[6:], fatbinHeaderLen)
	binary.LittleEndian.PutUint64(header[8:], uint64(len(body)))
	return append(header, body...)
}

func TestScanFatbin(t *testing.T) {
	t.Parallel()

	data := fatbinContainer(
		fatbinEntry(fatbinKindSASS, 80, 128),
		fatbinEntry(fatbinKindSASS, 90, 0),
		fatbinEntry(fatbinKindPTX, 90, 64),
		fatbinEntry(fatbinKindSASS, 80, 8), // duplicates collapse
	)
	// a second container later in the same section, at an aligned offset
	data = append(data, make([]byte, 8)...)
	data = append(data, fatbinContainer(fatbinEntry(fatbinKindSASS, 120, 16))...)

	set := make(ArchSet)
	require.True(t, scanFatbin(data, set))
	assert.Equal(t, []string{"sm_80", "sm_90", "compute_90", "sm_120"}, set.Strings())
}

func TestScanFatbinTruncated(t *testing.T) {
	t.Parallel()

	data := fatbinContainer(fatbinEntry(fatbinKindSASS, 86, 32))
	data = data[:len(data)-16] // truncate mid-entry

	set := make(ArchSet)
	assert.False(t, scanFatbin(data, set))
	assert.Empty(t, set)
}

func TestScanFatbinHugeEntrySize(t *testing.T) {
	t.Parallel()

	// an entry whose size field would overflow the bounds arithmetic if it were added
	// rather than subtracted
	entry := fatbinEntry(fatbinKindSASS, 80, 0)
	binary.LittleEndian.PutUint64(entry[8:], 0x7FFFFFFFFFFFFFFF)
	data := fatbinContainer(entry)

	set := make(ArchSet)
	assert.False(t, scanFatbin(data, set))
}

func TestScanFatbinHugeBodySize(t *testing.T) {
	t.Parallel()

	data := fatbinContainer(fatbinEntry(fatbinKindSASS, 80, 0))
	binary.LittleEndian.PutUint64(data[8:], 0x7FFFFFFFFFFFFFFF)

	set := make(ArchSet)
	assert.False(t, scanFatbin(data, set))
	assert.Empty(t, set)
}

func TestScanCubins(t *testing.T) {
	t.Parallel()

	cubin := make([]byte, 64)
	copy(cubin, []byte{0x7f, 'E', 'L', 'F', 2})
	binary.LittleEndian.PutUint16(cubin[18:], emCUDA)
	binary.LittleEndian.PutUint32(cubin[48:], 0x00000156) // flags; low byte = 86

	data := append(make([]byte, 100), cubin...)
	data = append(data, make([]byte, 100)...)

	set := make(ArchSet)
	scanCubins(data, set)
	assert.Equal(t, []string{"sm_86"}, set.Strings())
}

func TestELFScannerNotELF(t *testing.T) {
	t.Parallel()

	filename := filepath.Join(t.TempDir(), "not-a-library.so")
	require.NoError(t, os.WriteFile(filename, []byte("definitely not ELF\n"), 0o644))

	_, err := ELFScanner{}.Inspect(context.Background(), filename)
	assert.ErrorIs(t, err, ErrNotELF)
}
